// fetchfile joins a session with an access code, requests one file, and
// decrypts the chunk stream into a local file. With no -file it lists what
// the session offers.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/wyrmhole/backend/internal/envelope"
	"github.com/wyrmhole/backend/internal/identity"
	"github.com/wyrmhole/backend/transport"
)

var (
	apiBase     string
	channelBase string
	sessionID   string
	sessionName string
	accessCode  string
	fileName    string
	outPath     string
)

type apiEnvelope struct {
	Success  bool            `json:"success"`
	Response json.RawMessage `json:"response"`
	Message  string          `json:"message"`
}

type serverFrame struct {
	RequestID string          `json:"request_id"`
	Command   string          `json:"command"`
	Data      json.RawMessage `json:"data"`
}

func main() {
	flag.StringVar(&apiBase, "api", "http://localhost:7878", "API base URL")
	flag.StringVar(&channelBase, "channel", "ws://localhost:7879", "Channel base URL")
	flag.StringVar(&sessionID, "session", "", "Session id")
	flag.StringVar(&sessionName, "name", "", "Session name (alternative to -session)")
	flag.StringVar(&accessCode, "code", "", "Six-digit access code")
	flag.StringVar(&fileName, "file", "", "File to fetch; empty lists the session's files")
	flag.StringVar(&outPath, "out", "", "Output path (defaults to the file name)")
	flag.Parse()

	if (sessionID == "" && sessionName == "") || accessCode == "" {
		fmt.Fprintln(os.Stderr, "Usage: fetchfile -session <id> | -name <name>, -code <code> [-file <name>] [options]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	if err := fetch(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func fetch() error {
	if sessionID == "" {
		var resolved struct {
			SessionID string `json:"sessionId"`
		}
		if err := call(http.MethodGet, "/idForName/"+sessionName, "", nil, &resolved); err != nil {
			return fmt.Errorf("failed to resolve session name: %w", err)
		}
		sessionID = resolved.SessionID
	}

	var joined struct {
		JWT string `json:"jwt"`
	}
	if err := call(http.MethodGet, "/access/"+sessionID, identity.SHA256Hex(accessCode), nil, &joined); err != nil {
		return fmt.Errorf("failed to join session: %w", err)
	}

	if fileName == "" {
		return list(joined.JWT)
	}

	// Fail fast on a missing file; the channel never echoes command errors.
	var info struct {
		Name string `json:"name"`
		Size int64  `json:"size"`
	}
	if err := call(http.MethodGet, "/files/"+sessionID+"/"+fileName, joined.JWT, nil, &info); err != nil {
		return err
	}
	fmt.Printf("Fetching %s (%d bytes)\n", info.Name, info.Size)

	conn, _, err := websocket.DefaultDialer.Dial(channelBase+"/session/"+sessionID, nil)
	if err != nil {
		return fmt.Errorf("failed to dial channel: %w", err)
	}
	defer conn.Close()

	if err := send(conn, joined.JWT, transport.CmdRegister, map[string]interface{}{}); err != nil {
		return fmt.Errorf("failed to register: %w", err)
	}

	kp, err := envelope.NewKeyPair()
	if err != nil {
		return err
	}
	err = send(conn, joined.JWT, transport.CmdRequestFile, map[string]interface{}{
		"filename":   fileName,
		"public_key": kp.PublicBase64(),
	})
	if err != nil {
		return err
	}

	return receive(conn, joined.JWT, kp)
}

func receive(conn *websocket.Conn, jwt string, kp *envelope.KeyPair) error {
	var (
		env   *envelope.Envelope
		data  []byte
		total int64
	)

	for {
		var frame serverFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return fmt.Errorf("channel closed: %w", err)
		}

		switch frame.Command {
		case "prepare-for-file-transfer":
			var d struct {
				PublicKey      string `json:"public_key"`
				Filename       string `json:"filename"`
				AmountOfChunks int64  `json:"amount_of_chunks"`
			}
			if err := json.Unmarshal(frame.Data, &d); err != nil {
				return fmt.Errorf("malformed prepare frame: %w", err)
			}
			peer, err := envelope.ParsePublicKey(d.PublicKey)
			if err != nil {
				return fmt.Errorf("peer key rejected: %w", err)
			}
			env, err = envelope.New(&kp.Private, peer)
			if err != nil {
				return fmt.Errorf("key exchange failed: %w", err)
			}
			total = d.AmountOfChunks

			err = send(conn, jwt, transport.CmdReadyForFileTransfer, map[string]interface{}{
				"request_id": frame.RequestID,
			})
			if err != nil {
				return err
			}

		case "add-chunk":
			var d struct {
				IsLastChunk bool   `json:"is_last_chunk"`
				ChunkNr     int64  `json:"chunk_nr"`
				Chunk       string `json:"chunk"`
				IV          string `json:"iv"`
			}
			if err := json.Unmarshal(frame.Data, &d); err != nil {
				return fmt.Errorf("malformed chunk frame: %w", err)
			}
			if env == nil {
				return fmt.Errorf("chunk %d arrived before key exchange", d.ChunkNr)
			}
			chunk, err := env.Open(d.Chunk, d.IV)
			if err != nil {
				return fmt.Errorf("failed to decrypt chunk %d: %w", d.ChunkNr, err)
			}
			data = append(data, chunk...)
			fmt.Printf("\rReceived %d/%d chunks", d.ChunkNr, total)

			err = send(conn, jwt, transport.CmdReceivedChunk, map[string]interface{}{
				"request_id": frame.RequestID,
				"chunk_nr":   d.ChunkNr,
			})
			if err != nil {
				return err
			}
			if d.IsLastChunk {
				fmt.Println()
				return writeOut(data)
			}

		default:
			// send-next-chunk and acknowledge frames belong to the sender.
		}
	}
}

func writeOut(data []byte) error {
	path := outPath
	if path == "" {
		path = fileName
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	fmt.Printf("Wrote %s (%d bytes)\n", path, len(data))
	return nil
}

func list(jwt string) error {
	var files []struct {
		Name string `json:"name"`
		Size int64  `json:"size"`
	}
	if err := call(http.MethodGet, "/files/"+sessionID, jwt, nil, &files); err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Println("Session offers no files")
		return nil
	}
	for _, f := range files {
		fmt.Printf("%10d  %s\n", f.Size, f.Name)
	}
	return nil
}

func send(conn *websocket.Conn, jwt string, command transport.Command, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return conn.WriteJSON(transport.InboundFrame{JWT: jwt, Command: command, Data: string(raw)})
}

func call(method, path, auth string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, strings.TrimSuffix(apiBase, "/")+path, reader)
	if err != nil {
		return err
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("unexpected response: %w", err)
	}
	if !env.Success {
		return fmt.Errorf("%s (status %d)", env.Message, resp.StatusCode)
	}
	if out != nil {
		return json.Unmarshal(env.Response, out)
	}
	return nil
}
