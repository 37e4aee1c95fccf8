// hostfile creates a session, advertises one file, and serves chunk requests
// over the channel until interrupted. Pair it with fetchfile on the other
// side; the relay only ever sees ciphertext.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"

	"github.com/wyrmhole/backend/internal/envelope"
	"github.com/wyrmhole/backend/transport"
)

var (
	apiBase     string
	channelBase string
	filePath    string
)

type apiEnvelope struct {
	Success  bool            `json:"success"`
	Response json.RawMessage `json:"response"`
	Message  string          `json:"message"`
}

type session struct {
	SessionName string `json:"sessionName"`
	SessionID   string `json:"sessionId"`
	AccessCode  string `json:"accessCode"`
	JWT         string `json:"jwt"`
}

// serverFrame is an outbound frame as seen from the client side: data
// arrives as an object, not a string.
type serverFrame struct {
	RequestID string          `json:"request_id"`
	Command   string          `json:"command"`
	Data      json.RawMessage `json:"data"`
}

func main() {
	flag.StringVar(&apiBase, "api", "http://localhost:7878", "API base URL")
	flag.StringVar(&channelBase, "channel", "ws://localhost:7879", "Channel base URL")
	flag.StringVar(&filePath, "file", "", "File to host")
	flag.Parse()

	if filePath == "" {
		fmt.Fprintln(os.Stderr, "Usage: hostfile -file <path> [-api url] [-channel url]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	if err := host(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func host() error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	filename := filepath.Base(filePath)

	var sess session
	if err := call(http.MethodPost, "/session", "", nil, &sess); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	fmt.Printf("Session:     %s\n", sess.SessionName)
	fmt.Printf("Session ID:  %s\n", sess.SessionID)
	fmt.Printf("Access code: %s\n", sess.AccessCode)

	catalog := []map[string]interface{}{{"name": filename, "size": len(data)}}
	if err := call(http.MethodPost, "/files/"+sess.SessionID, sess.JWT, catalog, nil); err != nil {
		return fmt.Errorf("failed to advertise file: %w", err)
	}
	fmt.Printf("Hosting %s (%d bytes, %d chunks)\n", filename, len(data), envelope.NumChunks(int64(len(data))))
	fmt.Printf("Fetch with: fetchfile -session %s -code %s -file %s\n", sess.SessionID, sess.AccessCode, filename)

	conn, _, err := websocket.DefaultDialer.Dial(channelBase+"/session/"+sess.SessionID, nil)
	if err != nil {
		return fmt.Errorf("failed to dial channel: %w", err)
	}
	defer conn.Close()

	if err := send(conn, sess.JWT, transport.CmdRegister, map[string]interface{}{}); err != nil {
		return fmt.Errorf("failed to register: %w", err)
	}

	// Tear the session down on Ctrl+C so the name frees up immediately.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		_ = call(http.MethodDelete, "/session/"+sess.SessionID, sess.JWT, nil, nil)
		conn.Close()
		os.Exit(0)
	}()

	fmt.Println("Waiting for requests (Ctrl+C to stop)...")
	return serve(conn, sess.JWT, filename, data)
}

func serve(conn *websocket.Conn, jwt, filename string, data []byte) error {
	// One envelope per transfer; several receivers can fetch concurrently.
	envelopes := make(map[string]*envelope.Envelope)

	for {
		var frame serverFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return fmt.Errorf("channel closed: %w", err)
		}

		switch frame.Command {
		case "acknowledge-file-request":
			var d struct {
				PublicKey string `json:"public_key"`
				Filename  string `json:"filename"`
				UserID    string `json:"user_id"`
			}
			if err := json.Unmarshal(frame.Data, &d); err != nil {
				return fmt.Errorf("malformed acknowledge frame: %w", err)
			}
			peer, err := envelope.ParsePublicKey(d.PublicKey)
			if err != nil {
				return fmt.Errorf("peer key rejected: %w", err)
			}
			kp, err := envelope.NewKeyPair()
			if err != nil {
				return err
			}
			env, err := envelope.New(&kp.Private, peer)
			if err != nil {
				return fmt.Errorf("key exchange failed: %w", err)
			}
			envelopes[frame.RequestID] = env

			fmt.Printf("Request %s: preparing transfer\n", frame.RequestID)
			err = send(conn, jwt, transport.CmdAcknowledgeFileRequest, map[string]interface{}{
				"request_id":       frame.RequestID,
				"filename":         d.Filename,
				"public_key":       kp.PublicBase64(),
				"amount_of_chunks": envelope.NumChunks(int64(len(data))),
			})
			if err != nil {
				return err
			}

		case "send-next-chunk":
			var d struct {
				ChunkNr int64 `json:"chunk_nr"`
			}
			if err := json.Unmarshal(frame.Data, &d); err != nil {
				return fmt.Errorf("malformed send-next-chunk frame: %w", err)
			}
			env, ok := envelopes[frame.RequestID]
			if !ok {
				fmt.Printf("Request %s: no envelope, ignoring\n", frame.RequestID)
				continue
			}
			chunk, last := envelope.ChunkAt(data, d.ChunkNr)
			ct, iv, err := env.Seal(chunk)
			if err != nil {
				return fmt.Errorf("failed to seal chunk %d: %w", d.ChunkNr, err)
			}
			err = send(conn, jwt, transport.CmdAddChunk, map[string]interface{}{
				"request_id":    frame.RequestID,
				"is_last_chunk": last,
				"chunk_nr":      d.ChunkNr,
				"chunk":         ct,
				"iv":            iv,
			})
			if err != nil {
				return err
			}
			if last {
				delete(envelopes, frame.RequestID)
				fmt.Printf("Request %s: sent %d chunks of %s\n", frame.RequestID, d.ChunkNr, filename)
			}

		default:
			fmt.Printf("Ignoring %s frame\n", frame.Command)
		}
	}
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
