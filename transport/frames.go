// Package transport owns the websocket side of the relay: it upgrades
// connections, authenticates every inbound frame, routes commands into the
// transfer service, and pumps driver output back down the socket.
package transport

import "encoding/json"

// Command is an inbound frame's command word.
type Command string

const (
	CmdRegister               Command = "register"
	CmdRequestFile            Command = "request-file"
	CmdAcknowledgeFileRequest Command = "acknowledge-file-request"
	CmdReadyForFileTransfer   Command = "ready-for-file-transfer"
	CmdAddChunk               Command = "add-chunk"
	CmdReceivedChunk          Command = "received-chunk"
)

// InboundFrame is the envelope every client frame arrives in. Data is a
// JSON document encoded as a string, the way the web client stringifies
// its payloads; its schema depends on Command.
type InboundFrame struct {
	JWT     string  `json:"jwt"`
	Command Command `json:"command"`
	Data    string  `json:"data"`
}

// OutboundFrame is the envelope for server-emitted frames. Data is a plain
// object, not a string.
type OutboundFrame struct {
	RequestID string      `json:"request_id"`
	Command   string      `json:"command"`
	Data      interface{} `json:"data"`
}

type requestFileData struct {
	Filename  string `json:"filename"`
	PublicKey string `json:"public_key"`
}

// acknowledgeData is the sender's echo of acknowledge-file-request. The
// client also includes its own user_id here; the token already carries it,
// so the field is ignored.
type acknowledgeData struct {
	RequestID      string `json:"request_id"`
	Filename       string `json:"filename"`
	PublicKey      string `json:"public_key"`
	AmountOfChunks int64  `json:"amount_of_chunks"`
}

type readyData struct {
	RequestID string `json:"request_id"`
}

type addChunkData struct {
	RequestID   string `json:"request_id"`
	IsLastChunk bool   `json:"is_last_chunk"`
	ChunkNr     int64  `json:"chunk_nr"`
	Chunk       string `json:"chunk"`
	IV          string `json:"iv"`
}

type receivedChunkData struct {
	RequestID string `json:"request_id"`
	ChunkNr   int64  `json:"chunk_nr"`
}

func decodeData(raw string, v interface{}) error {
	return json.Unmarshal([]byte(raw), v)
}
