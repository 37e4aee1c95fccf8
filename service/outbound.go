package service

// Command names the drivers emit. The inbound set lives with the channel
// dispatcher; acknowledge-file-request appears on both sides because the
// sender answers the server's frame with a frame of the same name.
const (
	CommandAcknowledgeFileRequest = "acknowledge-file-request"
	CommandPrepareForFileTransfer = "prepare-for-file-transfer"
	CommandSendNextChunk          = "send-next-chunk"
	CommandAddChunk               = "add-chunk"
)

// Outbound is one frame a driver pass owes its user. The concrete variant
// names the wire command and is itself the frame's data object; RID rides
// outside the data as the frame's request id.
type Outbound interface {
	Command() string
	RequestID() string
}

// AckFileRequest tells a file's owner that a receiver wants it. PublicKey
// is the receiver's ephemeral key; the owner answers with its own via the
// acknowledge-file-request echo.
type AckFileRequest struct {
	RID       string `json:"-"`
	PublicKey string `json:"public_key"`
	Filename  string `json:"filename"`
	UserID    string `json:"user_id"`
}

func (f AckFileRequest) Command() string   { return CommandAcknowledgeFileRequest }
func (f AckFileRequest) RequestID() string { return f.RID }

// PrepareTransfer hands the receiver the sender's key material and the
// chunk count for one transfer.
type PrepareTransfer struct {
	RID            string `json:"-"`
	PublicKey      string `json:"public_key"`
	Filename       string `json:"filename"`
	AmountOfChunks int64  `json:"amount_of_chunks"`
}

func (f PrepareTransfer) Command() string   { return CommandPrepareForFileTransfer }
func (f PrepareTransfer) RequestID() string { return f.RID }

// SendNextChunk asks the sender to encrypt and upload chunk ChunkNr.
type SendNextChunk struct {
	RID     string `json:"-"`
	ChunkNr int64  `json:"chunk_nr"`
}

func (f SendNextChunk) Command() string   { return CommandSendNextChunk }
func (f SendNextChunk) RequestID() string { return f.RID }

// AddChunk hands the receiver the one in-transit chunk.
type AddChunk struct {
	RID         string `json:"-"`
	IsLastChunk bool   `json:"is_last_chunk"`
	ChunkNr     int64  `json:"chunk_nr"`
	Chunk       string `json:"chunk"`
	IV          string `json:"iv"`
}

func (f AddChunk) Command() string   { return CommandAddChunk }
func (f AddChunk) RequestID() string { return f.RID }
