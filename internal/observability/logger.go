package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", getHostname()).
		Logger()

	return &Logger{
		logger: logger,
	}
}

// WithSession adds session_id context to logger.
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("session_id", sessionID).Logger(),
	}
}

// WithUser adds user_id context to logger.
func (l *Logger) WithUser(userID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("user_id", userID).Logger(),
	}
}

// WithRequest adds transfer request_id context to logger.
func (l *Logger) WithRequest(requestID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("request_id", requestID).Logger(),
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(err error, msg string) {
	l.logger.Fatal().Err(err).Msg(msg)
}

// SessionCreated logs session creation.
func (l *Logger) SessionCreated(sessionID, name string) {
	l.logger.Info().
		Str("session_id", sessionID).
		Str("session_name", name).
		Msg("session created")
}

// SessionDeleted logs explicit session deletion.
func (l *Logger) SessionDeleted(sessionID string) {
	l.logger.Info().
		Str("session_id", sessionID).
		Msg("session deleted")
}

// SessionJoined logs a successful access-code join.
func (l *Logger) SessionJoined(sessionID string) {
	l.logger.Info().
		Str("session_id", sessionID).
		Msg("guest joined session")
}

// FilesAdded logs catalog additions.
func (l *Logger) FilesAdded(sessionID string, count int) {
	l.logger.Info().
		Str("session_id", sessionID).
		Int("file_count", count).
		Msg("files advertised")
}

// TransferAcknowledged logs the minting of a transfer request id.
func (l *Logger) TransferAcknowledged(requestID, filename string) {
	l.logger.Info().
		Str("request_id", requestID).
		Str("filename", filename).
		Msg("file request acknowledged")
}

// TransferCompleted logs the final chunk ack of a transfer.
func (l *Logger) TransferCompleted(requestID string, chunks int64) {
	l.logger.Info().
		Str("request_id", requestID).
		Int64("chunks", chunks).
		Msg("transfer completed")
}

// ChunkRelayed logs one chunk handed to a receiver.
func (l *Logger) ChunkRelayed(requestID string, chunkNr int64, size int) {
	l.logger.Debug().
		Str("request_id", requestID).
		Int64("chunk_nr", chunkNr).
		Int("chunk_size", size).
		Msg("chunk relayed")
}

// DriverStarted logs driver registration.
func (l *Logger) DriverStarted(userID string) {
	l.logger.Info().
		Str("user_id", userID).
		Msg("driver started")
}

// DriverStopped logs driver shutdown.
func (l *Logger) DriverStopped(userID string) {
	l.logger.Info().
		Str("user_id", userID).
		Msg("driver stopped")
}

// ChannelOpened logs an accepted channel connection.
func (l *Logger) ChannelOpened(remoteAddr, sessionID string) {
	l.logger.Info().
		Str("remote_addr", remoteAddr).
		Str("session_id", sessionID).
		Msg("channel opened")
}

// ChannelClosed logs channel teardown.
func (l *Logger) ChannelClosed(remoteAddr string, err error) {
	l.logger.Info().
		Str("remote_addr", remoteAddr).
		AnErr("reason", err).
		Msg("channel closed")
}

// CommandFailed logs a rejected channel command. Failures are not echoed to
// the client, so the log line is the only trace.
func (l *Logger) CommandFailed(command, userID string, err error) {
	l.logger.Warn().
		Str("command", command).
		Str("user_id", userID).
		Err(err).
		Msg("channel command failed")
}

// Helper function to get hostname.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
