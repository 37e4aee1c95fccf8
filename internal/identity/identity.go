// Package identity mints the identifiers and capability tokens the service
// hands out: v4 UUIDs for sessions, users and transfers, six-digit access
// codes for the join handshake, and HS256 session tokens.
package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// NewID returns a random v4 UUID string.
func NewID() string {
	return uuid.NewString()
}

// NewAccessCode returns a zero-padded six-digit code in [1, 999999].
func NewAccessCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(999999))
	if err != nil {
		// crypto/rand only fails when the platform source is broken.
		panic(fmt.Sprintf("identity: access code entropy: %v", err))
	}
	return fmt.Sprintf("%06d", n.Int64()+1)
}

// SHA256Hex hashes the UTF-8 bytes of s and renders lowercase hex. Access
// codes are stored and compared in this form only.
func SHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
