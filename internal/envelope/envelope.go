// Package envelope implements the client-side encryption the relay never
// sees through: an ephemeral X25519 exchange per transfer, HKDF-SHA256 key
// derivation, and AES-256-GCM over fixed-size plaintext chunks. Public keys,
// ciphertext, and IVs travel base64-encoded inside channel frames.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	// ChunkSize is the plaintext slice length. The ciphertext a frame
	// carries is larger: GCM appends a 16-byte tag and base64 expands by
	// a third.
	ChunkSize = 1024

	ivSize   = 12
	keyInfo  = "wyrmhole-v1-chunk"
	shortKey = 32
)

var (
	// ErrBadPublicKey is returned when a peer key does not decode to 32 bytes.
	ErrBadPublicKey = errors.New("public key must decode to 32 bytes")
	// ErrBadIV is returned when an IV does not decode to 12 bytes.
	ErrBadIV = errors.New("iv must decode to 12 bytes")
)

// KeyPair is an ephemeral X25519 keypair. Generate a fresh one per transfer
// and discard both halves when the transfer ends.
type KeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// NewKeyPair generates an ephemeral X25519 keypair.
func NewKeyPair() (*KeyPair, error) {
	var kp KeyPair
	if _, err := rand.Read(kp.Private[:]); err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	curve25519.ScalarBaseMult(&kp.Public, &kp.Private)
	return &kp, nil
}

// PublicBase64 returns the public half in the wire encoding.
func (kp *KeyPair) PublicBase64() string {
	return base64.StdEncoding.EncodeToString(kp.Public[:])
}

// ParsePublicKey decodes a peer's base64 public key.
func ParsePublicKey(raw string) (*[32]byte, error) {
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPublicKey, err)
	}
	if len(b) != shortKey {
		return nil, fmt.Errorf("%w: got %d", ErrBadPublicKey, len(b))
	}
	var pub [32]byte
	copy(pub[:], b)
	return &pub, nil
}

// Envelope seals and opens chunks under a key derived from one X25519
// exchange. Both sides construct it with their own private key and the
// peer's public key and arrive at the same AEAD.
type Envelope struct {
	aead cipher.AEAD
}

// New derives the chunk key and prepares the AEAD. The exchange fails on
// low-order peer keys.
func New(private *[32]byte, peerPublic *[32]byte) (*Envelope, error) {
	shared, err := curve25519.X25519(private[:], peerPublic[:])
	if err != nil {
		return nil, fmt.Errorf("key exchange failed: %w", err)
	}

	key := make([]byte, shortKey)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Envelope{aead: aead}, nil
}

// Seal encrypts one chunk under a fresh random IV and returns the ciphertext
// and IV in their wire encoding.
func (e *Envelope) Seal(chunk []byte) (cipherB64, ivB64 string, err error) {
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", "", fmt.Errorf("failed to generate iv: %w", err)
	}
	ct := e.aead.Seal(nil, iv, chunk, nil)
	return base64.StdEncoding.EncodeToString(ct), base64.StdEncoding.EncodeToString(iv), nil
}

// Open decrypts one chunk. Authentication failure, a truncated IV, or
// malformed base64 all return an error and no plaintext.
func (e *Envelope) Open(cipherB64, ivB64 string) ([]byte, error) {
	iv, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadIV, err)
	}
	if len(iv) != ivSize {
		return nil, fmt.Errorf("%w: got %d", ErrBadIV, len(iv))
	}
	ct, err := base64.StdEncoding.DecodeString(cipherB64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode chunk: %w", err)
	}
	pt, err := e.aead.Open(nil, iv, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt chunk: %w", err)
	}
	return pt, nil
}

// NumChunks returns how many chunks a payload of the given size splits into.
func NumChunks(size int64) int64 {
	if size <= 0 {
		return 0
	}
	return (size + ChunkSize - 1) / ChunkSize
}

// ChunkAt returns the 1-based nth plaintext slice and whether it is the
// last one. Out-of-range numbers return an empty last slice.
func ChunkAt(data []byte, nr int64) (chunk []byte, last bool) {
	start := (nr - 1) * ChunkSize
	if nr < 1 || start >= int64(len(data)) {
		return nil, true
	}
	end := start + ChunkSize
	if end >= int64(len(data)) {
		return data[start:], true
	}
	return data[start:end], false
}
