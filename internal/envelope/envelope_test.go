package envelope

import (
	"bytes"
	"crypto/rand"
	"strings"
	"testing"
)

func TestNewKeyPair(t *testing.T) {
	kp, err := NewKeyPair()
	if err != nil {
		t.Fatalf("NewKeyPair() failed: %v", err)
	}

	var zero [32]byte
	if bytes.Equal(kp.Public[:], zero[:]) {
		t.Error("Public key is all zeros")
	}
	if bytes.Equal(kp.Private[:], zero[:]) {
		t.Error("Private key is all zeros")
	}

	parsed, err := ParsePublicKey(kp.PublicBase64())
	if err != nil {
		t.Fatalf("ParsePublicKey failed on own encoding: %v", err)
	}
	if !bytes.Equal(parsed[:], kp.Public[:]) {
		t.Error("Expected public key to survive the wire encoding")
	}
}

func TestParsePublicKeyRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "not base64!!", "c2hvcnQ="} {
		if _, err := ParsePublicKey(raw); err == nil {
			t.Errorf("Expected error for %q", raw)
		}
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	sender, err := NewKeyPair()
	if err != nil {
		t.Fatalf("NewKeyPair() failed: %v", err)
	}
	receiver, err := NewKeyPair()
	if err != nil {
		t.Fatalf("NewKeyPair() failed: %v", err)
	}

	seal, err := New(&sender.Private, &receiver.Public)
	if err != nil {
		t.Fatalf("New failed for sender: %v", err)
	}
	open, err := New(&receiver.Private, &sender.Public)
	if err != nil {
		t.Fatalf("New failed for receiver: %v", err)
	}

	chunk := make([]byte, ChunkSize)
	if _, err := rand.Read(chunk); err != nil {
		t.Fatalf("rand.Read failed: %v", err)
	}

	ct, iv, err := seal.Seal(chunk)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	got, err := open.Open(ct, iv)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !bytes.Equal(got, chunk) {
		t.Error("Decrypted chunk does not match plaintext")
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	a, _ := NewKeyPair()
	b, _ := NewKeyPair()
	env, err := New(&a.Private, &b.Public)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ct, iv, err := env.Seal([]byte("payload"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	flipped := []byte(ct)
	if flipped[0] == 'A' {
		flipped[0] = 'B'
	} else {
		flipped[0] = 'A'
	}
	if _, err := env.Open(string(flipped), iv); err == nil {
		t.Error("Expected tampered ciphertext to fail authentication")
	}
	if _, err := env.Open(ct, "dG9vc2hvcnQ="); err == nil {
		t.Error("Expected short iv to be rejected")
	}
	if _, err := env.Open("!!!", iv); err == nil {
		t.Error("Expected malformed base64 chunk to be rejected")
	}
}

func TestEnvelopeIsDirectionSymmetric(t *testing.T) {
	a, _ := NewKeyPair()
	b, _ := NewKeyPair()

	fromA, err := New(&a.Private, &b.Public)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	fromB, err := New(&b.Private, &a.Public)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ct, iv, err := fromB.Seal([]byte("reverse direction"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	got, err := fromA.Open(ct, iv)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if string(got) != "reverse direction" {
		t.Errorf("Expected symmetric key, got %q", got)
	}
}

func TestNumChunks(t *testing.T) {
	cases := map[int64]int64{
		0:    0,
		1:    1,
		1023: 1,
		1024: 1,
		1025: 2,
		4096: 4,
		4097: 5,
	}
	for size, want := range cases {
		if got := NumChunks(size); got != want {
			t.Errorf("NumChunks(%d) = %d, want %d", size, got, want)
		}
	}
}

func TestChunkAt(t *testing.T) {
	data := []byte(strings.Repeat("a", ChunkSize) + strings.Repeat("b", ChunkSize) + "tail")

	first, last := ChunkAt(data, 1)
	if last || len(first) != ChunkSize || first[0] != 'a' {
		t.Errorf("Expected full first chunk, got len %d last %v", len(first), last)
	}
	second, last := ChunkAt(data, 2)
	if last || len(second) != ChunkSize || second[0] != 'b' {
		t.Errorf("Expected full second chunk, got len %d last %v", len(second), last)
	}
	third, last := ChunkAt(data, 3)
	if !last || string(third) != "tail" {
		t.Errorf("Expected short last chunk, got %q last %v", third, last)
	}
	if _, last := ChunkAt(data, 4); !last {
		t.Error("Expected out-of-range chunk to report last")
	}

	exact := make([]byte, 2*ChunkSize)
	if chunk, last := ChunkAt(exact, 2); !last || len(chunk) != ChunkSize {
		t.Errorf("Expected exact boundary chunk to be last, got len %d last %v", len(chunk), last)
	}
}

func TestChunkReassembly(t *testing.T) {
	data := make([]byte, 3*ChunkSize+100)
	if _, err := rand.Read(data); err != nil {
		t.Fatalf("rand.Read failed: %v", err)
	}

	var rebuilt []byte
	for nr := int64(1); ; nr++ {
		chunk, last := ChunkAt(data, nr)
		rebuilt = append(rebuilt, chunk...)
		if last {
			break
		}
	}
	if !bytes.Equal(rebuilt, data) {
		t.Error("Reassembled chunks do not match original data")
	}
	if want := NumChunks(int64(len(data))); want != 4 {
		t.Errorf("Expected 4 chunks, got %d", want)
	}
}
