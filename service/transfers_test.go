package service

import (
	"context"
	"strings"
	"testing"
)

// transferFixture builds a session whose host advertises a.txt and whose
// guest will receive it. Returns the session id and the two uids.
func transferFixture(t *testing.T, env *testEnv) (sid, sender, receiver string) {
	t.Helper()
	ctx := context.Background()
	sess, guestToken := hostedSession(t, env)
	if err := env.files.Add(ctx, sess.ID, sess.Token, []FileMeta{{Name: "a.txt", Size: 100}}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	hostClaims, err := env.tokens.Verify(sess.Token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	guestClaims, err := env.tokens.Verify(guestToken)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	return sess.ID, hostClaims.Subject, guestClaims.Subject
}

func TestRequestFile(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	sid, _, receiver := transferFixture(t, env)

	if err := env.transfers.RequestFile(ctx, sid, receiver, "a.txt", "pk-receiver"); err != nil {
		t.Fatalf("RequestFile failed: %v", err)
	}

	if ok, _ := env.store.SIsMember(ctx, keyFileReqs(sid), "a.txt"); !ok {
		t.Errorf("Expected a.txt flagged as requested")
	}
	if ok, _ := env.store.SIsMember(ctx, keyFileRequesters(sid, "a.txt"), receiver); !ok {
		t.Errorf("Expected receiver recorded as requester")
	}
	if pk, _ := env.store.Get(ctx, keyFileReqKey(sid, "a.txt", receiver)); pk != "pk-receiver" {
		t.Errorf("Expected parked public key, got %q", pk)
	}
}

func TestRequestFileUnknown(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	sid, _, receiver := transferFixture(t, env)

	err := env.transfers.RequestFile(ctx, sid, receiver, "nope.txt", "pk")
	expectKind(t, err, KindNotFound, "file not found")
}

func TestRequestOwnFile(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	sid, sender, _ := transferFixture(t, env)

	err := env.transfers.RequestFile(ctx, sid, sender, "a.txt", "pk")
	expectKind(t, err, KindBadRequest, "cannot request own file")
}

func TestRequestFileWhileReceiving(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	sid, _, receiver := transferFixture(t, env)

	// An acknowledged transfer is already underway for this receiver.
	if err := env.store.SAdd(ctx, keyReceiverQueue(receiver), "rid-1", 0); err != nil {
		t.Fatalf("SAdd failed: %v", err)
	}
	err := env.transfers.RequestFile(ctx, sid, receiver, "a.txt", "pk")
	expectKind(t, err, KindConflict, "")
}

func TestAcknowledgeRequestParksPrep(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	if err := env.transfers.AcknowledgeRequest(ctx, "rid-1", "a.txt", "pk-sender", 12); err != nil {
		t.Fatalf("AcknowledgeRequest failed: %v", err)
	}
	pairs, _ := env.store.HGetAll(ctx, keyPrep("rid-1"))
	if len(pairs) != 6 {
		t.Fatalf("Expected 3 prep fields, got %v", pairs)
	}
	if v, _ := env.store.HGet(ctx, keyPrep("rid-1"), "amount.of.chunks"); v != "12" {
		t.Errorf("Expected amount.of.chunks 12, got %q", v)
	}
}

func TestReadyForTransfer(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	err := env.transfers.ReadyForTransfer(ctx, "rid-1", "stranger")
	expectKind(t, err, KindUnauthorized, "User not in file request.")

	env.store.SAdd(ctx, keyTransferUsers("rid-1"), "receiver", 0)
	if err := env.transfers.ReadyForTransfer(ctx, "rid-1", "receiver"); err != nil {
		t.Fatalf("ReadyForTransfer failed: %v", err)
	}
	if v, _ := env.store.Get(ctx, keyChunkCurr("rid-1")); v != "1" {
		t.Errorf("Expected window opened at chunk 1, got %q", v)
	}
}

func TestAddChunkRequiresOutstandingRequest(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.store.SAdd(ctx, keyTransferUsers("rid-1"), "sender", 0)

	err := env.transfers.AddChunk(ctx, "rid-1", "sender", false, 1, "data", "iv")
	expectKind(t, err, KindBadRequest, "")

	env.store.Set(ctx, keyChunkReq("rid-1"), "2", 0)
	err = env.transfers.AddChunk(ctx, "rid-1", "sender", false, 1, "data", "iv")
	expectKind(t, err, KindBadRequest, "")

	if err := env.transfers.AddChunk(ctx, "rid-1", "sender", false, 2, "data", "iv"); err != nil {
		t.Fatalf("AddChunk failed: %v", err)
	}
	if v, _ := env.store.Get(ctx, keyChunk("rid-1")); v != "2@iv@data" {
		t.Errorf("Expected payload 2@iv@data, got %q", v)
	}
	if ok, _ := env.store.Exists(ctx, keyChunkIsLast("rid-1")); ok {
		t.Errorf("Expected no last-chunk marker for a middle chunk")
	}
}

func TestAddChunkLastMarker(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.store.SAdd(ctx, keyTransferUsers("rid-1"), "sender", 0)
	env.store.Set(ctx, keyChunkReq("rid-1"), "3", 0)

	if err := env.transfers.AddChunk(ctx, "rid-1", "sender", true, 3, "tail", "iv"); err != nil {
		t.Fatalf("AddChunk failed: %v", err)
	}
	if v, _ := env.store.Get(ctx, keyChunkIsLast("rid-1")); v != "true" {
		t.Errorf("Expected last-chunk marker, got %q", v)
	}
}

func TestAddChunkSizeBound(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	tr := NewTransfers(env.store, env.log, env.metrics, 8)
	env.store.SAdd(ctx, keyTransferUsers("rid-1"), "sender", 0)
	env.store.Set(ctx, keyChunkReq("rid-1"), "1", 0)

	err := tr.AddChunk(ctx, "rid-1", "sender", false, 1, strings.Repeat("x", 9), "iv")
	expectKind(t, err, KindBadRequest, "chunk too large")
	if ok, _ := env.store.Exists(ctx, keyChunk("rid-1")); ok {
		t.Errorf("Expected oversized chunk not to be stored")
	}

	// The bound is on the chunk alone; the iv and separators ride free.
	if err := tr.AddChunk(ctx, "rid-1", "sender", false, 1, strings.Repeat("x", 8), "a-long-iv-value"); err != nil {
		t.Fatalf("AddChunk at the bound failed: %v", err)
	}
}

func TestAddChunkRequiresParticipant(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.store.SAdd(ctx, keyTransferUsers("rid-1"), "sender", 0)
	env.store.Set(ctx, keyChunkReq("rid-1"), "1", 0)

	err := env.transfers.AddChunk(ctx, "rid-1", "stranger", false, 1, "data", "iv")
	expectKind(t, err, KindUnauthorized, "User not in file request.")
}

func TestReceivedChunkAdvancesWindow(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.store.SAdd(ctx, keyTransferUsers("rid-1"), "receiver", 0)
	env.store.Set(ctx, keyChunkCurr("rid-1"), "1", 0)
	env.store.Set(ctx, keyChunkReq("rid-1"), "1", 0)
	env.store.Set(ctx, keyChunk("rid-1"), "1@iv@data", 0)
	env.store.Set(ctx, keyChunkSent("rid-1"), "1", 0)

	if err := env.transfers.ReceivedChunk(ctx, "rid-1", "receiver", 1); err != nil {
		t.Fatalf("ReceivedChunk failed: %v", err)
	}
	if v, _ := env.store.Get(ctx, keyChunkCurr("rid-1")); v != "2" {
		t.Errorf("Expected window advanced to 2, got %q", v)
	}
	for _, key := range []string{keyChunk("rid-1"), keyChunkReq("rid-1"), keyChunkSent("rid-1")} {
		if ok, _ := env.store.Exists(ctx, key); ok {
			t.Errorf("Expected %s cleared for the next round", key)
		}
	}
}

func TestReceivedChunkWrongNumber(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.store.SAdd(ctx, keyTransferUsers("rid-1"), "receiver", 0)
	env.store.Set(ctx, keyChunkSent("rid-1"), "1", 0)
	env.store.Set(ctx, keyChunkCurr("rid-1"), "1", 0)

	err := env.transfers.ReceivedChunk(ctx, "rid-1", "receiver", 2)
	expectKind(t, err, KindConflict, "")
	if v, _ := env.store.Get(ctx, keyChunkCurr("rid-1")); v != "1" {
		t.Errorf("Expected window untouched, got %q", v)
	}
	if ok, _ := env.store.Exists(ctx, keyChunkSent("rid-1")); !ok {
		t.Errorf("Expected delivery marker untouched")
	}
}

func TestReceivedChunkLastTearsDown(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.store.SAdd(ctx, keyTransferUsers("rid-1"), "sender", 0)
	env.store.SAdd(ctx, keyTransferUsers("rid-1"), "receiver", 0)
	env.store.SAdd(ctx, keySenderQueue("sender"), "rid-1", 0)
	env.store.SAdd(ctx, keyReceiverQueue("receiver"), "rid-1", 0)
	env.store.Set(ctx, keyChunkCurr("rid-1"), "3", 0)
	env.store.Set(ctx, keyChunkReq("rid-1"), "3", 0)
	env.store.Set(ctx, keyChunk("rid-1"), "3@iv@tail", 0)
	env.store.Set(ctx, keyChunkSent("rid-1"), "3", 0)
	env.store.Set(ctx, keyChunkIsLast("rid-1"), "true", 0)

	if err := env.transfers.ReceivedChunk(ctx, "rid-1", "receiver", 3); err != nil {
		t.Fatalf("ReceivedChunk failed: %v", err)
	}

	for _, key := range []string{
		keyTransferUsers("rid-1"),
		keySenderQueue("sender"),
		keyReceiverQueue("receiver"),
		keyChunkCurr("rid-1"),
		keyChunkReq("rid-1"),
		keyChunk("rid-1"),
		keyChunkSent("rid-1"),
		keyChunkIsLast("rid-1"),
	} {
		if ok, _ := env.store.Exists(ctx, key); ok {
			t.Errorf("Expected %s torn down after the last ack", key)
		}
	}
}
