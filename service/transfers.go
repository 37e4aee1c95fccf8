package service

import (
	"context"
	"strconv"

	"github.com/wyrmhole/backend/internal/kv"
	"github.com/wyrmhole/backend/internal/observability"
)

// MaxChunkSize bounds the encrypted chunk field of add-chunk. The bound is
// on the chunk alone; the "{n}@{iv}@" prefix of the stored payload rides
// on top.
const MaxChunkSize = 70000

// Transfers implements the request-line commands clients push over the
// channel. The dispatcher authenticates every frame before calling in, so
// methods take the caller's uid on trust. All writes go through the leased
// store; a transfer nobody touches for a lease simply ceases to exist,
// which is the only abort path there is.
type Transfers struct {
	store        kv.Store
	log          *observability.Logger
	metrics      *observability.Metrics
	maxChunkSize int
}

func NewTransfers(store kv.Store, log *observability.Logger, metrics *observability.Metrics, maxChunkSize int) *Transfers {
	if maxChunkSize <= 0 {
		maxChunkSize = MaxChunkSize
	}
	return &Transfers{store: store, log: log, metrics: metrics, maxChunkSize: maxChunkSize}
}

// requireParticipant checks the caller against the transfer's membership
// set. The set is also the transfer's liveness anchor: once it expires,
// every command on the rid fails here.
func (t *Transfers) requireParticipant(ctx context.Context, rid, uid string) error {
	ok, err := t.store.SIsMember(ctx, keyTransferUsers(rid), uid)
	if err != nil {
		return wrap(err)
	}
	if !ok {
		return unauthorized("User not in file request.")
	}
	return nil
}

// RequestFile opens a transfer request: the receiver names a file and
// parks its public key for the owner's driver to collect. One outstanding
// request per receiver.
func (t *Transfers) RequestFile(ctx context.Context, sid, uid, filename, publicKey string) error {
	exists, err := t.store.SIsMember(ctx, keyFiles(sid), filename)
	if err != nil {
		return wrap(err)
	}
	if !exists {
		return notFound("file not found")
	}
	owner, err := t.store.HGet(ctx, keyFile(sid, filename), "owner.id")
	if err != nil {
		return wrap(err)
	}
	if owner == uid {
		return badRequest("cannot request own file")
	}
	pending, err := t.store.Exists(ctx, keyReceiverQueue(uid))
	if err != nil {
		return wrap(err)
	}
	if pending {
		return conflict("a file request is already outstanding")
	}

	if err := t.store.SAdd(ctx, keyFileReqs(sid), filename, 0); err != nil {
		return wrap(err)
	}
	if err := t.store.SAdd(ctx, keyFileRequesters(sid, filename), uid, 0); err != nil {
		return wrap(err)
	}
	if err := t.store.Set(ctx, keyFileReqKey(sid, filename, uid), publicKey, 0); err != nil {
		return wrap(err)
	}
	return nil
}

// AcknowledgeRequest parks the sender's key material and chunk count for
// the receiver's driver to deliver. The rid was minted by the sender's own
// driver one frame earlier, so there is no membership set to check against
// yet from this side.
func (t *Transfers) AcknowledgeRequest(ctx context.Context, rid, filename, publicKey string, amountOfChunks int64) error {
	fields := []string{
		"filename", filename,
		"public.key", publicKey,
		"amount.of.chunks", strconv.FormatInt(amountOfChunks, 10),
	}
	if err := t.store.HSet(ctx, keyPrep(rid), fields, 0); err != nil {
		return wrap(err)
	}
	return nil
}

// ReadyForTransfer marks the receiver ready; the sender's driver answers
// by requesting chunk 1.
func (t *Transfers) ReadyForTransfer(ctx context.Context, rid, uid string) error {
	if err := t.requireParticipant(ctx, rid, uid); err != nil {
		return err
	}
	if err := t.store.Set(ctx, keyChunkCurr(rid), "1", 0); err != nil {
		return wrap(err)
	}
	return nil
}

// AddChunk uploads the single in-transit chunk. The chunk number must
// match the outstanding send-next-chunk exactly; anything else is a stale
// or duplicate upload and is refused without touching state.
func (t *Transfers) AddChunk(ctx context.Context, rid, uid string, isLast bool, chunkNr int64, chunk, iv string) error {
	if err := t.requireParticipant(ctx, rid, uid); err != nil {
		return err
	}
	if len(chunk) > t.maxChunkSize {
		return badRequest("chunk too large")
	}
	requested, err := t.store.Get(ctx, keyChunkReq(rid))
	if err != nil {
		return wrap(err)
	}
	nr := strconv.FormatInt(chunkNr, 10)
	if requested == "" || requested != nr {
		return badRequest("chunk %s was not requested", nr)
	}

	if err := t.store.Set(ctx, keyChunk(rid), nr+"@"+iv+"@"+chunk, 0); err != nil {
		return wrap(err)
	}
	if isLast {
		if err := t.store.Set(ctx, keyChunkIsLast(rid), "true", 0); err != nil {
			return wrap(err)
		}
	}
	return nil
}

// ReceivedChunk is the receiver's ack for the chunk it was handed. An ack
// for anything but the chunk actually delivered is refused. Acking the
// last chunk tears the whole transfer down; otherwise the window advances
// by one and the in-transit keys clear for the next round.
func (t *Transfers) ReceivedChunk(ctx context.Context, rid, uid string, chunkNr int64) error {
	if err := t.requireParticipant(ctx, rid, uid); err != nil {
		return err
	}
	sent, err := t.store.Get(ctx, keyChunkSent(rid))
	if err != nil {
		return wrap(err)
	}
	nr := strconv.FormatInt(chunkNr, 10)
	if sent == "" || sent != nr {
		return conflict("chunk %s was not delivered", nr)
	}

	isLast, err := t.store.Get(ctx, keyChunkIsLast(rid))
	if err != nil {
		return wrap(err)
	}
	if isLast == "true" {
		users, err := t.store.SMembers(ctx, keyTransferUsers(rid))
		if err != nil {
			return wrap(err)
		}
		for _, u := range users {
			if err := t.store.SRem(ctx, keyReceiverQueue(u), rid); err != nil {
				return wrap(err)
			}
			if err := t.store.SRem(ctx, keySenderQueue(u), rid); err != nil {
				return wrap(err)
			}
		}
		if err := t.store.Del(ctx, keyChunkIsLast(rid), keyChunkCurr(rid), keyTransferUsers(rid)); err != nil {
			return wrap(err)
		}
		t.metrics.TransfersCompleted.Inc()
		t.log.TransferCompleted(rid, chunkNr)
	} else {
		if _, err := t.store.Incr(ctx, keyChunkCurr(rid), 0); err != nil {
			return wrap(err)
		}
	}

	if err := t.store.Del(ctx, keyChunkSent(rid), keyChunk(rid), keyChunkReq(rid)); err != nil {
		return wrap(err)
	}
	return nil
}
