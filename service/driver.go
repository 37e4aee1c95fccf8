package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/wyrmhole/backend/internal/identity"
	"github.com/wyrmhole/backend/internal/kv"
	"github.com/wyrmhole/backend/internal/observability"
)

// DriverTick is the default scan interval.
const DriverTick = 100 * time.Millisecond

// Driver is the per-user polling task behind a registered channel. Every
// tick it runs four passes over the request-line state and emits whatever
// frames its user is owed. It keeps no state of its own; each pass
// re-reads the store, so a restarted driver resumes exactly where the
// keys say the transfer is, and a transfer whose keys have leased away
// simply stops producing frames.
type Driver struct {
	store   kv.Store
	sid     string
	uid     string
	emit    func(Outbound)
	log     *observability.Logger
	metrics *observability.Metrics
	tick    time.Duration
}

func NewDriver(store kv.Store, sid, uid string, emit func(Outbound), log *observability.Logger, metrics *observability.Metrics, tick time.Duration) *Driver {
	if tick <= 0 {
		tick = DriverTick
	}
	return &Driver{
		store:   store,
		sid:     sid,
		uid:     uid,
		emit:    emit,
		log:     log,
		metrics: metrics,
		tick:    tick,
	}
}

// Run ticks until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) {
	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Scan(ctx)
		}
	}
}

// Scan runs the four passes once. The passes are independent, so one
// failing is logged and retried next tick without holding up the rest.
func (d *Driver) Scan(ctx context.Context) {
	d.metrics.DriverTicks.Inc()
	if err := d.acknowledgePass(ctx); err != nil {
		d.metrics.RecordPassError("acknowledge")
		d.log.WithUser(d.uid).Error(err, "acknowledge pass failed")
	}
	if err := d.preparePass(ctx); err != nil {
		d.metrics.RecordPassError("prepare")
		d.log.WithUser(d.uid).Error(err, "prepare pass failed")
	}
	if err := d.nextChunkPass(ctx); err != nil {
		d.metrics.RecordPassError("next_chunk")
		d.log.WithUser(d.uid).Error(err, "next chunk pass failed")
	}
	if err := d.deliverPass(ctx); err != nil {
		d.metrics.RecordPassError("deliver")
		d.log.WithUser(d.uid).Error(err, "deliver pass failed")
	}
}

// ownedFiles lists the session files owned by this driver's user.
func (d *Driver) ownedFiles(ctx context.Context) ([]string, error) {
	names, err := d.store.SMembers(ctx, keyFiles(d.sid))
	if err != nil {
		return nil, err
	}
	var owned []string
	for _, name := range names {
		owner, err := d.store.HGet(ctx, keyFile(d.sid, name), "owner.id")
		if err != nil {
			return nil, err
		}
		if owner == d.uid {
			owned = append(owned, name)
		}
	}
	return owned, nil
}

// acknowledgePass picks up requests for files this user owns. Each
// requester gets a freshly minted rid, both ends get queued under it, and
// the owner is told to acknowledge with its own key material. Consuming
// the request records first means a crash after that point strands the
// request until its lease clears it, which is the intended failure mode.
func (d *Driver) acknowledgePass(ctx context.Context) error {
	owned, err := d.ownedFiles(ctx)
	if err != nil {
		return err
	}
	for _, file := range owned {
		requested, err := d.store.SIsMember(ctx, keyFileReqs(d.sid), file)
		if err != nil {
			return err
		}
		if !requested {
			continue
		}
		if err := d.store.SRem(ctx, keyFileReqs(d.sid), file); err != nil {
			return err
		}

		requesters, err := d.store.SMembers(ctx, keyFileRequesters(d.sid, file))
		if err != nil {
			return err
		}
		for _, receiver := range requesters {
			publicKey, err := d.store.Get(ctx, keyFileReqKey(d.sid, file, receiver))
			if err != nil {
				return err
			}
			if err := d.store.Del(ctx, keyFileReqKey(d.sid, file, receiver)); err != nil {
				return err
			}
			if err := d.store.SRem(ctx, keyFileRequesters(d.sid, file), receiver); err != nil {
				return err
			}

			rid := identity.NewID()
			if err := d.store.SAdd(ctx, keyTransferUsers(rid), d.uid, 0); err != nil {
				return err
			}
			if err := d.store.SAdd(ctx, keyTransferUsers(rid), receiver, 0); err != nil {
				return err
			}
			if err := d.store.SAdd(ctx, keyReceiverQueue(receiver), rid, 0); err != nil {
				return err
			}
			if err := d.store.SAdd(ctx, keySenderQueue(d.uid), rid, 0); err != nil {
				return err
			}

			d.metrics.TransfersStarted.Inc()
			d.log.TransferAcknowledged(rid, file)
			d.emit(AckFileRequest{RID: rid, PublicKey: publicKey, Filename: file, UserID: d.uid})
		}
	}
	return nil
}

// preparePass delivers the sender's key material to this user for every
// transfer it is receiving. The prep record is read once and deleted; a
// partial hash means the sender's write is still in flight and is left
// for a later tick.
func (d *Driver) preparePass(ctx context.Context) error {
	rids, err := d.store.SMembers(ctx, keyReceiverQueue(d.uid))
	if err != nil {
		return err
	}
	for _, rid := range rids {
		pairs, err := d.store.HGetAll(ctx, keyPrep(rid))
		if err != nil {
			return err
		}
		if len(pairs) < 6 {
			continue
		}
		filename, okName := kv.HashValue(pairs, "filename")
		publicKey, okKey := kv.HashValue(pairs, "public.key")
		amount, okAmount := kv.HashValue(pairs, "amount.of.chunks")
		if !okName || !okKey || !okAmount {
			continue
		}
		if err := d.store.Del(ctx, keyPrep(rid)); err != nil {
			return err
		}
		chunks, _ := strconv.ParseInt(amount, 10, 64)
		d.emit(PrepareTransfer{RID: rid, PublicKey: publicKey, Filename: filename, AmountOfChunks: chunks})
	}
	return nil
}

// nextChunkPass asks this user, as sender, for the current chunk of every
// transfer whose window is open and has no request outstanding. Writing
// chunk.req before emitting keeps the pass idempotent: a second tick sees
// the request outstanding and stays quiet.
func (d *Driver) nextChunkPass(ctx context.Context) error {
	rids, err := d.store.SMembers(ctx, keySenderQueue(d.uid))
	if err != nil {
		return err
	}
	for _, rid := range rids {
		curr, err := d.store.Get(ctx, keyChunkCurr(rid))
		if err != nil {
			return err
		}
		if curr == "" {
			continue
		}
		outstanding, err := d.store.Get(ctx, keyChunkReq(rid))
		if err != nil {
			return err
		}
		if outstanding != "" {
			continue
		}
		if err := d.store.Set(ctx, keyChunkReq(rid), curr, 0); err != nil {
			return err
		}
		n, _ := strconv.ParseInt(curr, 10, 64)
		d.emit(SendNextChunk{RID: rid, ChunkNr: n})
	}
	return nil
}

// deliverPass hands this user, as receiver, the in-transit chunk of every
// transfer that has one uploaded and not yet delivered. The payload is
// "{n}@{iv}@{chunk}"; the iv and chunk are base64 so the two separators
// are unambiguous. A payload whose chunk number disagrees with chunk.curr
// is stale and is ignored until its keys clear.
func (d *Driver) deliverPass(ctx context.Context) error {
	rids, err := d.store.SMembers(ctx, keyReceiverQueue(d.uid))
	if err != nil {
		return err
	}
	for _, rid := range rids {
		sent, err := d.store.Get(ctx, keyChunkSent(rid))
		if err != nil {
			return err
		}
		if sent != "" {
			continue
		}
		payload, err := d.store.Get(ctx, keyChunk(rid))
		if err != nil {
			return err
		}
		if payload == "" {
			continue
		}
		parts := strings.Split(payload, "@")
		if len(parts) != 3 {
			continue
		}
		curr, err := d.store.Get(ctx, keyChunkCurr(rid))
		if err != nil {
			return err
		}
		if parts[0] != curr {
			continue
		}
		if err := d.store.Set(ctx, keyChunkSent(rid), parts[0], 0); err != nil {
			return err
		}
		isLast, err := d.store.Get(ctx, keyChunkIsLast(rid))
		if err != nil {
			return err
		}
		n, _ := strconv.ParseInt(parts[0], 10, 64)
		d.metrics.RecordChunk(len(parts[2]))
		d.log.ChunkRelayed(rid, n, len(parts[2]))
		d.emit(AddChunk{
			RID:         rid,
			IsLastChunk: isLast == "true",
			ChunkNr:     n,
			Chunk:       parts[2],
			IV:          parts[1],
		})
	}
	return nil
}
