package kv

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/boltdb/bolt"
)

var bucketKV = []byte("kv")

const boltSweepInterval = 30 * time.Second

// boltRecord is the value payload; the stored value is an 8-byte big-endian
// unix-nano lease deadline followed by the JSON-encoded record.
type boltRecord struct {
	Kind int      `json:"kind"`
	Str  string   `json:"str,omitempty"`
	Set  []string `json:"set,omitempty"`
	Hash []string `json:"hash,omitempty"`
	List []string `json:"list,omitempty"`
}

// Bolt is an embedded Store backend for single-node deployments. Leases are
// enforced lazily on access and by a background sweep, so a key can outlive
// its deadline on disk but is never observable past it.
type Bolt struct {
	db   *bolt.DB
	done chan struct{}
}

// NewBolt opens (or creates) the store file at path and starts the sweeper.
func NewBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(filepath.Clean(path), 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(bucketKV)
		return e
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	b := &Bolt{db: db, done: make(chan struct{})}
	go b.sweepLoop()
	return b, nil
}

func (b *Bolt) sweepLoop() {
	ticker := time.NewTicker(boltSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.Sweep()
		case <-b.done:
			return
		}
	}
}

// Sweep deletes every record whose lease has run out and reports how many
// were removed.
func (b *Bolt) Sweep() (int, error) {
	now := time.Now().UnixNano()
	removed := 0
	err := b.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketKV).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if len(v) >= 8 && int64(binary.BigEndian.Uint64(v[:8])) <= now {
				if err := c.Delete(); err != nil {
					return err
				}
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return removed, nil
}

func decodeBolt(v []byte) (boltRecord, time.Time, bool) {
	if len(v) < 8 {
		return boltRecord{}, time.Time{}, false
	}
	deadline := time.Unix(0, int64(binary.BigEndian.Uint64(v[:8])))
	var rec boltRecord
	if err := json.Unmarshal(v[8:], &rec); err != nil {
		return boltRecord{}, time.Time{}, false
	}
	return rec, deadline, true
}

func encodeBolt(rec boltRecord, deadline time.Time) ([]byte, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 8, 8+len(payload))
	binary.BigEndian.PutUint64(buf, uint64(deadline.UnixNano()))
	return append(buf, payload...), nil
}

// liveBolt reads the record for key inside tx, treating expired ones as
// absent. The returned deadline is kept by mutators that must not refresh
// the lease.
func liveBolt(tx *bolt.Tx, key string) (boltRecord, time.Time, bool) {
	v := tx.Bucket(bucketKV).Get([]byte(key))
	if v == nil {
		return boltRecord{}, time.Time{}, false
	}
	rec, deadline, ok := decodeBolt(v)
	if !ok || !deadline.After(time.Now()) {
		return boltRecord{}, time.Time{}, false
	}
	return rec, deadline, true
}

func putBolt(tx *bolt.Tx, key string, rec boltRecord, deadline time.Time) error {
	v, err := encodeBolt(rec, deadline)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketKV).Put([]byte(key), v)
}

func (b *Bolt) update(fn func(tx *bolt.Tx) error) error {
	if err := b.db.Update(fn); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (b *Bolt) view(fn func(tx *bolt.Tx) error) error {
	if err := b.db.View(fn); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (b *Bolt) Get(ctx context.Context, key string) (string, error) {
	var out string
	err := b.view(func(tx *bolt.Tx) error {
		if rec, _, ok := liveBolt(tx, key); ok && rec.Kind == kindString {
			out = rec.Str
		}
		return nil
	})
	return out, err
}

func (b *Bolt) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return b.update(func(tx *bolt.Tx) error {
		return putBolt(tx, key, boltRecord{Kind: kindString, Str: value}, time.Now().Add(leaseOrDefault(ttl)))
	})
}

func (b *Bolt) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var n int64
	err := b.update(func(tx *bolt.Tx) error {
		if rec, _, ok := liveBolt(tx, key); ok && rec.Kind == kindString {
			n, _ = strconv.ParseInt(rec.Str, 10, 64)
		}
		n++
		rec := boltRecord{Kind: kindString, Str: strconv.FormatInt(n, 10)}
		return putBolt(tx, key, rec, time.Now().Add(leaseOrDefault(ttl)))
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (b *Bolt) Del(ctx context.Context, keys ...string) error {
	return b.update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketKV)
		for _, k := range keys {
			if err := bk.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Bolt) Exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := b.view(func(tx *bolt.Tx) error {
		_, _, ok = liveBolt(tx, key)
		return nil
	})
	return ok, err
}

func (b *Bolt) SAdd(ctx context.Context, key, member string, ttl time.Duration) error {
	return b.update(func(tx *bolt.Tx) error {
		rec, _, ok := liveBolt(tx, key)
		if !ok || rec.Kind != kindSet {
			rec = boltRecord{Kind: kindSet}
		}
		found := false
		for _, m := range rec.Set {
			if m == member {
				found = true
				break
			}
		}
		if !found {
			rec.Set = append(rec.Set, member)
		}
		return putBolt(tx, key, rec, time.Now().Add(leaseOrDefault(ttl)))
	})
}

func (b *Bolt) SRem(ctx context.Context, key, member string) error {
	return b.update(func(tx *bolt.Tx) error {
		rec, deadline, ok := liveBolt(tx, key)
		if !ok || rec.Kind != kindSet {
			return nil
		}
		kept := rec.Set[:0]
		for _, m := range rec.Set {
			if m != member {
				kept = append(kept, m)
			}
		}
		rec.Set = kept
		if len(rec.Set) == 0 {
			return tx.Bucket(bucketKV).Delete([]byte(key))
		}
		return putBolt(tx, key, rec, deadline)
	})
}

func (b *Bolt) SIsMember(ctx context.Context, key, member string) (bool, error) {
	var ok bool
	err := b.view(func(tx *bolt.Tx) error {
		rec, _, live := liveBolt(tx, key)
		if !live || rec.Kind != kindSet {
			return nil
		}
		for _, m := range rec.Set {
			if m == member {
				ok = true
				return nil
			}
		}
		return nil
	})
	return ok, err
}

func (b *Bolt) SMembers(ctx context.Context, key string) ([]string, error) {
	var members []string
	err := b.view(func(tx *bolt.Tx) error {
		if rec, _, ok := liveBolt(tx, key); ok && rec.Kind == kindSet {
			members = append(members, rec.Set...)
		}
		return nil
	})
	return members, err
}

func (b *Bolt) HSet(ctx context.Context, key string, pairs []string, ttl time.Duration) error {
	return b.update(func(tx *bolt.Tx) error {
		rec, _, ok := liveBolt(tx, key)
		if !ok || rec.Kind != kindHash {
			rec = boltRecord{Kind: kindHash}
		}
		for i := 0; i+1 < len(pairs); i += 2 {
			updated := false
			for j := 0; j+1 < len(rec.Hash); j += 2 {
				if rec.Hash[j] == pairs[i] {
					rec.Hash[j+1] = pairs[i+1]
					updated = true
					break
				}
			}
			if !updated {
				rec.Hash = append(rec.Hash, pairs[i], pairs[i+1])
			}
		}
		return putBolt(tx, key, rec, time.Now().Add(leaseOrDefault(ttl)))
	})
}

func (b *Bolt) HGet(ctx context.Context, key, field string) (string, error) {
	var out string
	err := b.view(func(tx *bolt.Tx) error {
		if rec, _, ok := liveBolt(tx, key); ok && rec.Kind == kindHash {
			out, _ = HashValue(rec.Hash, field)
		}
		return nil
	})
	return out, err
}

func (b *Bolt) HGetAll(ctx context.Context, key string) ([]string, error) {
	var pairs []string
	err := b.view(func(tx *bolt.Tx) error {
		if rec, _, ok := liveBolt(tx, key); ok && rec.Kind == kindHash {
			pairs = append(pairs, rec.Hash...)
		}
		return nil
	})
	return pairs, err
}

func (b *Bolt) LPush(ctx context.Context, key, value string, ttl time.Duration) error {
	return b.update(func(tx *bolt.Tx) error {
		rec, _, ok := liveBolt(tx, key)
		if !ok || rec.Kind != kindList {
			rec = boltRecord{Kind: kindList}
		}
		rec.List = append([]string{value}, rec.List...)
		return putBolt(tx, key, rec, time.Now().Add(leaseOrDefault(ttl)))
	})
}

func (b *Bolt) LPop(ctx context.Context, key string) (string, error) {
	return b.pop(key, true)
}

func (b *Bolt) RPop(ctx context.Context, key string) (string, error) {
	return b.pop(key, false)
}

func (b *Bolt) pop(key string, front bool) (string, error) {
	var out string
	err := b.update(func(tx *bolt.Tx) error {
		rec, deadline, ok := liveBolt(tx, key)
		if !ok || rec.Kind != kindList || len(rec.List) == 0 {
			return nil
		}
		if front {
			out = rec.List[0]
			rec.List = rec.List[1:]
		} else {
			out = rec.List[len(rec.List)-1]
			rec.List = rec.List[:len(rec.List)-1]
		}
		if len(rec.List) == 0 {
			return tx.Bucket(bucketKV).Delete([]byte(key))
		}
		return putBolt(tx, key, rec, deadline)
	})
	return out, err
}

func (b *Bolt) LLen(ctx context.Context, key string) (int64, error) {
	var n int64
	err := b.view(func(tx *bolt.Tx) error {
		if rec, _, ok := liveBolt(tx, key); ok && rec.Kind == kindList {
			n = int64(len(rec.List))
		}
		return nil
	})
	return n, err
}

func (b *Bolt) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return b.update(func(tx *bolt.Tx) error {
		rec, _, ok := liveBolt(tx, key)
		if !ok {
			return nil
		}
		return putBolt(tx, key, rec, time.Now().Add(leaseOrDefault(ttl)))
	})
}

func (b *Bolt) Ping(ctx context.Context) error {
	return b.view(func(tx *bolt.Tx) error { return nil })
}

func (b *Bolt) Close() error {
	close(b.done)
	return b.db.Close()
}
