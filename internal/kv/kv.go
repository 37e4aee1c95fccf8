// Package kv provides the leased key-value surface every piece of
// coordination state lives behind. All records carry a lease; mutators
// refresh it, reads never do. An expired key is indistinguishable from a
// deleted one, which the transfer protocol relies on for silent aborts.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultTTL is the lease applied when a mutator is called with ttl <= 0.
const DefaultTTL = 300 * time.Second

var (
	// ErrUnavailable wraps any transport-level failure talking to the store.
	ErrUnavailable = errors.New("error connection to database")
)

// Store is the capability surface over the backing key-value store.
// Get on a missing key returns ("", nil); other reads return their natural
// empty values. HSet takes interleaved field/value pairs and HGetAll returns
// them the same way, in no guaranteed order; use HashValue to read fields.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)

	SAdd(ctx context.Context, key, member string, ttl time.Duration) error
	SRem(ctx context.Context, key, member string) error
	SIsMember(ctx context.Context, key, member string) (bool, error)
	SMembers(ctx context.Context, key string) ([]string, error)

	HSet(ctx context.Context, key string, pairs []string, ttl time.Duration) error
	HGet(ctx context.Context, key, field string) (string, error)
	HGetAll(ctx context.Context, key string) ([]string, error)

	LPush(ctx context.Context, key, value string, ttl time.Duration) error
	LPop(ctx context.Context, key string) (string, error)
	RPop(ctx context.Context, key string) (string, error)
	LLen(ctx context.Context, key string) (int64, error)

	Expire(ctx context.Context, key string, ttl time.Duration) error
	Ping(ctx context.Context) error
	Close() error
}

// Open builds a Store for the named backend. "redis" connects to addr with
// the given password, "bolt" opens (or creates) the file at path, and "mem"
// returns the in-process store used by tests and single-node deployments.
func Open(ctx context.Context, backend, addr, password, path string) (Store, error) {
	switch backend {
	case "redis":
		return NewRedis(ctx, addr, password)
	case "bolt":
		return NewBolt(path)
	case "mem":
		return NewMem(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

// HashValue looks up a field in interleaved [f1, v1, f2, v2, ...] pairs as
// returned by HGetAll. The second return is false when the field is absent
// or the pairs are truncated.
func HashValue(pairs []string, field string) (string, bool) {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i] == field {
			return pairs[i+1], true
		}
	}
	return "", false
}

func leaseOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}
