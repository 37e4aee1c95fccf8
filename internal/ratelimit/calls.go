package ratelimit

import (
	"context"
	"time"

	"github.com/wyrmhole/backend/internal/kv"
)

// callsKey is the shared set of IPs that issued a call within the lease.
const callsKey = "calls"

// callLease is how long one call blocks the next from the same IP.
const callLease = 1 * time.Second

// Calls is the store-backed API limiter: one call per IP per second across
// every instance that shares the store. It ships disabled by default.
type Calls struct {
	store kv.Store
}

// NewCalls builds the shared call limiter on top of store.
func NewCalls(store kv.Store) *Calls {
	return &Calls{store: store}
}

// Allow records the call and reports whether ip was already inside the
// one-second window. Store failures surface to the caller; the API maps them
// to Internal like any other store error.
func (c *Calls) Allow(ctx context.Context, ip string) (bool, error) {
	seen, err := c.store.SIsMember(ctx, callsKey, ip)
	if err != nil {
		return false, err
	}
	if seen {
		return false, nil
	}
	if err := c.store.SAdd(ctx, callsKey, ip, callLease); err != nil {
		return false, err
	}
	return true, nil
}
