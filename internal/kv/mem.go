package kv

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

const (
	kindString = iota + 1
	kindSet
	kindHash
	kindList
)

type memEntry struct {
	deadline time.Time
	kind     int
	str      string
	set      map[string]struct{}
	hash     []string
	list     []string
}

// Mem is an in-process Store with the same lease semantics as the Redis
// backend. It backs tests and local single-process runs; coordination state
// kept here does not survive the process and is invisible to other nodes.
type Mem struct {
	mu      sync.Mutex
	entries map[string]*memEntry

	// Now is consulted for every lease decision. Tests replace it to step
	// through expiry without sleeping.
	Now func() time.Time
}

// NewMem returns an empty in-memory store.
func NewMem() *Mem {
	return &Mem{
		entries: make(map[string]*memEntry),
		Now:     time.Now,
	}
}

// live returns the entry for key if it exists and its lease has not run out.
// Expired entries are dropped on sight. Callers hold mu.
func (m *Mem) live(key string) *memEntry {
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	if !e.deadline.After(m.Now()) {
		delete(m.entries, key)
		return nil
	}
	return e
}

func (m *Mem) put(key string, kind int, ttl time.Duration) *memEntry {
	e := m.live(key)
	if e == nil || e.kind != kind {
		e = &memEntry{kind: kind}
		m.entries[key] = e
	}
	e.deadline = m.Now().Add(leaseOrDefault(ttl))
	return e
}

func (m *Mem) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.live(key); e != nil && e.kind == kindString {
		return e.str, nil
	}
	return "", nil
}

func (m *Mem) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(key, kindString, ttl).str = value
	return nil
}

func (m *Mem) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	if e := m.live(key); e != nil && e.kind == kindString {
		n, _ = strconv.ParseInt(e.str, 10, 64)
	}
	n++
	m.put(key, kindString, ttl).str = strconv.FormatInt(n, 10)
	return n, nil
}

func (m *Mem) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

func (m *Mem) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live(key) != nil, nil
}

func (m *Mem) SAdd(ctx context.Context, key, member string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.put(key, kindSet, ttl)
	if e.set == nil {
		e.set = make(map[string]struct{})
	}
	e.set[member] = struct{}{}
	return nil
}

func (m *Mem) SRem(ctx context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.live(key); e != nil && e.kind == kindSet {
		delete(e.set, member)
		if len(e.set) == 0 {
			delete(m.entries, key)
		}
	}
	return nil
}

func (m *Mem) SIsMember(ctx context.Context, key, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.live(key); e != nil && e.kind == kindSet {
		_, ok := e.set[member]
		return ok, nil
	}
	return false, nil
}

func (m *Mem) SMembers(ctx context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil || e.kind != kindSet {
		return nil, nil
	}
	members := make([]string, 0, len(e.set))
	for member := range e.set {
		members = append(members, member)
	}
	sort.Strings(members)
	return members, nil
}

func (m *Mem) HSet(ctx context.Context, key string, pairs []string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.put(key, kindHash, ttl)
	for i := 0; i+1 < len(pairs); i += 2 {
		if _, ok := HashValue(e.hash, pairs[i]); ok {
			for j := 0; j+1 < len(e.hash); j += 2 {
				if e.hash[j] == pairs[i] {
					e.hash[j+1] = pairs[i+1]
					break
				}
			}
			continue
		}
		e.hash = append(e.hash, pairs[i], pairs[i+1])
	}
	return nil
}

func (m *Mem) HGet(ctx context.Context, key, field string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.live(key); e != nil && e.kind == kindHash {
		v, _ := HashValue(e.hash, field)
		return v, nil
	}
	return "", nil
}

func (m *Mem) HGetAll(ctx context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.live(key); e != nil && e.kind == kindHash {
		pairs := make([]string, len(e.hash))
		copy(pairs, e.hash)
		return pairs, nil
	}
	return nil, nil
}

func (m *Mem) LPush(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.put(key, kindList, ttl)
	e.list = append([]string{value}, e.list...)
	return nil
}

func (m *Mem) LPop(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil || e.kind != kindList || len(e.list) == 0 {
		return "", nil
	}
	v := e.list[0]
	e.list = e.list[1:]
	if len(e.list) == 0 {
		delete(m.entries, key)
	}
	return v, nil
}

func (m *Mem) RPop(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil || e.kind != kindList || len(e.list) == 0 {
		return "", nil
	}
	v := e.list[len(e.list)-1]
	e.list = e.list[:len(e.list)-1]
	if len(e.list) == 0 {
		delete(m.entries, key)
	}
	return v, nil
}

func (m *Mem) LLen(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.live(key); e != nil && e.kind == kindList {
		return int64(len(e.list)), nil
	}
	return 0, nil
}

func (m *Mem) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.live(key); e != nil {
		e.deadline = m.Now().Add(leaseOrDefault(ttl))
	}
	return nil
}

func (m *Mem) Ping(ctx context.Context) error { return nil }

func (m *Mem) Close() error { return nil }

// Keys lists the live keys, sorted. Used by tests asserting that an
// operation left the store untouched.
func (m *Mem) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		if e := m.entries[k]; e.deadline.After(m.Now()) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
