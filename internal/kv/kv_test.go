package kv

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

var (
	_ Store = (*Mem)(nil)
	_ Store = (*Bolt)(nil)
	_ Store = (*Redis)(nil)
)

func TestHashValue(t *testing.T) {
	pairs := []string{"name", "a.txt", "size", "10", "owner.id", "u1"}

	v, ok := HashValue(pairs, "size")
	if !ok || v != "10" {
		t.Fatalf("Expected (10, true), got (%s, %v)", v, ok)
	}
	if _, ok := HashValue(pairs, "missing"); ok {
		t.Errorf("Expected missing field to report false")
	}
	if _, ok := HashValue([]string{"dangling"}, "dangling"); ok {
		t.Errorf("Expected truncated pairs to report false")
	}
}

func TestMemStringOps(t *testing.T) {
	ctx := context.Background()
	m := NewMem()

	if v, err := m.Get(ctx, "nope"); err != nil || v != "" {
		t.Fatalf("Expected empty string for missing key, got %q err %v", v, err)
	}
	if err := m.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if v, _ := m.Get(ctx, "k"); v != "v" {
		t.Fatalf("Expected v, got %q", v)
	}

	for want := int64(1); want <= 3; want++ {
		n, err := m.Incr(ctx, "ctr", 10*time.Second)
		if err != nil {
			t.Fatalf("Incr failed: %v", err)
		}
		if n != want {
			t.Fatalf("Expected counter %d, got %d", want, n)
		}
	}

	if err := m.Del(ctx, "k", "ctr"); err != nil {
		t.Fatalf("Del failed: %v", err)
	}
	if ok, _ := m.Exists(ctx, "k"); ok {
		t.Errorf("Expected k to be gone after Del")
	}
}

func TestMemLeaseExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMem()
	now := time.Now()
	m.Now = func() time.Time { return now }

	m.Set(ctx, "short", "v", 10*time.Second)
	m.Set(ctx, "long", "v", 0) // default 300s

	now = now.Add(11 * time.Second)
	if v, _ := m.Get(ctx, "short"); v != "" {
		t.Fatalf("Expected short lease to expire, got %q", v)
	}
	if v, _ := m.Get(ctx, "long"); v != "v" {
		t.Fatalf("Expected long lease to survive, got %q", v)
	}

	now = now.Add(DefaultTTL)
	if ok, _ := m.Exists(ctx, "long"); ok {
		t.Errorf("Expected default lease to expire after %v", DefaultTTL)
	}
}

func TestMemWriteRefreshesLeaseReadDoesNot(t *testing.T) {
	ctx := context.Background()
	m := NewMem()
	now := time.Now()
	m.Now = func() time.Time { return now }

	m.Set(ctx, "k", "v", 10*time.Second)
	now = now.Add(8 * time.Second)
	m.Get(ctx, "k")
	now = now.Add(8 * time.Second)
	if v, _ := m.Get(ctx, "k"); v != "" {
		t.Fatalf("Expected read not to refresh lease, got %q", v)
	}

	m.Set(ctx, "k2", "v", 10*time.Second)
	now = now.Add(8 * time.Second)
	m.Set(ctx, "k2", "v2", 10*time.Second)
	now = now.Add(8 * time.Second)
	if v, _ := m.Get(ctx, "k2"); v != "v2" {
		t.Fatalf("Expected write to refresh lease, got %q", v)
	}
}

func TestMemSetOps(t *testing.T) {
	ctx := context.Background()
	m := NewMem()

	m.SAdd(ctx, "s", "a", 0)
	m.SAdd(ctx, "s", "b", 0)
	m.SAdd(ctx, "s", "a", 0)

	members, _ := m.SMembers(ctx, "s")
	if !reflect.DeepEqual(members, []string{"a", "b"}) {
		t.Fatalf("Expected [a b], got %v", members)
	}
	if ok, _ := m.SIsMember(ctx, "s", "b"); !ok {
		t.Errorf("Expected b to be a member")
	}

	m.SRem(ctx, "s", "a")
	m.SRem(ctx, "s", "b")
	if ok, _ := m.Exists(ctx, "s"); ok {
		t.Errorf("Expected empty set key to be removed")
	}
}

func TestMemHashOps(t *testing.T) {
	ctx := context.Background()
	m := NewMem()

	m.HSet(ctx, "h", []string{"name", "a.txt", "size", "10", "owner.id", "u1"}, 0)
	m.HSet(ctx, "h", []string{"size", "20"}, 0)

	pairs, _ := m.HGetAll(ctx, "h")
	if len(pairs) != 6 {
		t.Fatalf("Expected field update to keep 6 entries, got %d: %v", len(pairs), pairs)
	}
	if v, _ := m.HGet(ctx, "h", "size"); v != "20" {
		t.Fatalf("Expected updated size 20, got %q", v)
	}
	if v, _ := m.HGet(ctx, "h", "nope"); v != "" {
		t.Fatalf("Expected empty string for missing field, got %q", v)
	}
}

func TestMemListOps(t *testing.T) {
	ctx := context.Background()
	m := NewMem()

	m.LPush(ctx, "l", "first", 0)
	m.LPush(ctx, "l", "second", 0)
	if n, _ := m.LLen(ctx, "l"); n != 2 {
		t.Fatalf("Expected length 2, got %d", n)
	}
	if v, _ := m.LPop(ctx, "l"); v != "second" {
		t.Fatalf("Expected LPop second, got %q", v)
	}
	if v, _ := m.RPop(ctx, "l"); v != "first" {
		t.Fatalf("Expected RPop first, got %q", v)
	}
	if v, _ := m.LPop(ctx, "l"); v != "" {
		t.Fatalf("Expected empty pop, got %q", v)
	}
}

func TestBoltRoundTrip(t *testing.T) {
	ctx := context.Background()
	b, err := NewBolt(filepath.Join(t.TempDir(), "kv.db"))
	if err != nil {
		t.Fatalf("NewBolt failed: %v", err)
	}
	defer b.Close()

	if err := b.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if v, _ := b.Get(ctx, "k"); v != "v" {
		t.Fatalf("Expected v, got %q", v)
	}

	b.SAdd(ctx, "s", "a", 0)
	b.SAdd(ctx, "s", "b", 0)
	members, _ := b.SMembers(ctx, "s")
	if len(members) != 2 {
		t.Fatalf("Expected 2 members, got %v", members)
	}
	b.SRem(ctx, "s", "a")
	b.SRem(ctx, "s", "b")
	if ok, _ := b.Exists(ctx, "s"); ok {
		t.Errorf("Expected empty set key to be removed")
	}

	b.HSet(ctx, "h", []string{"name", "x", "size", "1", "owner.id", "u"}, 0)
	if pairs, _ := b.HGetAll(ctx, "h"); len(pairs) != 6 {
		t.Fatalf("Expected 6 entries, got %v", pairs)
	}

	if n, _ := b.Incr(ctx, "c", 0); n != 1 {
		t.Fatalf("Expected 1, got %d", n)
	}
	if n, _ := b.Incr(ctx, "c", 0); n != 2 {
		t.Fatalf("Expected 2, got %d", n)
	}
}

func TestBoltLeaseExpiryAndSweep(t *testing.T) {
	ctx := context.Background()
	b, err := NewBolt(filepath.Join(t.TempDir(), "kv.db"))
	if err != nil {
		t.Fatalf("NewBolt failed: %v", err)
	}
	defer b.Close()

	b.Set(ctx, "short", "v", 20*time.Millisecond)
	b.Set(ctx, "long", "v", time.Minute)

	time.Sleep(40 * time.Millisecond)

	if v, _ := b.Get(ctx, "short"); v != "" {
		t.Fatalf("Expected expired key to read empty, got %q", v)
	}
	removed, err := b.Sweep()
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("Expected 1 swept record, got %d", removed)
	}
	if v, _ := b.Get(ctx, "long"); v != "v" {
		t.Fatalf("Expected long key to survive sweep, got %q", v)
	}
}
