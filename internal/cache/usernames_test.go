package cache

import (
	"context"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestCache(t *testing.T, ttl time.Duration) (*Usernames, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewUsernames(Config{Addr: mr.Addr(), TTL: ttl})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestGetSplitsHitsAndMisses(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	found, missing, err := c.Get(ctx, []string{"u1", "u2"})
	if err != nil {
		t.Fatalf("get empty: %v", err)
	}
	if len(found) != 0 || !reflect.DeepEqual(missing, []string{"u1", "u2"}) {
		t.Fatalf("cold cache: %v %v", found, missing)
	}

	if err := c.Set(ctx, map[string]string{"u1": "alice", "u3": "carol"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := mr.TTL(keyPrefix + "u1"); got != time.Minute {
		t.Fatalf("ttl %v", got)
	}
	found, missing, err = c.Get(ctx, []string{"u1", "u2", "u3"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !reflect.DeepEqual(found, map[string]string{"u1": "alice", "u3": "carol"}) {
		t.Fatalf("found %v", found)
	}
	sort.Strings(missing)
	if !reflect.DeepEqual(missing, []string{"u2"}) {
		t.Fatalf("missing %v", missing)
	}

	mr.FastForward(2 * time.Minute)
	if _, missing, _ := c.Get(ctx, []string{"u1"}); len(missing) != 1 {
		t.Fatalf("expected expiry, missing %v", missing)
	}
}

func TestInvalidateDropsEntry(t *testing.T) {
	c, mr := newTestCache(t, 0)
	ctx := context.Background()
	if err := c.Set(ctx, map[string]string{"u1": "alice"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := mr.TTL(keyPrefix + "u1"); got != 10*time.Minute {
		t.Fatalf("default ttl %v", got)
	}
	if err := c.Invalidate(ctx, "u1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if mr.Exists(keyPrefix + "u1") {
		t.Fatalf("key still present")
	}
	if err := c.Invalidate(ctx, "never-cached"); err != nil {
		t.Fatalf("invalidate unknown: %v", err)
	}
	if err := c.Set(ctx, nil); err != nil {
		t.Fatalf("empty set: %v", err)
	}
}

func TestGetReportsAllMissingWhenRedisIsDown(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	mr.Close()
	_, missing, err := c.Get(context.Background(), []string{"u1", "u2"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(missing) != 2 {
		t.Fatalf("missing %v", missing)
	}
}

func TestNewUsernamesFailsWithoutServer(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	if _, err := NewUsernames(Config{Addr: addr}); err == nil {
		t.Fatalf("expected ping failure")
	}
}
