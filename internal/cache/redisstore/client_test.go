package redisstore

import (
	"context"
	"slices"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// creates new client connected to miniredis for testing
func newMini(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	rc, err := New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestSetMGetDel_HappyPath_AndMGetFiltersMissing(t *testing.T) {
	rc, _ := newMini(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := rc.Set(ctx, "k1", []byte("v1"), 5*time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := rc.Set(ctx, "k2", []byte("v2"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := rc.MGet(ctx, []string{"k1", "k2", "missing"})
	if err != nil {
		t.Fatalf("MGet: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("MGet size=%d want 2", len(got))
	}
	if string(got["k1"]) != "v1" || string(got["k2"]) != "v2" {
		t.Fatalf("unexpected values: %+v", got)
	}

	if err := rc.Del(ctx, "k1", "k2"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if err := rc.Del(ctx); err != nil {
		t.Fatalf("Del with no keys: %v", err)
	}
	got, _ = rc.MGet(ctx, []string{"k1"})
	if len(got) != 0 {
		t.Fatalf("k1 should be gone: %v", got)
	}
}

func TestTTLExpiry_MGetFiltersExpired(t *testing.T) {
	rc, mr := newMini(t)
	ctx := context.Background()

	if err := rc.Set(ctx, "ttl-key", []byte("v"), 2*time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := rc.MGet(ctx, []string{"ttl-key"})
	if err != nil || string(got["ttl-key"]) != "v" {
		t.Fatalf("pre expiry got=%v err=%v", got, err)
	}

	mr.FastForward(3 * time.Second)

	got2, err := rc.MGet(ctx, []string{"ttl-key"})
	if err != nil {
		t.Fatalf("MGet: %v", err)
	}
	if _, ok := got2["ttl-key"]; ok {
		t.Fatalf("expected ttl-key to be absent after expiry; got=%v", got2)
	}
}

func TestSAddSMembers_WithExpiry(t *testing.T) {
	rc, mr := newMini(t)
	ctx := context.Background()

	if err := rc.SAdd(ctx, "idx", time.Minute, "a", "b"); err != nil {
		t.Fatalf("SAdd: %v", err)
	}
	if err := rc.SAdd(ctx, "idx", time.Minute, "b", "c"); err != nil {
		t.Fatalf("SAdd: %v", err)
	}
	got, err := rc.SMembers(ctx, "idx")
	if err != nil {
		t.Fatalf("SMembers: %v", err)
	}
	slices.Sort(got)
	if !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Fatalf("members=%v", got)
	}
	if ttl := mr.TTL("idx"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("ttl=%v", ttl)
	}

	mr.FastForward(2 * time.Minute)
	got, err = rc.SMembers(ctx, "idx")
	if err != nil || len(got) != 0 {
		t.Fatalf("expired set: got=%v err=%v", got, err)
	}
}

func TestContextDeadline_IsRespected(t *testing.T) {
	rc, _ := newMini(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := rc.Set(ctx, "k", []byte("v"), time.Second); err == nil {
		t.Fatalf("expected error on Set with canceled context")
	}
	if _, err := rc.MGet(ctx, []string{"k"}); err == nil {
		t.Fatalf("expected error on MGet with canceled context")
	}
	if err := rc.Del(ctx, "k"); err == nil {
		t.Fatalf("expected error on Del with canceled context")
	}
	if err := rc.Ping(ctx); err == nil {
		t.Fatalf("expected error on Ping with canceled context")
	}
}

func TestNew_RequiresAddress(t *testing.T) {
	if _, err := New(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty address")
	}
}

func TestWithOpTimeout_SetsReadAndWrite(t *testing.T) {
	o := &redis.Options{ReadTimeout: time.Second, WriteTimeout: time.Second}
	WithOpTimeout(150 * time.Millisecond)(o)
	if o.ReadTimeout != 150*time.Millisecond || o.WriteTimeout != 150*time.Millisecond {
		t.Fatalf("timeouts=%v/%v", o.ReadTimeout, o.WriteTimeout)
	}
	WithOpTimeout(0)(o)
	if o.ReadTimeout != 150*time.Millisecond {
		t.Fatalf("zero must keep the current timeout, got %v", o.ReadTimeout)
	}
}
