package cachex

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	srv := miniredis.RunT(t)
	c := Wrap(redis.NewClient(&redis.Options{Addr: srv.Addr()}))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestGetMissingKey(t *testing.T) {
	c := newTestClient(t)
	v, ok, err := c.Get(context.Background(), "user:nope")
	if err != nil || ok || v != "" {
		t.Fatalf("expected miss, got v=%q ok=%v err=%v", v, ok, err)
	}
}

func TestSetGetDel(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	if err := c.Set(ctx, "post:1", `{"id":"1"}`); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok, err := c.Get(ctx, "post:1")
	if err != nil || !ok || v != `{"id":"1"}` {
		t.Fatalf("unexpected get: v=%q ok=%v err=%v", v, ok, err)
	}
	if err := c.Del(ctx, "post:1"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "post:1"); ok {
		t.Fatalf("expected key to be gone")
	}
}

func TestListOps(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	for _, v := range []string{"a", "b", "a", "c"} {
		if err := c.ListPush(ctx, "l", v); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	if err := c.ListRemove(ctx, "l", "a"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	got, err := c.ListRange(ctx, "l", 0, -1)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(got) != 3 || got[0] != "b" || got[1] != "a" || got[2] != "c" {
		t.Fatalf("unexpected list: %#v", got)
	}
	if err := c.ListRemove(ctx, "l", "zzz"); err != nil {
		t.Fatalf("removing absent value should not fail: %v", err)
	}
	n, err := c.ListLen(ctx, "l")
	if err != nil || n != 3 {
		t.Fatalf("expected len 3, got %d err=%v", n, err)
	}
}

func TestTryLock(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	release, ok, err := c.TryLock(ctx, "failed-writes:sweep-lock", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected lock, ok=%v err=%v", ok, err)
	}
	if _, ok, _ := c.TryLock(ctx, "failed-writes:sweep-lock", time.Minute); ok {
		t.Fatalf("expected second lock attempt to fail")
	}
	if err := release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
}

func TestNilClient(t *testing.T) {
	var c *Client
	if err := c.Set(context.Background(), "k", "v"); err == nil {
		t.Fatalf("expected error on nil client")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close on nil client should be a no-op: %v", err)
	}
}
