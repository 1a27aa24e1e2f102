package lockx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestAcquireIsExclusive(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()
	ctx := context.Background()

	lock, ok, err := Acquire(ctx, client, "sweep", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first acquire to succeed, ok=%v err=%v", ok, err)
	}
	if _, ok, err := Acquire(ctx, client, "sweep", time.Minute); err != nil || ok {
		t.Fatalf("expected second acquire to be refused, ok=%v err=%v", ok, err)
	}
	if err := Release(ctx, client, lock); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := Release(ctx, client, lock); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("expected ErrNotHeld on double release, got %v", err)
	}
	if _, ok, err := Acquire(ctx, client, "sweep", time.Minute); err != nil || !ok {
		t.Fatalf("expected acquire after release, ok=%v err=%v", ok, err)
	}
}

func TestAcquireRejectsZeroTTL(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()
	if _, _, err := Acquire(context.Background(), client, "k", 0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
}
