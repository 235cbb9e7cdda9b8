package services

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/threadline-backend/internal/domain/chat"
)

func TestNoopRegenLockNeverBlocks(t *testing.T) {
	l := NewNoopRegenLock()
	id := uuid.New()
	for i := 0; i < 2; i++ {
		release, err := l.Acquire(context.Background(), id)
		if err != nil {
			t.Fatalf("Acquire #%d: %v", i+1, err)
		}
		release()
	}
}

func TestRedisRegenLock(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	ctx := context.Background()

	l := NewRedisRegenLock(rdb, "threadline:test:regen:", time.Minute)
	id := uuid.New()
	release, err := l.Acquire(ctx, id)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := l.Acquire(ctx, id); !errors.Is(err, chat.ErrRegenerationInProgress) {
		t.Fatalf("second Acquire: want=ErrRegenerationInProgress got=%v", err)
	}
	release()
	again, err := l.Acquire(ctx, id)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	again()
}
