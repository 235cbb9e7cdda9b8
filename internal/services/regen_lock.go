package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/threadline-backend/internal/domain/chat"
)

// RegenLock guards a message id across instances for the length of one regeneration.
type RegenLock interface {
	// Acquire returns chat.ErrRegenerationInProgress when another holder has the id.
	Acquire(ctx context.Context, messageID uuid.UUID) (release func(), err error)
}

type noopRegenLock struct{}

func NewNoopRegenLock() RegenLock { return noopRegenLock{} }

func (noopRegenLock) Acquire(context.Context, uuid.UUID) (func(), error) { return func() {}, nil }

// Only the holder's token may delete the key.
var releaseScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

type redisRegenLock struct {
	rdb    goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisRegenLock uses SET NX PX keys; ttl bounds how long a crashed holder blocks the id.
func NewRedisRegenLock(rdb goredis.UniversalClient, prefix string, ttl time.Duration) RegenLock {
	if prefix == "" {
		prefix = "threadline:regen:"
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &redisRegenLock{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (l *redisRegenLock) Acquire(ctx context.Context, messageID uuid.UUID) (func(), error) {
	key := l.prefix + messageID.String()
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, &chat.StoreError{Op: "regen_lock.acquire", Err: fmt.Errorf("redis setnx %s: %w", key, err)}
	}
	if !ok {
		return nil, chat.ErrRegenerationInProgress
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.rdb, []string{key}, token).Err()
	}, nil
}
