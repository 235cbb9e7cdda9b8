package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/yungbote/threadline-backend/internal/platform/logger"
	"github.com/yungbote/threadline-backend/internal/realtime"
	"github.com/yungbote/threadline-backend/internal/realtime/bus"
)

type SSEEmitter interface {
	Emit(ctx context.Context, msg realtime.SSEMessage)
}

type HubEmitter struct{ Hub *realtime.SSEHub }

func (e *HubEmitter) Emit(ctx context.Context, msg realtime.SSEMessage) {
	e.Hub.Broadcast(msg)
}

// RedisEmitter only publishes; every instance, this one included, delivers
// through its forwarder.
type RedisEmitter struct {
	Bus bus.Bus
	Log *logger.Logger
}

func (e *RedisEmitter) Emit(ctx context.Context, msg realtime.SSEMessage) {
	if err := e.Bus.Publish(context.WithoutCancel(ctx), msg); err != nil && e.Log != nil {
		e.Log.Warn("publish SSE message failed", "channel", msg.Channel, "error", err)
	}
}

// ThreadCache is the part of the coordinator the forwarder needs.
type ThreadCache interface {
	Invalidate(threadID uuid.UUID)
}

// NewSnapshotForwarder builds the bus callback: messages are rebroadcast into
// the local hub, and threads touched by another instance are dropped from
// cache so they are re-read before the next decision.
func NewSnapshotForwarder(hub *realtime.SSEHub, cache ThreadCache, origin string) func(realtime.SSEMessage) {
	return func(m realtime.SSEMessage) {
		if hub != nil {
			hub.Broadcast(m)
		}
		if cache == nil || m.Origin == origin {
			return
		}
		if threadID, ok := realtime.ThreadIDFromChannel(m.Channel); ok {
			cache.Invalidate(threadID)
		}
	}
}
