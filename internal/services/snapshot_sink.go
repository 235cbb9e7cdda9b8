package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/yungbote/threadline-backend/internal/domain/chat"
	"github.com/yungbote/threadline-backend/internal/realtime"
)

// SnapshotSink receives the full thread after every mutation.
type SnapshotSink interface {
	ThreadSnapshot(ctx context.Context, snap chat.ThreadSnapshot)
	ThreadDeleted(ctx context.Context, threadID uuid.UUID)
}

type nopSnapshotSink struct{}

func NewNopSnapshotSink() SnapshotSink { return nopSnapshotSink{} }

func (nopSnapshotSink) ThreadSnapshot(context.Context, chat.ThreadSnapshot) {}
func (nopSnapshotSink) ThreadDeleted(context.Context, uuid.UUID)            {}

type sseSnapshotSink struct {
	emit SSEEmitter
}

// NewSSESnapshotSink publishes snapshots on the thread's SSE channel.
func NewSSESnapshotSink(emit SSEEmitter) SnapshotSink {
	return &sseSnapshotSink{emit: emit}
}

func (s *sseSnapshotSink) ThreadSnapshot(ctx context.Context, snap chat.ThreadSnapshot) {
	if s == nil || s.emit == nil || snap.ThreadID == uuid.Nil {
		return
	}
	s.emit.Emit(ctx, realtime.SSEMessage{
		Channel: realtime.ThreadChannel(snap.ThreadID),
		Event:   realtime.SSEEventThreadSnapshot,
		Data:    snap,
	})
}

func (s *sseSnapshotSink) ThreadDeleted(ctx context.Context, threadID uuid.UUID) {
	if s == nil || s.emit == nil || threadID == uuid.Nil {
		return
	}
	s.emit.Emit(ctx, realtime.SSEMessage{
		Channel: realtime.ThreadChannel(threadID),
		Event:   realtime.SSEEventThreadDeleted,
		Data:    map[string]any{"thread_id": threadID},
	})
}
