package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/threadline-backend/internal/domain/chat"
)

func SeedThread(tb testing.TB, ctx context.Context, tx *gorm.DB, userID uuid.UUID) *types.ChatThread {
	tb.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	th := &types.ChatThread{
		ID:            uuid.New(),
		UserID:        userID,
		Title:         "thread",
		LastMessageAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := tx.WithContext(ctx).Create(th).Error; err != nil {
		tb.Fatalf("seed thread: %v", err)
	}
	return th
}

// SeedMessage inserts one message; seq and created_at follow at, so callers
// control ordering explicitly.
func SeedMessage(tb testing.TB, ctx context.Context, tx *gorm.DB, th *types.ChatThread, seq int64, role, text string, at time.Time) *types.ChatMessage {
	tb.Helper()
	m := &types.ChatMessage{
		ID:        uuid.New(),
		ThreadID:  th.ID,
		UserID:    th.UserID,
		Seq:       seq,
		Role:      role,
		Parts:     types.TextParts(text),
		CreatedAt: at.UTC().Truncate(time.Microsecond),
	}
	if err := tx.WithContext(ctx).Create(m).Error; err != nil {
		tb.Fatalf("seed message: %v", err)
	}
	return m
}

func PtrUUID(v uuid.UUID) *uuid.UUID { return &v }

func PtrTime(v time.Time) *time.Time { return &v }
