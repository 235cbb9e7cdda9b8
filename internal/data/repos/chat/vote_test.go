package chat

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/threadline-backend/internal/data/repos/testutil"
	types "github.com/yungbote/threadline-backend/internal/domain/chat"
	"github.com/yungbote/threadline-backend/internal/pkg/dbctx"
)

func TestChatVoteRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	repo := NewChatVoteRepo(db, testutil.Logger(t))
	th := testutil.SeedThread(t, ctx, tx, uuid.New())
	m1 := testutil.SeedMessage(t, ctx, tx, th, 1, types.RoleAssistant, "a", time.Now())
	m2 := testutil.SeedMessage(t, ctx, tx, th, 2, types.RoleAssistant, "b", time.Now())

	v, err := repo.Upsert(dbc, th.ID, m1.ID, true)
	if err != nil || v == nil || !v.IsUpvoted {
		t.Fatalf("Upsert up: v=%v err=%v", v, err)
	}
	v, err = repo.Upsert(dbc, th.ID, m1.ID, false)
	if err != nil || v == nil || v.IsUpvoted {
		t.Fatalf("Upsert down: v=%v err=%v", v, err)
	}
	if _, err := repo.Upsert(dbc, th.ID, m2.ID, true); err != nil {
		t.Fatalf("Upsert m2: %v", err)
	}

	rows, err := repo.ListByThread(dbc, th.ID)
	if err != nil || len(rows) != 2 {
		t.Fatalf("ListByThread: want=2 got=%d err=%v", len(rows), err)
	}

	n, err := repo.DeleteByMessageIDs(dbc, th.ID, []uuid.UUID{m1.ID})
	if err != nil || n != 1 {
		t.Fatalf("DeleteByMessageIDs: want=1 got=%d err=%v", n, err)
	}
	if got, err := repo.GetByMessageID(dbc, m1.ID); err != nil || got != nil {
		t.Fatalf("GetByMessageID after delete: got=%v err=%v", got, err)
	}
	if n, err := repo.DeleteByThread(dbc, th.ID); err != nil || n != 1 {
		t.Fatalf("DeleteByThread: want=1 got=%d err=%v", n, err)
	}
}
