package chat

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/threadline-backend/internal/domain/chat"
	"github.com/yungbote/threadline-backend/internal/pkg/dbctx"
	"github.com/yungbote/threadline-backend/internal/platform/logger"
)

type ChatVoteRepo interface {
	ListByThread(dbc dbctx.Context, threadID uuid.UUID) ([]*types.ChatVote, error)
	GetByMessageID(dbc dbctx.Context, messageID uuid.UUID) (*types.ChatVote, error)
	// Upsert keeps exactly one row per message; the latest direction wins.
	Upsert(dbc dbctx.Context, threadID, messageID uuid.UUID, isUpvoted bool) (*types.ChatVote, error)
	DeleteByMessageIDs(dbc dbctx.Context, threadID uuid.UUID, messageIDs []uuid.UUID) (int64, error)
	DeleteByThread(dbc dbctx.Context, threadID uuid.UUID) (int64, error)
}

type chatVoteRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChatVoteRepo(db *gorm.DB, log *logger.Logger) ChatVoteRepo {
	return &chatVoteRepo{db: db, log: log.With("repo", "ChatVoteRepo")}
}

func (r *chatVoteRepo) ListByThread(dbc dbctx.Context, threadID uuid.UUID) ([]*types.ChatVote, error) {
	if threadID == uuid.Nil {
		return nil, fmt.Errorf("missing thread_id")
	}
	var out []*types.ChatVote
	if err := dbc.DB(r.db).
		Where("thread_id = ?", threadID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chatVoteRepo) GetByMessageID(dbc dbctx.Context, messageID uuid.UUID) (*types.ChatVote, error) {
	if messageID == uuid.Nil {
		return nil, fmt.Errorf("missing message_id")
	}
	var row types.ChatVote
	err := dbc.DB(r.db).Where("message_id = ?", messageID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *chatVoteRepo) Upsert(dbc dbctx.Context, threadID, messageID uuid.UUID, isUpvoted bool) (*types.ChatVote, error) {
	if threadID == uuid.Nil {
		return nil, fmt.Errorf("missing thread_id")
	}
	if messageID == uuid.Nil {
		return nil, fmt.Errorf("missing message_id")
	}
	now := time.Now().UTC()
	row := &types.ChatVote{
		ThreadID:  threadID,
		MessageID: messageID,
		IsUpvoted: isUpvoted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := dbc.DB(r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_upvoted", "updated_at"}),
	}).Create(row).Error
	if err != nil {
		return nil, err
	}
	return r.GetByMessageID(dbc, messageID)
}

func (r *chatVoteRepo) DeleteByMessageIDs(dbc dbctx.Context, threadID uuid.UUID, messageIDs []uuid.UUID) (int64, error) {
	if threadID == uuid.Nil {
		return 0, fmt.Errorf("missing thread_id")
	}
	if len(messageIDs) == 0 {
		return 0, nil
	}
	res := dbc.DB(r.db).
		Where("thread_id = ? AND message_id IN ?", threadID, messageIDs).
		Delete(&types.ChatVote{})
	return res.RowsAffected, res.Error
}

func (r *chatVoteRepo) DeleteByThread(dbc dbctx.Context, threadID uuid.UUID) (int64, error) {
	if threadID == uuid.Nil {
		return 0, fmt.Errorf("missing thread_id")
	}
	res := dbc.DB(r.db).
		Where("thread_id = ?", threadID).
		Delete(&types.ChatVote{})
	return res.RowsAffected, res.Error
}
