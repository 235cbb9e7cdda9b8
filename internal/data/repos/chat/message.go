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

type ChatMessageRepo interface {
	Create(dbc dbctx.Context, rows []*types.ChatMessage) ([]*types.ChatMessage, error)
	// Upsert inserts row or, when its id exists, overwrites the mutable columns.
	// created_at and seq are never touched on update.
	Upsert(dbc dbctx.Context, row *types.ChatMessage) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ChatMessage, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.ChatMessage, error)
	GetMaxSeq(dbc dbctx.Context, threadID uuid.UUID) (int64, error)
	// ListByThread returns the thread in conversation order: created_at, then seq.
	ListByThread(dbc dbctx.Context, threadID uuid.UUID) ([]*types.ChatMessage, error)
	// ListIDsFrom returns ids of messages created at or after ts, in order.
	ListIDsFrom(dbc dbctx.Context, threadID uuid.UUID, ts time.Time) ([]uuid.UUID, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	DeleteByIDs(dbc dbctx.Context, threadID uuid.UUID, ids []uuid.UUID) (int64, error)
	DeleteByThread(dbc dbctx.Context, threadID uuid.UUID) (int64, error)
}

type chatMessageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChatMessageRepo(db *gorm.DB, log *logger.Logger) ChatMessageRepo {
	return &chatMessageRepo{db: db, log: log.With("repo", "ChatMessageRepo")}
}

func (r *chatMessageRepo) Create(dbc dbctx.Context, rows []*types.ChatMessage) ([]*types.ChatMessage, error) {
	if len(rows) == 0 {
		return []*types.ChatMessage{}, nil
	}
	for _, row := range rows {
		if row == nil || row.ID == uuid.Nil {
			return nil, fmt.Errorf("missing message id")
		}
	}
	if err := dbc.DB(r.db).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *chatMessageRepo) Upsert(dbc dbctx.Context, row *types.ChatMessage) error {
	if row == nil || row.ID == uuid.Nil {
		return fmt.Errorf("missing message id")
	}
	return dbc.DB(r.db).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"parts",
			"model",
			"causal_parent_id",
			"version",
			"updated_at",
		}),
	}).Create(row).Error
}

func (r *chatMessageRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ChatMessage, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing message id")
	}
	var row types.ChatMessage
	err := dbc.DB(r.db).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *chatMessageRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.ChatMessage, error) {
	if len(ids) == 0 {
		return []*types.ChatMessage{}, nil
	}
	var out []*types.ChatMessage
	if err := dbc.DB(r.db).
		Where("id IN ?", ids).
		Order("created_at ASC, seq ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chatMessageRepo) GetMaxSeq(dbc dbctx.Context, threadID uuid.UUID) (int64, error) {
	if threadID == uuid.Nil {
		return 0, fmt.Errorf("missing thread_id")
	}
	var maxSeq int64
	if err := dbc.DB(r.db).
		Model(&types.ChatMessage{}).
		Select("COALESCE(MAX(seq), 0)").
		Where("thread_id = ?", threadID).
		Scan(&maxSeq).Error; err != nil {
		return 0, err
	}
	return maxSeq, nil
}

func (r *chatMessageRepo) ListByThread(dbc dbctx.Context, threadID uuid.UUID) ([]*types.ChatMessage, error) {
	if threadID == uuid.Nil {
		return nil, fmt.Errorf("missing thread_id")
	}
	var out []*types.ChatMessage
	if err := dbc.DB(r.db).
		Where("thread_id = ?", threadID).
		Order("created_at ASC, seq ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chatMessageRepo) ListIDsFrom(dbc dbctx.Context, threadID uuid.UUID, ts time.Time) ([]uuid.UUID, error) {
	if threadID == uuid.Nil {
		return nil, fmt.Errorf("missing thread_id")
	}
	var ids []uuid.UUID
	if err := dbc.DB(r.db).
		Model(&types.ChatMessage{}).
		Where("thread_id = ? AND created_at >= ?", threadID, ts.UTC()).
		Order("created_at ASC, seq ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *chatMessageRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing message id")
	}
	if len(updates) == 0 {
		return nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return dbc.DB(r.db).
		Model(&types.ChatMessage{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *chatMessageRepo) DeleteByIDs(dbc dbctx.Context, threadID uuid.UUID, ids []uuid.UUID) (int64, error) {
	if threadID == uuid.Nil {
		return 0, fmt.Errorf("missing thread_id")
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := dbc.DB(r.db).
		Where("thread_id = ? AND id IN ?", threadID, ids).
		Delete(&types.ChatMessage{})
	return res.RowsAffected, res.Error
}

func (r *chatMessageRepo) DeleteByThread(dbc dbctx.Context, threadID uuid.UUID) (int64, error) {
	if threadID == uuid.Nil {
		return 0, fmt.Errorf("missing thread_id")
	}
	res := dbc.DB(r.db).
		Where("thread_id = ?", threadID).
		Delete(&types.ChatMessage{})
	return res.RowsAffected, res.Error
}
