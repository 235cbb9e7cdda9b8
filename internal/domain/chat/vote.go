package chat

import (
	"time"

	"github.com/google/uuid"
)

// ChatVote is the feedback overlay row; one per message, scoped to its thread.
type ChatVote struct {
	ThreadID  uuid.UUID `gorm:"type:uuid;primaryKey;index" json:"thread_id"`
	MessageID uuid.UUID `gorm:"type:uuid;primaryKey;uniqueIndex:idx_chat_vote_message" json:"message_id"`
	IsUpvoted bool      `gorm:"column:is_upvoted;not null" json:"is_upvoted"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (ChatVote) TableName() string { return "chat_vote" }

const (
	VoteUp   = "up"
	VoteDown = "down"
)
