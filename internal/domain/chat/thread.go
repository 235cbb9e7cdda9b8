package chat

import (
	"time"

	"github.com/google/uuid"
)

const (
	VisibilityPrivate = "private"
	VisibilityPublic  = "public"
)

func ValidVisibility(v string) bool {
	return v == VisibilityPrivate || v == VisibilityPublic
}

type ChatThread struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	Title string `gorm:"column:title;not null;default:'New Chat'" json:"title"`

	// Visibility is private (owner only) or public (readable by link).
	Visibility string `gorm:"column:visibility;not null;default:'private'" json:"visibility"`

	LastMessageAt time.Time `gorm:"column:last_message_at;not null;index" json:"last_message_at"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (ChatThread) TableName() string { return "chat_thread" }
