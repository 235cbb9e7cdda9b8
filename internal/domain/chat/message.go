package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ValidRole reports whether role can appear in a thread.
func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAssistant
}

type ChatMessage struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ThreadID uuid.UUID `gorm:"type:uuid;not null;index;index:idx_chat_message_thread_seq,unique,priority:1" json:"thread_id"`
	UserID   uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	// Seq is store-assigned insertion order; it breaks created_at ties.
	Seq int64 `gorm:"column:seq;not null;index:idx_chat_message_thread_seq,unique,priority:2" json:"seq"`

	Role  string                          `gorm:"column:role;not null" json:"role"`
	Parts datatypes.JSONSlice[MessagePart] `gorm:"column:parts;not null" json:"parts"`
	Model string                          `gorm:"column:model;not null;default:''" json:"model,omitempty"`

	// CausalParentID links an assistant reply to the user message that prompted it.
	CausalParentID *uuid.UUID `gorm:"type:uuid;column:causal_parent_id;index" json:"causal_parent_id,omitempty"`

	// Version increments on every parts replacement.
	Version int64 `gorm:"column:version;not null;default:0" json:"version"`

	CreatedAt time.Time  `gorm:"column:created_at;not null;index" json:"created_at"`
	UpdatedAt *time.Time `gorm:"column:updated_at" json:"updated_at,omitempty"`
}

func (ChatMessage) TableName() string { return "chat_message" }

// Text returns the first text part, which is what prompts and regenerations operate on.
func (m *ChatMessage) Text() string {
	if m == nil {
		return ""
	}
	for _, p := range m.Parts {
		if p.Type == PartText {
			return p.Text
		}
	}
	return ""
}

// CopyText joins every text part with newlines, the way the client copies a reply.
func (m *ChatMessage) CopyText() string {
	if m == nil {
		return ""
	}
	texts := make([]string, 0, len(m.Parts))
	for _, p := range m.Parts {
		if p.Type == PartText {
			texts = append(texts, p.Text)
		}
	}
	return strings.TrimSpace(strings.Join(texts, "\n"))
}

// Clone deep-copies the message so snapshots never alias thread state.
func (m ChatMessage) Clone() ChatMessage {
	out := m
	if m.Parts != nil {
		out.Parts = make(datatypes.JSONSlice[MessagePart], len(m.Parts))
		for i, p := range m.Parts {
			out.Parts[i] = p.Clone()
		}
	}
	if m.CausalParentID != nil {
		id := *m.CausalParentID
		out.CausalParentID = &id
	}
	if m.UpdatedAt != nil {
		t := *m.UpdatedAt
		out.UpdatedAt = &t
	}
	return out
}
