package chat

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Thread is the ordered, identity-keyed message sequence of one conversation.
// It is not safe for concurrent use; callers serialize access per thread.
type Thread struct {
	ID       uuid.UUID
	messages []ChatMessage
}

// NewThread copies msgs and orders them by created_at, then insertion seq.
func NewThread(id uuid.UUID, msgs []ChatMessage) *Thread {
	t := &Thread{ID: id, messages: make([]ChatMessage, 0, len(msgs))}
	for _, m := range msgs {
		t.messages = append(t.messages, m.Clone())
	}
	sort.SliceStable(t.messages, func(i, j int) bool {
		a, b := t.messages[i], t.messages[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Seq < b.Seq
	})
	return t
}

func (t *Thread) Len() int { return len(t.messages) }

// At returns a copy of the message at index i.
func (t *Thread) At(i int) (ChatMessage, bool) {
	if i < 0 || i >= len(t.messages) {
		return ChatMessage{}, false
	}
	return t.messages[i].Clone(), true
}

// Last returns a copy of the final message, if any.
func (t *Thread) Last() (ChatMessage, bool) {
	return t.At(len(t.messages) - 1)
}

// Append adds m at the end. An assistant link must name a user message
// already in the thread.
func (t *Thread) Append(m ChatMessage) error {
	if !ValidRole(m.Role) {
		return ErrInvalidRole
	}
	if _, ok := t.FindIndexByID(m.ID); ok {
		return ErrDuplicateID
	}
	if last, ok := t.Last(); ok && m.CreatedAt.Before(last.CreatedAt) {
		return fmt.Errorf("%w: created_at precedes the last message", ErrInvalidArgument)
	}
	t.messages = append(t.messages, m.Clone())
	if err := t.CheckCausalLink(len(t.messages) - 1); err != nil {
		t.messages = t.messages[:len(t.messages)-1]
		return err
	}
	return nil
}

func (t *Thread) FindIndexByID(id uuid.UUID) (int, bool) {
	for i := range t.messages {
		if t.messages[i].ID == id {
			return i, true
		}
	}
	return -1, false
}

// SliceBefore returns copies of the messages strictly before index.
func (t *Thread) SliceBefore(index int) []ChatMessage {
	if index > len(t.messages) {
		index = len(t.messages)
	}
	if index < 0 {
		index = 0
	}
	return cloneAll(t.messages[:index])
}

// SliceFrom returns copies of the messages at or after index.
func (t *Thread) SliceFrom(index int) []ChatMessage {
	if index < 0 {
		index = 0
	}
	if index > len(t.messages) {
		index = len(t.messages)
	}
	return cloneAll(t.messages[index:])
}

// ReplaceAt swaps the message at index for m; id and role must not change.
func (t *Thread) ReplaceAt(index int, m ChatMessage) error {
	if index < 0 || index >= len(t.messages) {
		return ErrNotFound
	}
	cur := t.messages[index]
	if cur.ID != m.ID || cur.Role != m.Role {
		return ErrIdentityMismatch
	}
	t.messages[index] = m.Clone()
	return nil
}

// TruncateFrom drops every message at or after index and returns their ids in order.
func (t *Thread) TruncateFrom(index int) []uuid.UUID {
	if index < 0 {
		index = 0
	}
	if index >= len(t.messages) {
		return nil
	}
	removed := make([]uuid.UUID, 0, len(t.messages)-index)
	for _, m := range t.messages[index:] {
		removed = append(removed, m.ID)
	}
	t.messages = t.messages[:index]
	return removed
}

// Messages returns a deep copy of the whole sequence.
func (t *Thread) Messages() []ChatMessage {
	return cloneAll(t.messages)
}

func (t *Thread) Clone() *Thread {
	return &Thread{ID: t.ID, messages: cloneAll(t.messages)}
}

// ParentResolution describes how the causal parent of a message was found.
type ParentResolution struct {
	Index int
	// Stored is true when the explicit causal_parent_id link was used.
	Stored bool
	// Disagreement is set when a stored link exists but is dangling, points
	// at a non-user or later message, or differs from the positional scan.
	Disagreement bool
}

// CausalParent resolves the user message that prompted the message at index.
// A valid stored link wins; otherwise the nearest preceding user message is used.
func (t *Thread) CausalParent(index int) (ParentResolution, error) {
	if index < 0 || index >= len(t.messages) {
		return ParentResolution{Index: -1}, ErrNotFound
	}
	positional := -1
	for j := index - 1; j >= 0; j-- {
		if t.messages[j].Role == RoleUser {
			positional = j
			break
		}
	}

	if link := t.messages[index].CausalParentID; link != nil {
		if j, ok := t.FindIndexByID(*link); ok && j < index && t.messages[j].Role == RoleUser {
			return ParentResolution{Index: j, Stored: true, Disagreement: j != positional}, nil
		}
		if positional < 0 {
			return ParentResolution{Index: -1, Disagreement: true}, ErrNoCausalParent
		}
		return ParentResolution{Index: positional, Disagreement: true}, nil
	}

	if positional < 0 {
		return ParentResolution{Index: -1}, ErrNoCausalParent
	}
	return ParentResolution{Index: positional}, nil
}

// CheckCausalLink validates the stored link of the message at index: when set
// on an assistant message it must resolve to an earlier user message.
func (t *Thread) CheckCausalLink(index int) error {
	if index < 0 || index >= len(t.messages) {
		return ErrNotFound
	}
	m := t.messages[index]
	if m.CausalParentID == nil {
		return nil
	}
	if m.Role != RoleAssistant {
		return ErrInvalidCausalParent
	}
	j, ok := t.FindIndexByID(*m.CausalParentID)
	if !ok || j >= index || t.messages[j].Role != RoleUser {
		return ErrInvalidCausalParent
	}
	return nil
}

func cloneAll(in []ChatMessage) []ChatMessage {
	out := make([]ChatMessage, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}
