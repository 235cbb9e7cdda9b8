package aggregates

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/threadline-backend/internal/domain/chat"
)

var ConversationAggregateContract = Contract{
	Name:             "Chat.ConversationAggregate",
	WriteTxOwnership: WriteTxOwnedByAggregate,
	ReadPolicy:       ReadPolicyTableRepoQueries,
	Notes:            "Owns message insert/replace, truncation with vote cascade, vote upsert, thread visibility and thread deletion.",
}

// ConversationAggregate mirrors thread-level decisions into the store.
//
// Write method failures return *aggregates.Error with codes:
// CodeValidation, CodeNotFound, CodeConflict, CodeRetryable, CodeInternal.
type ConversationAggregate interface {
	Aggregate

	// CreateThread inserts an empty thread.
	CreateThread(ctx context.Context, in CreateThreadInput) (CreateThreadResult, error)

	// AppendMessages inserts new messages; an existing id is a conflict, never an update.
	AppendMessages(ctx context.Context, in AppendMessagesInput) (AppendMessagesResult, error)

	// ReplaceMessage writes new parts for an existing message id, preserving created_at.
	// When the row exists its version must equal ExpectedVersion; when it is
	// absent the message is inserted as-is.
	ReplaceMessage(ctx context.Context, in ReplaceMessageInput) (ReplaceMessageResult, error)

	// SaveMessages updates each message whose id exists and inserts the rest.
	SaveMessages(ctx context.Context, in SaveMessagesInput) (SaveMessagesResult, error)

	// TruncateMessages deletes votes for the given ids, then the messages, atomically.
	// Already-deleted ids are ignored so a failed cascade can be retried.
	TruncateMessages(ctx context.Context, in TruncateMessagesInput) (TruncateMessagesResult, error)

	// DeleteMessagesAfter deletes every message created at or after At, votes first.
	DeleteMessagesAfter(ctx context.Context, in DeleteMessagesAfterInput) (TruncateMessagesResult, error)

	// SetVote inserts or overwrites the single vote row of a message.
	SetVote(ctx context.Context, in SetVoteInput) (SetVoteResult, error)

	// SetThreadVisibility switches a thread between private and public.
	SetThreadVisibility(ctx context.Context, in SetThreadVisibilityInput) (SetThreadVisibilityResult, error)

	// DeleteThread deletes votes, then messages, then the thread row.
	DeleteThread(ctx context.Context, in DeleteThreadInput) (DeleteThreadResult, error)
}

type CreateThreadInput struct {
	ThreadID uuid.UUID
	UserID   uuid.UUID
	Title    string
	// Visibility defaults to private.
	Visibility string
	At         time.Time
}

type CreateThreadResult struct {
	Thread *chat.ChatThread
}

type AppendMessagesInput struct {
	ThreadID uuid.UUID
	Messages []*chat.ChatMessage
}

type AppendMessagesResult struct {
	Messages []*chat.ChatMessage
}

type ReplaceMessageInput struct {
	Message         *chat.ChatMessage
	ExpectedVersion int64
	// RequireExisting turns the insert-if-absent path into a stale conflict.
	RequireExisting bool
}

type ReplaceMessageResult struct {
	Message  *chat.ChatMessage
	Inserted bool
}

type SaveMessagesInput struct {
	ThreadID uuid.UUID
	Messages []*chat.ChatMessage
}

type SaveMessagesResult struct {
	Inserted int
	Updated  int
}

type TruncateMessagesInput struct {
	ThreadID   uuid.UUID
	MessageIDs []uuid.UUID
}

type TruncateMessagesResult struct {
	MessageIDs      []uuid.UUID
	DeletedMessages int64
	DeletedVotes    int64
}

type DeleteMessagesAfterInput struct {
	ThreadID uuid.UUID
	At       time.Time
}

type SetVoteInput struct {
	ThreadID  uuid.UUID
	MessageID uuid.UUID
	IsUpvoted bool
}

type SetVoteResult struct {
	Vote *chat.ChatVote
}

type SetThreadVisibilityInput struct {
	ThreadID   uuid.UUID
	Visibility string
}

type SetThreadVisibilityResult struct {
	Thread *chat.ChatThread
}

type DeleteThreadInput struct {
	ThreadID uuid.UUID
}

type DeleteThreadResult struct {
	DeletedMessages int64
	DeletedVotes    int64
}
