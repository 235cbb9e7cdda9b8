package aggregates

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/threadline-backend/internal/data/repos"
	domainagg "github.com/yungbote/threadline-backend/internal/domain/aggregates"
	"github.com/yungbote/threadline-backend/internal/domain/chat"
	"github.com/yungbote/threadline-backend/internal/pkg/dbctx"
)

type ConversationAggregateDeps struct {
	Base BaseDeps

	Threads  repos.ChatThreadRepo
	Messages repos.ChatMessageRepo
	Votes    repos.ChatVoteRepo
}

type conversationAggregate struct {
	deps ConversationAggregateDeps
}

func NewConversationAggregate(deps ConversationAggregateDeps) domainagg.ConversationAggregate {
	deps.Base = deps.Base.withDefaults()
	deps.Base.Log = deps.Base.Log.With("aggregate", "ConversationAggregate")
	return &conversationAggregate{deps: deps}
}

func (a *conversationAggregate) Contract() domainagg.Contract {
	return domainagg.ConversationAggregateContract
}

func (a *conversationAggregate) configured(op string) error {
	if a.deps.Threads == nil || a.deps.Messages == nil || a.deps.Votes == nil {
		return domainagg.NewError(domainagg.CodeInternal, op, "conversation aggregate repos not configured", nil)
	}
	return nil
}

func (a *conversationAggregate) CreateThread(ctx context.Context, in domainagg.CreateThreadInput) (domainagg.CreateThreadResult, error) {
	const op = "Chat.Conversation.CreateThread"
	var out domainagg.CreateThreadResult
	if in.ThreadID == uuid.Nil {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing thread_id", nil)
	}
	if in.UserID == uuid.Nil {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing user_id", nil)
	}
	if err := a.configured(op); err != nil {
		return out, err
	}
	at := storeTime(in.At)
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = "New Chat"
	}
	visibility := strings.TrimSpace(in.Visibility)
	if visibility == "" {
		visibility = chat.VisibilityPrivate
	}
	if !chat.ValidVisibility(visibility) {
		return out, domainagg.NewError(domainagg.CodeValidation, op, fmt.Sprintf("invalid visibility %q", visibility), chat.ErrInvalidArgument)
	}

	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		existing, err := a.deps.Threads.GetByID(dbc, in.ThreadID)
		if err != nil {
			return err
		}
		if existing != nil {
			return ConflictError(fmt.Sprintf("thread already exists: %s", in.ThreadID), chat.ErrDuplicateID)
		}
		row := &chat.ChatThread{
			ID:            in.ThreadID,
			UserID:        in.UserID,
			Title:         title,
			Visibility:    visibility,
			LastMessageAt: at,
			CreatedAt:     at,
			UpdatedAt:     at,
		}
		if _, err := a.deps.Threads.Create(dbc, []*chat.ChatThread{row}); err != nil {
			return err
		}
		out.Thread = row
		return nil
	})
	return out, err
}

func (a *conversationAggregate) AppendMessages(ctx context.Context, in domainagg.AppendMessagesInput) (domainagg.AppendMessagesResult, error) {
	const op = "Chat.Conversation.AppendMessages"
	var out domainagg.AppendMessagesResult
	if in.ThreadID == uuid.Nil {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing thread_id", nil)
	}
	if len(in.Messages) == 0 {
		return out, nil
	}
	if err := a.configured(op); err != nil {
		return out, err
	}

	ids := make([]uuid.UUID, 0, len(in.Messages))
	seen := make(map[uuid.UUID]struct{}, len(in.Messages))
	for _, m := range in.Messages {
		if m == nil || m.ID == uuid.Nil {
			return out, domainagg.NewError(domainagg.CodeValidation, op, "missing message id", nil)
		}
		if !chat.ValidRole(m.Role) {
			return out, domainagg.NewError(domainagg.CodeValidation, op, fmt.Sprintf("invalid role %q", m.Role), chat.ErrInvalidRole)
		}
		if m.ThreadID != uuid.Nil && m.ThreadID != in.ThreadID {
			return out, domainagg.NewError(domainagg.CodeValidation, op, "message belongs to another thread", nil)
		}
		if _, dup := seen[m.ID]; dup {
			return out, domainagg.NewError(domainagg.CodeConflict, op, fmt.Sprintf("message id repeated in batch: %s", m.ID), chat.ErrDuplicateID)
		}
		seen[m.ID] = struct{}{}
		ids = append(ids, m.ID)
	}

	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		th, err := a.requireThread(dbc, in.ThreadID)
		if err != nil {
			return err
		}
		existing, err := a.deps.Messages.GetByIDs(dbc, ids)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return ConflictError(fmt.Sprintf("message already stored: %s", existing[0].ID), chat.ErrDuplicateID)
		}
		seq, err := a.deps.Messages.GetMaxSeq(dbc, in.ThreadID)
		if err != nil {
			return err
		}

		rows := make([]*chat.ChatMessage, 0, len(in.Messages))
		batch := make(map[uuid.UUID]*chat.ChatMessage, len(in.Messages))
		last := th.LastMessageAt
		for _, m := range in.Messages {
			seq++
			row := m.Clone()
			row.ThreadID = in.ThreadID
			if row.UserID == uuid.Nil {
				row.UserID = th.UserID
			}
			row.Seq = seq
			row.CreatedAt = storeTime(row.CreatedAt)
			row.UpdatedAt = nil
			if err := a.checkCausalParent(dbc, &row, batch); err != nil {
				return err
			}
			if row.CreatedAt.After(last) {
				last = row.CreatedAt
			}
			batch[row.ID] = &row
			rows = append(rows, &row)
		}
		if _, err := a.deps.Messages.Create(dbc, rows); err != nil {
			// Ids were checked above, so a unique violation here is a seq race.
			if domainagg.IsCode(MapError(op, err), domainagg.CodeConflict) {
				return RetryableError("concurrent append on thread: " + err.Error())
			}
			return err
		}
		if err := a.deps.Threads.UpdateFields(dbc, in.ThreadID, map[string]interface{}{
			"last_message_at": last,
		}); err != nil {
			return err
		}
		out.Messages = rows
		return nil
	})
	return out, err
}

func (a *conversationAggregate) ReplaceMessage(ctx context.Context, in domainagg.ReplaceMessageInput) (domainagg.ReplaceMessageResult, error) {
	const op = "Chat.Conversation.ReplaceMessage"
	var out domainagg.ReplaceMessageResult
	msg := in.Message
	if msg == nil || msg.ID == uuid.Nil {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing message id", nil)
	}
	if msg.ThreadID == uuid.Nil {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing thread_id", nil)
	}
	if !chat.ValidRole(msg.Role) {
		return out, domainagg.NewError(domainagg.CodeValidation, op, fmt.Sprintf("invalid role %q", msg.Role), chat.ErrInvalidRole)
	}
	if err := a.configured(op); err != nil {
		return out, err
	}

	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		th, err := a.requireThread(dbc, msg.ThreadID)
		if err != nil {
			return err
		}
		now := storeTime(time.Time{})

		existing, err := a.deps.Messages.GetByID(dbc, msg.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			if in.RequireExisting {
				return ConflictError(fmt.Sprintf("message %s no longer stored", msg.ID), chat.ErrStaleRegeneration)
			}
			seq, err := a.deps.Messages.GetMaxSeq(dbc, msg.ThreadID)
			if err != nil {
				return err
			}
			row := msg.Clone()
			if row.UserID == uuid.Nil {
				row.UserID = th.UserID
			}
			row.Seq = seq + 1
			row.CreatedAt = storeTime(row.CreatedAt)
			row.UpdatedAt = &now
			if err := a.deps.Messages.Upsert(dbc, &row); err != nil {
				return err
			}
			out = domainagg.ReplaceMessageResult{Message: &row, Inserted: true}
			return nil
		}

		if existing.ThreadID != msg.ThreadID || existing.Role != msg.Role {
			return InvariantError(fmt.Sprintf("stored message %s has a different thread or role", msg.ID), chat.ErrIdentityMismatch)
		}
		if err := RequireVersionMatch(existing.Version, in.ExpectedVersion, chat.ErrStaleRegeneration); err != nil {
			return err
		}
		nextVersion := in.ExpectedVersion + 1
		ok, err := a.deps.Base.CASGuard.UpdateByVersion(dbc, chat.ChatMessage{}.TableName(), msg.ID, in.ExpectedVersion, map[string]any{
			"parts":            msg.Parts,
			"model":            msg.Model,
			"causal_parent_id": msg.CausalParentID,
			"version":          nextVersion,
			"updated_at":       now,
		})
		if err != nil {
			return err
		}
		if err := RequireCASSuccess(ok, fmt.Sprintf("message %s changed since version %d", msg.ID, in.ExpectedVersion), chat.ErrStaleRegeneration); err != nil {
			return err
		}

		next := msg.Clone()
		row := existing.Clone()
		row.Parts = next.Parts
		row.Model = next.Model
		row.CausalParentID = next.CausalParentID
		row.Version = nextVersion
		row.UpdatedAt = &now
		out = domainagg.ReplaceMessageResult{Message: &row}
		return nil
	})
	return out, err
}

func (a *conversationAggregate) SaveMessages(ctx context.Context, in domainagg.SaveMessagesInput) (domainagg.SaveMessagesResult, error) {
	const op = "Chat.Conversation.SaveMessages"
	var out domainagg.SaveMessagesResult
	if in.ThreadID == uuid.Nil {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing thread_id", nil)
	}
	if len(in.Messages) == 0 {
		return out, nil
	}
	if err := a.configured(op); err != nil {
		return out, err
	}
	for _, m := range in.Messages {
		if m == nil || m.ID == uuid.Nil {
			return out, domainagg.NewError(domainagg.CodeValidation, op, "missing message id", nil)
		}
		if !chat.ValidRole(m.Role) {
			return out, domainagg.NewError(domainagg.CodeValidation, op, fmt.Sprintf("invalid role %q", m.Role), chat.ErrInvalidRole)
		}
	}

	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		th, err := a.requireThread(dbc, in.ThreadID)
		if err != nil {
			return err
		}
		seq, err := a.deps.Messages.GetMaxSeq(dbc, in.ThreadID)
		if err != nil {
			return err
		}
		now := storeTime(time.Time{})
		last := th.LastMessageAt
		batch := make(map[uuid.UUID]*chat.ChatMessage, len(in.Messages))

		for _, m := range in.Messages {
			existing, err := a.deps.Messages.GetByID(dbc, m.ID)
			if err != nil {
				return err
			}
			row := m.Clone()
			row.ThreadID = in.ThreadID
			if row.UserID == uuid.Nil {
				row.UserID = th.UserID
			}
			if existing != nil {
				if existing.ThreadID != in.ThreadID || existing.Role != row.Role {
					return InvariantError(fmt.Sprintf("stored message %s has a different thread or role", m.ID), chat.ErrIdentityMismatch)
				}
				row.Seq = existing.Seq
				row.CreatedAt = existing.CreatedAt
				row.Version = existing.Version
				if chat.Fingerprint(row.Parts) != chat.Fingerprint(existing.Parts) {
					row.Version++
				}
				row.UpdatedAt = &now
				if err := a.checkCausalParent(dbc, &row, batch); err != nil {
					return err
				}
				if err := a.deps.Messages.Upsert(dbc, &row); err != nil {
					return err
				}
				batch[row.ID] = &row
				out.Updated++
				continue
			}
			seq++
			row.Seq = seq
			row.CreatedAt = storeTime(row.CreatedAt)
			row.UpdatedAt = nil
			if err := a.checkCausalParent(dbc, &row, batch); err != nil {
				return err
			}
			batch[row.ID] = &row
			if _, err := a.deps.Messages.Create(dbc, []*chat.ChatMessage{&row}); err != nil {
				return err
			}
			if row.CreatedAt.After(last) {
				last = row.CreatedAt
			}
			out.Inserted++
		}
		if out.Inserted > 0 {
			return a.deps.Threads.UpdateFields(dbc, in.ThreadID, map[string]interface{}{
				"last_message_at": last,
			})
		}
		return nil
	})
	return out, err
}

func (a *conversationAggregate) TruncateMessages(ctx context.Context, in domainagg.TruncateMessagesInput) (domainagg.TruncateMessagesResult, error) {
	const op = "Chat.Conversation.TruncateMessages"
	out := domainagg.TruncateMessagesResult{MessageIDs: in.MessageIDs}
	if in.ThreadID == uuid.Nil {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing thread_id", nil)
	}
	if len(in.MessageIDs) == 0 {
		return out, nil
	}
	if err := a.configured(op); err != nil {
		return out, err
	}
	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		votes, msgs, err := a.deleteCascade(dbc, in.ThreadID, in.MessageIDs)
		out.DeletedVotes, out.DeletedMessages = votes, msgs
		return err
	})
	return out, err
}

func (a *conversationAggregate) DeleteMessagesAfter(ctx context.Context, in domainagg.DeleteMessagesAfterInput) (domainagg.TruncateMessagesResult, error) {
	const op = "Chat.Conversation.DeleteMessagesAfter"
	var out domainagg.TruncateMessagesResult
	if in.ThreadID == uuid.Nil {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing thread_id", nil)
	}
	if in.At.IsZero() {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing timestamp", nil)
	}
	if err := a.configured(op); err != nil {
		return out, err
	}
	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		ids, err := a.deps.Messages.ListIDsFrom(dbc, in.ThreadID, in.At.UTC())
		if err != nil {
			return err
		}
		out.MessageIDs = ids
		votes, msgs, err := a.deleteCascade(dbc, in.ThreadID, ids)
		out.DeletedVotes, out.DeletedMessages = votes, msgs
		return err
	})
	return out, err
}

func (a *conversationAggregate) SetVote(ctx context.Context, in domainagg.SetVoteInput) (domainagg.SetVoteResult, error) {
	const op = "Chat.Conversation.SetVote"
	var out domainagg.SetVoteResult
	if in.ThreadID == uuid.Nil {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing thread_id", nil)
	}
	if in.MessageID == uuid.Nil {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing message_id", nil)
	}
	if err := a.configured(op); err != nil {
		return out, err
	}
	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		msg, err := a.deps.Messages.GetByID(dbc, in.MessageID)
		if err != nil {
			return err
		}
		if msg == nil || msg.ThreadID != in.ThreadID {
			return domainagg.NewError(domainagg.CodeNotFound, op, fmt.Sprintf("message not found: %s", in.MessageID), chat.ErrNotFound)
		}
		vote, err := a.deps.Votes.Upsert(dbc, in.ThreadID, in.MessageID, in.IsUpvoted)
		if err != nil {
			return err
		}
		out.Vote = vote
		return nil
	})
	return out, err
}

func (a *conversationAggregate) SetThreadVisibility(ctx context.Context, in domainagg.SetThreadVisibilityInput) (domainagg.SetThreadVisibilityResult, error) {
	const op = "Chat.Conversation.SetThreadVisibility"
	var out domainagg.SetThreadVisibilityResult
	if in.ThreadID == uuid.Nil {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing thread_id", nil)
	}
	if !chat.ValidVisibility(in.Visibility) {
		return out, domainagg.NewError(domainagg.CodeValidation, op, fmt.Sprintf("invalid visibility %q", in.Visibility), chat.ErrInvalidArgument)
	}
	if err := a.configured(op); err != nil {
		return out, err
	}
	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		th, err := a.requireThread(dbc, in.ThreadID)
		if err != nil {
			return err
		}
		now := storeTime(time.Time{})
		if err := a.deps.Threads.UpdateFields(dbc, in.ThreadID, map[string]interface{}{
			"visibility": in.Visibility,
			"updated_at": now,
		}); err != nil {
			return err
		}
		th.Visibility = in.Visibility
		th.UpdatedAt = now
		out.Thread = th
		return nil
	})
	return out, err
}

func (a *conversationAggregate) DeleteThread(ctx context.Context, in domainagg.DeleteThreadInput) (domainagg.DeleteThreadResult, error) {
	const op = "Chat.Conversation.DeleteThread"
	var out domainagg.DeleteThreadResult
	if in.ThreadID == uuid.Nil {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing thread_id", nil)
	}
	if err := a.configured(op); err != nil {
		return out, err
	}
	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		if _, err := a.requireThread(dbc, in.ThreadID); err != nil {
			return err
		}
		votes, err := a.deps.Votes.DeleteByThread(dbc, in.ThreadID)
		if err != nil {
			return err
		}
		msgs, err := a.deps.Messages.DeleteByThread(dbc, in.ThreadID)
		if err != nil {
			return err
		}
		if _, err := a.deps.Threads.Delete(dbc, in.ThreadID); err != nil {
			return err
		}
		out.DeletedVotes, out.DeletedMessages = votes, msgs
		return nil
	})
	return out, err
}

// deleteCascade removes votes before messages so a partial failure never
// leaves votes pointing at deleted messages.
func (a *conversationAggregate) deleteCascade(dbc dbctx.Context, threadID uuid.UUID, ids []uuid.UUID) (int64, int64, error) {
	if len(ids) == 0 {
		return 0, 0, nil
	}
	votes, err := a.deps.Votes.DeleteByMessageIDs(dbc, threadID, ids)
	if err != nil {
		return 0, 0, err
	}
	msgs, err := a.deps.Messages.DeleteByIDs(dbc, threadID, ids)
	if err != nil {
		return votes, 0, err
	}
	return votes, msgs, nil
}

func (a *conversationAggregate) requireThread(dbc dbctx.Context, threadID uuid.UUID) (*chat.ChatThread, error) {
	th, err := a.deps.Threads.GetByID(dbc, threadID)
	if err != nil {
		return nil, err
	}
	if th == nil {
		return nil, domainagg.NewError(domainagg.CodeNotFound, "Chat.Conversation", fmt.Sprintf("thread not found: %s", threadID), chat.ErrThreadNotFound)
	}
	return th, nil
}

// storeTime normalizes timestamps to the precision both postgres and sqlite keep.
func storeTime(t time.Time) time.Time {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Truncate(time.Microsecond)
}

// checkCausalParent requires a stored link to name a user message of the same
// thread that sorts before row. batch holds rows already written by this call.
func (a *conversationAggregate) checkCausalParent(dbc dbctx.Context, row *chat.ChatMessage, batch map[uuid.UUID]*chat.ChatMessage) error {
	if row.CausalParentID == nil {
		return nil
	}
	invalid := ValidationError(
		fmt.Sprintf("causal parent %s of message %s is not a preceding user message", *row.CausalParentID, row.ID),
		chat.ErrInvalidCausalParent,
	)
	if row.Role != chat.RoleAssistant {
		return invalid
	}
	parent := batch[*row.CausalParentID]
	if parent == nil {
		stored, err := a.deps.Messages.GetByID(dbc, *row.CausalParentID)
		if err != nil {
			return err
		}
		parent = stored
	}
	if parent == nil || parent.ThreadID != row.ThreadID || parent.Role != chat.RoleUser || !sortsBefore(parent, row) {
		return invalid
	}
	return nil
}

func sortsBefore(a, b *chat.ChatMessage) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Seq < b.Seq
}
