package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"

	"github.com/yungbote/threadline-backend/internal/data/repos"
	domainagg "github.com/yungbote/threadline-backend/internal/domain/aggregates"
	"github.com/yungbote/threadline-backend/internal/domain/chat"
	"github.com/yungbote/threadline-backend/internal/observability"
	"github.com/yungbote/threadline-backend/internal/pkg/dbctx"
	"github.com/yungbote/threadline-backend/internal/platform/logger"
)

// ConversationService is the single source of truth for thread state. Every
// mutation is decided against the cached thread under a per-thread lock,
// mirrored to the store through the conversation aggregate, and followed by a
// full snapshot to the sink.
type ConversationService interface {
	CreateThread(ctx context.Context, in CreateThreadInput) (*chat.ChatThread, error)
	ListThreads(ctx context.Context, in ListThreadsInput) (ThreadPage, error)
	LoadThread(ctx context.Context, threadID uuid.UUID) (chat.ThreadSnapshot, error)
	SetVisibility(ctx context.Context, threadID uuid.UUID, visibility string) (*chat.ChatThread, error)
	DeleteThread(ctx context.Context, threadID uuid.UUID) error

	AppendMessage(ctx context.Context, in AppendMessageInput) (chat.ChatMessage, error)
	SaveMessages(ctx context.Context, threadID uuid.UUID, msgs []chat.ChatMessage) (domainagg.SaveMessagesResult, error)

	// RegenerateAt replaces the text of one assistant message in place. The
	// provider call runs without holding the thread lock; the result is only
	// written if the message is unchanged when it arrives.
	RegenerateAt(ctx context.Context, in RegenerateInput) (chat.ChatMessage, error)

	// TruncateFrom removes the message and everything after it, votes included.
	TruncateFrom(ctx context.Context, threadID, messageID uuid.UUID) ([]uuid.UUID, error)
	DeleteMessagesAfter(ctx context.Context, threadID uuid.UUID, at time.Time) ([]uuid.UUID, error)

	SetVote(ctx context.Context, threadID, messageID uuid.UUID, isUpvoted bool) (chat.ChatVote, error)
	ListVotes(ctx context.Context, threadID uuid.UUID) ([]chat.ChatVote, error)

	CopyText(ctx context.Context, threadID, messageID uuid.UUID) (string, error)

	// Invalidate drops the cached copy of a thread; the next access reloads it.
	Invalidate(threadID uuid.UUID)
}

type CreateThreadInput struct {
	UserID uuid.UUID
	Title  string
	// Visibility is private when empty.
	Visibility string
}

// ListThreadsInput pages a user's threads newest first. StartingAfter returns
// threads created after that thread, EndingBefore those created before it;
// at most one may be set.
type ListThreadsInput struct {
	UserID        uuid.UUID
	Limit         int
	StartingAfter uuid.UUID
	EndingBefore  uuid.UUID
}

type ThreadPage struct {
	Threads []*chat.ChatThread `json:"threads"`
	HasMore bool               `json:"has_more"`
}

type AppendMessageInput struct {
	ThreadID uuid.UUID
	// MessageID is assigned when nil.
	MessageID uuid.UUID
	Role      string
	Parts     []chat.MessagePart
	Model     string
	// CausalParentID defaults to the latest user message for assistant replies.
	CausalParentID *uuid.UUID
	CreatedAt      time.Time
}

type RegenerateInput struct {
	ThreadID  uuid.UUID
	MessageID uuid.UUID
	// Model is a public model id; empty selects the default.
	Model string
}

type ConversationServiceDeps struct {
	Log       *logger.Logger
	Repos     repos.ChatRepos
	Aggregate domainagg.ConversationAggregate
	Generator Generator
	Sink      SnapshotSink
	Lock      RegenLock
	Metrics   *observability.Metrics

	DefaultModel string
	// RegenTimeout bounds one provider call; zero leaves it to the caller's context.
	RegenTimeout time.Duration
}

const (
	defaultThreadPage = 50
	maxThreadPage     = 200
)

const (
	maxAppendAttempts = 3
	maxLoadAttempts   = 3
	loadTimeout       = 15 * time.Second
	writeTimeout      = 15 * time.Second
)

const (
	outcomeOK            = "ok"
	outcomeNotFound      = "not_found"
	outcomeInvalidTarget = "invalid_target"
	outcomeNoParent      = "no_causal_parent"
	outcomeInProgress    = "in_progress"
	outcomeProviderError = "provider_error"
	outcomeStale         = "stale"
	outcomeStoreError    = "store_error"
)

type threadEntry struct {
	mu       sync.Mutex
	userID   uuid.UUID
	thread   *chat.Thread
	votes    map[uuid.UUID]chat.ChatVote
	inflight map[uuid.UUID]struct{}
	revision int64
	// epoch changes on every invalidation so a load that started earlier is not installed.
	epoch   uint64
	deleted bool
}

type loadedThread struct {
	row   *chat.ChatThread
	msgs  []chat.ChatMessage
	votes []chat.ChatVote
}

type conversationService struct {
	log          *logger.Logger
	repos        repos.ChatRepos
	agg          domainagg.ConversationAggregate
	gen          Generator
	sink         SnapshotSink
	lock         RegenLock
	metrics      *observability.Metrics
	defaultModel string
	regenTimeout time.Duration

	mu      sync.Mutex
	entries map[uuid.UUID]*threadEntry
	loads   singleflight.Group
}

func NewConversationService(deps ConversationServiceDeps) (ConversationService, error) {
	if deps.Aggregate == nil {
		return nil, errors.New("conversation service: aggregate required")
	}
	if deps.Repos.Threads == nil || deps.Repos.Messages == nil || deps.Repos.Votes == nil {
		return nil, errors.New("conversation service: repos required")
	}
	if deps.Generator == nil {
		return nil, errors.New("conversation service: generator required")
	}
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	if deps.Sink == nil {
		deps.Sink = NewNopSnapshotSink()
	}
	if deps.Lock == nil {
		deps.Lock = NewNoopRegenLock()
	}
	return &conversationService{
		log:          deps.Log.With("service", "ConversationService"),
		repos:        deps.Repos,
		agg:          deps.Aggregate,
		gen:          deps.Generator,
		sink:         deps.Sink,
		lock:         deps.Lock,
		metrics:      deps.Metrics,
		defaultModel: strings.TrimSpace(deps.DefaultModel),
		regenTimeout: deps.RegenTimeout,
		entries:      make(map[uuid.UUID]*threadEntry),
	}, nil
}

// ---------------- Threads ----------------

func (s *conversationService) CreateThread(ctx context.Context, in CreateThreadInput) (*chat.ChatThread, error) {
	if in.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing user_id", chat.ErrInvalidArgument)
	}
	visibility := strings.TrimSpace(in.Visibility)
	if visibility != "" && !chat.ValidVisibility(visibility) {
		return nil, fmt.Errorf("%w: visibility must be private or public", chat.ErrInvalidArgument)
	}
	res, err := s.agg.CreateThread(ctx, domainagg.CreateThreadInput{
		ThreadID:   uuid.New(),
		UserID:     in.UserID,
		Title:      in.Title,
		Visibility: visibility,
	})
	if err != nil {
		return nil, storeErr("create_thread", err)
	}
	e := s.entry(res.Thread.ID)
	e.mu.Lock()
	e.install(res.Thread.ID, &loadedThread{row: res.Thread})
	e.mu.Unlock()
	return res.Thread, nil
}

func (s *conversationService) ListThreads(ctx context.Context, in ListThreadsInput) (ThreadPage, error) {
	var out ThreadPage
	if in.UserID == uuid.Nil {
		return out, fmt.Errorf("%w: missing user_id", chat.ErrInvalidArgument)
	}
	if in.StartingAfter != uuid.Nil && in.EndingBefore != uuid.Nil {
		return out, fmt.Errorf("%w: only one of starting_after and ending_before may be set", chat.ErrInvalidArgument)
	}
	limit := in.Limit
	if limit <= 0 {
		limit = defaultThreadPage
	}
	if limit > maxThreadPage {
		limit = maxThreadPage
	}

	dbc := dbctx.Context{Ctx: ctx}
	q := repos.ThreadListQuery{Limit: limit + 1}
	if cursor := nonNil(in.StartingAfter, in.EndingBefore); cursor != uuid.Nil {
		row, err := s.repos.Threads.GetByID(dbc, cursor)
		if err != nil {
			return out, &chat.StoreError{Op: "list_threads", Err: err}
		}
		if row == nil || row.UserID != in.UserID {
			return out, fmt.Errorf("%w: cursor %s", chat.ErrThreadNotFound, cursor)
		}
		at := row.CreatedAt
		if in.StartingAfter != uuid.Nil {
			q.NewerThan = &at
		} else {
			q.OlderThan = &at
		}
	}

	rows, err := s.repos.Threads.ListByUser(dbc, in.UserID, q)
	if err != nil {
		return out, &chat.StoreError{Op: "list_threads", Err: err}
	}
	out.HasMore = len(rows) > limit
	if out.HasMore {
		rows = rows[:limit]
	}
	out.Threads = rows
	return out, nil
}

func (s *conversationService) LoadThread(ctx context.Context, threadID uuid.UUID) (chat.ThreadSnapshot, error) {
	e, err := s.lockLoaded(ctx, threadID)
	if err != nil {
		return chat.ThreadSnapshot{}, err
	}
	defer e.mu.Unlock()
	return e.snapshot(threadID), nil
}

func (s *conversationService) SetVisibility(ctx context.Context, threadID uuid.UUID, visibility string) (*chat.ChatThread, error) {
	if threadID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing thread_id", chat.ErrInvalidArgument)
	}
	visibility = strings.TrimSpace(visibility)
	if !chat.ValidVisibility(visibility) {
		return nil, fmt.Errorf("%w: visibility must be private or public", chat.ErrInvalidArgument)
	}
	res, err := s.agg.SetThreadVisibility(ctx, domainagg.SetThreadVisibilityInput{ThreadID: threadID, Visibility: visibility})
	if err != nil {
		if errors.Is(err, chat.ErrThreadNotFound) {
			s.Invalidate(threadID)
		}
		return nil, storeErr("set_visibility", err)
	}
	return res.Thread, nil
}

// DeleteThread is never blocked by a pending regeneration; that regeneration
// completes as stale.
func (s *conversationService) DeleteThread(ctx context.Context, threadID uuid.UUID) error {
	e := s.entry(threadID)
	e.mu.Lock()
	res, err := s.agg.DeleteThread(ctx, domainagg.DeleteThreadInput{ThreadID: threadID})
	if err != nil {
		e.mu.Unlock()
		if errors.Is(err, chat.ErrThreadNotFound) {
			s.forget(threadID, e)
		}
		return storeErr("delete_thread", err)
	}
	e.deleted = true
	e.invalidate()
	e.mu.Unlock()
	s.forget(threadID, e)

	s.log.Info("thread deleted",
		"thread_id", threadID,
		"deleted_messages", res.DeletedMessages,
		"deleted_votes", res.DeletedVotes,
	)
	s.sink.ThreadDeleted(ctx, threadID)
	return nil
}

func (s *conversationService) Invalidate(threadID uuid.UUID) {
	s.mu.Lock()
	e := s.entries[threadID]
	s.mu.Unlock()
	if e == nil {
		return
	}
	e.mu.Lock()
	e.invalidate()
	e.mu.Unlock()
}

// ---------------- Messages ----------------

func (s *conversationService) AppendMessage(ctx context.Context, in AppendMessageInput) (chat.ChatMessage, error) {
	if !chat.ValidRole(in.Role) {
		return chat.ChatMessage{}, chat.ErrInvalidRole
	}
	if !hasText(in.Parts) {
		return chat.ChatMessage{}, chat.ErrNoText
	}

	e, err := s.lockLoaded(ctx, in.ThreadID)
	if err != nil {
		return chat.ChatMessage{}, err
	}

	msg := chat.ChatMessage{
		ID:             in.MessageID,
		ThreadID:       in.ThreadID,
		UserID:         e.userID,
		Role:           in.Role,
		Parts:          datatypes.JSONSlice[chat.MessagePart](append([]chat.MessagePart(nil), in.Parts...)),
		Model:          strings.TrimSpace(in.Model),
		CausalParentID: in.CausalParentID,
		CreatedAt:      in.CreatedAt,
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	last, hasLast := e.thread.Last()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
		// Keep appends at the tail even when the clock lags stored history; seq breaks the tie.
		if hasLast && msg.CreatedAt.Before(last.CreatedAt) {
			msg.CreatedAt = last.CreatedAt
		}
	}
	switch msg.Role {
	case chat.RoleUser:
		msg.CausalParentID = nil
		msg.Model = ""
	case chat.RoleAssistant:
		if msg.CausalParentID == nil {
			msg.CausalParentID = latestUserID(e.thread)
		}
	}
	if err := e.thread.Clone().Append(msg); err != nil {
		e.mu.Unlock()
		return chat.ChatMessage{}, err
	}

	var res domainagg.AppendMessagesResult
	for attempt := 1; ; attempt++ {
		res, err = s.agg.AppendMessages(ctx, domainagg.AppendMessagesInput{
			ThreadID: in.ThreadID,
			Messages: []*chat.ChatMessage{&msg},
		})
		if err == nil || !domainagg.Retryable(err) || ctx.Err() != nil || attempt >= maxAppendAttempts {
			break
		}
		s.log.Warn("append retry", "thread_id", in.ThreadID, "message_id", msg.ID, "attempt", attempt, "error", err)
	}
	if err != nil {
		s.afterStoreFailureLocked(e, err)
		e.mu.Unlock()
		return chat.ChatMessage{}, storeErr("append_message", err)
	}

	stored := res.Messages[0].Clone()
	e.thread = chat.NewThread(in.ThreadID, append(e.thread.Messages(), stored))
	e.bump()
	snap := e.snapshot(in.ThreadID)
	e.mu.Unlock()

	s.sink.ThreadSnapshot(ctx, snap)
	return stored, nil
}

func (s *conversationService) SaveMessages(ctx context.Context, threadID uuid.UUID, msgs []chat.ChatMessage) (domainagg.SaveMessagesResult, error) {
	var out domainagg.SaveMessagesResult
	if len(msgs) == 0 {
		return out, nil
	}
	e, err := s.lockLoaded(ctx, threadID)
	if err != nil {
		return out, err
	}

	rows := make([]*chat.ChatMessage, 0, len(msgs))
	seen := make(map[uuid.UUID]struct{}, len(msgs))
	for i := range msgs {
		m := msgs[i].Clone()
		if m.ID == uuid.Nil {
			e.mu.Unlock()
			return out, fmt.Errorf("%w: message %d missing id", chat.ErrInvalidArgument, i)
		}
		if !chat.ValidRole(m.Role) {
			e.mu.Unlock()
			return out, chat.ErrInvalidRole
		}
		if _, dup := seen[m.ID]; dup {
			e.mu.Unlock()
			return out, chat.ErrDuplicateID
		}
		seen[m.ID] = struct{}{}
		if _, busy := e.inflight[m.ID]; busy {
			e.mu.Unlock()
			return out, chat.ErrRegenerationInProgress
		}
		if idx, ok := e.thread.FindIndexByID(m.ID); ok {
			cur, _ := e.thread.At(idx)
			if cur.Role != m.Role {
				e.mu.Unlock()
				return out, chat.ErrIdentityMismatch
			}
		}
		m.ThreadID = threadID
		if m.UserID == uuid.Nil {
			m.UserID = e.userID
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now().UTC()
		}
		rows = append(rows, &m)
	}
	if err := checkSavedLinks(e.thread, threadID, rows); err != nil {
		e.mu.Unlock()
		return out, err
	}

	out, err = s.agg.SaveMessages(ctx, domainagg.SaveMessagesInput{ThreadID: threadID, Messages: rows})
	if err != nil {
		s.afterStoreFailureLocked(e, err)
		e.mu.Unlock()
		return domainagg.SaveMessagesResult{}, storeErr("save_messages", err)
	}
	// Versions and seqs are store-assigned; re-read rather than patch the cache.
	e.invalidate()
	e.mu.Unlock()

	s.publishFresh(ctx, e, threadID)
	return out, nil
}

func (s *conversationService) CopyText(ctx context.Context, threadID, messageID uuid.UUID) (string, error) {
	e, err := s.lockLoaded(ctx, threadID)
	if err != nil {
		return "", err
	}
	defer e.mu.Unlock()
	idx, ok := e.thread.FindIndexByID(messageID)
	if !ok {
		return "", chat.ErrNotFound
	}
	m, _ := e.thread.At(idx)
	text := m.CopyText()
	if text == "" {
		return "", chat.ErrNoText
	}
	return text, nil
}

// ---------------- Regeneration ----------------

type regenPlan struct {
	threadID    uuid.UUID
	messageID   uuid.UUID
	prompt      string
	prior       string
	fingerprint string
	version     int64
	model       string
	history     []chat.ChatMessage
}

func (s *conversationService) RegenerateAt(ctx context.Context, in RegenerateInput) (chat.ChatMessage, error) {
	ctx, span := observability.Tracer().Start(ctx, "ConversationService.RegenerateAt", trace.WithAttributes(
		attribute.String("thread.id", in.ThreadID.String()),
		attribute.String("message.id", in.MessageID.String()),
	))
	defer span.End()

	out, outcome, err := s.regenerate(ctx, in)
	s.metrics.ObserveRegeneration(outcome)
	span.SetAttributes(attribute.String("regeneration.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		s.log.Warn("regeneration failed",
			"thread_id", in.ThreadID,
			"message_id", in.MessageID,
			"outcome", outcome,
			"error", err,
		)
	}
	return out, err
}

func (s *conversationService) regenerate(ctx context.Context, in RegenerateInput) (chat.ChatMessage, string, error) {
	e, err := s.lockLoaded(ctx, in.ThreadID)
	if err != nil {
		return chat.ChatMessage{}, outcomeOf(err), err
	}
	plan, err := s.plan(e, in)
	if err != nil {
		e.mu.Unlock()
		return chat.ChatMessage{}, outcomeOf(err), err
	}
	e.inflight[in.MessageID] = struct{}{}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.inflight, in.MessageID)
		e.mu.Unlock()
	}()

	release, err := s.lock.Acquire(ctx, in.MessageID)
	if err != nil {
		return chat.ChatMessage{}, outcomeOf(err), err
	}
	defer release()

	text, err := s.generate(ctx, plan)
	if err != nil {
		return chat.ChatMessage{}, outcomeProviderError, err
	}

	// The answer is written even if the caller went away while waiting for it.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if err := s.relock(wctx, e, in.ThreadID); err != nil {
		if errors.Is(err, chat.ErrThreadNotFound) {
			return chat.ChatMessage{}, outcomeStale, staleErr("thread deleted while regenerating")
		}
		return chat.ChatMessage{}, outcomeOf(err), err
	}
	updated, snap, err := s.apply(wctx, e, plan, text)
	e.mu.Unlock()
	if err != nil {
		return chat.ChatMessage{}, outcomeOf(err), err
	}

	s.sink.ThreadSnapshot(wctx, snap)
	return updated, outcomeOK, nil
}

// plan validates the target and captures what the completion must be checked against. e is locked.
func (s *conversationService) plan(e *threadEntry, in RegenerateInput) (regenPlan, error) {
	idx, ok := e.thread.FindIndexByID(in.MessageID)
	if !ok {
		return regenPlan{}, chat.ErrNotFound
	}
	target, _ := e.thread.At(idx)
	if target.Role != chat.RoleAssistant {
		return regenPlan{}, chat.ErrInvalidTarget
	}
	parentRes, err := e.thread.CausalParent(idx)
	if parentRes.Disagreement {
		s.log.Warn("stored causal parent disagrees with thread order",
			"thread_id", in.ThreadID,
			"message_id", in.MessageID,
			"stored_parent", target.CausalParentID,
			"resolved_index", parentRes.Index,
		)
	}
	if err != nil {
		return regenPlan{}, err
	}
	if _, busy := e.inflight[in.MessageID]; busy {
		return regenPlan{}, chat.ErrRegenerationInProgress
	}
	parent, _ := e.thread.At(parentRes.Index)

	model := strings.TrimSpace(in.Model)
	if model == "" {
		model = s.defaultModel
	}
	return regenPlan{
		threadID:    in.ThreadID,
		messageID:   in.MessageID,
		prompt:      parent.Text(),
		prior:       target.Text(),
		fingerprint: chat.Fingerprint(target.Parts),
		version:     target.Version,
		model:       model,
		history:     e.thread.SliceBefore(parentRes.Index),
	}, nil
}

func (s *conversationService) generate(ctx context.Context, plan regenPlan) (string, error) {
	if s.regenTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.regenTimeout)
		defer cancel()
	}
	ctx, span := observability.Tracer().Start(ctx, "Generator.Generate", trace.WithAttributes(
		attribute.String("model", plan.model),
		attribute.Int("history.len", len(plan.history)),
	))
	defer span.End()

	text, err := s.gen.Generate(ctx, GenerateRequest{
		Prompt:        plan.prompt,
		PriorResponse: plan.prior,
		Model:         plan.model,
		History:       plan.history,
	})
	if err == nil && strings.TrimSpace(text) == "" {
		err = chat.NewProviderError(chat.ProviderTransient, plan.model, errors.New("empty completion"))
	}
	if err != nil {
		if _, ok := chat.IsProviderError(err); !ok {
			kind := chat.ProviderPermanent
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				kind = chat.ProviderTransient
			}
			err = chat.NewProviderError(kind, plan.model, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider failed")
		return "", err
	}
	return text, nil
}

// apply re-checks the target against the plan and writes the new parts. e is locked.
func (s *conversationService) apply(ctx context.Context, e *threadEntry, plan regenPlan, text string) (chat.ChatMessage, chat.ThreadSnapshot, error) {
	idx, ok := e.thread.FindIndexByID(plan.messageID)
	if !ok {
		return chat.ChatMessage{}, chat.ThreadSnapshot{}, staleErr("message removed while regenerating")
	}
	cur, _ := e.thread.At(idx)
	if cur.Version != plan.version || chat.Fingerprint(cur.Parts) != plan.fingerprint {
		return chat.ChatMessage{}, chat.ThreadSnapshot{}, staleErr("message rewritten while regenerating")
	}

	next := cur.Clone()
	next.Parts = datatypes.JSONSlice[chat.MessagePart](chat.ReplaceText(cur.Parts, plan.prior, text))
	if plan.model != "" {
		next.Model = plan.model
	}
	res, err := s.agg.ReplaceMessage(ctx, domainagg.ReplaceMessageInput{
		Message:         &next,
		ExpectedVersion: plan.version,
		RequireExisting: true,
	})
	if err != nil {
		if errors.Is(err, chat.ErrStaleRegeneration) ||
			errors.Is(err, chat.ErrThreadNotFound) ||
			errors.Is(err, chat.ErrIdentityMismatch) {
			// The store moved on without this instance noticing.
			e.invalidate()
			return chat.ChatMessage{}, chat.ThreadSnapshot{}, staleErr(err.Error())
		}
		return chat.ChatMessage{}, chat.ThreadSnapshot{}, storeErr("replace_message", err)
	}

	stored := res.Message.Clone()
	if err := e.thread.ReplaceAt(idx, stored); err != nil {
		e.invalidate()
		return chat.ChatMessage{}, chat.ThreadSnapshot{}, err
	}
	e.bump()
	return stored, e.snapshot(plan.threadID), nil
}

// ---------------- Truncation ----------------

func (s *conversationService) TruncateFrom(ctx context.Context, threadID, messageID uuid.UUID) ([]uuid.UUID, error) {
	e, err := s.lockLoaded(ctx, threadID)
	if err != nil {
		return nil, err
	}
	idx, ok := e.thread.FindIndexByID(messageID)
	if !ok {
		e.mu.Unlock()
		return nil, chat.ErrNotFound
	}
	return s.truncateLocked(ctx, e, threadID, idx, func(ids []uuid.UUID) ([]uuid.UUID, error) {
		res, err := s.agg.TruncateMessages(ctx, domainagg.TruncateMessagesInput{ThreadID: threadID, MessageIDs: ids})
		return res.MessageIDs, err
	})
}

func (s *conversationService) DeleteMessagesAfter(ctx context.Context, threadID uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	if at.IsZero() {
		return nil, fmt.Errorf("%w: missing timestamp", chat.ErrInvalidArgument)
	}
	e, err := s.lockLoaded(ctx, threadID)
	if err != nil {
		return nil, err
	}
	idx := e.thread.Len()
	for i, m := range e.thread.Messages() {
		if !m.CreatedAt.Before(at) {
			idx = i
			break
		}
	}
	return s.truncateLocked(ctx, e, threadID, idx, func([]uuid.UUID) ([]uuid.UUID, error) {
		res, err := s.agg.DeleteMessagesAfter(ctx, domainagg.DeleteMessagesAfterInput{ThreadID: threadID, At: at})
		return res.MessageIDs, err
	})
}

// truncateLocked removes messages from idx on. e is locked on entry and unlocked on return.
func (s *conversationService) truncateLocked(
	ctx context.Context,
	e *threadEntry,
	threadID uuid.UUID,
	idx int,
	write func(ids []uuid.UUID) ([]uuid.UUID, error),
) ([]uuid.UUID, error) {
	tail := e.thread.SliceFrom(idx)
	ids := make([]uuid.UUID, 0, len(tail))
	for _, m := range tail {
		if _, busy := e.inflight[m.ID]; busy {
			e.mu.Unlock()
			return nil, chat.ErrRegenerationInProgress
		}
		ids = append(ids, m.ID)
	}

	deleted, err := write(ids)
	if err != nil {
		s.afterStoreFailureLocked(e, err)
		e.mu.Unlock()
		return nil, storeErr("truncate", err)
	}

	e.thread.TruncateFrom(idx)
	for _, id := range ids {
		delete(e.votes, id)
	}
	if len(deleted) != len(ids) {
		s.log.Warn("store truncation differs from cached thread; reloading",
			"thread_id", threadID,
			"cached", len(ids),
			"stored", len(deleted),
		)
		e.invalidate()
		e.mu.Unlock()
		s.publishFresh(ctx, e, threadID)
		return deleted, nil
	}
	e.bump()
	snap := e.snapshot(threadID)
	e.mu.Unlock()

	s.sink.ThreadSnapshot(ctx, snap)
	return ids, nil
}

// ---------------- Votes ----------------

func (s *conversationService) SetVote(ctx context.Context, threadID, messageID uuid.UUID, isUpvoted bool) (chat.ChatVote, error) {
	e, err := s.lockLoaded(ctx, threadID)
	if err != nil {
		return chat.ChatVote{}, err
	}
	if _, ok := e.thread.FindIndexByID(messageID); !ok {
		e.mu.Unlock()
		return chat.ChatVote{}, chat.ErrNotFound
	}
	if _, busy := e.inflight[messageID]; busy {
		e.mu.Unlock()
		return chat.ChatVote{}, chat.ErrRegenerationInProgress
	}
	res, err := s.agg.SetVote(ctx, domainagg.SetVoteInput{ThreadID: threadID, MessageID: messageID, IsUpvoted: isUpvoted})
	if err != nil {
		s.afterStoreFailureLocked(e, err)
		e.mu.Unlock()
		return chat.ChatVote{}, storeErr("set_vote", err)
	}
	vote := *res.Vote
	e.votes[messageID] = vote
	e.bump()
	snap := e.snapshot(threadID)
	e.mu.Unlock()

	s.sink.ThreadSnapshot(ctx, snap)
	return vote, nil
}

func (s *conversationService) ListVotes(ctx context.Context, threadID uuid.UUID) ([]chat.ChatVote, error) {
	e, err := s.lockLoaded(ctx, threadID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	return e.orderedVotes(), nil
}

// ---------------- Cache ----------------

func (s *conversationService) entry(threadID uuid.UUID) *threadEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[threadID]
	if !ok {
		e = &threadEntry{inflight: make(map[uuid.UUID]struct{})}
		s.entries[threadID] = e
	}
	return e
}

func (s *conversationService) forget(threadID uuid.UUID, e *threadEntry) {
	s.mu.Lock()
	if s.entries[threadID] == e {
		delete(s.entries, threadID)
	}
	s.mu.Unlock()
}

// lockLoaded returns the thread's entry locked, loading it from the store if needed.
func (s *conversationService) lockLoaded(ctx context.Context, threadID uuid.UUID) (*threadEntry, error) {
	if threadID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing thread_id", chat.ErrInvalidArgument)
	}
	e := s.entry(threadID)
	if err := s.relock(ctx, e, threadID); err != nil {
		return nil, err
	}
	return e, nil
}

// relock locks e and makes sure its thread is loaded. On error e is unlocked.
func (s *conversationService) relock(ctx context.Context, e *threadEntry, threadID uuid.UUID) error {
	for attempt := 0; attempt < maxLoadAttempts; attempt++ {
		e.mu.Lock()
		if e.deleted {
			e.mu.Unlock()
			return chat.ErrThreadNotFound
		}
		if e.thread != nil {
			return nil
		}
		epoch := e.epoch
		e.mu.Unlock()

		v, err, _ := s.loads.Do(threadID.String(), func() (interface{}, error) {
			lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
			defer cancel()
			return s.load(lctx, threadID)
		})
		if err != nil {
			if errors.Is(err, chat.ErrThreadNotFound) {
				s.forget(threadID, e)
			}
			return err
		}

		e.mu.Lock()
		if !e.deleted && e.thread == nil && e.epoch == epoch {
			e.install(threadID, v.(*loadedThread))
		}
		if !e.deleted && e.thread != nil {
			return nil
		}
		e.mu.Unlock()
	}
	return &chat.StoreError{Op: "load_thread", Err: errors.New("thread invalidated repeatedly while loading")}
}

func (s *conversationService) load(ctx context.Context, threadID uuid.UUID) (*loadedThread, error) {
	dbc := dbctx.Context{Ctx: ctx}
	row, err := s.repos.Threads.GetByID(dbc, threadID)
	if err != nil {
		return nil, &chat.StoreError{Op: "load_thread", Err: err}
	}
	if row == nil {
		return nil, chat.ErrThreadNotFound
	}
	msgs, err := s.repos.Messages.ListByThread(dbc, threadID)
	if err != nil {
		return nil, &chat.StoreError{Op: "load_messages", Err: err}
	}
	votes, err := s.repos.Votes.ListByThread(dbc, threadID)
	if err != nil {
		return nil, &chat.StoreError{Op: "load_votes", Err: err}
	}
	out := &loadedThread{
		row:   row,
		msgs:  make([]chat.ChatMessage, 0, len(msgs)),
		votes: make([]chat.ChatVote, 0, len(votes)),
	}
	for _, m := range msgs {
		out.msgs = append(out.msgs, *m)
	}
	for _, v := range votes {
		out.votes = append(out.votes, *v)
	}
	return out, nil
}

// publishFresh reloads the thread and emits it. Used after writes whose exact
// result the cache cannot reproduce.
func (s *conversationService) publishFresh(ctx context.Context, e *threadEntry, threadID uuid.UUID) {
	if err := s.relock(ctx, e, threadID); err != nil {
		s.log.Warn("reload after write failed", "thread_id", threadID, "error", err)
		return
	}
	e.bump()
	snap := e.snapshot(threadID)
	e.mu.Unlock()
	s.sink.ThreadSnapshot(ctx, snap)
}

// afterStoreFailureLocked drops the cache when the store says the thread is gone.
func (s *conversationService) afterStoreFailureLocked(e *threadEntry, err error) {
	if errors.Is(err, chat.ErrThreadNotFound) {
		e.invalidate()
	}
}

func (e *threadEntry) install(threadID uuid.UUID, st *loadedThread) {
	e.userID = st.row.UserID
	e.thread = chat.NewThread(threadID, st.msgs)
	e.votes = make(map[uuid.UUID]chat.ChatVote, len(st.votes))
	for _, v := range st.votes {
		e.votes[v.MessageID] = v
	}
	e.bump()
}

// bump advances the revision. It never drops below the wall clock in
// microseconds, so an entry that was forgotten and rebuilt, or a second
// instance sharing the Redis cache, keeps issuing larger revisions.
func (e *threadEntry) bump() {
	now := time.Now().UnixMicro()
	if now > e.revision {
		e.revision = now
		return
	}
	e.revision++
}

func (e *threadEntry) invalidate() {
	e.thread = nil
	e.votes = nil
	e.epoch++
}

func (e *threadEntry) snapshot(threadID uuid.UUID) chat.ThreadSnapshot {
	return chat.ThreadSnapshot{
		ThreadID: threadID,
		UserID:   e.userID,
		Revision: e.revision,
		Messages: e.thread.Messages(),
		Votes:    e.orderedVotes(),
	}
}

func (e *threadEntry) orderedVotes() []chat.ChatVote {
	out := make([]chat.ChatVote, 0, len(e.votes))
	for _, m := range e.thread.Messages() {
		if v, ok := e.votes[m.ID]; ok {
			out = append(out, v)
		}
	}
	return out
}

// ---------------- helpers ----------------

func latestUserID(t *chat.Thread) *uuid.UUID {
	for i := t.Len() - 1; i >= 0; i-- {
		m, _ := t.At(i)
		if m.Role == chat.RoleUser {
			id := m.ID
			return &id
		}
	}
	return nil
}

// checkSavedLinks validates the causal links of rows against the thread as it
// will look once they are saved.
func checkSavedLinks(t *chat.Thread, threadID uuid.UUID, rows []*chat.ChatMessage) error {
	merged := t.Messages()
	var maxSeq int64
	for _, m := range merged {
		if m.Seq > maxSeq {
			maxSeq = m.Seq
		}
	}
	for _, r := range rows {
		if idx, ok := t.FindIndexByID(r.ID); ok {
			merged[idx].Parts = r.Parts
			merged[idx].CausalParentID = r.CausalParentID
			continue
		}
		maxSeq++
		next := r.Clone()
		next.Seq = maxSeq
		merged = append(merged, next)
	}
	after := chat.NewThread(threadID, merged)
	for _, r := range rows {
		idx, _ := after.FindIndexByID(r.ID)
		if err := after.CheckCausalLink(idx); err != nil {
			return err
		}
	}
	return nil
}

func nonNil(ids ...uuid.UUID) uuid.UUID {
	for _, id := range ids {
		if id != uuid.Nil {
			return id
		}
	}
	return uuid.Nil
}

func hasText(parts []chat.MessagePart) bool {
	for _, p := range parts {
		if p.Type == chat.PartText && strings.TrimSpace(p.Text) != "" {
			return true
		}
	}
	return false
}

func staleErr(reason string) error {
	return fmt.Errorf("%w: %s", chat.ErrStaleRegeneration, reason)
}

// storeErr keeps domain sentinels visible and wraps everything else as a StoreError.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{
		chat.ErrDuplicateID,
		chat.ErrStaleRegeneration,
		chat.ErrIdentityMismatch,
		chat.ErrInvalidRole,
		chat.ErrInvalidCausalParent,
		chat.ErrInvalidArgument,
		chat.ErrNotFound,
		chat.ErrThreadNotFound,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return &chat.StoreError{Op: op, Err: err}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, chat.ErrNotFound), errors.Is(err, chat.ErrThreadNotFound):
		return outcomeNotFound
	case errors.Is(err, chat.ErrInvalidTarget):
		return outcomeInvalidTarget
	case errors.Is(err, chat.ErrNoCausalParent):
		return outcomeNoParent
	case errors.Is(err, chat.ErrRegenerationInProgress):
		return outcomeInProgress
	case errors.Is(err, chat.ErrStaleRegeneration):
		return outcomeStale
	}
	if _, ok := chat.IsProviderError(err); ok {
		return outcomeProviderError
	}
	return outcomeStoreError
}
