package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	domainagg "github.com/yungbote/threadline-backend/internal/domain/aggregates"
	"github.com/yungbote/threadline-backend/internal/domain/chat"
	"github.com/yungbote/threadline-backend/internal/services"
)

// fakeConversation implements services.ConversationService with canned results.
type fakeConversation struct {
	regenIn  services.RegenerateInput
	regenOut chat.ChatMessage
	regenErr error

	appendIn services.AppendMessageInput

	voteUp  *bool
	voteErr error

	afterAt time.Time
	loadErr error

	listIn     services.ListThreadsInput
	visibility string
}

func (f *fakeConversation) CreateThread(_ context.Context, in services.CreateThreadInput) (*chat.ChatThread, error) {
	if in.UserID == uuid.Nil {
		return nil, chat.ErrInvalidArgument
	}
	return &chat.ChatThread{ID: uuid.New(), UserID: in.UserID, Title: in.Title, Visibility: in.Visibility}, nil
}

func (f *fakeConversation) ListThreads(_ context.Context, in services.ListThreadsInput) (services.ThreadPage, error) {
	f.listIn = in
	return services.ThreadPage{Threads: []*chat.ChatThread{{ID: uuid.New(), UserID: in.UserID}}, HasMore: true}, nil
}

func (f *fakeConversation) SetVisibility(_ context.Context, threadID uuid.UUID, visibility string) (*chat.ChatThread, error) {
	if !chat.ValidVisibility(visibility) {
		return nil, chat.ErrInvalidArgument
	}
	f.visibility = visibility
	return &chat.ChatThread{ID: threadID, Visibility: visibility}, nil
}

func (f *fakeConversation) LoadThread(_ context.Context, threadID uuid.UUID) (chat.ThreadSnapshot, error) {
	if f.loadErr != nil {
		return chat.ThreadSnapshot{}, f.loadErr
	}
	return chat.ThreadSnapshot{ThreadID: threadID, Revision: 7}, nil
}

func (f *fakeConversation) DeleteThread(context.Context, uuid.UUID) error { return nil }

func (f *fakeConversation) AppendMessage(_ context.Context, in services.AppendMessageInput) (chat.ChatMessage, error) {
	f.appendIn = in
	return chat.ChatMessage{ID: uuid.New(), ThreadID: in.ThreadID, Role: in.Role, Parts: in.Parts}, nil
}

func (f *fakeConversation) SaveMessages(context.Context, uuid.UUID, []chat.ChatMessage) (domainagg.SaveMessagesResult, error) {
	return domainagg.SaveMessagesResult{Inserted: 1}, nil
}

func (f *fakeConversation) RegenerateAt(_ context.Context, in services.RegenerateInput) (chat.ChatMessage, error) {
	f.regenIn = in
	return f.regenOut, f.regenErr
}

func (f *fakeConversation) TruncateFrom(context.Context, uuid.UUID, uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

func (f *fakeConversation) DeleteMessagesAfter(_ context.Context, _ uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	f.afterAt = at
	return []uuid.UUID{}, nil
}

func (f *fakeConversation) SetVote(_ context.Context, threadID, messageID uuid.UUID, up bool) (chat.ChatVote, error) {
	f.voteUp = &up
	if f.voteErr != nil {
		return chat.ChatVote{}, f.voteErr
	}
	return chat.ChatVote{ThreadID: threadID, MessageID: messageID, IsUpvoted: up}, nil
}

func (f *fakeConversation) ListVotes(context.Context, uuid.UUID) ([]chat.ChatVote, error) {
	return nil, nil
}

func (f *fakeConversation) CopyText(context.Context, uuid.UUID, uuid.UUID) (string, error) {
	return "", chat.ErrNoText
}

func (f *fakeConversation) Invalidate(uuid.UUID) {}

func newTestRouter(conv services.ConversationService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewConversationHandler(ConversationHandlerDeps{Conversation: conv})
	r := gin.New()
	api := r.Group("/api")
	api.POST("/threads", h.CreateThread)
	api.GET("/threads", h.ListThreads)
	api.GET("/threads/:id", h.GetThread)
	api.PATCH("/threads/:id/visibility", h.SetVisibility)
	api.POST("/threads/:id/messages", h.AppendMessage)
	api.DELETE("/threads/:id/messages", h.DeleteMessagesAfter)
	api.POST("/threads/:id/messages/:messageId/regenerate", h.Regenerate)
	api.GET("/threads/:id/messages/:messageId/text", h.CopyText)
	api.PATCH("/threads/:id/votes", h.Vote)
	return r
}

func do(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

type errorBody struct {
	Error struct {
		Message   string `json:"message"`
		Code      string `json:"code"`
		Retryable bool   `json:"retryable"`
	} `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var out errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestRegenerateMapsErrors(t *testing.T) {
	threadID, messageID := uuid.New(), uuid.New()
	path := "/api/threads/" + threadID.String() + "/messages/" + messageID.String() + "/regenerate"

	cases := []struct {
		name      string
		err       error
		status    int
		code      string
		retryable bool
	}{
		{"not found", chat.ErrNotFound, http.StatusNotFound, "message_not_found", false},
		{"invalid target", chat.ErrInvalidTarget, http.StatusUnprocessableEntity, "invalid_target", false},
		{"no parent", chat.ErrNoCausalParent, http.StatusUnprocessableEntity, "no_causal_parent", false},
		{"bad parent", chat.ErrInvalidCausalParent, http.StatusUnprocessableEntity, "invalid_causal_parent", false},
		{"in progress", chat.ErrRegenerationInProgress, http.StatusConflict, "regeneration_in_progress", false},
		{"stale", chat.ErrStaleRegeneration, http.StatusConflict, "stale_regeneration", false},
		{"transient", chat.NewProviderError(chat.ProviderTransient, "m", errors.New("429")), http.StatusServiceUnavailable, "provider_unavailable", true},
		{"permanent", chat.NewProviderError(chat.ProviderPermanent, "m", errors.New("401")), http.StatusBadGateway, "provider_failed", false},
		{"store", &chat.StoreError{Op: "replace", Err: errors.New("pq: boom")}, http.StatusInternalServerError, "store_error", false},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRouter(&fakeConversation{regenErr: tc.err})
			rec := do(t, r, http.MethodPost, path, "")
			if rec.Code != tc.status {
				t.Fatalf("status: want=%d got=%d body=%s", tc.status, rec.Code, rec.Body.String())
			}
			body := decodeError(t, rec)
			if body.Error.Code != tc.code || body.Error.Retryable != tc.retryable {
				t.Fatalf("body: want=%s/%v got=%+v", tc.code, tc.retryable, body.Error)
			}
		})
	}
}

func TestRegenerateStoreErrorHidesCause(t *testing.T) {
	r := newTestRouter(&fakeConversation{regenErr: &chat.StoreError{Op: "replace", Err: errors.New("pq: secret detail")}})
	rec := do(t, r, http.MethodPost, "/api/threads/"+uuid.NewString()+"/messages/"+uuid.NewString()+"/regenerate", "")
	if strings.Contains(rec.Body.String(), "secret detail") {
		t.Fatalf("store cause leaked: %s", rec.Body.String())
	}
}

func TestRegeneratePassesModel(t *testing.T) {
	threadID, messageID := uuid.New(), uuid.New()
	conv := &fakeConversation{regenOut: chat.ChatMessage{ID: messageID, Parts: chat.TextParts("howdy")}}
	r := newTestRouter(conv)
	path := "/api/threads/" + threadID.String() + "/messages/" + messageID.String() + "/regenerate"

	rec := do(t, r, http.MethodPost, path, `{"model":"openai:gpt-4o"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: want=200 got=%d body=%s", rec.Code, rec.Body.String())
	}
	if conv.regenIn.ThreadID != threadID || conv.regenIn.MessageID != messageID || conv.regenIn.Model != "openai:gpt-4o" {
		t.Fatalf("input: %+v", conv.regenIn)
	}

	rec = do(t, r, http.MethodPost, path, `{"model":"deepseek:chat;`+messageID.String()+`"}`)
	if rec.Code != http.StatusOK || conv.regenIn.Model != "deepseek:chat" {
		t.Fatalf("legacy form: status=%d model=%q", rec.Code, conv.regenIn.Model)
	}

	rec = do(t, r, http.MethodPost, path, `{"model":"deepseek:chat;`+uuid.NewString()+`"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("mismatched legacy id: want=400 got=%d", rec.Code)
	}
}

func TestRegenerateRejectsBadIDs(t *testing.T) {
	r := newTestRouter(&fakeConversation{})
	rec := do(t, r, http.MethodPost, "/api/threads/nope/messages/"+uuid.NewString()+"/regenerate", "")
	if rec.Code != http.StatusBadRequest || decodeError(t, rec).Error.Code != "invalid_thread_id" {
		t.Fatalf("thread id: status=%d body=%s", rec.Code, rec.Body.String())
	}
	rec = do(t, r, http.MethodPost, "/api/threads/"+uuid.NewString()+"/messages/nope/regenerate", "")
	if rec.Code != http.StatusBadRequest || decodeError(t, rec).Error.Code != "invalid_message_id" {
		t.Fatalf("message id: status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestParseRegenerateModel(t *testing.T) {
	id := uuid.New()
	cases := map[string]string{
		"":                             "",
		"  mock:echo ":                 "mock:echo",
		"openai:gpt-4o;" + id.String(): "openai:gpt-4o",
		"openai:gpt-4o;":               "openai:gpt-4o",
		";" + id.String():              "",
	}
	for raw, want := range cases {
		got, err := ParseRegenerateModel(raw, id)
		if err != nil || got != want {
			t.Fatalf("ParseRegenerateModel(%q): want=%q got=%q err=%v", raw, want, got, err)
		}
	}
	if _, err := ParseRegenerateModel("x;not-a-uuid", id); err == nil {
		t.Fatalf("expected error for bad id")
	}
}

func TestVoteParsesType(t *testing.T) {
	threadID := uuid.New()
	conv := &fakeConversation{}
	r := newTestRouter(conv)
	path := "/api/threads/" + threadID.String() + "/votes"

	rec := do(t, r, http.MethodPatch, path, `{"message_id":"`+uuid.NewString()+`","type":"down"}`)
	if rec.Code != http.StatusOK || conv.voteUp == nil || *conv.voteUp {
		t.Fatalf("down vote: status=%d up=%v", rec.Code, conv.voteUp)
	}
	rec = do(t, r, http.MethodPatch, path, `{"message_id":"`+uuid.NewString()+`","type":"sideways"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad type: want=400 got=%d", rec.Code)
	}

	conv.voteErr = chat.ErrRegenerationInProgress
	rec = do(t, r, http.MethodPatch, path, `{"message_id":"`+uuid.NewString()+`","type":"up"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("in progress: want=409 got=%d", rec.Code)
	}
}

func TestAppendMessageAcceptsPlainText(t *testing.T) {
	conv := &fakeConversation{}
	r := newTestRouter(conv)
	threadID := uuid.New()
	rec := do(t, r, http.MethodPost, "/api/threads/"+threadID.String()+"/messages", `{"role":"user","text":"hi"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status: want=201 got=%d body=%s", rec.Code, rec.Body.String())
	}
	if conv.appendIn.ThreadID != threadID || len(conv.appendIn.Parts) != 1 || conv.appendIn.Parts[0].Text != "hi" {
		t.Fatalf("input: %+v", conv.appendIn)
	}
}

func TestDeleteMessagesAfterParsesTimestamp(t *testing.T) {
	conv := &fakeConversation{}
	r := newTestRouter(conv)
	base := "/api/threads/" + uuid.NewString() + "/messages"

	rec := do(t, r, http.MethodDelete, base+"?after=2024-05-01T10:00:00Z", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: want=200 got=%d", rec.Code)
	}
	want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if !conv.afterAt.Equal(want) {
		t.Fatalf("after: want=%v got=%v", want, conv.afterAt)
	}
	if rec := do(t, r, http.MethodDelete, base+"?after=yesterday", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad timestamp: want=400 got=%d", rec.Code)
	}
}

func TestCopyTextWithoutTextIs400(t *testing.T) {
	r := newTestRouter(&fakeConversation{})
	rec := do(t, r, http.MethodGet, "/api/threads/"+uuid.NewString()+"/messages/"+uuid.NewString()+"/text", "")
	if rec.Code != http.StatusBadRequest || decodeError(t, rec).Error.Code != "no_text" {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestGetThreadNotFound(t *testing.T) {
	r := newTestRouter(&fakeConversation{loadErr: chat.ErrThreadNotFound})
	rec := do(t, r, http.MethodGet, "/api/threads/"+uuid.NewString(), "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("want=404 got=%d", rec.Code)
	}
}

func TestCreateThreadRequiresUser(t *testing.T) {
	r := newTestRouter(&fakeConversation{})
	if rec := do(t, r, http.MethodPost, "/api/threads", `{"title":"x"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing user: want=400 got=%d", rec.Code)
	}
	rec := do(t, r, http.MethodPost, "/api/threads", `{"user_id":"`+uuid.NewString()+`","title":"x"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: want=201 got=%d", rec.Code)
	}
}

func TestListThreadsParsesCursors(t *testing.T) {
	conv := &fakeConversation{}
	r := newTestRouter(conv)
	user, cursor := uuid.New(), uuid.New()

	rec := do(t, r, http.MethodGet, "/api/threads?user_id="+user.String()+"&limit=5&ending_before="+cursor.String(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: want=200 got=%d body=%s", rec.Code, rec.Body.String())
	}
	if conv.listIn.UserID != user || conv.listIn.Limit != 5 || conv.listIn.EndingBefore != cursor || conv.listIn.StartingAfter != uuid.Nil {
		t.Fatalf("input: %+v", conv.listIn)
	}
	var body struct {
		Threads []chat.ChatThread `json:"threads"`
		HasMore bool              `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Threads) != 1 || !body.HasMore {
		t.Fatalf("body: %s", rec.Body.String())
	}

	rec = do(t, r, http.MethodGet, "/api/threads?user_id="+user.String()+"&starting_after=nope", "")
	if rec.Code != http.StatusBadRequest || decodeError(t, rec).Error.Code != "invalid_starting_after" {
		t.Fatalf("bad cursor: got=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestSetVisibility(t *testing.T) {
	conv := &fakeConversation{}
	r := newTestRouter(conv)
	path := "/api/threads/" + uuid.NewString() + "/visibility"

	rec := do(t, r, http.MethodPatch, path, `{"visibility":"public"}`)
	if rec.Code != http.StatusOK || conv.visibility != chat.VisibilityPublic {
		t.Fatalf("public: got=%d visibility=%q body=%s", rec.Code, conv.visibility, rec.Body.String())
	}
	rec = do(t, r, http.MethodPatch, path, `{"visibility":"friends"}`)
	if rec.Code != http.StatusBadRequest || decodeError(t, rec).Error.Code != "invalid_argument" {
		t.Fatalf("bad visibility: got=%d body=%s", rec.Code, rec.Body.String())
	}
}
