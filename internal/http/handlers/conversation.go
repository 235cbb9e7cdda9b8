package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/threadline-backend/internal/domain/chat"
	"github.com/yungbote/threadline-backend/internal/http/response"
	"github.com/yungbote/threadline-backend/internal/platform/logger"
	"github.com/yungbote/threadline-backend/internal/services"
)

type ConversationHandler struct {
	log  *logger.Logger
	conv services.ConversationService
}

type ConversationHandlerDeps struct {
	Log          *logger.Logger
	Conversation services.ConversationService
}

func NewConversationHandler(deps ConversationHandlerDeps) *ConversationHandler {
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	return &ConversationHandler{log: log.With("handler", "ConversationHandler"), conv: deps.Conversation}
}

type createThreadReq struct {
	UserID     uuid.UUID `json:"user_id"`
	Title      string    `json:"title"`
	Visibility string    `json:"visibility"`
}

// POST /api/threads
func (h *ConversationHandler) CreateThread(c *gin.Context) {
	var req createThreadReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	thread, err := h.conv.CreateThread(c.Request.Context(), services.CreateThreadInput{
		UserID:     req.UserID,
		Title:      strings.TrimSpace(req.Title),
		Visibility: req.Visibility,
	})
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"thread": thread})
}

// GET /api/threads?user_id=...&limit=50&starting_after=...&ending_before=...
func (h *ConversationHandler) ListThreads(c *gin.Context) {
	userID, err := uuid.Parse(strings.TrimSpace(c.Query("user_id")))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_user_id", err)
		return
	}
	in := services.ListThreadsInput{UserID: userID}
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			in.Limit = n
		}
	}
	for key, dst := range map[string]*uuid.UUID{
		"starting_after": &in.StartingAfter,
		"ending_before":  &in.EndingBefore,
	} {
		v := strings.TrimSpace(c.Query(key))
		if v == "" {
			continue
		}
		id, err := uuid.Parse(v)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_"+key, err)
			return
		}
		*dst = id
	}
	page, err := h.conv.ListThreads(c.Request.Context(), in)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"threads": page.Threads, "has_more": page.HasMore})
}

// GET /api/threads/:id
func (h *ConversationHandler) GetThread(c *gin.Context) {
	threadID, ok := threadParam(c)
	if !ok {
		return
	}
	snap, err := h.conv.LoadThread(c.Request.Context(), threadID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"snapshot": snap})
}

type visibilityReq struct {
	Visibility string `json:"visibility"`
}

// PATCH /api/threads/:id/visibility
func (h *ConversationHandler) SetVisibility(c *gin.Context) {
	threadID, ok := threadParam(c)
	if !ok {
		return
	}
	var req visibilityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	thread, err := h.conv.SetVisibility(c.Request.Context(), threadID, req.Visibility)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"thread": thread})
}

// DELETE /api/threads/:id
func (h *ConversationHandler) DeleteThread(c *gin.Context) {
	threadID, ok := threadParam(c)
	if !ok {
		return
	}
	if err := h.conv.DeleteThread(c.Request.Context(), threadID); err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

type appendMessageReq struct {
	ID             *uuid.UUID         `json:"id"`
	Role           string             `json:"role"`
	Text           string             `json:"text"`
	Parts          []chat.MessagePart `json:"parts"`
	Model          string             `json:"model"`
	CausalParentID *uuid.UUID         `json:"causal_parent_id"`
	CreatedAt      *time.Time         `json:"created_at"`
}

// POST /api/threads/:id/messages
func (h *ConversationHandler) AppendMessage(c *gin.Context) {
	threadID, ok := threadParam(c)
	if !ok {
		return
	}
	var req appendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	in := services.AppendMessageInput{
		ThreadID:       threadID,
		Role:           strings.TrimSpace(req.Role),
		Parts:          req.Parts,
		Model:          req.Model,
		CausalParentID: req.CausalParentID,
	}
	if len(in.Parts) == 0 && req.Text != "" {
		in.Parts = chat.TextParts(req.Text)
	}
	if req.ID != nil {
		in.MessageID = *req.ID
	}
	if req.CreatedAt != nil {
		in.CreatedAt = req.CreatedAt.UTC()
	}
	msg, err := h.conv.AppendMessage(c.Request.Context(), in)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"message": msg})
}

type saveMessagesReq struct {
	Messages []chat.ChatMessage `json:"messages"`
}

// PUT /api/threads/:id/messages
func (h *ConversationHandler) SaveMessages(c *gin.Context) {
	threadID, ok := threadParam(c)
	if !ok {
		return
	}
	var req saveMessagesReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	res, err := h.conv.SaveMessages(c.Request.Context(), threadID, req.Messages)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"inserted": res.Inserted, "updated": res.Updated})
}

type regenerateReq struct {
	Model string `json:"model"`
}

// POST /api/threads/:id/messages/:messageId/regenerate
func (h *ConversationHandler) Regenerate(c *gin.Context) {
	threadID, ok := threadParam(c)
	if !ok {
		return
	}
	messageID, ok := messageParam(c)
	if !ok {
		return
	}
	var req regenerateReq
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
	}
	model, err := ParseRegenerateModel(req.Model, messageID)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_model", err)
		return
	}
	msg, err := h.conv.RegenerateAt(c.Request.Context(), services.RegenerateInput{
		ThreadID:  threadID,
		MessageID: messageID,
		Model:     model,
	})
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"message": msg})
}

// ParseRegenerateModel accepts "provider:model" or the older "model;messageId"
// form. In the older form the id must name the message in the path.
func ParseRegenerateModel(raw string, messageID uuid.UUID) (string, error) {
	raw = strings.TrimSpace(raw)
	model, rest, found := strings.Cut(raw, ";")
	if !found {
		return raw, nil
	}
	rest = strings.TrimSpace(rest)
	if rest != "" {
		id, err := uuid.Parse(rest)
		if err != nil {
			return "", fmt.Errorf("invalid message id %q: %w", rest, err)
		}
		if id != messageID {
			return "", fmt.Errorf("message id %s does not match %s", id, messageID)
		}
	}
	return strings.TrimSpace(model), nil
}

// DELETE /api/threads/:id/messages/:messageId/trailing
func (h *ConversationHandler) TruncateFrom(c *gin.Context) {
	threadID, ok := threadParam(c)
	if !ok {
		return
	}
	messageID, ok := messageParam(c)
	if !ok {
		return
	}
	ids, err := h.conv.TruncateFrom(c.Request.Context(), threadID, messageID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"deleted": ids})
}

// DELETE /api/threads/:id/messages?after=2024-01-01T00:00:00Z
func (h *ConversationHandler) DeleteMessagesAfter(c *gin.Context) {
	threadID, ok := threadParam(c)
	if !ok {
		return
	}
	at, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(c.Query("after")))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_after", err)
		return
	}
	ids, err := h.conv.DeleteMessagesAfter(c.Request.Context(), threadID, at)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"deleted": ids})
}

// GET /api/threads/:id/messages/:messageId/text
func (h *ConversationHandler) CopyText(c *gin.Context) {
	threadID, ok := threadParam(c)
	if !ok {
		return
	}
	messageID, ok := messageParam(c)
	if !ok {
		return
	}
	text, err := h.conv.CopyText(c.Request.Context(), threadID, messageID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"text": text})
}

// GET /api/threads/:id/votes
func (h *ConversationHandler) ListVotes(c *gin.Context) {
	threadID, ok := threadParam(c)
	if !ok {
		return
	}
	votes, err := h.conv.ListVotes(c.Request.Context(), threadID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"votes": votes})
}

type voteReq struct {
	MessageID uuid.UUID `json:"message_id"`
	Type      string    `json:"type"`
}

// PATCH /api/threads/:id/votes
func (h *ConversationHandler) Vote(c *gin.Context) {
	threadID, ok := threadParam(c)
	if !ok {
		return
	}
	var req voteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	var up bool
	switch strings.ToLower(strings.TrimSpace(req.Type)) {
	case chat.VoteUp:
		up = true
	case chat.VoteDown:
	default:
		response.RespondError(c, http.StatusBadRequest, "invalid_vote_type", fmt.Errorf("type must be %q or %q", chat.VoteUp, chat.VoteDown))
		return
	}
	vote, err := h.conv.SetVote(c.Request.Context(), threadID, req.MessageID, up)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"vote": vote})
}

func threadParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_thread_id", err)
		return uuid.Nil, false
	}
	return id, true
}

func messageParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("messageId"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_message_id", err)
		return uuid.Nil, false
	}
	return id, true
}
