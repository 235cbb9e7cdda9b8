package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/threadline-backend/internal/http/response"
	"github.com/yungbote/threadline-backend/internal/platform/logger"
	"github.com/yungbote/threadline-backend/internal/realtime"
	"github.com/yungbote/threadline-backend/internal/services"
)

type RealtimeHandler struct {
	Log  *logger.Logger
	Hub  *realtime.SSEHub
	conv services.ConversationService
}

func NewRealtimeHandler(log *logger.Logger, hub *realtime.SSEHub, conv services.ConversationService) *RealtimeHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &RealtimeHandler{Log: log.With("handler", "RealtimeHandler"), Hub: hub, conv: conv}
}

// GET /api/threads/:id/events
//
// The stream opens with the current snapshot, then carries one ThreadSnapshot
// event per mutation. Clients order snapshots by revision.
func (h *RealtimeHandler) ThreadEvents(c *gin.Context) {
	threadID, ok := threadParam(c)
	if !ok {
		return
	}
	client := h.Hub.NewSSEClient(uuid.Nil)
	channel := realtime.ThreadChannel(threadID)
	// Subscribe before loading so no mutation falls between the two.
	h.Hub.AddChannel(client, channel)

	snap, err := h.conv.LoadThread(c.Request.Context(), threadID)
	if err != nil {
		h.Hub.CloseClient(client)
		response.RespondErr(c, err)
		return
	}
	select {
	case client.Outbound <- realtime.SSEMessage{Channel: channel, Event: realtime.SSEEventThreadSnapshot, Data: snap}:
	default:
		// A newer snapshot is already queued.
	}

	h.Log.Debug("SSE stream open", "thread_id", threadID, "client_id", client.ID)
	h.Hub.ServeHTTP(c.Writer, c.Request, client)
	h.Hub.CloseClient(client)
	h.Log.Debug("SSE stream closed", "thread_id", threadID, "client_id", client.ID)
}
