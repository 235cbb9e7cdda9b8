package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/threadline-backend/internal/platform/ctxutil"
)

const (
	headerTraceID   = "X-Trace-Id"
	headerRequestID = "X-Request-Id"
)

// AttachTraceContext stamps every request with trace and request ids and, for
// thread routes, the addressed thread and message. The ids are echoed in
// response headers and tagged on the active span.
func AttachTraceContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := strings.TrimSpace(c.GetHeader(headerRequestID))
		if reqID == "" {
			reqID = uuid.New().String()
		}
		span := trace.SpanFromContext(c.Request.Context())
		traceID := strings.TrimSpace(c.GetHeader(headerTraceID))
		if traceID == "" && span.SpanContext().HasTraceID() {
			traceID = span.SpanContext().TraceID().String()
		}
		if traceID == "" {
			traceID = uuid.New().String()
		}

		td := &ctxutil.TraceData{
			TraceID:   traceID,
			RequestID: reqID,
			ThreadID:  routeUUID(c, "id"),
			MessageID: routeUUID(c, "messageId"),
		}
		attrs := []attribute.KeyValue{attribute.String("request.id", reqID)}
		if td.ThreadID != uuid.Nil {
			attrs = append(attrs, attribute.String("thread.id", td.ThreadID.String()))
			c.Set("thread_id", td.ThreadID.String())
		}
		if td.MessageID != uuid.Nil {
			attrs = append(attrs, attribute.String("message.id", td.MessageID.String()))
			c.Set("message_id", td.MessageID.String())
		}
		span.SetAttributes(attrs...)

		c.Request = c.Request.WithContext(ctxutil.WithTraceData(c.Request.Context(), td))
		c.Set("trace_id", traceID)
		c.Set("request_id", reqID)
		c.Writer.Header().Set(headerTraceID, traceID)
		c.Writer.Header().Set(headerRequestID, reqID)
		c.Next()
	}
}

// routeUUID is uuid.Nil when the param is absent or malformed; handlers report the bad id.
func routeUUID(c *gin.Context, name string) uuid.UUID {
	id, err := uuid.Parse(strings.TrimSpace(c.Param(name)))
	if err != nil {
		return uuid.Nil
	}
	return id
}
