package ctxutil

import (
	"context"

	"github.com/google/uuid"
)

type traceDataKey struct{}

// TraceData carries request correlation ids, plus the thread and message a
// request addresses when its route names them.
type TraceData struct {
	TraceID   string
	RequestID string
	ThreadID  uuid.UUID
	MessageID uuid.UUID
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(ctx, traceDataKey{}, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	val := ctx.Value(traceDataKey{})
	if td, ok := val.(*TraceData); ok {
		return td
	}
	return nil
}

// LogFields returns the set ids as key/value pairs for the structured logger.
func (td *TraceData) LogFields() []interface{} {
	if td == nil {
		return nil
	}
	var out []interface{}
	if td.TraceID != "" {
		out = append(out, "trace_id", td.TraceID)
	}
	if td.RequestID != "" {
		out = append(out, "request_id", td.RequestID)
	}
	if td.ThreadID != uuid.Nil {
		out = append(out, "thread_id", td.ThreadID.String())
	}
	if td.MessageID != uuid.Nil {
		out = append(out, "message_id", td.MessageID.String())
	}
	return out
}
