package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/threadline-backend/internal/http/handlers"
	httpMW "github.com/yungbote/threadline-backend/internal/http/middleware"
	"github.com/yungbote/threadline-backend/internal/observability"
	"github.com/yungbote/threadline-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	Metrics     *observability.Metrics
	CORSOrigins []string
	// ServiceName tags otelgin spans.
	ServiceName string

	ConversationHandler *httpH.ConversationHandler
	RealtimeHandler     *httpH.RealtimeHandler
	HealthHandler       *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins...))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	api := r.Group("/api")
	{
		if h := cfg.ConversationHandler; h != nil {
			api.POST("/threads", h.CreateThread)
			api.GET("/threads", h.ListThreads)
			api.GET("/threads/:id", h.GetThread)
			api.PATCH("/threads/:id/visibility", h.SetVisibility)
			api.DELETE("/threads/:id", h.DeleteThread)

			api.POST("/threads/:id/messages", h.AppendMessage)
			api.PUT("/threads/:id/messages", h.SaveMessages)
			api.DELETE("/threads/:id/messages", h.DeleteMessagesAfter)
			api.POST("/threads/:id/messages/:messageId/regenerate", h.Regenerate)
			api.DELETE("/threads/:id/messages/:messageId/trailing", h.TruncateFrom)
			api.GET("/threads/:id/messages/:messageId/text", h.CopyText)

			api.GET("/threads/:id/votes", h.ListVotes)
			api.PATCH("/threads/:id/votes", h.Vote)
		}

		// Realtime (SSE)
		if cfg.RealtimeHandler != nil {
			api.GET("/threads/:id/events", cfg.RealtimeHandler.ThreadEvents)
		}
	}

	return r
}
