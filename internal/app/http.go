package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/threadline-backend/internal/http"
	httpH "github.com/yungbote/threadline-backend/internal/http/handlers"
	"github.com/yungbote/threadline-backend/internal/observability"
	"github.com/yungbote/threadline-backend/internal/platform/logger"
	"github.com/yungbote/threadline-backend/internal/realtime"
)

type Handlers struct {
	Health       *httpH.HealthHandler
	Conversation *httpH.ConversationHandler
	Realtime     *httpH.RealtimeHandler
}

func wireHandlers(log *logger.Logger, db *gorm.DB, services Services, sseHub *realtime.SSEHub) Handlers {
	log.Info("Wiring handlers...")
	var pingers []httpH.Pinger
	if sqlDB, err := db.DB(); err == nil {
		pingers = append(pingers, sqlDB)
	}
	return Handlers{
		Health:       httpH.NewHealthHandler(pingers...),
		Conversation: httpH.NewConversationHandler(httpH.ConversationHandlerDeps{Log: log, Conversation: services.Conversation}),
		Realtime:     httpH.NewRealtimeHandler(log, sseHub, services.Conversation),
	}
}

func wireServer(log *logger.Logger, cfg Config, handlers Handlers, metrics *observability.Metrics) *http.Server {
	serviceName := ""
	if cfg.OtelEnabled {
		serviceName = cfg.ServiceName
	}
	return http.NewServer(http.RouterConfig{
		Log:                 log,
		Metrics:             metrics,
		CORSOrigins:         cfg.CORSOrigins,
		ServiceName:         serviceName,
		ConversationHandler: handlers.Conversation,
		RealtimeHandler:     handlers.Realtime,
		HealthHandler:       handlers.Health,
	})
}
