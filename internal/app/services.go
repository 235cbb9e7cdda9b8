package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/threadline-backend/internal/data/aggregates"
	"github.com/yungbote/threadline-backend/internal/inference/engine"
	"github.com/yungbote/threadline-backend/internal/observability"
	"github.com/yungbote/threadline-backend/internal/platform/logger"
	"github.com/yungbote/threadline-backend/internal/realtime"
	"github.com/yungbote/threadline-backend/internal/realtime/bus"
	"github.com/yungbote/threadline-backend/internal/services"
)

type Services struct {
	Conversation services.ConversationService
	// Bus is nil for the local realtime backend.
	Bus bus.Bus
}

func wireServices(
	db *gorm.DB,
	log *logger.Logger,
	cfg Config,
	reposet Repos,
	clients Clients,
	hub *realtime.SSEHub,
	metrics *observability.Metrics,
) (Services, error) {
	log.Info("Wiring services...")
	var out Services

	var emitter services.SSEEmitter = &services.HubEmitter{Hub: hub}
	switch cfg.RealtimeBackend {
	case RealtimeLocal, "":
	case RealtimeRedis:
		b, err := bus.NewRedisBus(log, clients.Redis, cfg.Redis.Channel, cfg.InstanceID)
		if err != nil {
			return out, fmt.Errorf("init SSE bus: %w", err)
		}
		out.Bus = b
		emitter = &services.RedisEmitter{Bus: b, Log: log}
	default:
		return out, fmt.Errorf("unsupported REALTIME_BACKEND %q", cfg.RealtimeBackend)
	}

	var lock services.RegenLock
	switch cfg.LockBackend {
	case LockBackendNone, "":
		lock = services.NewNoopRegenLock()
	case LockBackendRedis:
		lock = services.NewRedisRegenLock(clients.Redis, "threadline:regen:", cfg.LockTTL)
	default:
		return out, fmt.Errorf("unsupported REGEN_LOCK_BACKEND %q", cfg.LockBackend)
	}

	agg := aggregates.NewConversationAggregate(aggregates.ConversationAggregateDeps{
		Base: aggregates.BaseDeps{
			DB:    db,
			Log:   log,
			Hooks: aggregates.NewObservabilityHooks(metrics),
		},
		Threads:  reposet.Chat.Threads,
		Messages: reposet.Chat.Messages,
		Votes:    reposet.Chat.Votes,
	})

	conv, err := services.NewConversationService(services.ConversationServiceDeps{
		Log:          log,
		Repos:        reposet.Chat,
		Aggregate:    agg,
		Generator:    services.NewRoutedGenerator(clients.Models, engine.GenerateOptions{}),
		Sink:         services.NewSSESnapshotSink(emitter),
		Lock:         lock,
		Metrics:      metrics,
		DefaultModel: clients.Models.DefaultModel(),
		RegenTimeout: cfg.RegenTimeout,
	})
	if err != nil {
		return out, fmt.Errorf("init conversation service: %w", err)
	}
	out.Conversation = conv
	return out, nil
}
