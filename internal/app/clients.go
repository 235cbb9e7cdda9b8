package app

import (
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/threadline-backend/internal/inference/config"
	"github.com/yungbote/threadline-backend/internal/inference/router"
	"github.com/yungbote/threadline-backend/internal/observability"
	"github.com/yungbote/threadline-backend/internal/platform/logger"
	"github.com/yungbote/threadline-backend/internal/realtime/bus"
)

type Clients struct {
	Models *router.Router
	// Redis is nil unless a Redis-backed component is configured.
	Redis *goredis.Client
}

func wireClients(log *logger.Logger, cfg Config, metrics *observability.Metrics) (Clients, error) {
	log.Info("Wiring clients...")
	var out Clients

	modelCfg, err := config.Load()
	if err != nil {
		return out, fmt.Errorf("load provider config: %w", err)
	}
	if cfg.DefaultModel != "" {
		modelCfg.DefaultModel = cfg.DefaultModel
	}
	out.Models, err = router.New(modelCfg, log, metrics)
	if err != nil {
		return out, fmt.Errorf("init inference router: %w", err)
	}
	log.Info("inference routes ready", "models", out.Models.ListModels(), "default", out.Models.DefaultModel())

	if cfg.needsRedis() {
		out.Redis, err = bus.NewRedisClient(cfg.Redis)
		if err != nil {
			return out, fmt.Errorf("init redis: %w", err)
		}
	}
	return out, nil
}

func (c Clients) Close() {
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
}
