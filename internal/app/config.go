package app

import (
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/threadline-backend/internal/data/db"
	"github.com/yungbote/threadline-backend/internal/platform/envutil"
	"github.com/yungbote/threadline-backend/internal/platform/logger"
	"github.com/yungbote/threadline-backend/internal/realtime/bus"
)

const (
	LockBackendNone  = "none"
	LockBackendRedis = "redis"

	RealtimeLocal = "local"
	RealtimeRedis = "redis"
)

type Config struct {
	Env         string
	HTTPAddr    string
	ServiceName string
	CORSOrigins []string

	DB db.Config

	// DefaultModel overrides the provider config's default route when set.
	DefaultModel  string
	RegenTimeout  time.Duration
	ShutdownGrace time.Duration

	LockBackend     string
	LockTTL         time.Duration
	RealtimeBackend string
	Redis           bus.RedisConfig

	// InstanceID stamps bus messages so this process can recognise its own.
	InstanceID string

	MetricsEnabled bool
	OtelEnabled    bool
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		Env:             envutil.String("APP_ENV", "development"),
		HTTPAddr:        envutil.String("HTTP_ADDR", ":8080"),
		ServiceName:     envutil.String("OTEL_SERVICE_NAME", "threadline"),
		CORSOrigins:     splitList(envutil.String("CORS_ORIGINS", "")),
		DB:              db.ConfigFromEnv(),
		DefaultModel:    strings.TrimSpace(envutil.String("DEFAULT_MODEL", "")),
		RegenTimeout:    envutil.Duration("REGEN_TIMEOUT", 2*time.Minute),
		ShutdownGrace:   envutil.Duration("SHUTDOWN_GRACE", 10*time.Second),
		LockBackend:     strings.ToLower(envutil.String("REGEN_LOCK_BACKEND", LockBackendNone)),
		LockTTL:         envutil.Duration("REGEN_LOCK_TTL", 5*time.Minute),
		RealtimeBackend: strings.ToLower(envutil.String("REALTIME_BACKEND", RealtimeLocal)),
		Redis:           bus.RedisConfigFromEnv(),
		InstanceID:      envutil.String("INSTANCE_ID", ""),
		MetricsEnabled:  envutil.Bool("METRICS_ENABLED", false),
		OtelEnabled:     envutil.Bool("OTEL_ENABLED", false),
	}
	if cfg.InstanceID == "" {
		host, _ := os.Hostname()
		cfg.InstanceID = strings.Trim(host+"-"+uuid.NewString()[:8], "-")
	}
	if log != nil {
		log.Info("config loaded",
			"env", cfg.Env,
			"http_addr", cfg.HTTPAddr,
			"db_driver", cfg.DB.Driver,
			"lock_backend", cfg.LockBackend,
			"realtime_backend", cfg.RealtimeBackend,
			"instance_id", cfg.InstanceID,
			"metrics", cfg.MetricsEnabled,
			"otel", cfg.OtelEnabled,
		)
	}
	return cfg
}

// needsRedis reports whether any configured component talks to Redis.
func (c Config) needsRedis() bool {
	return c.LockBackend == LockBackendRedis || c.RealtimeBackend == RealtimeRedis
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
