package router

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/yungbote/threadline-backend/internal/domain/chat"
	"github.com/yungbote/threadline-backend/internal/inference/config"
	"github.com/yungbote/threadline-backend/internal/inference/engine"
	"github.com/yungbote/threadline-backend/internal/inference/engine/mock"
	"github.com/yungbote/threadline-backend/internal/inference/engine/oaihttp"
	"github.com/yungbote/threadline-backend/internal/inference/engine/openaisdk"
	"github.com/yungbote/threadline-backend/internal/observability"
	"github.com/yungbote/threadline-backend/internal/platform/logger"
)

type Route struct {
	PublicModel   string
	UpstreamModel string
	Engine        engine.Engine
	Limiter       *rate.Limiter
}

// Router selects an engine by public model id.
type Router struct {
	routes       map[string]Route
	defaultModel string
	log          *logger.Logger
	metrics      *observability.Metrics
}

func New(cfg *config.Config, log *logger.Logger, metrics *observability.Metrics) (*Router, error) {
	if cfg == nil {
		return nil, errors.New("router: config required")
	}
	if log == nil {
		log = logger.Nop()
	}
	r := &Router{
		routes:       map[string]Route{},
		defaultModel: strings.TrimSpace(cfg.DefaultModel),
		log:          log.With("component", "InferenceRouter"),
		metrics:      metrics,
	}
	for _, m := range cfg.Models {
		id := strings.TrimSpace(m.ID)
		if id == "" {
			return nil, fmt.Errorf("model id required")
		}
		if _, exists := r.routes[id]; exists {
			return nil, fmt.Errorf("duplicate model id: %s", id)
		}

		var eng engine.Engine
		switch strings.ToLower(strings.TrimSpace(m.Engine.Type)) {
		case config.EngineMock:
			eng = &mock.Engine{Delay: m.Engine.MockDelay.Duration}
		case "openai_http", config.EngineOAIHTTP:
			e, err := oaihttp.New(m.Engine)
			if err != nil {
				return nil, err
			}
			eng = e
		case config.EngineOpenAI:
			e, err := openaisdk.New(m.Engine)
			if err != nil {
				return nil, err
			}
			eng = e
		default:
			return nil, fmt.Errorf("unsupported engine type %q for model %q", m.Engine.Type, id)
		}

		upstream := strings.TrimSpace(m.UpstreamModel)
		if upstream == "" {
			upstream = config.UpstreamName(id)
		}

		r.add(Route{
			PublicModel:   id,
			UpstreamModel: upstream,
			Engine:        eng,
			Limiter:       newLimiter(m.RateLimit),
		})
	}
	if r.defaultModel != "" {
		if _, ok := r.routes[r.defaultModel]; !ok {
			return nil, fmt.Errorf("default model %q has no route", r.defaultModel)
		}
	}
	return r, nil
}

// NewStatic builds a router from prepared routes; tests use it to inject engines.
func NewStatic(defaultModel string, routes ...Route) *Router {
	r := &Router{routes: map[string]Route{}, defaultModel: defaultModel, log: logger.Nop()}
	for _, rt := range routes {
		r.add(rt)
	}
	return r
}

func (r *Router) add(rt Route) {
	if rt.UpstreamModel == "" {
		rt.UpstreamModel = config.UpstreamName(rt.PublicModel)
	}
	r.routes[rt.PublicModel] = rt
}

func newLimiter(rl config.RateLimitConfig) *rate.Limiter {
	if rl.RPS <= 0 {
		return nil
	}
	burst := rl.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rl.RPS), burst)
}

func (r *Router) ListModels() []string {
	out := make([]string, 0, len(r.routes))
	for id := range r.routes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Router) DefaultModel() string { return r.defaultModel }

func (r *Router) RouteForModel(model string) (Route, bool) {
	model = strings.TrimSpace(model)
	if model == "" {
		model = r.defaultModel
	}
	route, ok := r.routes[model]
	return route, ok
}

// Generate runs one completion on the route for model (default when empty).
// Failures are returned as *chat.ProviderError.
func (r *Router) Generate(ctx context.Context, model string, messages []engine.Message, opts engine.GenerateOptions) (string, error) {
	route, ok := r.RouteForModel(model)
	if !ok {
		return "", chat.NewProviderError(chat.ProviderPermanent, model, fmt.Errorf("unknown model %q", model))
	}

	if route.Limiter != nil {
		if err := route.Limiter.Wait(ctx); err != nil {
			r.metrics.ObserveProviderCall(route.PublicModel, "throttled", 0)
			return "", chat.NewProviderError(chat.ProviderTransient, route.PublicModel, fmt.Errorf("rate limit: %w", err))
		}
	}

	start := time.Now()
	text, err := route.Engine.GenerateText(ctx, route.UpstreamModel, messages, opts)
	dur := time.Since(start)
	if err != nil {
		pe := Classify(route.PublicModel, err)
		r.metrics.ObserveProviderCall(route.PublicModel, string(pe.Kind), dur)
		r.log.Warn("provider call failed", "model", route.PublicModel, "kind", pe.Kind, "duration", dur, "error", err)
		return "", pe
	}
	r.metrics.ObserveProviderCall(route.PublicModel, "ok", dur)
	return text, nil
}

// Classify maps an engine failure onto a transient or permanent ProviderError.
func Classify(model string, err error) *chat.ProviderError {
	if pe, ok := chat.IsProviderError(err); ok {
		return pe
	}
	return chat.NewProviderError(classifyKind(err), model, err)
}

func classifyKind(err error) chat.ProviderErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return chat.ProviderTransient
	}
	var se engine.StatusError
	if errors.As(err, &se) {
		switch code := se.HTTPStatus(); {
		case code == http.StatusRequestTimeout,
			code == http.StatusConflict,
			code == http.StatusTooEarly,
			code == http.StatusTooManyRequests,
			code >= 500:
			return chat.ProviderTransient
		case code == 0:
			return chat.ProviderTransient
		default:
			return chat.ProviderPermanent
		}
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return chat.ProviderTransient
	}
	if strings.Contains(err.Error(), "empty upstream completion") {
		return chat.ProviderTransient
	}
	return chat.ProviderPermanent
}
