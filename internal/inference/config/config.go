package config

import "time"

type Duration struct {
	Duration time.Duration
}

const (
	EngineMock    = "mock"
	EngineOAIHTTP = "oai_http"
	EngineOpenAI  = "openai"
)

type EngineConfig struct {
	Type string `json:"type" yaml:"type"`

	// BaseURL is the upstream base URL (oai_http, openai).
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// APIKey is sent as a bearer token when set.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	// APIKeyEnv names an environment variable holding the key, so config files stay secret-free.
	APIKeyEnv string `json:"api_key_env,omitempty" yaml:"api_key_env,omitempty"`

	Organization string `json:"organization,omitempty" yaml:"organization,omitempty"`

	// OpenAI-compatible endpoint path for oai_http (default /v1/chat/completions).
	ChatCompletionsPath string `json:"chat_completions_path,omitempty" yaml:"chat_completions_path,omitempty"`

	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`

	// MockDelay makes the mock engine sleep before answering.
	MockDelay Duration `json:"mock_delay,omitempty" yaml:"mock_delay,omitempty"`
}

type RateLimitConfig struct {
	// RPS <= 0 disables limiting for the route.
	RPS   float64 `json:"rps,omitempty" yaml:"rps,omitempty"`
	Burst int     `json:"burst,omitempty" yaml:"burst,omitempty"`
}

type ModelConfig struct {
	// ID is the public model id, usually "provider:model".
	ID string `json:"id" yaml:"id"`

	// UpstreamModel overrides the model name sent to the engine. Defaults to the part of ID after the provider prefix.
	UpstreamModel string `json:"upstream_model,omitempty" yaml:"upstream_model,omitempty"`

	Engine    EngineConfig    `json:"engine" yaml:"engine"`
	RateLimit RateLimitConfig `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
}

type Config struct {
	Env string `json:"env" yaml:"env"`

	// DefaultModel is used when a regeneration names no model.
	DefaultModel string `json:"default_model" yaml:"default_model"`

	Models []ModelConfig `json:"models" yaml:"models"`
}
