package openaisdk

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	go_openai "github.com/sashabaranov/go-openai"

	"github.com/yungbote/threadline-backend/internal/inference/config"
	"github.com/yungbote/threadline-backend/internal/inference/engine"
)

// Engine calls the OpenAI API (or a compatible base URL) through go-openai.
type Engine struct {
	client      *go_openai.Client
	timeout     time.Duration
	temperature float64
	maxTokens   int
}

func New(cfg config.EngineConfig) (*Engine, error) {
	return NewWithHTTPClient(cfg, nil)
}

// NewWithHTTPClient swaps the transport; tests use it to stay off the network.
func NewWithHTTPClient(cfg config.EngineConfig, httpClient *http.Client) (*Engine, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("openai: api_key required")
	}
	c := go_openai.DefaultConfig(apiKey)
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		c.BaseURL = base
	}
	if cfg.Organization != "" {
		c.OrgID = cfg.Organization
	}
	if httpClient != nil {
		c.HTTPClient = httpClient
	}
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Engine{
		client:      go_openai.NewClientWithConfig(c),
		timeout:     timeout,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

func (e *Engine) GenerateText(ctx context.Context, model string, messages []engine.Message, opts engine.GenerateOptions) (string, error) {
	msgs := make([]go_openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		msgs = append(msgs, go_openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	if len(msgs) == 0 {
		return "", errors.New("no messages")
	}

	req := go_openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: float32(e.temperature),
		MaxTokens:   e.maxTokens,
	}
	if opts.Temperature > 0 {
		req.Temperature = float32(opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", wrapError(err)
	}
	for _, c := range resp.Choices {
		if strings.TrimSpace(c.Message.Content) != "" {
			return c.Message.Content, nil
		}
	}
	return "", errors.New("empty upstream completion")
}

// Error exposes the upstream status of a go-openai failure.
type Error struct {
	Status int
	Err    error
}

func (e *Error) Error() string   { return e.Err.Error() }
func (e *Error) Unwrap() error   { return e.Err }
func (e *Error) HTTPStatus() int { return e.Status }

func wrapError(err error) error {
	var apiErr *go_openai.APIError
	if errors.As(err, &apiErr) {
		return &Error{Status: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *go_openai.RequestError
	if errors.As(err, &reqErr) {
		return &Error{Status: reqErr.HTTPStatusCode, Err: err}
	}
	return err
}
