package openaisdk

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/yungbote/threadline-backend/internal/inference/config"
	"github.com/yungbote/threadline-backend/internal/inference/engine"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func respond(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestGenerateTextUsesBaseURL(t *testing.T) {
	var seenURL string
	var body map[string]any
	hc := &http.Client{Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		seenURL = r.URL.String()
		_ = json.NewDecoder(r.Body).Decode(&body)
		return respond(200, `{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"regenerated"},"finish_reason":"stop"}]}`), nil
	})}
	e, err := NewWithHTTPClient(config.EngineConfig{APIKey: "sk-test", BaseURL: "http://gateway/v1"}, hc)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := e.GenerateText(context.Background(), "gpt-4o", []engine.Message{{Role: "user", Content: "hi"}}, engine.GenerateOptions{})
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if out != "regenerated" {
		t.Fatalf("want=regenerated got=%q", out)
	}
	if seenURL != "http://gateway/v1/chat/completions" {
		t.Fatalf("url: got=%s", seenURL)
	}
	if body["model"] != "gpt-4o" {
		t.Fatalf("model: got=%v", body["model"])
	}
}

func TestGenerateTextExposesStatus(t *testing.T) {
	hc := &http.Client{Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		return respond(429, `{"error":{"message":"slow down","type":"rate_limit"}}`), nil
	})}
	e, err := NewWithHTTPClient(config.EngineConfig{APIKey: "sk-test"}, hc)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = e.GenerateText(context.Background(), "gpt-4o", []engine.Message{{Role: "user", Content: "hi"}}, engine.GenerateOptions{})
	var se engine.StatusError
	if !errors.As(err, &se) || se.HTTPStatus() != 429 {
		t.Fatalf("want status 429 got=%v", err)
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(config.EngineConfig{}); err == nil {
		t.Fatalf("expected error without api key")
	}
}
