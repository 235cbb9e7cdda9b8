package mock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yungbote/threadline-backend/internal/inference/engine"
)

func TestGenerateTextEchoesLastUser(t *testing.T) {
	e := New()
	out, err := e.GenerateText(context.Background(), "echo", []engine.Message{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "reply"},
		{Role: "user", Content: "second"},
	}, engine.GenerateOptions{})
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if out != "mock: second" {
		t.Fatalf("want=%q got=%q", "mock: second", out)
	}
}

func TestGenerateTextHonorsCancel(t *testing.T) {
	e := &Engine{Delay: time.Minute}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.GenerateText(ctx, "echo", nil, engine.GenerateOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want=context.Canceled got=%v", err)
	}
}
