package services

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/threadline-backend/internal/domain/chat"
	"github.com/yungbote/threadline-backend/internal/inference/engine"
)

func TestBuildPromptOrder(t *testing.T) {
	req := GenerateRequest{
		Prompt:        "again",
		PriorResponse: "hey",
		History: []chat.ChatMessage{
			{ID: uuid.New(), Role: chat.RoleUser, Parts: chat.TextParts("hi")},
			{ID: uuid.New(), Role: chat.RoleAssistant, Parts: chat.TextParts("hello")},
			{ID: uuid.New(), Role: chat.RoleAssistant, Parts: []chat.MessagePart{{Type: chat.PartFile}}},
		},
	}
	msgs := BuildPrompt(req)
	if len(msgs) != 4 {
		t.Fatalf("len: want=4 got=%d (%+v)", len(msgs), msgs)
	}
	if msgs[0].Role != "system" || !strings.Contains(msgs[0].Content, "PREVIOUS ANSWER:\nhey") {
		t.Fatalf("system: %+v", msgs[0])
	}
	if msgs[1].Content != "hi" || msgs[2].Content != "hello" || msgs[2].Role != chat.RoleAssistant {
		t.Fatalf("history: %+v", msgs[1:3])
	}
	if last := msgs[3]; last.Role != chat.RoleUser || last.Content != "again" {
		t.Fatalf("last: %+v", last)
	}
}

func TestBuildPromptWithoutPrior(t *testing.T) {
	msgs := BuildPrompt(GenerateRequest{Prompt: "hi"})
	if len(msgs) != 2 || strings.Contains(msgs[0].Content, "PREVIOUS ANSWER") {
		t.Fatalf("got=%+v", msgs)
	}
}

type recordingModels struct {
	model string
	msgs  []engine.Message
	opts  engine.GenerateOptions
}

func (r *recordingModels) Generate(_ context.Context, model string, msgs []engine.Message, opts engine.GenerateOptions) (string, error) {
	r.model, r.msgs, r.opts = model, msgs, opts
	return "ok", nil
}

func TestRoutedGeneratorPassesModelAndOptions(t *testing.T) {
	models := &recordingModels{}
	gen := NewRoutedGenerator(models, engine.GenerateOptions{Temperature: 0.3, MaxTokens: 64})
	out, err := gen.Generate(context.Background(), GenerateRequest{Prompt: "hi", Model: "openai:gpt-4o"})
	if err != nil || out != "ok" {
		t.Fatalf("out=%q err=%v", out, err)
	}
	if models.model != "openai:gpt-4o" || models.opts.MaxTokens != 64 || len(models.msgs) != 2 {
		t.Fatalf("recorded: %+v", models)
	}
}
