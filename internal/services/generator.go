package services

import (
	"context"
	"strings"

	"github.com/yungbote/threadline-backend/internal/domain/chat"
	"github.com/yungbote/threadline-backend/internal/inference/engine"
)

// GenerateRequest is everything a provider needs to redo one assistant reply.
type GenerateRequest struct {
	// Prompt is the text of the causal parent user message.
	Prompt string
	// PriorResponse is the reply being replaced.
	PriorResponse string
	Model         string
	// History is the conversation before the causal parent, oldest first.
	History []chat.ChatMessage
}

type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// ModelGenerator is satisfied by inference/router.Router.
type ModelGenerator interface {
	Generate(ctx context.Context, model string, messages []engine.Message, opts engine.GenerateOptions) (string, error)
}

const regenerateInstruction = "You are answering the final user message again. Your previous answer is shown below; " +
	"write a fresh answer to the same message instead of repeating it."

type routedGenerator struct {
	models ModelGenerator
	opts   engine.GenerateOptions
}

func NewRoutedGenerator(models ModelGenerator, opts engine.GenerateOptions) Generator {
	return &routedGenerator{models: models, opts: opts}
}

func (g *routedGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	return g.models.Generate(ctx, req.Model, BuildPrompt(req), g.opts)
}

// BuildPrompt lays out a regeneration request: instruction and prior answer,
// then the earlier turns, then the prompting user message last.
func BuildPrompt(req GenerateRequest) []engine.Message {
	out := make([]engine.Message, 0, len(req.History)+2)

	system := regenerateInstruction
	if prior := strings.TrimSpace(req.PriorResponse); prior != "" {
		system += "\n\nPREVIOUS ANSWER:\n" + prior
	}
	out = append(out, engine.Message{Role: "system", Content: system})

	for i := range req.History {
		m := &req.History[i]
		text := strings.TrimSpace(m.Text())
		if text == "" || !chat.ValidRole(m.Role) {
			continue
		}
		out = append(out, engine.Message{Role: m.Role, Content: text})
	}
	out = append(out, engine.Message{Role: chat.RoleUser, Content: req.Prompt})
	return out
}
