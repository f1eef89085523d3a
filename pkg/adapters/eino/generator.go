// Package eino adapts Eino chat models to the Parley generator port.
package eino

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Generator renders a prompt into chat messages and asks the model for one reply.
type Generator struct {
	model  model.BaseChatModel
	logger *slog.Logger
}

// Option configures the Generator.
type Option func(*Generator)

func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// New wraps any Eino chat model.
func New(m model.BaseChatModel, opts ...Option) *Generator {
	g := &Generator{model: m, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// OpenAIConfig holds the settings of an OpenAI compatible endpoint.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature *float32
}

// NewOpenAI builds a Generator backed by an OpenAI compatible chat model.
func NewOpenAI(ctx context.Context, cfg OpenAIConfig, opts ...Option) (*Generator, error) {
	mc := &openai.ChatModelConfig{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
	}
	if cfg.MaxTokens > 0 {
		maxTokens := cfg.MaxTokens
		mc.MaxTokens = &maxTokens
	}
	m, err := openai.NewChatModel(ctx, mc)
	if err != nil {
		return nil, fmt.Errorf("error creating chat model: %w", err)
	}
	return New(m, opts...), nil
}

// Generate implements ports.Generator.
func (g *Generator) Generate(ctx context.Context, p domain.Prompt) (string, error) {
	out, err := g.model.Generate(ctx, Messages(p))
	if err != nil {
		return "", err
	}
	if out == nil {
		return "", fmt.Errorf("model returned no message")
	}
	if out.ResponseMeta != nil && out.ResponseMeta.Usage != nil {
		g.logger.Debug("Model usage",
			logging.SessionID(p.SessionID),
			slog.Int("prompt_tokens", out.ResponseMeta.Usage.PromptTokens),
			slog.Int("completion_tokens", out.ResponseMeta.Usage.CompletionTokens),
		)
	}
	return out.Content, nil
}

// Messages renders a prompt as a system message (the role) followed by a
// user message carrying the transcript and the task.
func Messages(p domain.Prompt) []*schema.Message {
	var sys strings.Builder
	if p.SystemPrompt != "" {
		sys.WriteString(p.SystemPrompt)
		sys.WriteString("\n\n")
	}
	fmt.Fprintf(&sys, "You are %s in a structured conversation.", p.Speaker)
	if p.Topic != "" {
		fmt.Fprintf(&sys, " The topic is: %s", p.Topic)
	}
	sys.WriteString("\nReply with your next utterance only, without a speaker label.")

	var user strings.Builder
	if len(p.Context) > 0 {
		user.WriteString("Conversation so far:\n")
		for _, e := range p.Context {
			if e.Target != "" {
				fmt.Fprintf(&user, "%s (to %s): %s\n", e.Speaker, e.Target, e.Content)
			} else {
				fmt.Fprintf(&user, "%s: %s\n", e.Speaker, e.Content)
			}
		}
		user.WriteString("\n")
	}
	fmt.Fprintf(&user, "Round %d. Your task: %s.", p.Round, p.TaskType)
	if p.Description != "" {
		fmt.Fprintf(&user, " %s", p.Description)
	}
	if p.Target != "" {
		fmt.Fprintf(&user, "\nAddress %s directly.", p.Target)
	}

	return []*schema.Message{
		schema.SystemMessage(sys.String()),
		schema.UserMessage(user.String()),
	}
}
