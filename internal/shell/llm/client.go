// Package llm provides the AI analysis backend for the ai_analyze action
// and free-form operator questions.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// ErrDisabled is returned when no API key is configured.
var ErrDisabled = errors.New("ai analysis is not configured")

// DefaultTimeout bounds one completion round-trip.
const DefaultTimeout = 60 * time.Second

// Client answers one-shot analysis prompts.
type Client interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// =============================================================================
// OpenAI Implementation
// =============================================================================

// OpenAI implements Client against an OpenAI-compatible endpoint.
type OpenAI struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAI builds a client. baseURL may point at any compatible server;
// empty means api.openai.com.
func NewOpenAI(apiKey, baseURL, model string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAI{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		timeout: DefaultTimeout,
	}
}

// Complete sends one system+user exchange and returns the reply text.
func (o *OpenAI) Complete(ctx context.Context, system, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// =============================================================================
// Noop Implementation
// =============================================================================

// Noop is used when no API key is configured; every call fails with
// ErrDisabled so callers can tell the operator how to enable the feature.
type Noop struct{}

func (Noop) Complete(ctx context.Context, system, prompt string) (string, error) {
	return "", ErrDisabled
}
