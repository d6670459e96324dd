package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider generates completions with Claude models through
// the official anthropic-sdk-go client.
//
// Safe for concurrent use after creation.
type AnthropicProvider struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropic creates a provider for the given model, e.g.
// "claude-3-5-sonnet-20241022". The API key comes from the Anthropic
// console.
func NewAnthropic(apiKey, model string) *AnthropicProvider {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicProvider{
		client:    &client,
		model:     model,
		maxTokens: 4096,
	}
}

// Name returns "anthropic".
func (a *AnthropicProvider) Name() string {
	return "anthropic"
}

// Complete sends a single-turn user message and concatenates the text
// blocks of the response.
func (a *AnthropicProvider) Complete(ctx context.Context, prompt string) (Completion, error) {
	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return Completion{}, fmt.Errorf("anthropic completion failed: %w", err)
	}

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return Completion{
		Text:       text,
		TokensUsed: int(message.Usage.InputTokens + message.Usage.OutputTokens),
	}, nil
}
