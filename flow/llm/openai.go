package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIProvider generates completions with GPT models through the
// official openai-go client.
//
// Safe for concurrent use after creation.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates a provider for the given model, e.g. "gpt-4o".
func NewOpenAI(apiKey, model string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("API key cannot be empty")
	}
	if model == "" {
		return nil, errors.New("model cannot be empty")
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIProvider{client: &client, model: model}, nil
}

// Name returns "openai".
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Complete sends a single-turn user message and returns the first
// choice's content.
func (p *OpenAIProvider) Complete(ctx context.Context, prompt string) (Completion, error) {
	completion, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(prompt),
					},
				},
			},
		},
	})
	if err != nil {
		return Completion{}, fmt.Errorf("openai completion failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return Completion{}, errors.New("openai returned no choices")
	}

	return Completion{
		Text:       completion.Choices[0].Message.Content,
		TokensUsed: int(completion.Usage.TotalTokens),
	}, nil
}
