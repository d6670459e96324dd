package llm

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiProvider generates completions with Gemini models through the
// official generative-ai-go client.
//
// Safe for concurrent use after creation. Call Close when done.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// NewGemini creates a provider for the given model, e.g.
// "gemini-1.5-pro".
func NewGemini(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiProvider{client: client, model: model}, nil
}

// Name returns "gemini".
func (g *GeminiProvider) Name() string {
	return "gemini"
}

// Close releases the underlying client.
func (g *GeminiProvider) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// Complete sends a single-turn prompt and concatenates the text parts
// of the first candidate.
func (g *GeminiProvider) Complete(ctx context.Context, prompt string) (Completion, error) {
	model := g.client.GenerativeModel(g.model)
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return Completion{}, fmt.Errorf("gemini completion failed: %w", err)
	}

	var tokens int
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Completion{TokensUsed: tokens}, nil
	}

	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text += string(t)
		}
	}
	return Completion{Text: text, TokensUsed: tokens}, nil
}
