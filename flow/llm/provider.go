// Package llm adapts hosted language models to workflow steps. Each
// provider wraps an official SDK behind a single Complete call, so a
// step's execute can generate text without knowing which vendor backs
// it.
package llm

import "context"

// Completion is the result of one model invocation.
type Completion struct {
	// Text is the model's response with no post-processing.
	Text string

	// TokensUsed is the total tokens billed for the call, when the
	// provider reports usage.
	TokensUsed int
}

// Provider generates completions for prompts.
//
// Implementations are safe for concurrent use, so one provider can
// serve parallel and foreach entries.
type Provider interface {
	// Name identifies the provider ("anthropic", "openai", "gemini",
	// "mock").
	Name() string

	// Complete sends a single-turn prompt and returns the response.
	Complete(ctx context.Context, prompt string) (Completion, error)
}

// Step builds a workflow step execute function over a provider. The
// step's input is rendered into a prompt by render and the completion
// text becomes the step's output.
func Step(provider Provider, render func(input any) (string, error)) func(ctx context.Context, input any) (any, error) {
	return func(ctx context.Context, input any) (any, error) {
		prompt, err := render(input)
		if err != nil {
			return nil, err
		}
		completion, err := provider.Complete(ctx, prompt)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"text":   completion.Text,
			"tokens": completion.TokensUsed,
		}, nil
	}
}
