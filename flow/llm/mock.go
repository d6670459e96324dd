package llm

import (
	"context"
	"sync"
)

// MockProvider is an in-memory Provider for tests and offline examples.
// It replies with canned responses in order, repeating the last one
// when the list runs out, and records every prompt it receives.
//
// Safe for concurrent use.
type MockProvider struct {
	mu        sync.Mutex
	responses []string
	calls     int
	prompts   []string

	// Err, when set, is returned by every Complete call.
	Err error
}

// NewMock creates a mock provider with the given canned responses.
func NewMock(responses ...string) *MockProvider {
	return &MockProvider{responses: responses}
}

// Name returns "mock".
func (m *MockProvider) Name() string {
	return "mock"
}

// Complete records the prompt and returns the next canned response.
func (m *MockProvider) Complete(_ context.Context, prompt string) (Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prompts = append(m.prompts, prompt)
	if m.Err != nil {
		return Completion{}, m.Err
	}

	text := ""
	if len(m.responses) > 0 {
		idx := m.calls
		if idx >= len(m.responses) {
			idx = len(m.responses) - 1
		}
		text = m.responses[idx]
	}
	m.calls++
	return Completion{Text: text, TokensUsed: len(prompt) / 4}, nil
}

// Prompts returns every prompt received so far.
func (m *MockProvider) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}
