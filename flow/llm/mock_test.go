package llm

import (
	"context"
	"errors"
	"testing"
)

func TestMockProvider(t *testing.T) {
	t.Run("responses are served in order", func(t *testing.T) {
		m := NewMock("first", "second")
		for _, want := range []string{"first", "second", "second"} {
			c, err := m.Complete(context.Background(), "hi")
			if err != nil {
				t.Fatalf("Complete() = %v", err)
			}
			if c.Text != want {
				t.Errorf("Complete().Text = %q, want %q", c.Text, want)
			}
		}
	})

	t.Run("prompts are recorded", func(t *testing.T) {
		m := NewMock("ok")
		_, _ = m.Complete(context.Background(), "one")
		_, _ = m.Complete(context.Background(), "two")
		prompts := m.Prompts()
		if len(prompts) != 2 || prompts[0] != "one" || prompts[1] != "two" {
			t.Errorf("Prompts() = %v", prompts)
		}
	})

	t.Run("configured error is returned", func(t *testing.T) {
		m := NewMock("never")
		m.Err = errors.New("offline")
		if _, err := m.Complete(context.Background(), "hi"); err == nil {
			t.Error("Complete() = nil, want configured error")
		}
	})
}

func TestStepAdapter(t *testing.T) {
	m := NewMock("summary text")
	execute := Step(m, func(input any) (string, error) {
		return "summarize: " + input.(string), nil
	})

	out, err := execute(context.Background(), "long document")
	if err != nil {
		t.Fatalf("execute() = %v", err)
	}
	result := out.(map[string]any)
	if result["text"] != "summary text" {
		t.Errorf("text = %v", result["text"])
	}
	if m.Prompts()[0] != "summarize: long document" {
		t.Errorf("prompt = %q", m.Prompts()[0])
	}
}
