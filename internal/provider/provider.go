package provider

import (
	"context"
	"errors"
	"fmt"

	"autopilot-platform/internal/config"
)

// TextGenerator is the provider-agnostic interface used by business logic.
//
// Rules:
// - No provider HTTP calls outside provider adapters.
// - Keep request/response types provider-agnostic; adapters translate.
// - Failures carry a retryable-or-not classification; callers apply their
//   own retry ceilings.
type TextGenerator interface {
	Name() string
	Generate(ctx context.Context, req Request) (Result, error)
}

type Request struct {
	Prompt       string  `json:"prompt"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
}

type Result struct {
	Text string `json:"text"`

	// Token usage as reported by the backend; zero when not reported.
	PromptTokens int `json:"prompt_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Error classifies a provider failure.
type Error struct {
	Provider  string
	Status    int
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: status %d: %s", e.Provider, e.Status, e.Message)
}

// IsRetryable reports whether a generation failure is worth retrying
// (rate limits, server-side errors, transport failures).
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	// Transport-level failures without classification default to retryable.
	return err != nil
}

// New builds the backend selected by the config tag. Selection happens here
// once; business logic never branches on the tag.
func New(cfg config.ProviderConfig) (TextGenerator, error) {
	switch cfg.Tag {
	case "gemini":
		return NewGemini(GeminiConfig{
			APIKey:  cfg.GeminiAPIKey,
			BaseURL: cfg.GeminiBaseURL,
			Model:   cfg.GeminiModel,
			Timeout: cfg.RequestTimeout,
		})
	case "openai":
		return NewOpenAI(OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
			Timeout: cfg.RequestTimeout,
		})
	default:
		return nil, fmt.Errorf("provider: unknown tag %q", cfg.Tag)
	}
}
