package llm

import (
	"context"
	"fmt"
	"strings"
)

// NewBackend creates a model backend based on configuration
func NewBackend(ctx context.Context, config Config) (Backend, error) {
	provider := strings.ToLower(config.Provider)

	switch provider {
	case "openai":
		return NewOpenAIBackend(config)

	case "ollama":
		return NewOllamaBackend(config)

	case "anthropic", "claude":
		return NewAnthropicBackend(config)

	case "gemini":
		return NewGeminiBackend(ctx, config)

	case "":
		return nil, fmt.Errorf("LLM provider is required (supported: openai, ollama, anthropic, gemini)")

	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (supported: openai, ollama, anthropic, gemini)", config.Provider)
	}
}
