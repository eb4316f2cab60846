package llm

import (
	"context"
	"time"

	"github.com/ppiankov/psyclass/internal/model"
)

// Role is the speaker of a conversation turn
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message of a chat prompt
type Turn struct {
	Role    Role
	Content string
}

// Backend is a chat-style model.
//
// Converse sends the ordered turns (the last one is the pending user turn)
// and returns the reply as a lazy, single-use stream of text fragments.
// Nothing is sent until the stream is ranged over.
type Backend interface {
	// Name returns the provider name
	Name() string

	// Converse produces the model's reply to turns
	Converse(ctx context.Context, turns []Turn) Stream
}

// Config holds backend configuration
type Config struct {
	// Provider name: "openai", "ollama", "anthropic", "gemini"
	Provider string

	// Model name (provider-specific)
	Model string

	// APIKey for hosted providers
	APIKey string

	// BaseURL for custom endpoints (OpenAI-compatible servers, Ollama)
	BaseURL string

	// Timeout bounds one complete reply, stream included
	Timeout time.Duration

	// Sampling
	Temperature   float32
	TopP          float32
	MaxTokens     int
	RepeatPenalty float32
}

// DefaultConfig returns sampling defaults tuned for short structured replies
func DefaultConfig() Config {
	return Config{
		Provider:      "openai",
		Timeout:       2 * time.Minute,
		Temperature:   0.6,
		TopP:          0.8,
		MaxTokens:     8192,
		RepeatPenalty: 1.2,
	}
}

// ConfigFromModel converts model.LLMConfig to llm.Config
func ConfigFromModel(m model.LLMConfig) Config {
	return Config{
		Provider:      m.Provider,
		Model:         m.Model,
		APIKey:        m.APIKey,
		BaseURL:       m.BaseURL,
		Timeout:       m.Timeout,
		Temperature:   m.Temperature,
		TopP:          m.TopP,
		MaxTokens:     m.MaxTokens,
		RepeatPenalty: m.RepeatPenalty,
	}
}

func (c Config) timeout(fallback time.Duration) time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return fallback
}

func (c Config) maxTokens() int {
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return 1000
}
