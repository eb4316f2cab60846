package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIBackend talks to OpenAI or any server speaking its chat completions API
type OpenAIBackend struct {
	client *openai.Client
	config Config
}

// NewOpenAIBackend creates a new OpenAI backend. A custom BaseURL (vLLM,
// LocalAI and similar) may run without an API key.
func NewOpenAIBackend(config Config) (*OpenAIBackend, error) {
	if config.APIKey == "" && config.BaseURL == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIBackend{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

// Name returns the provider name
func (b *OpenAIBackend) Name() string {
	return "openai"
}

// Converse streams a chat completion
func (b *OpenAIBackend) Converse(ctx context.Context, turns []Turn) Stream {
	return NewStream(func(emit func(string) bool) error {
		model := b.config.Model
		if model == "" {
			model = openai.GPT4oMini
		}

		ctx, cancel := context.WithTimeout(ctx, b.config.timeout(2*time.Minute))
		defer cancel()

		req := openai.ChatCompletionRequest{
			Model:       model,
			Messages:    toOpenAIMessages(turns),
			MaxTokens:   b.config.maxTokens(),
			Temperature: b.config.Temperature,
			TopP:        b.config.TopP,
			Stream:      true,
		}

		stream, err := b.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			return fmt.Errorf("OpenAI API error: %w", err)
		}
		defer func() { _ = stream.Close() }()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("OpenAI stream error: %w", err)
			}
			for _, choice := range resp.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				if !emit(choice.Delta.Content) {
					return nil
				}
			}
		}
	})
}

func toOpenAIMessages(turns []Turn) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		role := openai.ChatMessageRoleUser
		switch t.Role {
		case RoleSystem:
			role = openai.ChatMessageRoleSystem
		case RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: t.Content,
		})
	}
	return messages
}
