package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiBackend drives a Gemini chat session
type GeminiBackend struct {
	client *genai.Client
	model  *genai.GenerativeModel
	config Config
}

// NewGeminiBackend creates a new Gemini backend
func NewGeminiBackend(ctx context.Context, config Config) (*GeminiBackend, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	name := config.Model
	if name == "" {
		name = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(config.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	model := client.GenerativeModel(name)
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:     genai.Ptr(config.Temperature),
		TopP:            genai.Ptr(config.TopP),
		MaxOutputTokens: genai.Ptr(int32(config.maxTokens())),
	}

	return &GeminiBackend{
		client: client,
		model:  model,
		config: config,
	}, nil
}

// Name returns the provider name
func (b *GeminiBackend) Name() string {
	return "gemini"
}

// Close closes the Gemini client
func (b *GeminiBackend) Close() error {
	return b.client.Close()
}

// Converse replays all but the last turn as chat history and streams the
// reply to the last one.
func (b *GeminiBackend) Converse(ctx context.Context, turns []Turn) Stream {
	return NewStream(func(emit func(string) bool) error {
		system, history, last, err := toGeminiContents(turns)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(ctx, b.config.timeout(defaultGeminiTimeout))
		defer cancel()

		model := *b.model
		if system != "" {
			model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
		}
		session := model.StartChat()
		session.History = history

		it := session.SendMessageStream(ctx, genai.Text(last))
		for {
			resp, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("gemini API error: %w", err)
			}
			for _, cand := range resp.Candidates {
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					text, ok := part.(genai.Text)
					if !ok || text == "" {
						continue
					}
					if !emit(string(text)) {
						return nil
					}
				}
			}
		}
	})
}

const defaultGeminiTimeout = 2 * time.Minute

// toGeminiContents splits turns into a system instruction, prior history and
// the pending user message. Gemini names the assistant role "model".
func toGeminiContents(turns []Turn) (string, []*genai.Content, string, error) {
	var system []string
	var rest []Turn
	for _, t := range turns {
		if t.Role == RoleSystem {
			system = append(system, t.Content)
			continue
		}
		rest = append(rest, t)
	}
	if len(rest) == 0 || rest[len(rest)-1].Role != RoleUser {
		return "", nil, "", fmt.Errorf("gemini: conversation must end with a user turn")
	}

	history := make([]*genai.Content, 0, len(rest)-1)
	for _, t := range rest[:len(rest)-1] {
		role := "user"
		if t.Role == RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(t.Content)},
		})
	}

	return strings.Join(system, "\n\n"), history, rest[len(rest)-1].Content, nil
}
