package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaBackend talks to a local Ollama server through /api/chat
type OllamaBackend struct {
	baseURL    string
	httpClient *http.Client
	config     Config
}

// Ollama API structures
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature   float32 `json:"temperature,omitempty"`
	TopP          float32 `json:"top_p,omitempty"`
	NumPredict    int     `json:"num_predict,omitempty"` // Max tokens
	RepeatPenalty float32 `json:"repeat_penalty,omitempty"`
}

// One NDJSON line of a streamed chat reply
type ollamaChatChunk struct {
	Model   string        `json:"model"`
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

type ollamaError struct {
	Error string `json:"error"`
}

// NewOllamaBackend creates a new Ollama backend
func NewOllamaBackend(config Config) (*OllamaBackend, error) {
	if config.Model == "" {
		return nil, fmt.Errorf("ollama model must be specified (e.g., qwen2.5:7b, glm4)")
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	return &OllamaBackend{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: config.timeout(5 * time.Minute), // Local models can be slow
		},
		config: config,
	}, nil
}

// Name returns the provider name
func (b *OllamaBackend) Name() string {
	return "ollama"
}

// Converse streams a chat reply, one fragment per NDJSON line
func (b *OllamaBackend) Converse(ctx context.Context, turns []Turn) Stream {
	return NewStream(func(emit func(string) bool) error {
		messages := make([]ollamaMessage, 0, len(turns))
		for _, t := range turns {
			messages = append(messages, ollamaMessage{Role: string(t.Role), Content: t.Content})
		}

		apiReq := ollamaChatRequest{
			Model:    b.config.Model,
			Messages: messages,
			Stream:   true,
			Options: ollamaOptions{
				Temperature:   b.config.Temperature,
				TopP:          b.config.TopP,
				NumPredict:    b.config.maxTokens(),
				RepeatPenalty: b.config.RepeatPenalty,
			},
		}

		body, err := json.Marshal(apiReq)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}

		url := fmt.Sprintf("%s/api/chat", b.baseURL)
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		httpResp, err := b.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("ollama API error: execute request: %w", err)
		}
		defer func() { _ = httpResp.Body.Close() }()

		if httpResp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(httpResp.Body)
			var apiErr ollamaError
			if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Error != "" {
				return fmt.Errorf("ollama API error (%d): %s", httpResp.StatusCode, apiErr.Error)
			}
			return fmt.Errorf("ollama API error (%d): %s", httpResp.StatusCode, string(respBody))
		}

		dec := json.NewDecoder(httpResp.Body)
		for {
			var chunk ollamaChatChunk
			if err := dec.Decode(&chunk); err != nil {
				if errors.Is(err, io.EOF) {
					return fmt.Errorf("ollama stream ended before done")
				}
				return fmt.Errorf("decode stream: %w", err)
			}
			if chunk.Error != "" {
				return fmt.Errorf("ollama stream error: %s", chunk.Error)
			}
			if chunk.Message.Content != "" && !emit(chunk.Message.Content) {
				return nil
			}
			if chunk.Done {
				return nil
			}
		}
	})
}
