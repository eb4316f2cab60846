package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// AnthropicBackend implements Backend for Anthropic Claude models
type AnthropicBackend struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	config     Config
}

// Anthropic API structures
type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	Temperature float32            `json:"temperature,omitempty"`
	TopP        float32            `json:"top_p,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
}

type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewAnthropicBackend creates a new Anthropic backend
func NewAnthropicBackend(config Config) (*AnthropicBackend, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required")
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}

	return &AnthropicBackend{
		apiKey:  config.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: config.timeout(2 * time.Minute),
		},
		config: config,
	}, nil
}

// Name returns the provider name
func (b *AnthropicBackend) Name() string {
	return "anthropic"
}

// Converse sends the conversation to the Messages API. The reply arrives in
// one piece and is yielded as a single fragment.
func (b *AnthropicBackend) Converse(ctx context.Context, turns []Turn) Stream {
	return NewStream(func(emit func(string) bool) error {
		model := b.config.Model
		if model == "" {
			model = "claude-3-5-haiku-20241022"
		}

		apiReq := anthropicRequest{
			Model:       model,
			MaxTokens:   b.config.maxTokens(),
			Temperature: b.config.Temperature,
			TopP:        b.config.TopP,
		}
		var system []string
		for _, t := range turns {
			if t.Role == RoleSystem {
				system = append(system, t.Content)
				continue
			}
			apiReq.Messages = append(apiReq.Messages, anthropicMessage{Role: string(t.Role), Content: t.Content})
		}
		apiReq.System = strings.Join(system, "\n\n")

		resp, err := b.makeRequest(ctx, apiReq)
		if err != nil {
			return fmt.Errorf("Anthropic API error: %w", err)
		}

		var text strings.Builder
		for _, c := range resp.Content {
			if c.Type == "text" {
				text.WriteString(c.Text)
			}
		}
		if text.Len() == 0 {
			return fmt.Errorf("no content in Anthropic response")
		}

		emit(text.String())
		return nil
	})
}

// makeRequest makes an HTTP request to the Anthropic API
func (b *AnthropicBackend) makeRequest(ctx context.Context, apiReq anthropicRequest) (*anthropicResponse, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/messages", b.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", b.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	httpResp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		var apiErr anthropicError
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s - %s", httpResp.StatusCode, apiErr.Error.Type, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", httpResp.StatusCode, string(respBody))
	}

	var resp anthropicResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return &resp, nil
}
