package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
)

func streamChunk(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	chunk := openai.ChatCompletionStreamResponse{
		ID:    "chatcmpl-123",
		Model: "gpt-4o-mini",
		Choices: []openai.ChatCompletionStreamChoice{
			{Index: 0, Delta: openai.ChatCompletionStreamChoiceDelta{Content: content}},
		},
	}
	data, err := json.Marshal(chunk)
	if err != nil {
		t.Fatalf("marshal chunk: %v", err)
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
}

func TestOpenAIBackend_Converse_Stream(t *testing.T) {
	var got openai.ChatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Expected path /chat/completions, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Expected Authorization header Bearer test-key, got %s", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		streamChunk(t, w, `{"消极程度": `)
		streamChunk(t, w, `3}`)
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	backend, err := NewOpenAIBackend(Config{
		APIKey:      "test-key",
		BaseURL:     server.URL,
		Model:       "gpt-4o-mini",
		Temperature: 0.6,
		TopP:        0.8,
	})
	if err != nil {
		t.Fatalf("Failed to create backend: %v", err)
	}

	turns := []Turn{
		{Role: RoleUser, Content: "prime"},
		{Role: RoleAssistant, Content: "ok"},
		{Role: RoleUser, Content: "query"},
	}
	text, err := Collect(backend.Converse(context.Background(), turns))
	if err != nil {
		t.Fatalf("Converse failed: %v", err)
	}

	if text != `{"消极程度": 3}` {
		t.Errorf("Unexpected reply: %s", text)
	}
	if !got.Stream {
		t.Error("Expected streaming request")
	}
	if len(got.Messages) != 3 || got.Messages[1].Role != openai.ChatMessageRoleAssistant {
		t.Errorf("Unexpected messages: %+v", got.Messages)
	}
}

func TestOpenAIBackend_Converse_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": {"message": "Internal Server Error", "type": "server_error"}}`))
	}))
	defer server.Close()

	backend, err := NewOpenAIBackend(Config{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("Failed to create backend: %v", err)
	}

	_, err = Collect(backend.Converse(context.Background(), []Turn{{Role: RoleUser, Content: "q"}}))
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
}

func TestOpenAIBackend_Converse_Lazy(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	backend, err := NewOpenAIBackend(Config{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("Failed to create backend: %v", err)
	}

	_ = backend.Converse(context.Background(), []Turn{{Role: RoleUser, Content: "q"}})
	if calls != 0 {
		t.Errorf("Expected no request before the stream is consumed, got %d", calls)
	}
}

func TestNewOpenAIBackend_RequiresKeyOrBaseURL(t *testing.T) {
	if _, err := NewOpenAIBackend(Config{}); err == nil {
		t.Error("Expected error without API key or base URL")
	}
	if _, err := NewOpenAIBackend(Config{BaseURL: "http://localhost:8000/v1"}); err != nil {
		t.Errorf("Expected keyless custom endpoint to be accepted, got %v", err)
	}
}
