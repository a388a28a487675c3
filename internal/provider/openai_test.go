package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"supportdesk/internal/domain"
)

func TestOpenAI_Chat_SendsZeroTemperature(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"actions\":[],\"message\":\"ok\"}"},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`))
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIKey: "sk-test", APIBase: srv.URL, Model: "gpt-4o-mini", Client: srv.Client(), Logger: testLogger()})
	resp, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages:    []domain.ChatMessage{{Role: "system", Content: "sys"}, {Role: "user", Content: "hi"}},
		MaxTokens:   64,
		Temperature: 0,
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	temp, ok := got["temperature"]
	if !ok {
		t.Fatal("expected temperature field to be present")
	}
	if temp.(float64) != 0 {
		t.Fatalf("expected temperature 0, got %v", temp)
	}
	if got["max_tokens"].(float64) != 64 {
		t.Fatalf("expected max_tokens 64, got %v", got["max_tokens"])
	}
	if !strings.Contains(resp.Content, `"message":"ok"`) {
		t.Fatalf("unexpected content %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Fatalf("expected 15 total tokens, got %d", resp.Usage.TotalTokens)
	}
}

func TestOpenAI_Chat_ClientErrorNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIBase: srv.URL, Client: srv.Client(), Logger: testLogger()})
	_, err := p.Chat(context.Background(), domain.ChatRequest{Messages: []domain.ChatMessage{{Role: "user", Content: "x"}}})
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call, got %d", calls)
	}
}

func TestOllama_Chat_SendsOptions(t *testing.T) {
	var got struct {
		Model   string         `json:"model"`
		Stream  bool           `json:"stream"`
		Options map[string]any `json:"options"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Write([]byte(`{"message":{"role":"assistant","content":"summary text"},"done":true,"done_reason":"stop","prompt_eval_count":7,"eval_count":3}`))
	}))
	defer srv.Close()

	p := NewOllamaWithClient(OllamaConfig{APIBase: srv.URL, Logger: testLogger()}, srv.Client())
	resp, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages:    []domain.ChatMessage{{Role: "user", Content: "summarize"}},
		MaxTokens:   300,
		Temperature: 0.7,
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got.Model != ollamaDefaultModel {
		t.Fatalf("expected default model, got %q", got.Model)
	}
	if got.Stream {
		t.Fatal("expected stream=false")
	}
	if got.Options["temperature"].(float64) != 0.7 {
		t.Fatalf("expected temperature 0.7, got %v", got.Options["temperature"])
	}
	if got.Options["num_predict"].(float64) != 300 {
		t.Fatalf("expected num_predict 300, got %v", got.Options["num_predict"])
	}
	if resp.Content != "summary text" || resp.Usage.TotalTokens != 10 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestClaude_Chat_SplitsSystemPrompt(t *testing.T) {
	var got claudeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("anthropic-version") != claudeAPIVersion {
			t.Errorf("missing anthropic-version header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Write([]byte(`{"content":[{"type":"text","text":"hello "},{"type":"text","text":"world"}],"stop_reason":"end_turn","usage":{"input_tokens":4,"output_tokens":2}}`))
	}))
	defer srv.Close()

	p := NewClaude(ClaudeConfig{APIKey: "k", APIURL: srv.URL, Client: srv.Client(), Logger: testLogger()})
	resp, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.ChatMessage{{Role: "system", Content: "be terse"}, {Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got.System != "be terse" {
		t.Fatalf("expected system prompt to be lifted, got %q", got.System)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" {
		t.Fatalf("unexpected messages %+v", got.Messages)
	}
	if got.MaxTokens != defaultMaxTokens {
		t.Fatalf("expected default max tokens, got %d", got.MaxTokens)
	}
	if resp.Content != "hello world" {
		t.Fatalf("expected joined text, got %q", resp.Content)
	}
}
