package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"supportdesk/internal/config"
)

func TestCosineSimilarity(t *testing.T) {
	sim, err := CosineSimilarity([]float32{1, 0}, []float32{1, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(sim-1) > 1e-9 {
		t.Fatalf("identical vectors: expected 1, got %f", sim)
	}

	sim, _ = CosineSimilarity([]float32{1, 0}, []float32{0, 1})
	if math.Abs(sim) > 1e-9 {
		t.Fatalf("orthogonal vectors: expected 0, got %f", sim)
	}

	sim, _ = CosineSimilarity([]float32{0, 0}, []float32{1, 1})
	if sim != 0 {
		t.Fatalf("zero vector: expected 0, got %f", sim)
	}

	if _, err := CosineSimilarity([]float32{1}, []float32{1, 2}); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestFindTopK_ThresholdAndOrder(t *testing.T) {
	query := []float32{1, 0}
	corpus := [][]float32{
		{0, 1},      // 0.0
		{1, 0.1},    // ~0.995
		{1, 1},      // ~0.707
		{1, 0},      // 1.0
		{1, 2, 3},   // wrong dimension
		{0.5, 0.55}, // ~0.67, below threshold
	}

	got := FindTopK(query, corpus, 0.7, 5)
	var idx []int
	for _, r := range got {
		idx = append(idx, r.Index)
	}
	if diff := cmp.Diff([]int{3, 1, 2}, idx); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}

	got = FindTopK(query, corpus, 0.7, 2)
	if len(got) != 2 {
		t.Fatalf("expected k=2 results, got %d", len(got))
	}
	if FindTopK(query, corpus, 0.7, 0) != nil {
		t.Fatal("expected nil for k=0")
	}
}

func TestOllamaEngine_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ollamaEmbedRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "nomic-embed-text" || req.Prompt != "refund policy" {
			t.Errorf("unexpected request %+v", req)
		}
		w.Write([]byte(`{"embedding":[0.1,0.2,0.3]}`))
	}))
	defer srv.Close()

	e := NewOllamaEngineWithClient(srv.URL, "", srv.Client())
	vec, err := e.Embed(context.Background(), "refund policy")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if diff := cmp.Diff([]float32{0.1, 0.2, 0.3}, vec); diff != "" {
		t.Fatalf("vector mismatch (-want +got):\n%s", diff)
	}
	if e.Name() != "ollama:nomic-embed-text" {
		t.Fatalf("unexpected name %q", e.Name())
	}
}

func TestOllamaEngine_EmbedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	e := NewOllamaEngineWithClient(srv.URL, "missing", srv.Client())
	if _, err := e.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestOpenAIEngine_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("missing bearer token")
		}
		w.Write([]byte(`{"data":[{"embedding":[1,2]}]}`))
	}))
	defer srv.Close()

	e, err := NewOpenAIEngineWithClient(srv.URL, "k", "", srv.Client())
	if err != nil {
		t.Fatalf("NewOpenAIEngine: %v", err)
	}
	vec, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if diff := cmp.Diff([]float32{1, 2}, vec); diff != "" {
		t.Fatalf("vector mismatch (-want +got):\n%s", diff)
	}
}

func TestNewEngine_Selection(t *testing.T) {
	e, err := NewEngine(context.Background(), config.EmbeddingConfig{Provider: "ollama", Model: "m"}, nil)
	if err != nil {
		t.Fatalf("ollama: %v", err)
	}
	if e.Name() != "ollama:m" {
		t.Fatalf("unexpected engine %q", e.Name())
	}

	if _, err := NewEngine(context.Background(), config.EmbeddingConfig{Provider: "openai"}, nil); err == nil {
		t.Fatal("expected error for openai without key")
	}
	if _, err := NewEngine(context.Background(), config.EmbeddingConfig{Provider: "genai"}, nil); err == nil {
		t.Fatal("expected error for genai without key")
	}
	if _, err := NewEngine(context.Background(), config.EmbeddingConfig{Provider: "word2vec"}, nil); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
