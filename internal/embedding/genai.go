package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

const (
	genAIDefaultModel = "gemini-embedding-001"
	genAITaskType     = "SEMANTIC_SIMILARITY"
)

// GenAIEngine generates embeddings with the Gemini API.
type GenAIEngine struct {
	client *genai.Client
	model  string
}

func NewGenAIEngine(ctx context.Context, apiKey, model string) (*GenAIEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = genAIDefaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create GenAI client: %w", err)
	}
	return &GenAIEngine{client: client, model: model}, nil
}

// Embed uses the semantic-similarity task type so queries and stored
// documents land in the same space.
func (e *GenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}
	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		TaskType: genAITaskType,
	})
	if err != nil {
		return nil, fmt.Errorf("GenAI embed: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return result.Embeddings[0].Values, nil
}

func (e *GenAIEngine) Name() string { return "genai:" + e.model }
