package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"supportdesk/internal/provider"
)

const (
	openAIDefaultBase  = "https://api.openai.com/v1"
	openAIDefaultModel = "text-embedding-3-small"
)

// OpenAIEngine calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEngine struct {
	apiBase string
	apiKey  string
	model   string
	client  *http.Client
}

func NewOpenAIEngine(apiBase, apiKey, model string) (*OpenAIEngine, error) {
	return NewOpenAIEngineWithClient(apiBase, apiKey, model, provider.EmbeddingClient())
}

func NewOpenAIEngineWithClient(apiBase, apiKey, model string, client *http.Client) (*OpenAIEngine, error) {
	if apiBase == "" {
		apiBase = openAIDefaultBase
	}
	if apiBase == openAIDefaultBase && apiKey == "" {
		return nil, fmt.Errorf("API key is required for %s", openAIDefaultBase)
	}
	if model == "" {
		model = openAIDefaultModel
	}
	return &OpenAIEngine{apiBase: apiBase, apiKey: apiKey, model: model, client: client}, nil
}

type openAIEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (e *OpenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(openAIEmbedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.apiBase+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("openai embed returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result openAIEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if len(result.Data) == 0 || len(result.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return result.Data[0].Embedding, nil
}

func (e *OpenAIEngine) Name() string { return "openai:" + e.model }
