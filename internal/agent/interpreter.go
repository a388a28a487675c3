package agent

import (
	"context"
	"log/slog"
	"time"

	"supportdesk/internal/domain"
	"supportdesk/internal/metrics"
)

const defaultInterpretMaxTokens = 1024

// Interpreter asks the language model for a candidate AgentResponse.
type Interpreter struct {
	provider  domain.Provider
	model     string
	maxTokens int
	logger    *slog.Logger
}

type InterpreterConfig struct {
	Provider  domain.Provider
	Model     string // optional: provider default when empty
	MaxTokens int
	Logger    *slog.Logger
}

func NewInterpreter(cfg InterpreterConfig) *Interpreter {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultInterpretMaxTokens
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Interpreter{
		provider:  cfg.Provider,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    cfg.Logger,
	}
}

// Interpret returns the model's raw reply. Temperature is pinned to 0.
// Failures come back as *domain.InterpreterError.
func (i *Interpreter) Interpret(ctx context.Context, p Prompt) (string, error) {
	start := time.Now()
	resp, err := i.provider.Chat(ctx, domain.ChatRequest{
		Messages: []domain.ChatMessage{
			{Role: "system", Content: p.System},
			{Role: "user", Content: p.User},
		},
		Model:       i.model,
		MaxTokens:   i.maxTokens,
		Temperature: 0,
	})
	metrics.LLMLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		i.logger.Error("interpreter call failed", "provider", i.provider.Name(), "error", err)
		return "", &domain.InterpreterError{Err: err}
	}

	i.logger.Debug("interpreter reply",
		"provider", i.provider.Name(),
		"finish_reason", resp.FinishReason,
		"tokens", resp.Usage.TotalTokens,
		"latency_ms", resp.LatencyMs,
	)
	return resp.Content, nil
}
