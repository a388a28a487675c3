// Package agent implements the ticket action agent: it composes a prompt
// from ticket state and retrieved knowledge, asks the language model for a
// structured action list, validates it and applies it to the ticket store.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"supportdesk/internal/domain"
	"supportdesk/internal/metrics"
)

// Request is one inbound agent instruction.
type Request struct {
	TicketID    string `json:"ticketId"`
	Instruction string `json:"instruction"`
	UserRole    string `json:"userRole"`
	UserID      string `json:"userId"`
}

// Result is what the agent tells the caller. Actions lists what was applied,
// always empty in general mode.
type Result struct {
	Mode    Mode            `json:"mode"`
	Message string          `json:"message"`
	Actions []domain.Action `json:"actions"`
}

// Authorizer gates callers by role. *security.Engine implements it.
type Authorizer interface {
	Authorize(role string) error
}

// ContextRetriever returns prompt context. *knowledge.Retriever implements it.
type ContextRetriever interface {
	Retrieve(ctx context.Context, query, ticketID string) []domain.RetrievedDocument
}

// Agent routes each request to general or scoped handling. It holds no
// per-request state and is safe for concurrent use.
type Agent struct {
	authorizer  Authorizer
	store       domain.TicketStore
	retriever   ContextRetriever
	composer    *Composer
	interpreter *Interpreter
	executor    *Executor
	logger      *slog.Logger
}

type Config struct {
	Authorizer  Authorizer
	Store       domain.TicketStore
	Retriever   ContextRetriever
	Composer    *Composer // optional
	Interpreter *Interpreter
	Executor    *Executor
	Logger      *slog.Logger
}

func New(cfg Config) *Agent {
	if cfg.Composer == nil {
		cfg.Composer = NewComposer()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Agent{
		authorizer:  cfg.Authorizer,
		store:       cfg.Store,
		retriever:   cfg.Retriever,
		composer:    cfg.Composer,
		interpreter: cfg.Interpreter,
		executor:    cfg.Executor,
		logger:      cfg.Logger,
	}
}

// Handle runs one request through the pipeline. Nothing is mutated unless
// the model reply validates; a mid-batch failure leaves earlier actions
// applied and returns *domain.ExecutionError.
func (a *Agent) Handle(ctx context.Context, req Request) (res *Result, err error) {
	mode := ModeFor(req.TicketID)
	start := time.Now()
	metrics.InFlight.Inc()
	defer func() {
		metrics.InFlight.Dec()
		metrics.AgentLatency.Observe(time.Since(start).Seconds())
		metrics.AgentRequest(string(mode), outcome(err))
	}()

	if a.authorizer != nil {
		if err := a.authorizer.Authorize(req.UserRole); err != nil {
			return nil, err
		}
	}
	instruction := strings.TrimSpace(req.Instruction)
	if instruction == "" {
		return nil, domain.ErrEmptyInstruction
	}

	a.logger.Info("agent request", "mode", mode, "ticket", req.TicketID, "user", req.UserID)

	var (
		ticket   *domain.Ticket
		messages []domain.Message
		scopeID  string
	)
	if mode == ModeScoped {
		scopeID = strings.TrimSpace(req.TicketID)
		ticket, err = a.store.GetTicket(ctx, scopeID)
		if err != nil {
			return nil, err
		}
		messages, err = a.store.ListMessages(ctx, scopeID)
		if err != nil {
			return nil, err
		}
	}

	var docs []domain.RetrievedDocument
	if a.retriever != nil {
		docs = a.retriever.Retrieve(ctx, instruction, scopeID)
		metrics.RetrievedDocuments.Add(int64(len(docs)))
	}

	prompt := a.composer.Compose(mode, ticket, messages, docs, instruction)

	raw, err := a.interpreter.Interpret(ctx, prompt)
	if err != nil {
		return nil, err
	}

	resp, err := Validate(mode, raw)
	if err != nil {
		metrics.ProtocolError()
		a.logger.Warn("model reply rejected", "mode", mode, "ticket", scopeID, "error", err)
		return nil, err
	}

	res = &Result{Mode: mode, Message: resp.Message, Actions: []domain.Action{}}
	if mode == ModeScoped && len(resp.Actions) > 0 {
		if _, err := a.executor.Execute(ctx, scopeID, resp.Actions, req.UserID); err != nil {
			return nil, err
		}
		res.Actions = resp.Actions
	}

	a.logger.Info("agent request done",
		"mode", mode,
		"ticket", scopeID,
		"actions", len(res.Actions),
		"duration", time.Since(start),
	)
	return res, nil
}

// outcome classifies an error for the request counter.
func outcome(err error) string {
	var (
		authErr  *domain.AuthorizationError
		interErr *domain.InterpreterError
		protoErr *domain.ProtocolError
		execErr  *domain.ExecutionError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &authErr):
		return "authorization"
	case errors.As(err, &interErr):
		return "interpreter"
	case errors.As(err, &protoErr):
		return "protocol"
	case errors.As(err, &execErr):
		return "execution"
	case errors.Is(err, domain.ErrTicketNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrEmptyInstruction):
		return "bad_request"
	}
	return "error"
}
