package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"supportdesk/internal/domain"
	"supportdesk/internal/metrics"
)

const (
	defaultSummaryTemperature = 0.7
	defaultSummaryMaxTokens   = 300
)

// Auditor records applied actions. *security.Engine implements it.
type Auditor interface {
	Audit(ctx context.Context, entry domain.AuditEntry)
}

// Executor applies validated actions to one ticket, in order, stopping at
// the first failure. Earlier actions stay committed.
type Executor struct {
	store              domain.TicketStore
	provider           domain.Provider
	auditor            Auditor
	model              string
	summaryTemperature float64
	summaryMaxTokens   int
	logger             *slog.Logger
}

type ExecutorConfig struct {
	Store              domain.TicketStore
	Provider           domain.Provider // used for summaries
	Auditor            Auditor         // optional
	Model              string
	SummaryTemperature float64
	SummaryMaxTokens   int
	Logger             *slog.Logger
}

func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.SummaryTemperature <= 0 {
		cfg.SummaryTemperature = defaultSummaryTemperature
	}
	if cfg.SummaryMaxTokens <= 0 {
		cfg.SummaryMaxTokens = defaultSummaryMaxTokens
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Executor{
		store:              cfg.Store,
		provider:           cfg.Provider,
		auditor:            cfg.Auditor,
		model:              cfg.Model,
		summaryTemperature: cfg.SummaryTemperature,
		summaryMaxTokens:   cfg.SummaryMaxTokens,
		logger:             cfg.Logger,
	}
}

// actionHandler applies one action and returns audit detail.
type actionHandler func(ctx context.Context, ticketID string, a domain.Action, userID string) (detail map[string]any, err error)

func (e *Executor) handler(t domain.ActionType) actionHandler {
	switch t {
	case domain.ActionStatus:
		return e.applyStatus
	case domain.ActionPriority:
		return e.applyPriority
	case domain.ActionTags:
		return e.applyTags
	case domain.ActionSummary:
		return e.applySummary
	case domain.ActionClose:
		return e.applyClose
	case domain.ActionPostNote:
		return e.applyPostNote
	}
	return nil
}

// Execute runs actions sequentially against ticketID and returns how many
// were applied. A failure is returned as *domain.ExecutionError.
func (e *Executor) Execute(ctx context.Context, ticketID string, actions []domain.Action, userID string) (int, error) {
	if ticketID == "" {
		return 0, fmt.Errorf("execute: ticket ID is required")
	}

	for i, a := range actions {
		h := e.handler(a.Type)
		if h == nil {
			return i, e.fail(ctx, ticketID, userID, i, a, fmt.Errorf("no handler for action type %q", a.Type))
		}

		detail, err := h(ctx, ticketID, a, userID)
		if err != nil {
			return i, e.fail(ctx, ticketID, userID, i, a, err)
		}

		metrics.ActionApplied(string(a.Type))
		e.audit(ctx, ticketID, userID, a, "applied", detail)
		e.logger.Info("action applied", "ticket", ticketID, "index", i, "action", a.Type)
	}
	return len(actions), nil
}

func (e *Executor) fail(ctx context.Context, ticketID, userID string, i int, a domain.Action, err error) error {
	e.logger.Error("action failed, aborting remaining actions",
		"ticket", ticketID,
		"index", i,
		"action", a.Type,
		"applied", i,
		"error", err,
	)
	e.audit(ctx, ticketID, userID, a, "failed", map[string]any{"error": err.Error()})
	return &domain.ExecutionError{Index: i, Action: a.Type, Applied: i, Err: err}
}

func (e *Executor) audit(ctx context.Context, ticketID, userID string, a domain.Action, result string, detail map[string]any) {
	if e.auditor == nil {
		return
	}
	if detail == nil {
		detail = map[string]any{}
	}
	detail["action"] = a
	data, _ := json.Marshal(detail)
	e.auditor.Audit(ctx, domain.AuditEntry{
		TicketID: ticketID,
		UserID:   userID,
		Action:   string(a.Type),
		Result:   result,
		Details:  string(data),
	})
}

func (e *Executor) applyStatus(ctx context.Context, ticketID string, a domain.Action, _ string) (map[string]any, error) {
	if !a.Status.Valid() {
		return nil, fmt.Errorf("invalid status %q", a.Status)
	}
	return nil, e.store.UpdateTicketField(ctx, ticketID, domain.FieldStatus, string(a.Status))
}

func (e *Executor) applyPriority(ctx context.Context, ticketID string, a domain.Action, _ string) (map[string]any, error) {
	if !a.Priority.Valid() {
		return nil, fmt.Errorf("invalid priority %q", a.Priority)
	}
	return nil, e.store.UpdateTicketField(ctx, ticketID, domain.FieldPriority, string(a.Priority))
}

func (e *Executor) applyClose(ctx context.Context, ticketID string, _ domain.Action, _ string) (map[string]any, error) {
	return nil, e.store.UpdateTicketField(ctx, ticketID, domain.FieldStatus, string(domain.StatusClosed))
}

// applyTags attaches catalog tags by case-insensitive name. Names with no
// match are skipped; tags are never created here.
func (e *Executor) applyTags(ctx context.Context, ticketID string, a domain.Action, _ string) (map[string]any, error) {
	attached := []string{}
	skipped := []string{}
	for _, name := range a.TagNames {
		tag, err := e.store.FindTagByName(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("look up tag %q: %w", name, err)
		}
		if tag == nil {
			metrics.TagMisses.Inc()
			e.logger.Warn("tag not in catalog, skipping", "ticket", ticketID, "tag", name)
			skipped = append(skipped, name)
			continue
		}
		if err := e.store.AttachTag(ctx, ticketID, tag.ID); err != nil {
			return nil, fmt.Errorf("attach tag %q: %w", tag.Name, err)
		}
		attached = append(attached, tag.Name)
	}
	return map[string]any{"attached": attached, "skipped_tags": skipped}, nil
}

func (e *Executor) applyPostNote(ctx context.Context, ticketID string, a domain.Action, userID string) (map[string]any, error) {
	msg, err := e.store.AddMessage(ctx, domain.Message{
		TicketID:   ticketID,
		AuthorID:   userID,
		Body:       a.Note,
		IsInternal: true,
		IsSystem:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("post note: %w", err)
	}
	return map[string]any{"message_id": msg.ID}, nil
}

// applySummary asks the model for a summary of the whole conversation and
// stores it as the ticket's AI summary and as an internal system message.
// A failed message write restores the previous AI summary.
func (e *Executor) applySummary(ctx context.Context, ticketID string, _ domain.Action, userID string) (map[string]any, error) {
	if e.provider == nil {
		return nil, fmt.Errorf("summary: no language model configured")
	}
	ticket, err := e.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("summary: load ticket: %w", err)
	}
	messages, err := e.store.ListMessages(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("summary: load messages: %w", err)
	}

	start := time.Now()
	resp, err := e.provider.Chat(ctx, domain.ChatRequest{
		Messages: []domain.ChatMessage{
			{Role: "system", Content: summarySystemPrompt},
			{Role: "user", Content: summaryInput(ticket, messages)},
		},
		Model:       e.model,
		MaxTokens:   e.summaryMaxTokens,
		Temperature: e.summaryTemperature,
	})
	metrics.LLMLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("summary: model call: %w", err)
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return nil, fmt.Errorf("summary: model returned empty text")
	}

	if err := e.store.SetAISummary(ctx, ticketID, summary); err != nil {
		return nil, fmt.Errorf("summary: store ticket summary: %w", err)
	}
	msg, err := e.store.AddMessage(ctx, domain.Message{
		TicketID:   ticketID,
		AuthorID:   userID,
		Body:       summary,
		IsInternal: true,
		IsSystem:   true,
	})
	if err != nil {
		// Put the previous summary back so the action leaves nothing behind.
		if rerr := e.store.SetAISummary(ctx, ticketID, ticket.AISummary); rerr != nil {
			e.logger.Error("summary rollback failed", "ticket", ticketID, "error", rerr)
		}
		return nil, fmt.Errorf("summary: store message: %w", err)
	}
	return map[string]any{"message_id": msg.ID, "length": len(summary)}, nil
}

const summarySystemPrompt = "You summarize customer support tickets for support staff. " +
	"Write a concise plain-text summary covering the customer's problem, what has been tried, " +
	"the current state and any open follow-ups. Do not invent facts."

func summaryInput(t *domain.Ticket, messages []domain.Message) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Ticket: %s\nStatus: %s\nPriority: %s\n", t.Title, t.Status, t.Priority)
	if len(t.Tags) > 0 {
		fmt.Fprintf(&sb, "Tags: %s\n", strings.Join(t.Tags, ", "))
	}
	fmt.Fprintf(&sb, "\nDescription:\n%s\n\nConversation:\n", strings.TrimSpace(t.Description))
	writeConversation(&sb, messages)
	return sb.String()
}
