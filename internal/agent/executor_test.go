package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"supportdesk/internal/domain"
)

func newTestExecutor(store *memStore, p *scriptedProvider, auditor *recordingAuditor) *Executor {
	cfg := ExecutorConfig{
		Store:    store,
		Provider: p,
		Logger:   testLogger(),
	}
	if auditor != nil {
		cfg.Auditor = auditor
	}
	return NewExecutor(cfg)
}

func TestExecutor_AppliesInOrder(t *testing.T) {
	store := newMemStore()
	store.addTicket(openTicket())
	auditor := &recordingAuditor{}
	exec := newTestExecutor(store, &scriptedProvider{}, auditor)

	actions := []domain.Action{
		{Type: domain.ActionStatus, Status: domain.StatusResolved},
		{Type: domain.ActionPriority, Priority: domain.PriorityHigh},
		{Type: domain.ActionClose},
	}
	n, err := exec.Execute(context.Background(), "T-100", actions, "agent-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 applied, got %d", n)
	}

	ticket, _ := store.GetTicket(context.Background(), "T-100")
	if ticket.Status != domain.StatusClosed {
		t.Fatalf("later close should win over earlier status, got %s", ticket.Status)
	}
	if ticket.Priority != domain.PriorityHigh {
		t.Fatalf("expected high priority, got %s", ticket.Priority)
	}

	if len(auditor.entries) != 3 {
		t.Fatalf("expected 3 audit entries, got %d", len(auditor.entries))
	}
	for i, want := range []string{"status", "priority", "close"} {
		e := auditor.entries[i]
		if e.Action != want || e.Result != "applied" || e.UserID != "agent-1" || e.TicketID != "T-100" {
			t.Errorf("entry %d: unexpected %+v", i, e)
		}
	}
}

func TestExecutor_TagsIdempotentAndUnknownSkipped(t *testing.T) {
	store := newMemStore()
	store.addTicket(openTicket())
	store.addTag("Billing")
	store.addTag("VIP")
	auditor := &recordingAuditor{}
	exec := newTestExecutor(store, &scriptedProvider{}, auditor)
	ctx := context.Background()

	tags := domain.Action{Type: domain.ActionTags, TagNames: []string{"billing", "vip", "does-not-exist"}}
	for i := 0; i < 2; i++ {
		if _, err := exec.Execute(ctx, "T-100", []domain.Action{tags}, "agent-1"); err != nil {
			t.Fatalf("run %d: unexpected error: %v", i, err)
		}
	}

	if got := store.associations("T-100"); got != 2 {
		t.Fatalf("expected 2 tag associations after repeat, got %d", got)
	}
	for _, tag := range store.tags {
		if strings.EqualFold(tag.Name, "does-not-exist") {
			t.Fatal("unknown tag must not be created")
		}
	}

	var detail struct {
		Attached []string `json:"attached"`
		Skipped  []string `json:"skipped_tags"`
	}
	if err := json.Unmarshal([]byte(auditor.entries[0].Details), &detail); err != nil {
		t.Fatalf("audit details not JSON: %v", err)
	}
	if len(detail.Attached) != 2 || len(detail.Skipped) != 1 || detail.Skipped[0] != "does-not-exist" {
		t.Fatalf("unexpected audit detail %+v", detail)
	}
}

func TestExecutor_OnlyUnknownTagsIsNoOp(t *testing.T) {
	store := newMemStore()
	store.addTicket(openTicket())
	exec := newTestExecutor(store, &scriptedProvider{}, nil)

	n, err := exec.Execute(context.Background(), "T-100",
		[]domain.Action{{Type: domain.ActionTags, TagNames: []string{"ghost"}}}, "agent-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("skipped tags still count as an applied action, got %d", n)
	}
	if store.mutations != 0 {
		t.Fatalf("expected no store mutations, got %d", store.mutations)
	}
}

func TestExecutor_SummaryStoresMessageAndTicketSummary(t *testing.T) {
	store := newMemStore()
	store.addTicket(openTicket())
	store.messages["T-100"] = sampleMessages()
	p := &scriptedProvider{replies: []string{"  Customer awaits a refund; finance is checking.  "}}
	exec := newTestExecutor(store, p, nil)

	if _, err := exec.Execute(context.Background(), "T-100", []domain.Action{{Type: domain.ActionSummary}}, "agent-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(p.requests) != 1 {
		t.Fatalf("expected one model call, got %d", len(p.requests))
	}
	req := p.requests[0]
	if req.Temperature != 0.7 || req.MaxTokens != 300 {
		t.Fatalf("expected temperature 0.7 / 300 tokens, got %v / %d", req.Temperature, req.MaxTokens)
	}
	if !strings.Contains(req.Messages[1].Content, "Where is my refund?") {
		t.Fatal("summary input should include the conversation")
	}

	msgs := store.messages["T-100"]
	last := msgs[len(msgs)-1]
	if !last.IsInternal || !last.IsSystem || last.AuthorID != "agent-1" {
		t.Fatalf("summary message should be internal and system-authored, got %+v", last)
	}
	if last.Body != "Customer awaits a refund; finance is checking." {
		t.Fatalf("unexpected summary body %q", last.Body)
	}
	if store.tickets["T-100"].AISummary != last.Body {
		t.Fatalf("ai_summary not stored, got %q", store.tickets["T-100"].AISummary)
	}
}

func TestExecutor_SummaryEmptyReplyFails(t *testing.T) {
	store := newMemStore()
	store.addTicket(openTicket())
	exec := newTestExecutor(store, &scriptedProvider{replies: []string{"   "}}, nil)

	_, err := exec.Execute(context.Background(), "T-100", []domain.Action{{Type: domain.ActionSummary}}, "agent-1")
	var execErr *domain.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if store.mutations != 0 {
		t.Fatalf("expected no mutations, got %d", store.mutations)
	}
}

func TestExecutor_SummaryWritesNothingOnFailure(t *testing.T) {
	for _, op := range []string{"SetAISummary", "AddMessage"} {
		t.Run(op, func(t *testing.T) {
			store := newMemStore()
			tk := openTicket()
			tk.AISummary = "earlier summary"
			store.addTicket(tk)
			store.failOn[op] = errors.New("disk full")
			exec := newTestExecutor(store, &scriptedProvider{replies: []string{"Customer cannot log in."}}, nil)

			_, err := exec.Execute(context.Background(), "T-100", []domain.Action{{Type: domain.ActionSummary}}, "agent-1")
			var execErr *domain.ExecutionError
			if !errors.As(err, &execErr) {
				t.Fatalf("expected ExecutionError, got %v", err)
			}
			if got := store.tickets["T-100"].AISummary; got != "earlier summary" {
				t.Fatalf("ai summary changed to %q", got)
			}
			if n := len(store.messages["T-100"]); n != 0 {
				t.Fatalf("expected no summary message, got %d", n)
			}
		})
	}
}

func TestExecutor_PostNote(t *testing.T) {
	store := newMemStore()
	store.addTicket(openTicket())
	exec := newTestExecutor(store, &scriptedProvider{}, nil)

	_, err := exec.Execute(context.Background(), "T-100",
		[]domain.Action{{Type: domain.ActionPostNote, Note: "Called the customer."}}, "agent-7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msgs := store.messages["T-100"]
	if len(msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(msgs))
	}
	if msgs[0].Body != "Called the customer." || !msgs[0].IsInternal || msgs[0].AuthorID != "agent-7" {
		t.Fatalf("unexpected note %+v", msgs[0])
	}
}

func TestExecutor_PartialApplyReported(t *testing.T) {
	store := newMemStore()
	store.addTicket(openTicket())
	store.failOn["UpdateTicketField:closed"] = errors.New("disk full")
	auditor := &recordingAuditor{}
	exec := newTestExecutor(store, &scriptedProvider{}, auditor)

	actions := []domain.Action{
		{Type: domain.ActionPriority, Priority: domain.PriorityUrgent},
		{Type: domain.ActionClose},
		{Type: domain.ActionPostNote, Note: "never written"},
	}
	n, err := exec.Execute(context.Background(), "T-100", actions, "agent-1")

	var execErr *domain.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if n != 1 || execErr.Applied != 1 || execErr.Index != 1 || execErr.Action != domain.ActionClose {
		t.Fatalf("unexpected failure report n=%d err=%+v", n, execErr)
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("cause should be preserved: %v", err)
	}

	ticket, _ := store.GetTicket(context.Background(), "T-100")
	if ticket.Priority != domain.PriorityUrgent {
		t.Fatal("earlier action should stay applied")
	}
	if ticket.Status != domain.StatusOpen {
		t.Fatalf("failed action must not change status, got %s", ticket.Status)
	}
	if len(store.messages["T-100"]) != 0 {
		t.Fatal("actions after the failure must not run")
	}

	if len(auditor.entries) != 2 || auditor.entries[1].Result != "failed" {
		t.Fatalf("expected applied then failed audit entries, got %+v", auditor.entries)
	}
}

func TestExecutor_RequiresTicketID(t *testing.T) {
	exec := newTestExecutor(newMemStore(), &scriptedProvider{}, nil)
	if _, err := exec.Execute(context.Background(), "", []domain.Action{{Type: domain.ActionClose}}, "u"); err == nil {
		t.Fatal("expected error for empty ticket ID")
	}
}
