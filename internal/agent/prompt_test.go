package agent

import (
	"strings"
	"testing"
	"time"

	"supportdesk/internal/domain"
)

func sampleMessages() []domain.Message {
	return []domain.Message{
		{ID: "m1", AuthorID: "cust-9", Body: "Where is my refund?", CreatedAt: time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)},
		{ID: "m2", AuthorID: "agent-1", Body: "Checking with finance.", IsInternal: true, CreatedAt: time.Date(2025, 2, 1, 9, 5, 0, 0, time.UTC)},
		{ID: "m3", AuthorID: "agent-1", Body: "Auto summary", IsInternal: true, IsSystem: true, CreatedAt: time.Date(2025, 2, 1, 9, 6, 0, 0, time.UTC)},
	}
}

func TestModeFor(t *testing.T) {
	cases := map[string]Mode{
		"":        ModeGeneral,
		"  ":      ModeGeneral,
		"general": ModeGeneral,
		"GENERAL": ModeGeneral,
		"T-100":   ModeScoped,
	}
	for in, want := range cases {
		if got := ModeFor(in); got != want {
			t.Errorf("ModeFor(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestCompose_ScopedIncludesTicketConversationAndVocabulary(t *testing.T) {
	ticket := openTicket()
	docs := []domain.RetrievedDocument{{Source: "refunds.md", Content: "Refunds take 5-7 business days.", Score: 0.83}}

	p := NewComposer().Compose(ModeScoped, &ticket, sampleMessages(), docs, "  summarize this ticket ")

	for _, want := range []string{
		`"id": "T-100"`,
		`"status": "open"`,
		"1. [customer] cust-9 at 2025-02-01T09:00:00Z: Where is my refund?",
		"2. [internal] agent-1",
		"3. [internal][system] agent-1",
		"### Source: refunds.md (score 0.83)",
		`"value": "<open|in_progress|resolved|closed>"`,
		`"value": "<low|medium|high|urgent>"`,
		`{"type": "post_note", "note": "<text>"}`,
		"Reply with ONLY a JSON object",
	} {
		if !strings.Contains(p.System, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	if p.User != "summarize this ticket" {
		t.Fatalf("unexpected user prompt %q", p.User)
	}
}

func TestCompose_GeneralOmitsTicketSections(t *testing.T) {
	ticket := openTicket()
	p := NewComposer().Compose(ModeGeneral, &ticket, sampleMessages(), nil, "how many urgent tickets?")

	for _, banned := range []string{"## Ticket", "## Conversation", "T-100", "Where is my refund?"} {
		if strings.Contains(p.System, banned) {
			t.Errorf("general prompt should not contain %q", banned)
		}
	}
	if !strings.Contains(p.System, "actions are NOT executed") {
		t.Error("general prompt should state actions are not executed")
	}
	if !strings.Contains(p.System, `{"type": "close"}`) {
		t.Error("general prompt should still present the vocabulary")
	}
	if !strings.Contains(p.System, "(no relevant documents)") {
		t.Error("expected empty knowledge marker")
	}
}

func TestCompose_Deterministic(t *testing.T) {
	ticket := openTicket()
	ticket.Tags = []string{"billing", "vip"}
	docs := []domain.RetrievedDocument{{Source: "a.md", Content: "A", Score: 0.9}, {Source: "b.md", Content: "B", Score: 1}}
	c := NewComposer()

	first := c.Compose(ModeScoped, &ticket, sampleMessages(), docs, "close it")
	for i := 0; i < 20; i++ {
		if got := c.Compose(ModeScoped, &ticket, sampleMessages(), docs, "close it"); got != first {
			t.Fatalf("compose output changed on iteration %d", i)
		}
	}
}
