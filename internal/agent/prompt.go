package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"supportdesk/internal/domain"
	"supportdesk/internal/knowledge"
)

// Mode selects whether a request is bound to a ticket.
type Mode string

const (
	ModeGeneral Mode = "general"
	ModeScoped  Mode = "scoped"
)

// ModeFor derives the mode from the request's ticket reference. An empty
// reference and the literal "general" both mean no ticket.
func ModeFor(ticketID string) Mode {
	id := strings.TrimSpace(ticketID)
	if id == "" || strings.EqualFold(id, string(ModeGeneral)) {
		return ModeGeneral
	}
	return ModeScoped
}

// Prompt is the system/user message pair sent to the interpreter.
type Prompt struct {
	System string
	User   string
}

// Composer builds prompts. Output depends only on its inputs.
type Composer struct{}

func NewComposer() *Composer { return &Composer{} }

// Compose builds the prompt for one request. ticket and messages are ignored
// in general mode.
func (c *Composer) Compose(mode Mode, ticket *domain.Ticket, messages []domain.Message, docs []domain.RetrievedDocument, instruction string) Prompt {
	var sb strings.Builder

	if mode == ModeScoped {
		sb.WriteString("You are a support desk agent working on a single customer ticket. ")
		sb.WriteString("Read the ticket, its conversation and the knowledge excerpts, then carry out the staff member's instruction ")
		sb.WriteString("by proposing actions from the list below.\n\n")
	} else {
		sb.WriteString("You are a support desk assistant answering questions about the support operation as a whole. ")
		sb.WriteString("No ticket is selected: actions are NOT executed in this mode. ")
		sb.WriteString("Always return an empty \"actions\" array and put your full answer in \"message\".\n\n")
	}

	writeContract(&sb)
	writeVocabulary(&sb, mode)

	if mode == ModeScoped && ticket != nil {
		sb.WriteString("\n## Ticket\n\n")
		sb.WriteString(ticketJSON(ticket))
		sb.WriteString("\n\n## Conversation\n\n")
		writeConversation(&sb, messages)
	}

	sb.WriteString("\n## Knowledge\n\n")
	if kc := knowledge.BuildContext(docs); kc != "" {
		sb.WriteString(kc)
		sb.WriteString("\n")
	} else {
		sb.WriteString("(no relevant documents)\n")
	}

	return Prompt{
		System: sb.String(),
		User:   strings.TrimSpace(instruction),
	}
}

func writeContract(sb *strings.Builder) {
	sb.WriteString("## Output format\n\n")
	sb.WriteString("Reply with ONLY a JSON object of this exact shape. No prose before or after it, no markdown code fences:\n\n")
	sb.WriteString(`{"actions": [<action>, ...], "message": "<reply to the staff member>"}`)
	sb.WriteString("\n\n\"message\" is required and must be human-readable even when \"actions\" is empty.\n")
}

func writeVocabulary(sb *strings.Builder, mode Mode) {
	if mode == ModeScoped {
		sb.WriteString("\n## Allowed actions\n\n")
		sb.WriteString("Use only these shapes, with exactly these field names and values. Actions run in the order given.\n\n")
	} else {
		sb.WriteString("\n## Action vocabulary (reference only, not executed in this mode)\n\n")
	}

	statuses := make([]string, len(domain.AllStatuses))
	for i, s := range domain.AllStatuses {
		statuses[i] = string(s)
	}
	priorities := make([]string, len(domain.AllPriorities))
	for i, p := range domain.AllPriorities {
		priorities[i] = string(p)
	}

	fmt.Fprintf(sb, "- {\"type\": \"status\", \"value\": \"<%s>\"}: change the ticket status.\n", strings.Join(statuses, "|"))
	fmt.Fprintf(sb, "- {\"type\": \"priority\", \"value\": \"<%s>\"}: change the ticket priority.\n", strings.Join(priorities, "|"))
	sb.WriteString("- {\"type\": \"tags\", \"value\": [\"<tag name>\", ...]}: attach existing tags. Unknown names are ignored; tags are never created.\n")
	sb.WriteString("- {\"type\": \"summary\"}: generate and store a summary of the ticket.\n")
	sb.WriteString("- {\"type\": \"close\"}: close the ticket.\n")
	sb.WriteString("- {\"type\": \"post_note\", \"note\": \"<text>\"}: add an internal note visible to staff only.\n")
}

func ticketJSON(t *domain.Ticket) string {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", *t)
	}
	return string(data)
}

func writeConversation(sb *strings.Builder, messages []domain.Message) {
	if len(messages) == 0 {
		sb.WriteString("(no messages yet)\n")
		return
	}
	for i, m := range messages {
		fmt.Fprintf(sb, "%d. %s %s at %s: %s\n",
			i+1, provenance(m), m.AuthorID, m.CreatedAt.UTC().Format(time.RFC3339), strings.TrimSpace(m.Body))
	}
}

func provenance(m domain.Message) string {
	label := "[customer]"
	if m.IsInternal {
		label = "[internal]"
	}
	if m.IsSystem {
		label += "[system]"
	}
	return label
}
