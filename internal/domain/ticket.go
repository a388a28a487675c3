package domain

import "time"

type TicketStatus string

const (
	StatusOpen       TicketStatus = "open"
	StatusInProgress TicketStatus = "in_progress"
	StatusResolved   TicketStatus = "resolved"
	StatusClosed     TicketStatus = "closed"
)

// Valid reports whether s is one of the known ticket statuses.
func (s TicketStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusResolved, StatusClosed:
		return true
	}
	return false
}

type TicketPriority string

const (
	PriorityLow    TicketPriority = "low"
	PriorityMedium TicketPriority = "medium"
	PriorityHigh   TicketPriority = "high"
	PriorityUrgent TicketPriority = "urgent"
)

// Valid reports whether p is one of the known ticket priorities.
func (p TicketPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// AllStatuses and AllPriorities are listed in prompt order.
var (
	AllStatuses   = []TicketStatus{StatusOpen, StatusInProgress, StatusResolved, StatusClosed}
	AllPriorities = []TicketPriority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}
)

// Ticket is a customer support request.
type Ticket struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Status      TicketStatus   `json:"status"`
	Priority    TicketPriority `json:"priority"`
	CustomerID  string         `json:"customer_id"`
	AssigneeID  string         `json:"assignee_id,omitempty"`
	Tags        []string       `json:"tags"`
	AISummary   string         `json:"ai_summary,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Message is one entry of a ticket conversation.
type Message struct {
	ID         string    `json:"id"`
	TicketID   string    `json:"ticket_id"`
	AuthorID   string    `json:"author_id"`
	Body       string    `json:"body"`
	IsInternal bool      `json:"is_internal"` // hidden from the customer
	IsSystem   bool      `json:"is_system"`   // machine-authored
	CreatedAt  time.Time `json:"created_at"`
}

// Tag is a global label attached to tickets through ticket_tags.
type Tag struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// TicketField names the single-column updates the agent performs.
type TicketField string

const (
	FieldStatus   TicketField = "status"
	FieldPriority TicketField = "priority"
)
