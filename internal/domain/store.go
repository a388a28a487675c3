package domain

import "context"

// TicketStore is the ticket persistence collaborator. Implementations provide
// atomic single-row updates but no cross-row transactions.
type TicketStore interface {
	GetTicket(ctx context.Context, id string) (*Ticket, error)
	ListMessages(ctx context.Context, ticketID string) ([]Message, error)

	UpdateTicketField(ctx context.Context, ticketID string, field TicketField, value string) error
	SetAISummary(ctx context.Context, ticketID, summary string) error
	AddMessage(ctx context.Context, msg Message) (*Message, error)

	// FindTagByName matches case-insensitively and returns nil, nil on a miss.
	FindTagByName(ctx context.Context, name string) (*Tag, error)
	// AttachTag is idempotent.
	AttachTag(ctx context.Context, ticketID, tagID string) error
}
