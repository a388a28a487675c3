package domain

import "context"

type UserRole string

const (
	RoleAdmin    UserRole = "admin"
	RoleSupport  UserRole = "support"
	RoleCustomer UserRole = "customer"
)

// AuditEntry records one applied agent action.
type AuditEntry struct {
	TicketID string `json:"ticket_id"`
	UserID   string `json:"user_id"`
	Action   string `json:"action"`
	Result   string `json:"result"` // applied | failed
	Details  string `json:"details"`
}

// AuditLogger persists audit entries.
type AuditLogger interface {
	LogAudit(ctx context.Context, entry AuditEntry) error
}
