// Package security gates access to the ticket agent and records what it did.
package security

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"strings"

	"supportdesk/internal/domain"
)

// Engine authorizes callers and writes audit entries.
type Engine struct {
	allowed     map[domain.UserRole]bool
	auditLogger domain.AuditLogger
	logger      *slog.Logger
}

type EngineConfig struct {
	// AllowedRoles defaults to admin and support.
	AllowedRoles []domain.UserRole
	AuditLogger  domain.AuditLogger // optional
	Logger       *slog.Logger
}

func NewEngine(cfg EngineConfig) *Engine {
	if len(cfg.AllowedRoles) == 0 {
		cfg.AllowedRoles = []domain.UserRole{domain.RoleAdmin, domain.RoleSupport}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	allowed := make(map[domain.UserRole]bool, len(cfg.AllowedRoles))
	for _, r := range cfg.AllowedRoles {
		allowed[r] = true
	}
	return &Engine{allowed: allowed, auditLogger: cfg.AuditLogger, logger: cfg.Logger}
}

// Authorize rejects any role outside the allowed set, customers included.
// Role names are matched case-insensitively.
func (e *Engine) Authorize(role string) error {
	if e.allowed[domain.UserRole(strings.ToLower(strings.TrimSpace(role)))] {
		return nil
	}
	e.logger.Warn("agent request BLOCKED by role", "role", role)
	return &domain.AuthorizationError{Role: role}
}

// Audit records entry. Failures are logged, never returned: the mutation it
// describes has already happened.
func (e *Engine) Audit(ctx context.Context, entry domain.AuditEntry) {
	if e.auditLogger == nil {
		return
	}
	if err := e.auditLogger.LogAudit(ctx, entry); err != nil {
		e.logger.Warn("audit write failed", "ticket", entry.TicketID, "action", entry.Action, "error", err)
	}
}

// CheckAPIKey compares keys in constant time. An empty expected key
// disables the check.
func CheckAPIKey(expected, got string) bool {
	if expected == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}
