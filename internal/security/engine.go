// Package security decides whether a sender may act on a classified intent.
package security

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"schoolcomm/internal/domain"
)

// Engine authorizes senders against the directory and records each decision.
type Engine struct {
	dir         domain.Directory
	auditLogger domain.AuditLogger
	auditLog    bool
	logger      *slog.Logger
}

type EngineConfig struct {
	Directory   domain.Directory
	AuditLogger domain.AuditLogger // optional
	AuditLog    bool
	Logger      *slog.Logger
}

func NewEngine(cfg EngineConfig) *Engine {
	return &Engine{
		dir:         cfg.Directory,
		auditLogger: cfg.AuditLogger,
		auditLog:    cfg.AuditLog,
		logger:      cfg.Logger,
	}
}

// Authorize resolves the sender at address and requires it to hold role.
//
// It returns *domain.AuthError with SenderNotFound when nothing is registered
// at address, and RoleMismatch when the address is registered only under a
// different role. Directory failures are returned as-is.
func (e *Engine) Authorize(ctx context.Context, address string, role domain.Role, intent domain.IntentKind) (*domain.Sender, error) {
	sender, err := e.dir.FindSender(ctx, address, role)
	if err == nil {
		e.logAction(ctx, address, role, intent, "allowed", "sender "+sender.ID)
		return sender, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("find sender: %w", err)
	}

	reason := domain.SenderNotFound
	other, err := e.dir.FindSender(ctx, address, "")
	switch {
	case err == nil:
		reason = domain.RoleMismatch
		e.logger.Warn("sender role mismatch",
			"address", address,
			"required", role,
			"actual", other.Role,
			"intent", intent,
		)
	case errors.Is(err, domain.ErrNotFound):
		e.logger.Warn("sender not registered", "address", address, "intent", intent)
	default:
		return nil, fmt.Errorf("find sender: %w", err)
	}

	e.logAction(ctx, address, role, intent, "denied", string(reason))
	return nil, &domain.AuthError{Reason: reason, Address: address, Required: role}
}

// RequireClass checks that a teacher is assigned to the class named in a message.
func (e *Engine) RequireClass(sender *domain.Sender, className string) error {
	if sender.AssignedClassName == className {
		return nil
	}
	e.logger.Warn("class mismatch",
		"sender", sender.ID,
		"requested", className,
		"assigned", sender.AssignedClassName,
	)
	return &domain.ValidationError{
		Reason:    domain.ClassMismatch,
		Requested: className,
		Assigned:  sender.AssignedClassName,
	}
}

func (e *Engine) logAction(ctx context.Context, address string, role domain.Role, intent domain.IntentKind, result, details string) {
	if !e.auditLog || e.auditLogger == nil {
		return
	}
	err := e.auditLogger.LogAudit(ctx, domain.AuditEntry{
		Action:  "authorize",
		Address: address,
		Role:    string(role),
		Intent:  string(intent),
		Result:  result,
		Details: details,
	})
	if err != nil {
		e.logger.Warn("audit log write failed", "err", err)
	}
}
