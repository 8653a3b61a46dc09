package domain

import "context"

// AuditEntry records an authorization decision.
type AuditEntry struct {
	Action  string // authorize
	Address string
	Role    string
	Intent  string
	Result  string // allowed | denied
	Details string
}

// AuditLogger persists audit entries.
type AuditLogger interface {
	LogAudit(ctx context.Context, entry AuditEntry) error
}
