package domain

import "context"

// Role is the authority a registered sender holds.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// Language is a recipient's preferred notification locale.
type Language string

const (
	LanguageEnglish Language = "en"
	LanguageNepali  Language = "ne"
)

// ParseLanguage returns the language for s, defaulting to English.
func ParseLanguage(s string) Language {
	if Language(s) == LanguageNepali {
		return LanguageNepali
	}
	return LanguageEnglish
}

// Sender is a registered staff member allowed to send messages.
type Sender struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Address           string `json:"address"`
	Role              Role   `json:"role"`
	AssignedClassName string `json:"assigned_class_name,omitempty"` // teachers only
	OrganizationID    string `json:"organization_id"`
}

// Recipient is a guardian who receives notifications.
type Recipient struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Address           string   `json:"address"`
	PreferredLanguage Language `json:"preferred_language"`
}

// ScopeKind selects how recipients are resolved.
type ScopeKind string

const (
	ScopeClassRoster  ScopeKind = "class_roster"
	ScopeOrganization ScopeKind = "organization"
)

// Scope is the recipient-selection rule attached to a notification.
type Scope struct {
	Kind           ScopeKind `json:"kind"`
	ClassName      string    `json:"class_name,omitempty"`
	OrganizationID string    `json:"organization_id"`
}

func ClassRoster(className, orgID string) Scope {
	return Scope{Kind: ScopeClassRoster, ClassName: className, OrganizationID: orgID}
}

func Organization(orgID string) Scope {
	return Scope{Kind: ScopeOrganization, OrganizationID: orgID}
}

// Directory resolves senders and recipients.
type Directory interface {
	// FindSender returns the sender registered at address holding role.
	// An empty role matches any role. Returns ErrNotFound when nothing matches.
	FindSender(ctx context.Context, address string, role Role) (*Sender, error)

	// ResolveRecipients returns the guardians selected by scope.
	ResolveRecipients(ctx context.Context, scope Scope) ([]Recipient, error)
}
