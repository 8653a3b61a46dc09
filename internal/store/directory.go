package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"schoolcomm/internal/domain"
)

func (s *SQLiteStore) FindSender(ctx context.Context, address string, role domain.Role) (*domain.Sender, error) {
	var sender domain.Sender
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, address, role, class_name, organization_id
		 FROM senders
		 WHERE address = ? AND (? = '' OR role = ?)
		 ORDER BY role LIMIT 1`,
		address, string(role), string(role),
	).Scan(&sender.ID, &sender.Name, &sender.Address, &sender.Role, &sender.AssignedClassName, &sender.OrganizationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sender, nil
}

// ResolveRecipients returns guardians ordered by name. A guardian with several
// children in the same class is returned once.
func (s *SQLiteStore) ResolveRecipients(ctx context.Context, scope domain.Scope) ([]domain.Recipient, error) {
	var (
		rows *sql.Rows
		err  error
	)
	switch scope.Kind {
	case domain.ScopeClassRoster:
		rows, err = s.db.QueryContext(ctx,
			`SELECT DISTINCT g.id, g.name, g.address, g.language
			 FROM guardians g JOIN students st ON st.guardian_id = g.id
			 WHERE st.organization_id = ? AND st.class_name = ?
			 ORDER BY g.name, g.id`,
			scope.OrganizationID, scope.ClassName,
		)
	case domain.ScopeOrganization:
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, name, address, language
			 FROM guardians WHERE organization_id = ?
			 ORDER BY name, id`,
			scope.OrganizationID,
		)
	default:
		return nil, fmt.Errorf("unknown scope kind %q", scope.Kind)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recipients []domain.Recipient
	for rows.Next() {
		var r domain.Recipient
		var lang string
		if err := rows.Scan(&r.ID, &r.Name, &r.Address, &lang); err != nil {
			return nil, err
		}
		r.PreferredLanguage = domain.ParseLanguage(lang)
		recipients = append(recipients, r)
	}
	return recipients, rows.Err()
}

// Organization is a school.
type Organization struct {
	ID   string
	Name string
}

// Guardian is a directory entry for a parent or guardian.
type Guardian struct {
	domain.Recipient
	OrganizationID string
}

// Student links a guardian to a class.
type Student struct {
	ID             string
	Name           string
	ClassName      string
	OrganizationID string
	GuardianID     string
}

// DirectoryEntries is a full directory snapshot.
type DirectoryEntries struct {
	Organizations []Organization
	Senders       []domain.Sender
	Guardians     []Guardian
	Students      []Student
}

// ReplaceDirectory upserts every entry in one transaction. Existing rows with
// the same ID are updated; rows not mentioned are left alone.
func (s *SQLiteStore) ReplaceDirectory(ctx context.Context, d DirectoryEntries) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, o := range d.Organizations {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO organizations (id, name) VALUES (?, ?)
			 ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
			o.ID, o.Name,
		); err != nil {
			return fmt.Errorf("organization %s: %w", o.ID, err)
		}
	}
	for _, sd := range d.Senders {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO senders (id, name, address, role, class_name, organization_id) VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET name = excluded.name, address = excluded.address, role = excluded.role,
			   class_name = excluded.class_name, organization_id = excluded.organization_id`,
			sd.ID, sd.Name, sd.Address, string(sd.Role), sd.AssignedClassName, sd.OrganizationID,
		); err != nil {
			return fmt.Errorf("sender %s: %w", sd.ID, err)
		}
	}
	for _, g := range d.Guardians {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO guardians (id, name, address, language, organization_id) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET name = excluded.name, address = excluded.address,
			   language = excluded.language, organization_id = excluded.organization_id`,
			g.ID, g.Name, g.Address, string(domain.ParseLanguage(string(g.PreferredLanguage))), g.OrganizationID,
		); err != nil {
			return fmt.Errorf("guardian %s: %w", g.ID, err)
		}
	}
	for _, st := range d.Students {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO students (id, name, class_name, organization_id, guardian_id) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET name = excluded.name, class_name = excluded.class_name,
			   organization_id = excluded.organization_id, guardian_id = excluded.guardian_id`,
			st.ID, st.Name, st.ClassName, st.OrganizationID, st.GuardianID,
		); err != nil {
			return fmt.Errorf("student %s: %w", st.ID, err)
		}
	}
	return tx.Commit()
}

// ListSenders returns every registered sender, admins first.
func (s *SQLiteStore) ListSenders(ctx context.Context) ([]domain.Sender, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, address, role, class_name, organization_id
		 FROM senders ORDER BY role, class_name, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var senders []domain.Sender
	for rows.Next() {
		var sd domain.Sender
		if err := rows.Scan(&sd.ID, &sd.Name, &sd.Address, &sd.Role, &sd.AssignedClassName, &sd.OrganizationID); err != nil {
			return nil, err
		}
		senders = append(senders, sd)
	}
	return senders, rows.Err()
}
