package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"schoolcomm/internal/domain"
)

const defaultRecentLimit = 10

// SaveNotification writes rec and its rendered bodies in one transaction.
// An empty rec.ID is replaced by a new UUID.
func (s *SQLiteStore) SaveNotification(ctx context.Context, rec domain.NotificationRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO notifications (id, type, sender_id, scope_kind, class_name, organization_id, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Type), rec.SenderID, string(rec.Scope.Kind), rec.Scope.ClassName,
		rec.Scope.OrganizationID, string(rec.Payload), rec.CreatedAt,
	); err != nil {
		return "", fmt.Errorf("insert notification: %w", err)
	}
	for i, b := range rec.Bodies {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO notification_bodies (notification_id, position, recipient_id, address, language, body)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			rec.ID, i, b.RecipientID, b.Address, string(b.Language), b.Body,
		); err != nil {
			return "", fmt.Errorf("insert body %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// RecentNotifications returns the newest records first, bodies included.
func (s *SQLiteStore) RecentNotifications(ctx context.Context, limit int) ([]domain.NotificationRecord, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, sender_id, scope_kind, class_name, organization_id, payload, created_at
		 FROM notifications ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}

	var recs []domain.NotificationRecord
	for rows.Next() {
		var r domain.NotificationRecord
		var payload string
		if err := rows.Scan(&r.ID, &r.Type, &r.SenderID, &r.Scope.Kind, &r.Scope.ClassName,
			&r.Scope.OrganizationID, &payload, &r.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		r.Payload = []byte(payload)
		recs = append(recs, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Bodies are loaded after the outer cursor is closed: the store runs on a
	// single connection.
	for i := range recs {
		bodies, err := s.bodies(ctx, recs[i].ID)
		if err != nil {
			return nil, err
		}
		recs[i].Bodies = bodies
	}
	return recs, nil
}

func (s *SQLiteStore) bodies(ctx context.Context, notificationID string) ([]domain.RenderedBody, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT recipient_id, address, language, body
		 FROM notification_bodies WHERE notification_id = ? ORDER BY position`, notificationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RenderedBody
	for rows.Next() {
		var b domain.RenderedBody
		if err := rows.Scan(&b.RecipientID, &b.Address, &b.Language, &b.Body); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RecordDelivery(ctx context.Context, notificationID string, res domain.DeliveryResult) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries (notification_id, address, outcome, reason, attempts)
		 VALUES (?, ?, ?, ?, ?)`,
		notificationID, res.RecipientAddress, string(res.Outcome), res.Reason, res.Attempts,
	)
	return err
}

// Stats summarizes the store for dashboards.
type Stats struct {
	Notifications    map[string]int `json:"notifications"`
	DeliveriesSent   int            `json:"deliveries_sent"`
	DeliveriesFailed int            `json:"deliveries_failed"`
	Teachers         int            `json:"teachers"`
	Admins           int            `json:"admins"`
	Guardians        int            `json:"guardians"`
	Students         int            `json:"students"`
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{Notifications: make(map[string]int)}

	rows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM notifications GROUP BY type`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			rows.Close()
			return nil, err
		}
		st.Notifications[kind] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	counts := []struct {
		dst   *int
		query string
	}{
		{&st.DeliveriesSent, `SELECT COUNT(*) FROM deliveries WHERE outcome = 'sent'`},
		{&st.DeliveriesFailed, `SELECT COUNT(*) FROM deliveries WHERE outcome = 'failed'`},
		{&st.Teachers, `SELECT COUNT(*) FROM senders WHERE role = 'teacher'`},
		{&st.Admins, `SELECT COUNT(*) FROM senders WHERE role = 'admin'`},
		{&st.Guardians, `SELECT COUNT(*) FROM guardians`},
		{&st.Students, `SELECT COUNT(*) FROM students`},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return nil, err
		}
	}
	return st, nil
}
