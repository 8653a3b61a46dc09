package domain

import (
	"context"
	"encoding/json"
	"time"
)

// RenderedBody is the localized text one recipient receives.
type RenderedBody struct {
	RecipientID string   `json:"recipient_id"`
	Address     string   `json:"address"`
	Language    Language `json:"language"`
	Body        string   `json:"body"`
}

// NotificationRecord is the persisted outcome of an authorized message.
// It is written once and never mutated.
type NotificationRecord struct {
	ID        string          `json:"id"`
	Type      IntentKind      `json:"type"`
	SenderID  string          `json:"sender_id"`
	Scope     Scope           `json:"scope"`
	Payload   json.RawMessage `json:"payload"`
	Bodies    []RenderedBody  `json:"bodies"`
	CreatedAt time.Time       `json:"created_at"`
}

// NotificationStore persists notification records.
type NotificationStore interface {
	SaveNotification(ctx context.Context, rec NotificationRecord) (string, error)
	RecentNotifications(ctx context.Context, limit int) ([]NotificationRecord, error)
}

// Outcome is the terminal state of one delivery.
type Outcome string

const (
	OutcomeSent   Outcome = "sent"
	OutcomeFailed Outcome = "failed"
)

// DeliveryResult is the per-recipient result of a dispatch.
type DeliveryResult struct {
	RecipientAddress string  `json:"recipient_address"`
	Outcome          Outcome `json:"outcome"`
	Reason           string  `json:"reason,omitempty"`
	Attempts         int     `json:"attempts"`
}

// DeliveryLog records delivery results against the notification they belong to.
type DeliveryLog interface {
	RecordDelivery(ctx context.Context, notificationID string, result DeliveryResult) error
}
