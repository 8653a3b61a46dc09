package domain

import "context"

// Channel is an inbound source of sender messages (WhatsApp webhook, Telegram, ...).
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
}

// Transport delivers a single message to a single address.
// Implementations make exactly one attempt; retry is layered on top.
type Transport interface {
	Name() string
	Send(ctx context.Context, address, body string) error
}
