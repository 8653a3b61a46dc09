package channel

import (
	"context"
	"log/slog"
	"sync"
)

// LogTransport records outbound messages in the log instead of sending
// them. It is used when no provider credentials are configured.
type LogTransport struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent int
}

func NewLogTransport(logger *slog.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

func (l *LogTransport) Name() string { return "log" }

func (l *LogTransport) Send(ctx context.Context, address, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	l.sent++
	l.mu.Unlock()
	l.logger.Info("dry-run send", "to", address, "body_len", len(body), "body", body)
	return nil
}

// Sent returns the number of messages logged so far.
func (l *LogTransport) Sent() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sent
}
