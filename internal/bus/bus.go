// Package bus carries inbound messages from channels to the processing loop.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"schoolcomm/internal/domain"
)

const (
	defaultBufferSize = 100
	publishTimeout    = 10 * time.Second
)

// InMemoryBus is a buffered Go channel shared by every inbound channel.
type InMemoryBus struct {
	inbound chan domain.InboundMessage
	mu      sync.RWMutex
	closed  bool
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a bus holding up to bufferSize pending messages.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &InMemoryBus{
		inbound: make(chan domain.InboundMessage, bufferSize),
		timeout: publishTimeout,
		logger:  logger,
	}
}

// Publish enqueues msg. When the buffer is full it waits up to the publish
// timeout and then drops the message.
func (b *InMemoryBus) Publish(msg domain.InboundMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus", "channel", msg.Channel)
		return
	}

	select {
	case b.inbound <- msg:
		return
	default:
	}

	b.logger.Warn("inbound bus full, waiting", "channel", msg.Channel, "sender", msg.SenderAddress)
	timer := time.NewTimer(b.timeout)
	defer timer.Stop()
	select {
	case b.inbound <- msg:
	case <-timer.C:
		b.logger.Error("message dropped: bus full",
			"channel", msg.Channel,
			"sender", msg.SenderAddress,
			"waited", b.timeout,
		)
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.InboundMessage {
	return b.inbound
}

// Pending returns the number of queued messages.
func (b *InMemoryBus) Pending() int {
	return len(b.inbound)
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
