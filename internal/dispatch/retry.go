package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"schoolcomm/internal/domain"
	"schoolcomm/internal/metrics"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = time.Second
)

// RetryingTransport sends through a single-attempt transport with exponential
// backoff. Attempts are bounded by count; an error explicitly marked permanent
// stops early.
type RetryingTransport struct {
	transport   domain.Transport
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger
}

type RetryConfig struct {
	MaxAttempts int           // default 3
	BaseDelay   time.Duration // default 1s, doubled after each failed attempt
}

func NewRetryingTransport(t domain.Transport, cfg RetryConfig, logger *slog.Logger) *RetryingTransport {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	return &RetryingTransport{
		transport:   t,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		logger:      logger,
	}
}

func (r *RetryingTransport) Name() string { return r.transport.Name() }

// MaxAttempts returns the attempt budget per send.
func (r *RetryingTransport) MaxAttempts() int { return r.maxAttempts }

// Send delivers body to address and reports how many attempts were made.
// The returned error wraps the last attempt's error.
func (r *RetryingTransport) Send(ctx context.Context, address, body string) (int, error) {
	latency := metrics.SendLatency.WithLabelValues(r.transport.Name())
	var lastErr error

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if attempt > 1 {
			backoff := r.baseDelay << (attempt - 2)
			r.logger.Warn("retrying send",
				"transport", r.transport.Name(),
				"address", address,
				"attempt", attempt,
				"backoff", backoff,
			)
			metrics.SendRetries.Inc()
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt - 1, fmt.Errorf("send abandoned: %w", ctx.Err())
			case <-timer.C:
			}
		}

		start := time.Now()
		err := r.transport.Send(ctx, address, body)
		latency.Observe(time.Since(start).Seconds())
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		if domain.IsPermanent(err) {
			r.logger.Warn("permanent send failure", "transport", r.transport.Name(), "address", address, "err", err)
			return attempt, err
		}
	}

	return r.maxAttempts, fmt.Errorf("send failed after %d attempts: %w", r.maxAttempts, lastErr)
}
