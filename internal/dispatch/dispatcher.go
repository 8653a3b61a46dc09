// Package dispatch delivers a processed message: the sender's acknowledgment
// first, then the rendered notification to every recipient.
package dispatch

import (
	"context"
	"log/slog"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"schoolcomm/internal/domain"
	"schoolcomm/internal/metrics"
)

const defaultConcurrency = 4

// Report is the aggregate result of one dispatch. Results are in the order
// the deliveries were given.
type Report struct {
	Ack             domain.DeliveryResult   `json:"ack"`
	Results         []domain.DeliveryResult `json:"results"`
	Sent            int                     `json:"sent"`
	Failed          int                     `json:"failed"`
	FailedAddresses []string                `json:"failed_addresses,omitempty"`
}

// Dispatcher fans deliveries out through a retrying transport with bounded
// concurrency. A failed recipient never affects any other recipient.
type Dispatcher struct {
	sender      *RetryingTransport
	replies     map[string]*RetryingTransport
	deliveryLog domain.DeliveryLog
	concurrency int
	logger      *slog.Logger
}

type Config struct {
	Transport *RetryingTransport
	// Replies maps an inbound channel name to the transport that answers
	// senders on it. Channels missing from the map reply through Transport.
	Replies     map[string]*RetryingTransport
	DeliveryLog domain.DeliveryLog // optional
	Concurrency int                // default 4
	Logger      *slog.Logger
}

func New(cfg Config) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Dispatcher{
		sender:      cfg.Transport,
		replies:     cfg.Replies,
		deliveryLog: cfg.DeliveryLog,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
	}
}

// Dispatch sends ack (skipped when it has no address) and then every delivery.
// The ack goes out on the transport registered for ack.Channel.
// notificationID ties the results to a persisted record in the delivery log
// and may be empty when nothing was persisted.
func (d *Dispatcher) Dispatch(ctx context.Context, notificationID string, ack domain.OutboundMessage, deliveries []domain.OutboundMessage) Report {
	var report Report
	if ack.Address != "" {
		report.Ack = d.send(ctx, d.replyTransport(ack.Channel), ack)
		if report.Ack.Outcome == domain.OutcomeFailed {
			metrics.AcksFailed.Inc()
			d.logger.Warn("acknowledgment not delivered", "address", ack.Address, "reason", report.Ack.Reason)
		}
	}

	results := make([]domain.DeliveryResult, len(deliveries))
	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, msg := range deliveries {
		i, msg := i, msg
		g.Go(func() error {
			results[i] = d.send(ctx, d.sender, msg)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		if res.Outcome == domain.OutcomeSent {
			metrics.DeliveriesSent.Inc()
		} else {
			metrics.DeliveriesFail.Inc()
		}
		if notificationID != "" && d.deliveryLog != nil {
			if err := d.deliveryLog.RecordDelivery(ctx, notificationID, res); err != nil {
				d.logger.Warn("record delivery failed", "notification", notificationID, "err", err)
			}
		}
	}

	failed := lo.Filter(results, func(r domain.DeliveryResult, _ int) bool {
		return r.Outcome == domain.OutcomeFailed
	})
	report.Results = results
	report.Failed = len(failed)
	report.Sent = len(results) - len(failed)
	report.FailedAddresses = lo.Map(failed, func(r domain.DeliveryResult, _ int) string {
		return r.RecipientAddress
	})

	d.logger.Info("dispatch complete",
		"notification", notificationID,
		"recipients", len(results),
		"sent", report.Sent,
		"failed", report.Failed,
	)
	return report
}

func (d *Dispatcher) replyTransport(channel string) *RetryingTransport {
	if t, ok := d.replies[channel]; ok {
		return t
	}
	return d.sender
}

func (d *Dispatcher) send(ctx context.Context, sender *RetryingTransport, msg domain.OutboundMessage) domain.DeliveryResult {
	attempts, err := sender.Send(ctx, msg.Address, msg.Body)
	if err != nil {
		failure := &domain.DeliveryFailure{RecipientAddress: msg.Address, Reason: err.Error()}
		d.logger.Warn("delivery failed", "address", msg.Address, "attempts", attempts, "err", failure)
		return domain.DeliveryResult{
			RecipientAddress: msg.Address,
			Outcome:          domain.OutcomeFailed,
			Reason:           failure.Reason,
			Attempts:         attempts,
		}
	}
	return domain.DeliveryResult{
		RecipientAddress: msg.Address,
		Outcome:          domain.OutcomeSent,
		Attempts:         attempts,
	}
}
