package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"schoolcomm/internal/classify"
	"schoolcomm/internal/dispatch"
	"schoolcomm/internal/domain"
	"schoolcomm/internal/metrics"
)

// State is where a message ended up in processing.
type State string

const (
	StateReceived    State = "received"
	StateClassified  State = "classified"
	StateAuthorized  State = "authorized"
	StatePersisted   State = "persisted"
	StateDispatching State = "dispatching"
	StateCompleted   State = "completed"
	StateRejected    State = "rejected"
)

// Outcome summarizes a processing result for callers and logs.
type Outcome string

const (
	OutcomeProcessed    Outcome = "processed"
	OutcomeRejected     Outcome = "rejected"
	OutcomeUnrecognized Outcome = "unrecognized"
	OutcomeError        Outcome = "error"
)

// Counts aggregates the recipient deliveries of one message.
type Counts struct {
	Recipients      int      `json:"recipients"`
	Sent            int      `json:"sent"`
	Failed          int      `json:"failed"`
	FailedAddresses []string `json:"failed_addresses,omitempty"`
}

// Result is returned for every processed message. Success is true once the
// message was classified, authorized and persisted, whatever happened to the
// individual recipient sends.
type Result struct {
	Success  bool              `json:"success"`
	State    State             `json:"state"`
	Intent   domain.IntentKind `json:"intent,omitempty"`
	Outcome  Outcome           `json:"outcome"`
	Reason   string            `json:"reason,omitempty"`
	RecordID string            `json:"record_id,omitempty"`
	Counts   Counts            `json:"counts"`
}

// Dispatcher delivers an acknowledgment and a set of recipient messages.
type Dispatcher interface {
	Dispatch(ctx context.Context, notificationID string, ack domain.OutboundMessage, deliveries []domain.OutboundMessage) dispatch.Report
}

// Processor runs one inbound message through classification, handling and
// dispatch. It never returns an error: every failure becomes a Result and,
// where there is a sender to tell, a reply.
type Processor struct {
	handler    *Handler
	dispatcher Dispatcher
	logger     *slog.Logger
}

func NewProcessor(handler *Handler, dispatcher Dispatcher, logger *slog.Logger) *Processor {
	return &Processor{handler: handler, dispatcher: dispatcher, logger: logger}
}

func (p *Processor) Process(ctx context.Context, msg domain.InboundMessage) (res Result) {
	res.State = StateReceived
	defer func() {
		if r := recover(); r != nil {
			metrics.Panics.Inc()
			p.logger.Error("panic processing message",
				"sender", msg.SenderAddress,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			p.reply(ctx, msg, errProcessing)
			res = Result{State: StateRejected, Intent: res.Intent, Outcome: OutcomeError, Reason: fmt.Sprint(r)}
		}
	}()

	intent := classify.Classify(msg.Text)
	res.State = StateClassified
	res.Intent = intent.Kind()
	metrics.MessagesByIntent.WithLabelValues(string(intent.Kind())).Inc()
	p.logger.Info("message classified",
		"channel", msg.Channel,
		"sender", msg.SenderAddress,
		"intent", intent.Kind(),
	)

	plan, err := p.handler.Handle(ctx, msg, intent)
	if err != nil {
		return p.reject(ctx, msg, res, err)
	}

	if plan.Record == nil {
		p.dispatcher.Dispatch(ctx, "", plan.Ack, nil)
		res.State = StateRejected
		res.Outcome = OutcomeUnrecognized
		res.Reason = "unrecognized message format"
		return res
	}

	res.RecordID = plan.Record.ID
	res.State = StateDispatching
	report := p.dispatcher.Dispatch(ctx, plan.Record.ID, plan.Ack, plan.Deliveries)

	res.Success = true
	res.State = StateCompleted
	res.Outcome = OutcomeProcessed
	res.Counts = Counts{
		Recipients:      len(report.Results),
		Sent:            report.Sent,
		Failed:          report.Failed,
		FailedAddresses: report.FailedAddresses,
	}
	return res
}

func (p *Processor) reject(ctx context.Context, msg domain.InboundMessage, res Result, err error) Result {
	var authErr *domain.AuthError
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &authErr):
		res.Outcome = OutcomeRejected
		res.Reason = string(authErr.Reason)
		metrics.Rejections.Inc()
	case errors.As(err, &vErr):
		res.Outcome = OutcomeRejected
		res.Reason = string(vErr.Reason)
		metrics.Rejections.Inc()
	default:
		res.Outcome = OutcomeError
		res.Reason = err.Error()
		p.logger.Error("message processing failed",
			"sender", msg.SenderAddress,
			"intent", res.Intent,
			"err", err,
		)
	}
	res.State = StateRejected
	p.reply(ctx, msg, rejectionText(err))
	return res
}

// reply answers the sender on the channel the message arrived on.
func (p *Processor) reply(ctx context.Context, msg domain.InboundMessage, body string) {
	if msg.SenderAddress == "" {
		return
	}
	p.dispatcher.Dispatch(ctx, "", domain.OutboundMessage{Address: msg.SenderAddress, Body: body, Channel: msg.Channel}, nil)
}
