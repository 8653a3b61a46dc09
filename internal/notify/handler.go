// Package notify turns a classified message into a persisted notification and
// the messages that announce it.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"schoolcomm/internal/domain"
	"schoolcomm/internal/security"
)

// Plan is what a handler produced for one message. Record is nil when nothing
// was persisted.
type Plan struct {
	Record     *domain.NotificationRecord
	Ack        domain.OutboundMessage
	Deliveries []domain.OutboundMessage
}

// Handler authorizes, persists and renders each intent variant.
type Handler struct {
	auth     *security.Engine
	dir      domain.Directory
	store    domain.NotificationStore
	renderer *Renderer
	logger   *slog.Logger
	now      func() time.Time
}

type HandlerConfig struct {
	Auth      *security.Engine
	Directory domain.Directory
	Store     domain.NotificationStore
	Renderer  *Renderer // default NewRenderer()
	Logger    *slog.Logger
	Now       func() time.Time // default time.Now
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Renderer == nil {
		cfg.Renderer = NewRenderer()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Handler{
		auth:     cfg.Auth,
		dir:      cfg.Directory,
		store:    cfg.Store,
		renderer: cfg.Renderer,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
}

// Handle runs the handler for intent. Authorization and validation failures
// are returned as *domain.AuthError and *domain.ValidationError; in that case
// nothing has been persisted.
func (h *Handler) Handle(ctx context.Context, msg domain.InboundMessage, intent domain.Intent) (*Plan, error) {
	switch in := intent.(type) {
	case domain.DailyUpdate:
		return h.dailyUpdate(ctx, msg, in)
	case domain.Attendance:
		return h.attendance(ctx, msg, in)
	case domain.Announcement:
		return h.announcement(ctx, msg, in)
	case domain.Unrecognized:
		return &Plan{Ack: domain.OutboundMessage{Address: msg.SenderAddress, Channel: msg.Channel, Body: helpText}}, nil
	default:
		return nil, &domain.ValidationError{Reason: domain.MalformedIntent}
	}
}

func (h *Handler) dailyUpdate(ctx context.Context, msg domain.InboundMessage, in domain.DailyUpdate) (*Plan, error) {
	sender, err := h.auth.Authorize(ctx, msg.SenderAddress, domain.RoleTeacher, in.Kind())
	if err != nil {
		return nil, err
	}
	if err := h.auth.RequireClass(sender, in.ClassName); err != nil {
		return nil, err
	}

	scope := domain.ClassRoster(in.ClassName, sender.OrganizationID)
	bodies, err := h.renderFor(ctx, scope, in.Kind(), in)
	if err != nil {
		return nil, err
	}
	rec, err := h.persist(ctx, sender, scope, in, bodies)
	if err != nil {
		return nil, err
	}
	return &Plan{
		Record:     rec,
		Ack:        domain.OutboundMessage{Address: msg.SenderAddress, Channel: msg.Channel, Body: fmt.Sprintf(ackDailyUpdate, in.ClassName)},
		Deliveries: deliveries(bodies),
	}, nil
}

// attendance records the roll call against the teacher's own class. The class
// is not named in the message, so there is nothing to cross-check.
func (h *Handler) attendance(ctx context.Context, msg domain.InboundMessage, in domain.Attendance) (*Plan, error) {
	sender, err := h.auth.Authorize(ctx, msg.SenderAddress, domain.RoleTeacher, in.Kind())
	if err != nil {
		return nil, err
	}

	scope := domain.ClassRoster(sender.AssignedClassName, sender.OrganizationID)
	rec, err := h.persist(ctx, sender, scope, in, nil)
	if err != nil {
		return nil, err
	}
	h.logger.Info("attendance recorded",
		"sender", sender.ID,
		"class", sender.AssignedClassName,
		"present", in.Present(),
		"total", len(in.Records),
	)
	return &Plan{
		Record: rec,
		Ack:    domain.OutboundMessage{Address: msg.SenderAddress, Channel: msg.Channel, Body: fmt.Sprintf(ackAttendance, sender.AssignedClassName)},
	}, nil
}

func (h *Handler) announcement(ctx context.Context, msg domain.InboundMessage, in domain.Announcement) (*Plan, error) {
	sender, err := h.auth.Authorize(ctx, msg.SenderAddress, domain.RoleAdmin, in.Kind())
	if err != nil {
		return nil, err
	}

	scope := domain.Organization(sender.OrganizationID)
	bodies, err := h.renderFor(ctx, scope, in.Kind(), in)
	if err != nil {
		return nil, err
	}
	rec, err := h.persist(ctx, sender, scope, in, bodies)
	if err != nil {
		return nil, err
	}
	return &Plan{
		Record:     rec,
		Ack:        domain.OutboundMessage{Address: msg.SenderAddress, Channel: msg.Channel, Body: ackAnnouncement},
		Deliveries: deliveries(bodies),
	}, nil
}

// renderFor resolves the recipients in scope and renders one body each in
// the recipient's preferred language.
func (h *Handler) renderFor(ctx context.Context, scope domain.Scope, kind domain.IntentKind, data any) ([]domain.RenderedBody, error) {
	recipients, err := h.dir.ResolveRecipients(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}
	bodies := make([]domain.RenderedBody, 0, len(recipients))
	for _, r := range recipients {
		lang := domain.ParseLanguage(string(r.PreferredLanguage))
		body, err := h.renderer.Render(kind, lang, data)
		if err != nil {
			return nil, err
		}
		bodies = append(bodies, domain.RenderedBody{
			RecipientID: r.ID,
			Address:     r.Address,
			Language:    lang,
			Body:        body,
		})
	}
	return bodies, nil
}

func (h *Handler) persist(ctx context.Context, sender *domain.Sender, scope domain.Scope, intent domain.Intent, bodies []domain.RenderedBody) (*domain.NotificationRecord, error) {
	payload, err := json.Marshal(intent)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	rec := domain.NotificationRecord{
		Type:      intent.Kind(),
		SenderID:  sender.ID,
		Scope:     scope,
		Payload:   payload,
		Bodies:    bodies,
		CreatedAt: h.now().UTC(),
	}
	id, err := h.store.SaveNotification(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("save notification: %w", err)
	}
	rec.ID = id
	h.logger.Info("notification saved",
		"id", id,
		"type", rec.Type,
		"sender", sender.ID,
		"recipients", len(bodies),
	)
	return &rec, nil
}

func deliveries(bodies []domain.RenderedBody) []domain.OutboundMessage {
	return lo.Map(bodies, func(b domain.RenderedBody, _ int) domain.OutboundMessage {
		return domain.OutboundMessage{Address: b.Address, Body: b.Body}
	})
}
