package channel

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"schoolcomm/internal/domain"
)

// WebhookConfig configures the generic JSON webhook channel.
type WebhookConfig struct {
	Path   string // webhook URL path (default: /webhook/generic)
	Secret string // HMAC secret for verifying webhook signatures
	Logger *slog.Logger
}

// Webhook accepts sender messages as plain JSON from integrations that are
// not a messaging provider, such as an SMS gateway or a school portal.
type Webhook struct {
	path   string
	secret string
	bus    domain.MessageBus
	logger *slog.Logger
}

// WebhookPayload is the expected JSON body for webhook requests.
type WebhookPayload struct {
	Sender string `json:"sender"` // sender address, e.g. a phone number
	Text   string `json:"text"`
}

func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Path == "" {
		cfg.Path = "/webhook/generic"
	}
	return &Webhook{
		path:   cfg.Path,
		secret: cfg.Secret,
		logger: cfg.Logger,
	}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Start(ctx context.Context, bus domain.MessageBus) error {
	w.bus = bus
	w.logger.Info("webhook channel ready", "path", w.path, "signed", w.secret != "")
	return nil
}

func (w *Webhook) Stop() error { return nil }

// Register mounts the webhook handler on mux.
func (w *Webhook) Register(mux *http.ServeMux) {
	mux.HandleFunc(w.path, w.handleWebhook)
}

func (w *Webhook) handleWebhook(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyLen))
	if err != nil {
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if w.secret != "" {
		sig := r.Header.Get("X-Signature-256")
		if sig == "" {
			http.Error(rw, "Missing signature", http.StatusUnauthorized)
			return
		}
		if !verifyHMAC(body, w.secret, sig) {
			http.Error(rw, "Invalid signature", http.StatusForbidden)
			return
		}
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(rw, "Invalid JSON", http.StatusBadRequest)
		return
	}
	payload.Sender = strings.TrimSpace(payload.Sender)
	if payload.Sender == "" || strings.TrimSpace(payload.Text) == "" {
		http.Error(rw, "sender and text are required", http.StatusBadRequest)
		return
	}
	if w.bus == nil {
		http.Error(rw, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	w.logger.Info("webhook received", "sender", payload.Sender, "text_len", len(payload.Text))

	w.bus.Publish(domain.InboundMessage{
		Channel:       "webhook",
		SenderAddress: payload.Sender,
		Text:          payload.Text,
		ReceivedAt:    time.Now(),
	})

	writeJSON(rw, http.StatusAccepted, map[string]string{"status": "accepted"})
}
