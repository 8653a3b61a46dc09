package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"schoolcomm/internal/config"
	"schoolcomm/internal/domain"
)

const (
	whatsappAPIBase   = "https://graph.facebook.com/v21.0"
	whatsappObject    = "whatsapp_business_account"
	maxWebhookBodyLen = 1 << 20
)

// WhatsApp is both the inbound webhook channel and the outbound transport
// for the WhatsApp Business Cloud API.
type WhatsApp struct {
	cfg     config.WhatsAppConfig
	bus     domain.MessageBus
	logger  *slog.Logger
	client  *http.Client
	limiter *rate.Limiter
}

type WhatsAppChannelConfig struct {
	Config        config.WhatsAppConfig
	RatePerSecond float64      // outbound sends per second; 0 means unlimited
	Client        *http.Client // optional, for tests
	Logger        *slog.Logger
}

func NewWhatsApp(cfg WhatsAppChannelConfig) *WhatsApp {
	if cfg.Config.APIBase == "" {
		cfg.Config.APIBase = whatsappAPIBase
	}
	if cfg.Config.WebhookPath == "" {
		cfg.Config.WebhookPath = "/webhook"
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &WhatsApp{
		cfg:     cfg.Config,
		logger:  cfg.Logger,
		client:  client,
		limiter: newLimiter(cfg.RatePerSecond),
	}
}

func (w *WhatsApp) Name() string { return "whatsapp" }

// Start attaches the bus. Inbound traffic arrives through the handlers
// registered with Register, so Start does not block.
func (w *WhatsApp) Start(ctx context.Context, bus domain.MessageBus) error {
	w.bus = bus
	w.logger.Info("whatsapp channel ready", "webhook", w.cfg.WebhookPath)
	return nil
}

func (w *WhatsApp) Stop() error { return nil }

// Configured reports whether outbound credentials are present.
func (w *WhatsApp) Configured() bool {
	return w.cfg.AccessToken != "" && w.cfg.PhoneNumberID != ""
}

// Register mounts the webhook verification and delivery handlers on mux.
func (w *WhatsApp) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET "+w.cfg.WebhookPath, w.handleVerification)
	mux.HandleFunc("POST "+w.cfg.WebhookPath, w.handleIncoming)
}

// --- Webhook handlers ---

// handleVerification answers the subscription challenge sent when the
// webhook is configured in the Meta dashboard.
func (w *WhatsApp) handleVerification(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode == "" || token == "" {
		w.logger.Warn("whatsapp webhook verification missing parameters")
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}
	if mode == "subscribe" && w.cfg.VerifyToken != "" && token == w.cfg.VerifyToken {
		w.logger.Info("whatsapp webhook verified")
		rw.WriteHeader(http.StatusOK)
		fmt.Fprint(rw, html.EscapeString(challenge))
		return
	}

	w.logger.Warn("whatsapp webhook verification failed", "mode", mode)
	http.Error(rw, "Forbidden", http.StatusForbidden)
}

// handleIncoming publishes text messages to the bus. Every payload that
// passes the signature check gets a 200 so the provider does not redeliver it.
func (w *WhatsApp) handleIncoming(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyLen))
	if err != nil {
		w.logger.Warn("whatsapp webhook read failed", "err", err)
		rw.WriteHeader(http.StatusOK)
		return
	}
	defer r.Body.Close()

	if w.cfg.AppSecret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if !verifyHMAC(body, w.cfg.AppSecret, sig) {
			w.logger.Warn("whatsapp invalid signature")
			http.Error(rw, "Forbidden", http.StatusForbidden)
			return
		}
	}

	var payload waPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		w.logger.Warn("whatsapp bad payload", "err", err)
		rw.WriteHeader(http.StatusOK)
		return
	}
	if payload.Object != whatsappObject {
		w.logger.Debug("whatsapp webhook ignored", "object", payload.Object)
		rw.WriteHeader(http.StatusOK)
		return
	}

	for _, msg := range payload.textMessages() {
		if w.bus == nil {
			w.logger.Warn("whatsapp message dropped, channel not started", "from", msg.From)
			continue
		}
		w.logger.Info("whatsapp message received", "from", msg.From, "text_len", len(msg.Text.Body))
		w.bus.Publish(domain.InboundMessage{
			Channel:       "whatsapp",
			SenderAddress: normalizeAddress(msg.From),
			Text:          msg.Text.Body,
			ReceivedAt:    msg.receivedAt(),
		})
	}

	rw.WriteHeader(http.StatusOK)
}

// Send delivers one text message. 429, 5xx and network errors are
// transient; other API rejections are permanent.
func (w *WhatsApp) Send(ctx context.Context, to, text string) error {
	if !w.Configured() {
		return domain.PermanentSendError(fmt.Errorf("whatsapp credentials not configured"))
	}
	if err := w.limiter.Wait(ctx); err != nil {
		return domain.TransientSendError(fmt.Errorf("rate limit wait: %w", err))
	}

	url := fmt.Sprintf("%s/%s/messages", strings.TrimRight(w.cfg.APIBase, "/"), w.cfg.PhoneNumberID)
	body, err := json.Marshal(waSendRequest{
		MessagingProduct: "whatsapp",
		To:               strings.TrimPrefix(to, "+"),
		Type:             "text",
		Text:             waText{Body: text},
	})
	if err != nil {
		return domain.PermanentSendError(fmt.Errorf("marshal: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return domain.PermanentSendError(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.cfg.AccessToken)

	resp, err := w.client.Do(req)
	if err != nil {
		return domain.TransientSendError(fmt.Errorf("send: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		return nil
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	apiErr := fmt.Errorf("whatsapp API %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return domain.TransientSendError(apiErr)
	}
	return domain.PermanentSendError(apiErr)
}

// --- WhatsApp webhook payload types ---

type waPayload struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

// textMessages flattens every text message in the payload.
func (p waPayload) textMessages() []waMessage {
	var out []waMessage
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				if msg.Type != "text" || msg.Text == nil || msg.Text.Body == "" {
					continue
				}
				out = append(out, msg)
			}
		}
	}
	return out
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Value waValue `json:"value"`
	Field string  `json:"field"`
}

type waValue struct {
	MessagingProduct string      `json:"messaging_product"`
	Messages         []waMessage `json:"messages"`
}

type waMessage struct {
	From      string  `json:"from"`
	ID        string  `json:"id"`
	Timestamp string  `json:"timestamp"` // unix seconds as a string
	Type      string  `json:"type"`
	Text      *waText `json:"text,omitempty"`
}

func (m waMessage) receivedAt() time.Time {
	if secs, err := strconv.ParseInt(m.Timestamp, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0)
	}
	return time.Now()
}

type waText struct {
	Body string `json:"body"`
}

type waSendRequest struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             waText `json:"text"`
}

// normalizeAddress writes a provider phone number ("15551453997") in the
// E.164 form the directory stores ("+15551453997").
func normalizeAddress(from string) string {
	from = strings.TrimSpace(from)
	if from == "" || strings.HasPrefix(from, "+") {
		return from
	}
	return "+" + from
}

// verifyHMAC checks a "sha256=<hex>" signature of body.
func verifyHMAC(body []byte, secret, signature string) bool {
	if !strings.HasPrefix(signature, "sha256=") {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// newLimiter returns a limiter allowing perSecond events with a burst of one
// second's worth. perSecond <= 0 disables limiting.
func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}
