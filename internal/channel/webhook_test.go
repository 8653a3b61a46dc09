package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"schoolcomm/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingBus captures published messages.
type recordingBus struct {
	mu   sync.Mutex
	msgs []domain.InboundMessage
}

func (b *recordingBus) Publish(msg domain.InboundMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, msg)
}

func (b *recordingBus) Subscribe() <-chan domain.InboundMessage { return nil }
func (b *recordingBus) Close()                                  {}

func (b *recordingBus) published() []domain.InboundMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.InboundMessage(nil), b.msgs...)
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func newTestWebhook(t *testing.T, secret string) (*Webhook, *recordingBus, http.Handler) {
	t.Helper()
	w := NewWebhook(WebhookConfig{Secret: secret, Logger: testLogger()})
	bus := &recordingBus{}
	if err := w.Start(context.Background(), bus); err != nil {
		t.Fatal(err)
	}
	mux := http.NewServeMux()
	w.Register(mux)
	return w, bus, mux
}

func TestVerifyHMAC_Valid(t *testing.T) {
	body := []byte(`{"text":"hello"}`)
	if !verifyHMAC(body, "test-secret", sign("test-secret", body)) {
		t.Error("valid HMAC should verify")
	}
}

func TestVerifyHMAC_Invalid(t *testing.T) {
	if verifyHMAC([]byte("body"), "secret", "sha256=invalid") {
		t.Error("invalid HMAC should not verify")
	}
	if verifyHMAC([]byte("body"), "secret", "") {
		t.Error("empty signature should not verify")
	}
	if verifyHMAC([]byte("body"), "secret", sign("other", []byte("body"))) {
		t.Error("signature with another secret should not verify")
	}
}

func TestWebhookHandler_Accepted(t *testing.T) {
	_, bus, h := newTestWebhook(t, "")
	body := `{"sender":"+15551453997","text":"Attendance: 28/30 present"}`
	req := httptest.NewRequest("POST", "/webhook/generic", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
	msgs := bus.published()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(msgs))
	}
	if msgs[0].Channel != "webhook" || msgs[0].SenderAddress != "+15551453997" {
		t.Errorf("unexpected message: %+v", msgs[0])
	}
	if msgs[0].ReceivedAt.IsZero() {
		t.Error("received time not set")
	}
}

func TestWebhookHandler_SignedRequest(t *testing.T) {
	_, bus, h := newTestWebhook(t, "my-secret")
	body := []byte(`{"sender":"+1555","text":"help"}`)
	req := httptest.NewRequest("POST", "/webhook/generic", bytes.NewReader(body))
	req.Header.Set("X-Signature-256", sign("my-secret", body))
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
	if len(bus.published()) != 1 {
		t.Fatal("signed message not published")
	}
}

func TestWebhookHandler_MethodNotAllowed(t *testing.T) {
	_, _, h := newTestWebhook(t, "")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/webhook/generic", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestWebhookHandler_MissingFields(t *testing.T) {
	_, bus, h := newTestWebhook(t, "")
	for _, body := range []string{`{"sender":"+1555","text":""}`, `{"sender":"","text":"hi"}`, `{"text":"   "}`} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest("POST", "/webhook/generic", bytes.NewBufferString(body)))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, rr.Code)
		}
	}
	if len(bus.published()) != 0 {
		t.Error("invalid requests should not publish")
	}
}

func TestWebhookHandler_InvalidJSON(t *testing.T) {
	_, _, h := newTestWebhook(t, "")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("POST", "/webhook/generic", bytes.NewBufferString("not json")))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestWebhookHandler_MissingSignature(t *testing.T) {
	_, _, h := newTestWebhook(t, "my-secret")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("POST", "/webhook/generic", bytes.NewBufferString(`{"sender":"1","text":"hi"}`)))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestWebhookHandler_InvalidSignature(t *testing.T) {
	_, _, h := newTestWebhook(t, "my-secret")
	req := httptest.NewRequest("POST", "/webhook/generic", bytes.NewBufferString(`{"sender":"1","text":"hi"}`))
	req.Header.Set("X-Signature-256", "sha256=invalid")
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rr.Code)
	}
}

func TestWebhookHandler_NotStarted(t *testing.T) {
	w := NewWebhook(WebhookConfig{Logger: testLogger()})
	mux := http.NewServeMux()
	w.Register(mux)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest("POST", "/webhook/generic", bytes.NewBufferString(`{"sender":"1","text":"hi"}`)))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rr.Code)
	}
}

func TestLogTransport_CountsSends(t *testing.T) {
	l := NewLogTransport(testLogger())
	if err := l.Send(context.Background(), "+1555", "hello"); err != nil {
		t.Fatal(err)
	}
	if l.Sent() != 1 {
		t.Fatalf("expected 1 sent, got %d", l.Sent())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Send(ctx, "+1555", "hello"); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}
