package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"schoolcomm/internal/config"
	"schoolcomm/internal/domain"
)

const waInbound = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "1",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "messages": [
          {"from": "15551453997", "id": "wamid.1", "timestamp": "1700000000", "type": "text", "text": {"body": "Attendance: 28/30"}},
          {"from": "15551453997", "id": "wamid.2", "timestamp": "1700000001", "type": "image"}
        ]
      }
    }]
  }]
}`

func newTestWhatsApp(t *testing.T, cfg config.WhatsAppConfig) (*WhatsApp, *recordingBus, http.Handler) {
	t.Helper()
	w := NewWhatsApp(WhatsAppChannelConfig{Config: cfg, Logger: testLogger()})
	bus := &recordingBus{}
	if err := w.Start(context.Background(), bus); err != nil {
		t.Fatal(err)
	}
	mux := http.NewServeMux()
	w.Register(mux)
	return w, bus, mux
}

func TestWhatsAppVerification(t *testing.T) {
	_, _, h := newTestWhatsApp(t, config.WhatsAppConfig{VerifyToken: "tok"})

	tests := []struct {
		name  string
		query string
		code  int
		body  string
	}{
		{"valid", "hub.mode=subscribe&hub.verify_token=tok&hub.challenge=12345", http.StatusOK, "12345"},
		{"wrong token", "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=1", http.StatusForbidden, ""},
		{"wrong mode", "hub.mode=unsubscribe&hub.verify_token=tok&hub.challenge=1", http.StatusForbidden, ""},
		{"missing params", "hub.challenge=1", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest("GET", "/webhook?"+tt.query, nil))
			if rr.Code != tt.code {
				t.Fatalf("expected %d, got %d", tt.code, rr.Code)
			}
			if tt.body != "" && rr.Body.String() != tt.body {
				t.Fatalf("expected body %q, got %q", tt.body, rr.Body.String())
			}
		})
	}
}

func TestWhatsAppIncoming_PublishesTextOnly(t *testing.T) {
	_, bus, h := newTestWhatsApp(t, config.WhatsAppConfig{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("POST", "/webhook", strings.NewReader(waInbound)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	msgs := bus.published()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 text message, got %d", len(msgs))
	}
	if msgs[0].SenderAddress != "+15551453997" || msgs[0].Text != "Attendance: 28/30" {
		t.Errorf("unexpected message: %+v", msgs[0])
	}
	if msgs[0].ReceivedAt.Unix() != 1700000000 {
		t.Errorf("expected provider timestamp, got %v", msgs[0].ReceivedAt)
	}
}

func TestWhatsAppIncoming_BadPayloadStillOK(t *testing.T) {
	_, bus, h := newTestWhatsApp(t, config.WhatsAppConfig{})

	for _, body := range []string{"{not json", `{"object":"page","entry":[]}`} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest("POST", "/webhook", strings.NewReader(body)))
		if rr.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", body, rr.Code)
		}
	}
	if len(bus.published()) != 0 {
		t.Error("nothing should be published")
	}
}

func TestWhatsAppIncoming_Signature(t *testing.T) {
	_, bus, h := newTestWhatsApp(t, config.WhatsAppConfig{AppSecret: "app-secret"})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/webhook", strings.NewReader(waInbound))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for bad signature, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/webhook", strings.NewReader(waInbound))
	req.Header.Set("X-Hub-Signature-256", sign("app-secret", []byte(waInbound)))
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for valid signature, got %d", rr.Code)
	}
	if len(bus.published()) != 1 {
		t.Fatal("signed message not published")
	}
}

func TestWhatsAppSend_RequestShape(t *testing.T) {
	var got waSendRequest
	var auth, path string
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		rw.WriteHeader(http.StatusOK)
		rw.Write([]byte(`{"messages":[{"id":"wamid.x"}]}`))
	}))
	defer srv.Close()

	w := NewWhatsApp(WhatsAppChannelConfig{
		Config: config.WhatsAppConfig{APIBase: srv.URL, AccessToken: "token", PhoneNumberID: "999"},
		Logger: testLogger(),
	})
	if err := w.Send(context.Background(), "+15550001111", "Hello parent"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if auth != "Bearer token" {
		t.Errorf("unexpected auth header %q", auth)
	}
	if path != "/999/messages" {
		t.Errorf("unexpected path %q", path)
	}
	if got.MessagingProduct != "whatsapp" || got.To != "15550001111" || got.Type != "text" || got.Text.Body != "Hello parent" {
		t.Errorf("unexpected request %+v", got)
	}
}

func TestWhatsAppSend_ErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		permanent bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusUnauthorized, true},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
		{http.StatusServiceUnavailable, false},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			rw.WriteHeader(tt.status)
			rw.Write([]byte(`{"error":{"message":"nope"}}`))
		}))
		w := NewWhatsApp(WhatsAppChannelConfig{
			Config: config.WhatsAppConfig{APIBase: srv.URL, AccessToken: "t", PhoneNumberID: "1"},
			Logger: testLogger(),
		})
		err := w.Send(context.Background(), "1", "x")
		srv.Close()

		if err == nil {
			t.Fatalf("status %d: expected error", tt.status)
		}
		if domain.IsPermanent(err) != tt.permanent {
			t.Errorf("status %d: permanent=%v, want %v (%v)", tt.status, domain.IsPermanent(err), tt.permanent, err)
		}
	}
}

func TestWhatsAppSend_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	w := NewWhatsApp(WhatsAppChannelConfig{
		Config: config.WhatsAppConfig{APIBase: url, AccessToken: "t", PhoneNumberID: "1"},
		Logger: testLogger(),
	})
	err := w.Send(context.Background(), "1", "x")
	if err == nil || domain.IsPermanent(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestWhatsAppSend_NotConfigured(t *testing.T) {
	w := NewWhatsApp(WhatsAppChannelConfig{Logger: testLogger()})
	if w.Configured() {
		t.Fatal("expected unconfigured")
	}
	if err := w.Send(context.Background(), "1", "x"); !domain.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestWhatsAppSend_RateLimited(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		rw.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := NewWhatsApp(WhatsAppChannelConfig{
		Config:        config.WhatsAppConfig{APIBase: srv.URL, AccessToken: "t", PhoneNumberID: "1"},
		RatePerSecond: 0.001,
		Logger:        testLogger(),
	})
	if err := w.Send(context.Background(), "1", "first"); err != nil {
		t.Fatalf("first send: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := w.Send(ctx, "1", "second")
	if err == nil || domain.IsPermanent(err) {
		t.Fatalf("expected transient rate-limit error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 API call, got %d", calls.Load())
	}
}

func TestSplitMessage(t *testing.T) {
	if chunks := splitMessage("short message", 100); len(chunks) != 1 {
		t.Errorf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks := splitMessage("", 100); len(chunks) != 1 {
		t.Errorf("expected 1 chunk for empty, got %d", len(chunks))
	}

	long := strings.Repeat("line of text\n", 20)
	chunks := splitMessage(long, 50)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	var joined bytes.Buffer
	for i, c := range chunks {
		if len(c) > 50 {
			t.Errorf("chunk %d too long: %d", i, len(c))
		}
		joined.WriteString(c)
	}
	if joined.String() != long {
		t.Error("chunks do not reassemble to the original")
	}
}
