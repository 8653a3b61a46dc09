package channel

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestFeed_BroadcastReachesClient(t *testing.T) {
	feed := NewFeed(FeedConfig{Logger: testLogger()})
	mux := http.NewServeMux()
	feed.Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/feed"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello FeedEvent
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read status: %v", err)
	}
	if hello.Type != "status" {
		t.Fatalf("expected status event, got %+v", hello)
	}

	deadline := time.Now().Add(2 * time.Second)
	for feed.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	feed.Broadcast(FeedEvent{Type: "processed", Channel: "whatsapp", Sender: "+9771001"})

	var got FeedEvent
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if got.Type != "processed" || got.Sender != "+9771001" || got.Timestamp.IsZero() {
		t.Errorf("unexpected event %+v", got)
	}

	feed.Close()
	if feed.Clients() != 0 {
		t.Errorf("expected no clients after close, got %d", feed.Clients())
	}
}

func TestFeed_RejectsPlainHTTP(t *testing.T) {
	feed := NewFeed(FeedConfig{Logger: testLogger()})
	mux := http.NewServeMux()
	feed.Register(mux)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest("GET", "/api/feed", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without upgrade headers, got %d", rr.Code)
	}
}
