package bus

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"schoolcomm/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBus_PublishSubscribe(t *testing.T) {
	b := New(2, testLogger())
	b.Publish(domain.InboundMessage{Channel: "whatsapp", SenderAddress: "+1", Text: "hi"})

	select {
	case msg := <-b.Subscribe():
		if msg.Text != "hi" {
			t.Fatalf("expected hi, got %q", msg.Text)
		}
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestBus_FullBufferDropsAfterTimeout(t *testing.T) {
	b := New(1, testLogger())
	b.timeout = 10 * time.Millisecond

	b.Publish(domain.InboundMessage{Text: "first"})
	b.Publish(domain.InboundMessage{Text: "second"})

	if got := b.Pending(); got != 1 {
		t.Fatalf("expected 1 pending, got %d", got)
	}
	if msg := <-b.Subscribe(); msg.Text != "first" {
		t.Fatalf("expected first, got %q", msg.Text)
	}
}

func TestBus_CloseIsIdempotentAndRejectsPublish(t *testing.T) {
	b := New(1, testLogger())
	b.Close()
	b.Close()

	b.Publish(domain.InboundMessage{Text: "late"})

	if _, ok := <-b.Subscribe(); ok {
		t.Fatal("expected closed channel")
	}
}
