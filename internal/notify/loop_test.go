package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"schoolcomm/internal/domain"
)

// chanBus is a minimal MessageBus over a buffered channel.
type chanBus struct{ ch chan domain.InboundMessage }

func (b *chanBus) Publish(msg domain.InboundMessage)       { b.ch <- msg }
func (b *chanBus) Subscribe() <-chan domain.InboundMessage { return b.ch }
func (b *chanBus) Close()                                  { close(b.ch) }

func TestLoop_ProcessesUntilBusClosed(t *testing.T) {
	f := newFixture(t)
	bus := &chanBus{ch: make(chan domain.InboundMessage, 4)}
	loop := NewLoop(LoopConfig{Processor: f.proc, Bus: bus, Logger: discardLogger(), Concurrency: 2})

	bus.Publish(domain.InboundMessage{SenderAddress: teacher5A.Address, Text: "Attendance: P"})
	bus.Publish(domain.InboundMessage{SenderAddress: teacher5A.Address, Text: dailyUpdateText})
	bus.Close()

	done := make(chan struct{})
	go func() {
		loop.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop after bus closed")
	}
	if len(f.store.records) != 2 {
		t.Errorf("expected 2 records, got %d", len(f.store.records))
	}
}

func TestLoop_OnResult(t *testing.T) {
	f := newFixture(t)
	bus := &chanBus{ch: make(chan domain.InboundMessage, 4)}

	var mu sync.Mutex
	outcomes := map[string]Outcome{}
	loop := NewLoop(LoopConfig{
		Processor: f.proc,
		Bus:       bus,
		Logger:    discardLogger(),
		OnResult: func(m domain.InboundMessage, res Result) {
			mu.Lock()
			outcomes[m.Text] = res.Outcome
			mu.Unlock()
		},
	})

	bus.Publish(domain.InboundMessage{SenderAddress: teacher5A.Address, Text: "Attendance: P"})
	bus.Publish(domain.InboundMessage{SenderAddress: teacher5A.Address, Text: "hello there"})
	bus.Close()
	loop.Run(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if got := outcomes["Attendance: P"]; got != OutcomeProcessed {
		t.Errorf("attendance outcome %q, want %q", got, OutcomeProcessed)
	}
	if got := outcomes["hello there"]; got != OutcomeUnrecognized {
		t.Errorf("greeting outcome %q, want %q", got, OutcomeUnrecognized)
	}
}
