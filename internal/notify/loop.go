package notify

import (
	"context"
	"log/slog"
	"sync"

	"schoolcomm/internal/domain"
)

const defaultConcurrency = 5

// Loop consumes inbound messages from the bus and processes them with
// bounded concurrency.
type Loop struct {
	processor   *Processor
	bus         domain.MessageBus
	logger      *slog.Logger
	concurrency int
	onResult    func(domain.InboundMessage, Result)
	wg          sync.WaitGroup
}

type LoopConfig struct {
	Processor   *Processor
	Bus         domain.MessageBus
	Logger      *slog.Logger
	Concurrency int // max parallel messages (default 5)

	// OnResult, when set, is called after each message with its result.
	OnResult func(domain.InboundMessage, Result)
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Loop{
		processor:   cfg.Processor,
		bus:         cfg.Bus,
		logger:      cfg.Logger,
		concurrency: cfg.Concurrency,
		onResult:    cfg.OnResult,
	}
}

// Run blocks until ctx is done or the bus is closed, then waits for
// in-flight messages to finish.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("message loop started", "concurrency", l.concurrency)
	defer l.wg.Wait()

	sem := make(chan struct{}, l.concurrency)
	inbound := l.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("message loop stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				l.logger.Info("inbound bus closed, message loop stopping")
				return
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			l.wg.Add(1)
			go func(m domain.InboundMessage) {
				defer func() {
					<-sem
					l.wg.Done()
				}()
				res := l.processor.Process(ctx, m)
				l.logger.Info("message processed",
					"channel", m.Channel,
					"sender", m.SenderAddress,
					"intent", res.Intent,
					"outcome", res.Outcome,
					"sent", res.Counts.Sent,
					"failed", res.Counts.Failed,
				)
				if l.onResult != nil {
					l.onResult(m, res)
				}
			}(msg)
		}
	}
}
