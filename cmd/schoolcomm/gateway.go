package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"schoolcomm/internal/bus"
	"schoolcomm/internal/channel"
	"schoolcomm/internal/config"
	"schoolcomm/internal/dispatch"
	"schoolcomm/internal/domain"
	"schoolcomm/internal/metrics"
	"schoolcomm/internal/notify"
	"schoolcomm/internal/security"
	"schoolcomm/internal/store"
)

// transports holds every channel the config enables plus the one chosen
// for outbound delivery.
type transports struct {
	whatsapp *channel.WhatsApp
	telegram *channel.Telegram
	webhook  *channel.Webhook
	outbound domain.Transport
}

func buildTransports(cfg *config.Config) (*transports, error) {
	t := &transports{}
	if cfg.WhatsApp.Enabled {
		t.whatsapp = channel.NewWhatsApp(channel.WhatsAppChannelConfig{
			Config:        cfg.WhatsApp,
			RatePerSecond: cfg.Dispatch.RatePerSecond,
			Logger:        logger.With("channel", "whatsapp"),
		})
	}
	if cfg.Telegram.Enabled {
		t.telegram = channel.NewTelegram(channel.TelegramConfig{
			Token:         cfg.Telegram.Token,
			AllowFrom:     cfg.Telegram.AllowFrom,
			RatePerSecond: cfg.Dispatch.RatePerSecond,
			Logger:        logger.With("channel", "telegram"),
		})
	}
	if cfg.Webhook.Enabled {
		t.webhook = channel.NewWebhook(channel.WebhookConfig{
			Path:   cfg.Webhook.Path,
			Secret: cfg.Webhook.Secret,
			Logger: logger.With("channel", "webhook"),
		})
	}

	switch cfg.Dispatch.Transport {
	case "whatsapp":
		if t.whatsapp == nil {
			return nil, fmt.Errorf("dispatch.transport is whatsapp but whatsapp is not enabled")
		}
		t.outbound = t.whatsapp
	case "telegram":
		if t.telegram == nil {
			return nil, fmt.Errorf("dispatch.transport is telegram but telegram is not enabled")
		}
		t.outbound = t.telegram
	case "log":
		t.outbound = channel.NewLogTransport(logger.With("channel", "log"))
	default:
		switch {
		case t.whatsapp != nil && t.whatsapp.Configured():
			t.outbound = t.whatsapp
		case t.telegram != nil && t.telegram.Configured():
			t.outbound = t.telegram
		default:
			logger.Warn("no provider credentials configured, outbound messages will only be logged")
			t.outbound = channel.NewLogTransport(logger.With("channel", "log"))
		}
	}
	return t, nil
}

// status reports each transport for /health and doctor.
func (t *transports) status() []channel.TransportStatus {
	var out []channel.TransportStatus
	if t.whatsapp != nil {
		out = append(out, channel.TransportStatus{Name: "whatsapp", Configured: t.whatsapp.Configured(), Outbound: t.outbound == domain.Transport(t.whatsapp)})
	}
	if t.telegram != nil {
		out = append(out, channel.TransportStatus{Name: "telegram", Configured: t.telegram.Configured(), Outbound: t.outbound == domain.Transport(t.telegram)})
	}
	if t.webhook != nil {
		out = append(out, channel.TransportStatus{Name: "webhook", Configured: true})
	}
	if t.outbound.Name() == "log" {
		out = append(out, channel.TransportStatus{Name: "log", Configured: true, Outbound: true})
	}
	return out
}

// replies maps each inbound channel that can answer its own senders to its
// transport. Anything else (webhook, unconfigured providers) replies through
// the outbound transport.
func (t *transports) replies() map[string]domain.Transport {
	out := make(map[string]domain.Transport)
	if t.whatsapp != nil && t.whatsapp.Configured() {
		out[t.whatsapp.Name()] = t.whatsapp
	}
	if t.telegram != nil && t.telegram.Configured() {
		out[t.telegram.Name()] = t.telegram
	}
	return out
}

func (t *transports) inbound() []domain.Channel {
	var out []domain.Channel
	if t.whatsapp != nil {
		out = append(out, t.whatsapp)
	}
	if t.telegram != nil {
		out = append(out, t.telegram)
	}
	if t.webhook != nil {
		out = append(out, t.webhook)
	}
	return out
}

func (t *transports) registrars() []channel.Registrar {
	var out []channel.Registrar
	if t.whatsapp != nil {
		out = append(out, t.whatsapp)
	}
	if t.webhook != nil {
		out = append(out, t.webhook)
	}
	return out
}

func newDispatcher(cfg *config.Config, st *store.SQLiteStore, tr *transports) *dispatch.Dispatcher {
	retryCfg := dispatch.RetryConfig{
		MaxAttempts: cfg.Dispatch.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Dispatch.BaseDelayMs) * time.Millisecond,
	}
	retry := func(t domain.Transport) *dispatch.RetryingTransport {
		return dispatch.NewRetryingTransport(t, retryCfg, logger.With("component", "retry"))
	}
	replies := make(map[string]*dispatch.RetryingTransport)
	for name, t := range tr.replies() {
		replies[name] = retry(t)
	}
	return dispatch.New(dispatch.Config{
		Transport:   retry(tr.outbound),
		Replies:     replies,
		DeliveryLog: st,
		Concurrency: cfg.Dispatch.Concurrency,
		Logger:      logger.With("component", "dispatch"),
	})
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the messaging gateway",
		Long: `Starts the HTTP server (provider webhooks, dashboard, metrics), every
enabled inbound channel and the message loop. Press Ctrl+C to stop.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Store.SeedPath != "" {
		seed, err := store.LoadSeed(cfg.Store.SeedPath)
		if err != nil {
			return err
		}
		if err := st.Import(ctx, seed); err != nil {
			return fmt.Errorf("import seed: %w", err)
		}
		logger.Info("directory seed imported", "path", cfg.Store.SeedPath)
	}

	tr, err := buildTransports(cfg)
	if err != nil {
		return err
	}

	messageBus := bus.New(cfg.General.BusBufferSize, logger.With("component", "bus"))

	engine := security.NewEngine(security.EngineConfig{
		Directory:   st,
		AuditLogger: st,
		AuditLog:    cfg.Security.AuditLog,
		Logger:      logger.With("component", "security"),
	})
	handler := notify.NewHandler(notify.HandlerConfig{
		Auth:      engine,
		Directory: st,
		Store:     st,
		Logger:    logger.With("component", "handler"),
	})
	processor := notify.NewProcessor(handler, newDispatcher(cfg, st, tr), logger.With("component", "processor"))
	feed := channel.NewFeed(channel.FeedConfig{Logger: logger.With("component", "feed")})
	loop := notify.NewLoop(notify.LoopConfig{
		Processor:   processor,
		Bus:         messageBus,
		Logger:      logger.With("component", "loop"),
		Concurrency: cfg.General.MaxConcurrentMessages,
		OnResult: func(m domain.InboundMessage, res notify.Result) {
			feed.Broadcast(channel.FeedEvent{Type: "processed", Channel: m.Channel, Sender: m.SenderAddress, Result: res})
		},
	})

	var gatherer prometheus.Gatherer
	if cfg.Metrics.Enabled {
		gatherer = metrics.Registry
	}
	dashboard := channel.NewDashboard(channel.DashboardConfig{
		Store:       st,
		Transports:  tr.status(),
		Metrics:     gatherer,
		MetricsPath: cfg.Metrics.Endpoint,
		Version:     version,
		Logger:      logger.With("component", "dashboard"),
	})
	server := channel.NewServer(channel.ServerConfig{
		Host:   cfg.Server.Host,
		Port:   cfg.Server.Port,
		Logger: logger.With("component", "http"),
	}, append(tr.registrars(), dashboard, feed)...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		loop.Run(gctx)
		return nil
	})
	g.Go(func() error { return server.Run(gctx) })
	for _, ch := range tr.inbound() {
		ch := ch
		g.Go(func() error {
			if err := ch.Start(gctx, messageBus); err != nil {
				logger.Error("channel stopped", "channel", ch.Name(), "err", err)
			}
			return nil
		})
	}

	logger.Info("gateway started",
		"addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"outbound", tr.outbound.Name(),
		"db", st.Path(),
	)

	err = g.Wait()

	logger.Info("shutting down gateway...")
	for _, ch := range tr.inbound() {
		ch.Stop()
	}
	messageBus.Close()
	feed.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if cerr := st.Checkpoint(shutdownCtx); cerr != nil {
		logger.Warn("wal checkpoint failed", "err", cerr)
	}
	logger.Info("shutdown complete")
	return err
}

func sendCmd() *cobra.Command {
	var to string

	cmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Send one message through the configured transport",
		Long: `Sends a single message with the same retry policy the gateway uses.
Useful to check provider credentials before going live.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if to == "" {
				return fmt.Errorf("--to is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tr, err := buildTransports(cfg)
			if err != nil {
				return err
			}

			retrying := dispatch.NewRetryingTransport(tr.outbound, dispatch.RetryConfig{
				MaxAttempts: cfg.Dispatch.MaxAttempts,
				BaseDelay:   time.Duration(cfg.Dispatch.BaseDelayMs) * time.Millisecond,
			}, logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			attempts, err := retrying.Send(ctx, to, args[0])
			if err != nil {
				return fmt.Errorf("send via %s: %w", tr.outbound.Name(), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent via %s to %s (%d attempt(s))\n", tr.outbound.Name(), to, attempts)
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "recipient address (phone number or chat ID)")
	return cmd
}
