package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"schoolcomm/internal/domain"
)

const telegramMaxMsgLen = 4000

// Telegram is an inbound long-poll channel and an outbound transport that
// addresses recipients by chat ID.
type Telegram struct {
	token     string
	endpoint  string
	client    *http.Client
	allowFrom []int64 // Allowed user IDs (empty = allow all)
	limiter   *rate.Limiter

	mu     sync.Mutex
	bot    *tgbotapi.BotAPI
	bus    domain.MessageBus
	logger *slog.Logger
}

type TelegramConfig struct {
	Token         string
	AllowFrom     []string // User IDs as strings
	RatePerSecond float64
	Endpoint      string       // Bot API endpoint format, defaults to tgbotapi.APIEndpoint
	Client        *http.Client // optional, for tests
	Logger        *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = tgbotapi.APIEndpoint
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Telegram{
		token:     cfg.Token,
		endpoint:  cfg.Endpoint,
		client:    cfg.Client,
		allowFrom: allowed,
		limiter:   newLimiter(cfg.RatePerSecond),
		logger:    cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Configured() bool { return t.token != "" }

// connect creates the bot client on first use.
func (t *Telegram) connect() (*tgbotapi.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil {
		return t.bot, nil
	}
	bot, err := tgbotapi.NewBotAPIWithClient(t.token, t.endpoint, t.client)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)
	t.bot = bot
	return bot, nil
}

// Start connects to Telegram and polls for updates until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	bot, err := t.connect()
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.bus = bus
	t.mu.Unlock()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

// Stop is a no-op: polling ends when Start's context is cancelled, and
// StopReceivingUpdates panics if called twice.
func (t *Telegram) Stop() error { return nil }

// Send delivers body to the chat ID in address, split into chunks under
// Telegram's message size limit.
func (t *Telegram) Send(ctx context.Context, address, body string) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(address), 10, 64)
	if err != nil {
		return domain.PermanentSendError(fmt.Errorf("invalid telegram chat ID %q: %w", address, err))
	}
	bot, err := t.connect()
	if err != nil {
		return domain.TransientSendError(err)
	}

	for _, chunk := range splitMessage(body, telegramMaxMsgLen) {
		if err := t.limiter.Wait(ctx); err != nil {
			return domain.TransientSendError(fmt.Errorf("rate limit wait: %w", err))
		}
		if _, err := bot.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
			return classifyTelegramError(err)
		}
	}
	return nil
}

// classifyTelegramError marks API rejections other than 429 and 5xx as
// permanent. Errors without an API code are network failures.
func classifyTelegramError(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500 {
			return domain.TransientSendError(err)
		}
		return domain.PermanentSendError(err)
	}
	return domain.TransientSendError(err)
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user", "user_id", userID, "username", update.Message.From.UserName)
		return
	}

	text := strings.TrimSpace(update.Message.Text)
	if text == "" {
		return
	}

	if update.Message.IsCommand() && update.Message.Command() == "start" {
		t.reply(chatID, fmt.Sprintf("👋 Welcome to the school messaging service.\n\nYour chat ID is %d. Ask the school office to register it, then send \"help\" for message formats.", chatID))
		return
	}

	t.logger.Info("telegram message received", "user_id", userID, "chat_id", chatID, "text_len", len(text))

	t.mu.Lock()
	bus := t.bus
	t.mu.Unlock()
	if bus == nil {
		t.logger.Warn("telegram message dropped, channel not started", "chat_id", chatID)
		return
	}
	bus.Publish(domain.InboundMessage{
		Channel:       "telegram",
		SenderAddress: strconv.FormatInt(chatID, 10),
		Text:          text,
		ReceivedAt:    time.Unix(int64(update.Message.Date), 0),
	})
}

func (t *Telegram) reply(chatID int64, text string) {
	t.mu.Lock()
	bot := t.bot
	t.mu.Unlock()
	if bot == nil {
		return
	}
	if _, err := bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		t.logger.Warn("telegram reply failed", "chat_id", chatID, "err", err)
	}
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// splitMessage cuts msg into chunks of at most maxLen bytes, preferring
// newline boundaries in the second half of a chunk.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}

		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}

		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
