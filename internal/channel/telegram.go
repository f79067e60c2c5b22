// Package channel contains the platform observer feeds. Each feed watches
// one platform, publishes observed messages onto the bus, and delivers
// outbound actions for its platform.
package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"vigil/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// Telegram implements domain.Feed for the Telegram Bot API.
type Telegram struct {
	token     string
	allowFrom []int64 // allowed user IDs (empty = allow all)

	bot       *tgbotapi.BotAPI
	bus       domain.MessageBus
	logger    *slog.Logger
	onMention func(domain.ChannelKey)
	status    func(key string, value any)
}

// TelegramConfig configures the Telegram feed.
type TelegramConfig struct {
	Token     string
	AllowFrom []string // user IDs as strings
	Logger    *slog.Logger

	// OnMention fires when the bot is mentioned, so the caller can activate
	// listening on the channel.
	OnMention func(domain.ChannelKey)
	// Status reports connectivity fields into the world's status mapping.
	Status func(key string, value any)
}

// NewTelegram creates a new Telegram feed.
func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		logger:    cfg.Logger,
		onMention: cfg.OnMention,
		status:    cfg.Status,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and begins polling for updates.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram feed connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)
	t.report("telegram_connected", true)

	bus.OnOutbound(domain.PlatformTelegram, func(msg domain.Outbound) {
		chatID, err := strconv.ParseInt(msg.ChannelID, 10, 64)
		if err != nil {
			t.logger.Error("invalid chat ID for telegram outbound", "channel", msg.ChannelID, "err", err)
			return
		}
		t.sendMessage(chatID, msg.Content, msg.ReplyTo)
	})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram feed stopping")
			bot.StopReceivingUpdates()
			t.report("telegram_connected", false)
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

func (t *Telegram) Stop() error {
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
	return nil
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	m := update.Message
	if m == nil || m.From == nil {
		return
	}
	if !t.allowed(m.From.ID) {
		t.logger.Debug("telegram message from disallowed user dropped", "user", m.From.ID)
		return
	}

	msg := domain.Message{
		ID:        strconv.Itoa(m.MessageID),
		Platform:  domain.PlatformTelegram,
		ChannelID: strconv.FormatInt(m.Chat.ID, 10),
		Sender:    m.From.UserName,
		Content:   m.Text,
		Timestamp: time.Unix(int64(m.Date), 0),
	}
	if m.ReplyToMessage != nil {
		msg.ReplyTo = strconv.Itoa(m.ReplyToMessage.MessageID)
	}
	t.bus.Publish(msg)

	if t.onMention != nil && strings.Contains(m.Text, "@"+t.bot.Self.UserName) {
		t.onMention(msg.Key())
	}
}

func (t *Telegram) allowed(userID int64) bool {
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

// sendMessage delivers content to a chat, chunked to Telegram's message
// length limit, with a small retry loop per chunk.
func (t *Telegram) sendMessage(chatID int64, content, replyTo string) {
	for _, chunk := range splitMessage(content, telegramMaxMsgLen) {
		msg := tgbotapi.NewMessage(chatID, chunk)
		if replyTo != "" {
			if id, err := strconv.Atoi(replyTo); err == nil {
				msg.ReplyToMessageID = id
			}
		}

		var lastErr error
		for attempt := 0; attempt < telegramMaxSendRetries; attempt++ {
			if _, lastErr = t.bot.Send(msg); lastErr == nil {
				break
			}
			t.logger.Warn("telegram send failed, retrying", "attempt", attempt+1, "err", lastErr)
			time.Sleep(time.Duration(attempt+1) * time.Second)
		}
		if lastErr != nil {
			t.logger.Error("telegram send gave up", "chat", chatID, "err", lastErr)
			return
		}
		replyTo = "" // only the first chunk is a reply
	}
}

func (t *Telegram) report(key string, value any) {
	if t.status != nil {
		t.status(key, value)
	}
}

// splitMessage breaks content into chunks of at most max bytes, preferring
// newline boundaries.
func splitMessage(content string, max int) []string {
	if len(content) <= max {
		return []string{content}
	}
	var chunks []string
	for len(content) > max {
		cut := strings.LastIndex(content[:max], "\n")
		if cut <= 0 {
			cut = max
		}
		chunks = append(chunks, content[:cut])
		content = strings.TrimLeft(content[cut:], "\n")
	}
	if content != "" {
		chunks = append(chunks, content)
	}
	return chunks
}
