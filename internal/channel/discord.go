package channel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"vigil/internal/domain"
)

const discordMaxMsgLen = 2000

// Discord implements domain.Feed for Discord.
type Discord struct {
	token   string
	guildID string

	session   *discordgo.Session
	bus       domain.MessageBus
	logger    *slog.Logger
	onMention func(domain.ChannelKey)
	status    func(key string, value any)
}

// DiscordConfig configures the Discord feed.
type DiscordConfig struct {
	Token     string
	GuildID   string // optional: restrict to one guild
	Logger    *slog.Logger
	OnMention func(domain.ChannelKey)
	Status    func(key string, value any)
}

// NewDiscord creates a new Discord feed.
func NewDiscord(cfg DiscordConfig) *Discord {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Discord{
		token:     cfg.Token,
		guildID:   cfg.GuildID,
		logger:    cfg.Logger,
		onMention: cfg.OnMention,
		status:    cfg.Status,
	}
}

func (d *Discord) Name() string { return "discord" }

// Start connects to Discord using a bot token and begins listening.
func (d *Discord) Start(ctx context.Context, bus domain.MessageBus) error {
	d.bus = bus

	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	d.session = session

	bus.OnOutbound(domain.PlatformDiscord, func(msg domain.Outbound) {
		if msg.Content == "" {
			return
		}
		d.sendMessage(msg.ChannelID, msg.Content, msg.ReplyTo)
	})

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author.ID == s.State.User.ID {
			return
		}
		if d.guildID != "" && m.GuildID != d.guildID {
			return
		}
		d.handleMessage(s, m)
	})

	// Channel invitations arrive as guild-create events for new guilds.
	session.AddHandler(func(s *discordgo.Session, g *discordgo.GuildCreate) {
		d.logger.Info("discord guild available", "guild", g.ID, "name", g.Name)
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	d.logger.Info("discord feed connected", "user", session.State.User.Username)
	d.report("discord_connected", true)

	<-ctx.Done()
	d.logger.Info("discord feed stopping")
	d.report("discord_connected", false)
	return session.Close()
}

func (d *Discord) Stop() error {
	if d.session != nil {
		return d.session.Close()
	}
	return nil
}

func (d *Discord) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	msg := domain.Message{
		ID:        m.ID,
		Platform:  domain.PlatformDiscord,
		ChannelID: m.ChannelID,
		Sender:    m.Author.Username,
		Content:   m.Content,
		Timestamp: time.Now(),
	}
	if ts, err := discordgo.SnowflakeTimestamp(m.ID); err == nil {
		msg.Timestamp = ts
	}
	if m.MessageReference != nil {
		msg.ReplyTo = m.MessageReference.MessageID
	}
	for _, a := range m.Attachments {
		msg.Attachments = append(msg.Attachments, a.URL)
	}
	d.bus.Publish(msg)

	if d.onMention != nil {
		for _, u := range m.Mentions {
			if u.ID == s.State.User.ID {
				d.onMention(msg.Key())
				break
			}
		}
	}
}

func (d *Discord) sendMessage(channelID, content, replyTo string) {
	for _, chunk := range splitMessage(content, discordMaxMsgLen) {
		var err error
		if replyTo != "" {
			_, err = d.session.ChannelMessageSendReply(channelID, chunk, &discordgo.MessageReference{
				MessageID: replyTo,
				ChannelID: channelID,
			})
			replyTo = ""
		} else {
			_, err = d.session.ChannelMessageSend(channelID, chunk)
		}
		if err != nil {
			d.logger.Error("discord send failed", "channel", channelID, "err", err)
			return
		}
	}
}

func (d *Discord) report(key string, value any) {
	if d.status != nil {
		d.status(key, value)
	}
}
