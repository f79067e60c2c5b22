package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"vigil/internal/domain"
)

const slackMaxMsgLen = 4000

// Slack implements domain.Feed for Slack using Socket Mode.
type Slack struct {
	botToken string
	appToken string

	client    *slack.Client
	socket    *socketmode.Client
	bus       domain.MessageBus
	logger    *slog.Logger
	onMention func(domain.ChannelKey)
	status    func(key string, value any)
	botUID    string // the bot's own user ID, to avoid observing itself
}

// SlackConfig configures the Slack feed.
type SlackConfig struct {
	BotToken string
	AppToken string
	Logger   *slog.Logger

	OnMention func(domain.ChannelKey)
	Status    func(key string, value any)
}

// NewSlack creates a new Slack feed.
func NewSlack(cfg SlackConfig) *Slack {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Slack{
		botToken:  cfg.BotToken,
		appToken:  cfg.AppToken,
		logger:    cfg.Logger,
		onMention: cfg.OnMention,
		status:    cfg.Status,
	}
}

func (s *Slack) Name() string { return "slack" }

// Start connects to Slack via Socket Mode and observes events until the
// context is cancelled.
func (s *Slack) Start(ctx context.Context, bus domain.MessageBus) error {
	s.bus = bus

	api := slack.New(
		s.botToken,
		slack.OptionAppLevelToken(s.appToken),
	)
	s.client = api

	authResp, err := api.AuthTest()
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.botUID = authResp.UserID
	s.logger.Info("slack feed connected", "user", authResp.User, "user_id", authResp.UserID)
	s.report("slack_connected", true)

	socketClient := socketmode.New(api)
	s.socket = socketClient

	bus.OnOutbound(domain.PlatformSlack, func(msg domain.Outbound) {
		if msg.Content == "" {
			return
		}
		s.sendMessage(msg.ChannelID, msg.Content, msg.ReplyTo)
	})

	go func() {
		for evt := range socketClient.Events {
			switch evt.Type {
			case socketmode.EventTypeEventsAPI:
				eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				socketClient.Ack(*evt.Request)
				s.handleEventsAPI(eventsAPIEvent)

			default:
				// Acknowledge unknown events to prevent Socket Mode disconnection.
				if evt.Request != nil {
					socketClient.Ack(*evt.Request)
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- socketClient.RunContext(ctx)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("slack feed stopping")
		s.report("slack_connected", false)
		return nil
	case err := <-errCh:
		return fmt.Errorf("slack socket mode: %w", err)
	}
}

func (s *Slack) Stop() error { return nil }

func (s *Slack) handleEventsAPI(event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		// Ignore the bot's own messages and message_changed subtypes.
		if ev.User == s.botUID || ev.User == "" {
			return
		}
		if ev.SubType != "" {
			return
		}
		msg := domain.Message{
			ID:        ev.TimeStamp,
			Platform:  domain.PlatformSlack,
			ChannelID: ev.Channel,
			Sender:    ev.User,
			Content:   ev.Text,
			Timestamp: slackTimestamp(ev.TimeStamp),
		}
		if ev.ThreadTimeStamp != "" && ev.ThreadTimeStamp != ev.TimeStamp {
			msg.ReplyTo = ev.ThreadTimeStamp
		}
		s.bus.Publish(msg)

	case *slackevents.AppMentionEvent:
		if ev.User == s.botUID || ev.User == "" {
			return
		}
		content := ev.Text
		if idx := strings.Index(content, ">"); idx >= 0 {
			content = strings.TrimSpace(content[idx+1:])
		}
		msg := domain.Message{
			ID:        ev.TimeStamp,
			Platform:  domain.PlatformSlack,
			ChannelID: ev.Channel,
			Sender:    ev.User,
			Content:   content,
			Timestamp: slackTimestamp(ev.TimeStamp),
		}
		s.bus.Publish(msg)
		if s.onMention != nil {
			s.onMention(msg.Key())
		}
	}
}

// sendMessage posts content to a channel, threading under replyTo when set.
func (s *Slack) sendMessage(channelID, content, replyTo string) {
	for _, chunk := range splitMessage(content, slackMaxMsgLen) {
		opts := []slack.MsgOption{
			slack.MsgOptionText(chunk, false),
			slack.MsgOptionAsUser(true),
		}
		if replyTo != "" {
			opts = append(opts, slack.MsgOptionTS(replyTo))
		}
		if _, _, err := s.client.PostMessage(channelID, opts...); err != nil {
			s.logger.Error("slack send failed", "channel", channelID, "err", err)
			return
		}
	}
}

func (s *Slack) report(key string, value any) {
	if s.status != nil {
		s.status(key, value)
	}
}

// slackTimestamp converts a Slack "seconds.micros" event timestamp.
func slackTimestamp(ts string) time.Time {
	sec, _, _ := strings.Cut(ts, ".")
	n, err := strconv.ParseInt(sec, 10, 64)
	if err != nil || n == 0 {
		return time.Now()
	}
	return time.Unix(n, 0)
}
