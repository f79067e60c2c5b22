// Package executor performs planned actions: deliveries go out through the
// message bus to the owning platform feed, bookkeeping actions mutate the
// world state directly.
package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"vigil/internal/domain"
	"vigil/internal/state"
)

// Executor implements domain.ActionExecutor over the closed action set.
type Executor struct {
	world  *state.World
	bus    domain.MessageBus
	logger *slog.Logger
	newID  func() string
}

// New creates an executor bound to the world state and message bus.
func New(world *state.World, bus domain.MessageBus, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		world:  world,
		bus:    bus,
		logger: logger,
		newID:  uuid.NewString,
	}
}

// Execute performs one action and returns a human-readable result. A nil
// error is the success signal.
func (x *Executor) Execute(ctx context.Context, key domain.ChannelKey, action domain.Action) (string, error) {
	switch action.Type {
	case domain.ActionReply:
		return x.reply(key, action)
	case domain.ActionSendMessage:
		return x.send(key, action)
	case domain.ActionJoinChannel:
		return x.join(key)
	case domain.ActionLeaveChannel:
		return x.leave(key, action)
	case domain.ActionResearch:
		return x.research(key, action)
	case domain.ActionGenerateMedia:
		return x.generateMedia(key, action)
	case domain.ActionUpdateStatus:
		return x.updateStatus(action)
	case domain.ActionNone:
		return "nothing to do", nil
	}
	return "", fmt.Errorf("%w: %q", domain.ErrUnknownAction, action.Type)
}

func (x *Executor) reply(key domain.ChannelKey, action domain.Action) (string, error) {
	content := paramString(action.Parameters, "content")
	if content == "" {
		return "", fmt.Errorf("reply action missing content")
	}
	target := paramString(action.Parameters, "reply_to")

	x.bus.SendOutbound(domain.Outbound{
		Platform:  key.Platform,
		ChannelID: key.ID,
		Content:   content,
		ReplyTo:   target,
	})
	return fmt.Sprintf("replied to %s in %s", target, key.String()), nil
}

func (x *Executor) send(key domain.ChannelKey, action domain.Action) (string, error) {
	content := paramString(action.Parameters, "content")
	if content == "" {
		return "", fmt.Errorf("send_message action missing content")
	}

	x.bus.SendOutbound(domain.Outbound{
		Platform:  key.Platform,
		ChannelID: key.ID,
		Content:   content,
	})
	return fmt.Sprintf("sent message to %s", key.String()), nil
}

func (x *Executor) join(key domain.ChannelKey) (string, error) {
	inv, had := x.world.TakeInvitation(key)
	x.world.MarkChannelStatus(key, domain.ChannelActive)

	if had {
		x.logger.Info("joined channel", "channel", key.String(), "inviter", inv.Inviter)
		return fmt.Sprintf("joined %s (invited by %s)", key.String(), inv.Inviter), nil
	}
	x.logger.Info("joined channel", "channel", key.String())
	return fmt.Sprintf("joined %s", key.String()), nil
}

func (x *Executor) leave(key domain.ChannelKey, action domain.Action) (string, error) {
	if goodbye := paramString(action.Parameters, "content"); goodbye != "" {
		x.bus.SendOutbound(domain.Outbound{
			Platform:  key.Platform,
			ChannelID: key.ID,
			Content:   goodbye,
		})
	}
	x.world.MarkChannelStatus(key, domain.ChannelLeft)
	return fmt.Sprintf("left %s", key.String()), nil
}

func (x *Executor) research(key domain.ChannelKey, action domain.Action) (string, error) {
	topic := paramString(action.Parameters, "topic")
	if topic == "" {
		return "", fmt.Errorf("research action missing topic")
	}

	x.world.AddKnowledge(domain.KnowledgeEntry{
		ID:      x.newID(),
		Topic:   topic,
		Content: paramString(action.Parameters, "content"),
		Source:  key.String(),
	})
	return fmt.Sprintf("recorded research on %q", topic), nil
}

func (x *Executor) generateMedia(key domain.ChannelKey, action domain.Action) (string, error) {
	prompt := paramString(action.Parameters, "prompt")
	if prompt == "" {
		return "", fmt.Errorf("generate_media action missing prompt")
	}
	kind := paramString(action.Parameters, "kind")
	if kind == "" {
		kind = "image"
	}

	entry := domain.MediaEntry{
		ID:        x.newID(),
		Kind:      kind,
		Prompt:    prompt,
		URI:       paramString(action.Parameters, "uri"),
		ChannelID: key.ID,
	}
	x.world.AddMedia(entry)
	return fmt.Sprintf("indexed generated %s %s", kind, entry.ID), nil
}

func (x *Executor) updateStatus(action domain.Action) (string, error) {
	if len(action.Parameters) == 0 {
		return "", fmt.Errorf("update_status action has no fields")
	}
	for k, v := range action.Parameters {
		x.world.SetStatus(k, v)
	}
	return fmt.Sprintf("updated %d status fields", len(action.Parameters)), nil
}

func paramString(params map[string]any, key string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
