package bot

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/EgorLis/minecord/internal/chat"
	"github.com/EgorLis/minecord/internal/trigger"
)

const chatShell = "chat"

var chatSanitizer = strings.NewReplacer("\n", "", "/", "", "§", "")

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "true", "1", "on":
		return true
	}
	return false
}

// setChat turns the chat relay on or off. The status message is replaced
// and, when muting, every chat shell is closed.
func (b *Bot) setChat(ctx context.Context, args string) error {
	on := parseBool(args)
	if on == b.chatOn {
		return nil
	}
	b.chatOn = on
	if b.chatMsg != "" {
		b.deleteMessage(ctx, b.chatMsg)
		b.chatMsg = ""
	}
	b.setTrigger(ctx, trigger.ChatInit, nil)
	b.setTrigger(ctx, trigger.Chat, nil)
	if !on {
		b.shells.TerminateAll(ctx, chatShell)
	}

	tag, text := trigger.ChatInit, "Chat muted"
	if on {
		tag, text = trigger.Chat, "Chat enabled"
	}
	m, err := b.sendTag(ctx, tag, text)
	if err != nil {
		return err
	}
	b.chatMsg = m.ID
	return nil
}

// chatShell forwards a user's line to the in-game chat.
func (b *Bot) chatShell(_ context.Context, user chat.User, text string) error {
	text = chatSanitizer.Replace(text)
	b.srv.SendLine(fmt.Sprintf("say <%s%s> %s", b.cfg.NamePrefix, user.DisplayName(), text))
	return nil
}

func (b *Bot) onReaction(ctx context.Context, ev chat.ReactionEvent) {
	if ev.ChannelID != b.cfg.ChannelID || ev.User.ID == b.self.ID {
		return
	}
	tags := b.triggers.TagsOf(ev.MessageID)
	if len(tags) == 0 {
		return
	}
	m, err := b.chat.FetchMessage(ctx, ev.ChannelID, ev.MessageID)
	if err != nil {
		if !isNotFound(err) {
			b.log.Warn("fetch trigger", zap.String("message", ev.MessageID), zap.Error(err))
		}
		return
	}
	if !placedByBot(m, ev.Emoji) {
		return
	}
	for _, tag := range tags {
		if action, ok := trigger.Lookup(tag, ev.Emoji); ok {
			b.log.Debug("trigger", zap.String("tag", string(tag)), zap.String("emoji", ev.Emoji), zap.String("user", ev.User.ID))
			b.runAction(ctx, ev.User, action)
			return
		}
	}
}

// placedByBot reports whether emoji is among the bot's own reactions on m.
func placedByBot(m *chat.Message, emoji string) bool {
	for _, r := range m.Reactions {
		if r.Me && chat.SameEmoji(r.Emoji, emoji) {
			return true
		}
	}
	return false
}

func (b *Bot) runAction(ctx context.Context, user chat.User, action trigger.Action) {
	switch action {
	case trigger.ActionAcceptEula:
		b.call(ctx, user, "eula", "")
	case trigger.ActionStart:
		b.call(ctx, user, "start", "")
	case trigger.ActionStop:
		b.call(ctx, user, "stop", "")
	case trigger.ActionKill:
		b.call(ctx, user, "kill", "")
	case trigger.ActionRestart:
		b.call(ctx, user, "restart", "")
	case trigger.ActionChatOn:
		b.call(ctx, user, "chat", "true")
	case trigger.ActionChatOff:
		b.call(ctx, user, "chat", "false")
	case trigger.ActionChatShell:
		if b.allowed(ctx, user, "chat") {
			if err := b.shells.Activate(ctx, user, chatShell); err != nil {
				b.log.Debug("chat shell", zap.Error(err))
			}
		}
	}
}
