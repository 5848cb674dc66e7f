// Package trigger turns chat messages into buttons. A trigger is a message
// carrying reactions added by the bot; clicking one of them runs the action
// bound to the (tag, emoji) pair. Each tag is bound to at most one message.
package trigger

import (
	"context"
	"errors"
	"slices"

	"github.com/EgorLis/minecord/internal/chat"
)

type Tag string

const (
	Eula     Tag = "eula"
	Start    Tag = "start"
	Control  Tag = "control"
	Chat     Tag = "chat"
	ChatInit Tag = "chat_init"
)

// Tags lists every tag in dispatch order.
var Tags = []Tag{Eula, Start, Control, ChatInit, Chat}

const (
	AcceptEula = "✅"
	StartSrv   = "▶"
	StopSrv    = "⏹"
	KillSrv    = "💀"
	RestartSrv = "🔁"
	ChatStart  = "✉"
	ChatStop   = "🔇"
	ChatShell  = "📩"
)

type Action int

const (
	ActionNone Action = iota
	ActionAcceptEula
	ActionStart
	ActionStop
	ActionKill
	ActionRestart
	ActionChatOn
	ActionChatOff
	ActionChatShell
)

type binding struct {
	emoji  string
	action Action
}

var table = map[Tag][]binding{
	Eula:     {{AcceptEula, ActionAcceptEula}},
	Start:    {{StartSrv, ActionStart}},
	Control:  {{StopSrv, ActionStop}, {KillSrv, ActionKill}, {RestartSrv, ActionRestart}},
	ChatInit: {{ChatStart, ActionChatOn}},
	Chat:     {{ChatStop, ActionChatOff}, {ChatShell, ActionChatShell}},
}

// Emojis returns the reactions a trigger of tag carries, in order.
func Emojis(tag Tag) []string {
	out := make([]string, 0, len(table[tag]))
	for _, b := range table[tag] {
		out = append(out, b.emoji)
	}
	return out
}

// Lookup returns the action for emoji on a trigger of tag.
func Lookup(tag Tag, emoji string) (Action, bool) {
	for _, b := range table[tag] {
		if chat.SameEmoji(b.emoji, emoji) {
			return b.action, true
		}
	}
	return ActionNone, false
}

func inSet(tag Tag, emoji string) bool {
	_, ok := Lookup(tag, emoji)
	return ok
}

// Messages is what the registry needs from the transport.
type Messages interface {
	FetchMessage(ctx context.Context, channelID, messageID string) (*chat.Message, error)
	RemoveReaction(ctx context.Context, channelID, messageID, emoji, userID string) error
}

// Registry maps tags to trigger messages in one channel. It is not safe for
// concurrent use; the bot touches it from its event loop only.
type Registry struct {
	msgs      Messages
	channelID string
	selfID    string
	byTag     map[Tag]string
}

func NewRegistry(msgs Messages, channelID string) *Registry {
	return &Registry{msgs: msgs, channelID: channelID, byTag: make(map[Tag]string)}
}

// SetSelf sets the bot's own user id, whose reactions are cleaned up.
func (r *Registry) SetSelf(userID string) {
	r.selfID = userID
}

// Get returns the message bound to tag.
func (r *Registry) Get(tag Tag) (string, bool) {
	id, ok := r.byTag[tag]
	return id, ok
}

// TagsOf returns every tag bound to messageID.
func (r *Registry) TagsOf(messageID string) []Tag {
	var out []Tag
	for _, tag := range Tags {
		if id, ok := r.byTag[tag]; ok && id == messageID {
			out = append(out, tag)
		}
	}
	return out
}

// Set binds tag to msg, or unbinds it when msg is nil. The bot's own
// reactions of that tag are first removed from the previously bound
// message; a message that no longer exists is skipped. Other users'
// reactions are left alone.
func (r *Registry) Set(ctx context.Context, tag Tag, msg *chat.Message) error {
	var errs []error
	if prev, ok := r.byTag[tag]; ok {
		old, err := r.msgs.FetchMessage(ctx, r.channelID, prev)
		switch {
		case errors.Is(err, chat.ErrNotFound):
		case err != nil:
			errs = append(errs, err)
		default:
			var seen []string
			for _, re := range old.Reactions {
				if !re.Me || !inSet(tag, re.Emoji) || slices.Contains(seen, re.Emoji) {
					continue
				}
				seen = append(seen, re.Emoji)
				if err := r.msgs.RemoveReaction(ctx, r.channelID, prev, re.Emoji, r.selfID); err != nil {
					errs = append(errs, err)
				}
			}
		}
		delete(r.byTag, tag)
	}
	if msg != nil {
		r.byTag[tag] = msg.ID
	}
	return errors.Join(errs...)
}
