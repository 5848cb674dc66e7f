// Package chat describes the chat backend as the bot sees it: a single
// channel where messages are sent, reacted to, fetched and deleted.
// Concrete backends (see internal/discord) implement Transport.
package chat

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned by FetchMessage when the message no longer exists.
var ErrNotFound = errors.New("chat: message not found")

type User struct {
	ID   string
	Name string
	Nick string // server-specific nickname, may be empty
	Bot  bool
}

// DisplayName returns the nickname if one is set, the account name otherwise.
func (u User) DisplayName() string {
	if u.Nick != "" {
		return u.Nick
	}
	return u.Name
}

// Mention returns the in-text reference that pings the user.
func (u User) Mention() string {
	return "<@" + u.ID + ">"
}

type Reaction struct {
	Emoji string
	Count int
	Me    bool // added by the bot itself
}

type Message struct {
	ID        string
	ChannelID string
	Author    User
	Content   string
	// CleanContent is Content with user mentions replaced by display names.
	CleanContent string
	Reactions    []Reaction
}

// ReactionEvent is a reaction added by someone to a message.
type ReactionEvent struct {
	ChannelID string
	MessageID string
	Emoji     string
	User      User
}

// Transport is the outbound half of a chat backend.
type Transport interface {
	Send(ctx context.Context, channelID, text string) (*Message, error)
	AddReaction(ctx context.Context, channelID, messageID, emoji string) error
	// RemoveReaction removes the reaction emoji placed by userID.
	RemoveReaction(ctx context.Context, channelID, messageID, emoji, userID string) error
	// FetchMessage returns ErrNotFound (possibly wrapped) for deleted messages.
	FetchMessage(ctx context.Context, channelID, messageID string) (*Message, error)
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}

// SameEmoji compares two emoji ignoring the U+FE0F variation selector,
// which backends add or drop inconsistently ("▶" vs "▶️").
func SameEmoji(a, b string) bool {
	return stripVS(a) == stripVS(b)
}

func stripVS(s string) string {
	return strings.ReplaceAll(s, "\ufe0f", "")
}

// MentionID extracts the user id from "<@id>" or "<@!id>". Plain ids are
// returned unchanged. ok is false for empty or malformed references.
func MentionID(s string) (id string, ok bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "<@") && strings.HasSuffix(s, ">") {
		s = strings.TrimPrefix(s[2:len(s)-1], "!")
	}
	if s == "" {
		return "", false
	}
	if strings.ContainsAny(s, "<>@ \t\n") {
		return "", false
	}
	return s, true
}
