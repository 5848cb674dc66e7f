package discord

import (
	"strings"

	"github.com/EgorLis/minecord/internal/chat"
)

type user struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
	Bot        bool   `json:"bot"`
}

type member struct {
	User *user  `json:"user"`
	Nick string `json:"nick"`
}

type emoji struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// String renders the emoji the way the reaction endpoints expect it.
func (e emoji) String() string {
	if e.ID != "" {
		return e.Name + ":" + e.ID
	}
	return e.Name
}

type reaction struct {
	Count int   `json:"count"`
	Me    bool  `json:"me"`
	Emoji emoji `json:"emoji"`
}

type mention struct {
	user
	Member *member `json:"member"`
}

type message struct {
	ID        string     `json:"id"`
	ChannelID string     `json:"channel_id"`
	Author    user       `json:"author"`
	Member    *member    `json:"member"`
	Content   string     `json:"content"`
	Mentions  []mention  `json:"mentions"`
	Reactions []reaction `json:"reactions"`
}

type reactionAdd struct {
	UserID    string  `json:"user_id"`
	ChannelID string  `json:"channel_id"`
	MessageID string  `json:"message_id"`
	Member    *member `json:"member"`
	Emoji     emoji   `json:"emoji"`
}

type ready struct {
	SessionID        string `json:"session_id"`
	ResumeGatewayURL string `json:"resume_gateway_url"`
	User             user   `json:"user"`
}

func toUser(u user, m *member) chat.User {
	nick := ""
	if m != nil {
		nick = m.Nick
	}
	if nick == "" {
		nick = u.GlobalName
	}
	return chat.User{ID: u.ID, Name: u.Username, Nick: nick, Bot: u.Bot}
}

func (m *message) toChat() *chat.Message {
	out := &chat.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		Author:    toUser(m.Author, m.Member),
		Content:   m.Content,
	}
	var pairs []string
	for _, mn := range m.Mentions {
		name := "@" + toUser(mn.user, mn.Member).DisplayName()
		pairs = append(pairs, "<@"+mn.ID+">", name, "<@!"+mn.ID+">", name)
	}
	out.CleanContent = strings.NewReplacer(pairs...).Replace(m.Content)
	for _, r := range m.Reactions {
		out.Reactions = append(out.Reactions, chat.Reaction{Emoji: r.Emoji.String(), Count: r.Count, Me: r.Me})
	}
	return out
}

func (r *reactionAdd) toChat() chat.ReactionEvent {
	u := chat.User{ID: r.UserID}
	if r.Member != nil && r.Member.User != nil {
		u = toUser(*r.Member.User, r.Member)
	}
	return chat.ReactionEvent{ChannelID: r.ChannelID, MessageID: r.MessageID, Emoji: r.Emoji.String(), User: u}
}
