package server

import (
	"regexp"
	"strings"
)

type EventKind int

const (
	EventNone EventKind = iota
	// EventEULA: the server refuses to run until the EULA is accepted.
	EventEULA
	// EventChat: a chat line, Author and Text are set.
	EventChat
)

// ServerAuthor is the author of "[Server] ..." chat lines.
const ServerAuthor = "SERVER"

const (
	eulaNotice   = "You need to agree to the EULA in order to run the server."
	serverPrefix = "[Server] "
)

var reChat = regexp.MustCompile(`^<([^\s<>]*)> (.*)`)

type Event struct {
	Kind   EventKind
	Author string
	Text   string
}

// Classify inspects the text part of a console line.
func Classify(text string) Event {
	if strings.HasPrefix(text, eulaNotice) {
		return Event{Kind: EventEULA, Text: text}
	}
	if msg, ok := strings.CutPrefix(text, serverPrefix); ok {
		// "say <name> text" from the chat bridge comes back like this
		if strings.HasPrefix(msg, "<") {
			return Event{}
		}
		return Event{Kind: EventChat, Author: ServerAuthor, Text: msg}
	}
	if m := reChat.FindStringSubmatch(text); m != nil {
		return Event{Kind: EventChat, Author: m[1], Text: m[2]}
	}
	return Event{}
}
