// Package discord implements chat.Transport on top of the Discord API.
//
// Inbound events come from a gateway v10 websocket session:
//
//   - Hello, then Identify (or Resume after a dropped connection);
//   - a heartbeat on the interval announced in Hello; a missed ACK closes
//     the connection and the session is resumed;
//   - op 7 (reconnect) and op 9 (invalid session) are honoured;
//   - READY, MESSAGE_CREATE and MESSAGE_REACTION_ADD are delivered through
//     the callback fields OnReady, OnMessage and OnReactionAdd.
//
// Outbound calls go over REST. Writes to the socket are serialized, reconnects
// back off exponentially up to 30s, and a REST call that hits a rate limit is
// retried once after the advertised delay.
//
// Example:
//
//	dc := discord.New(token, logger)
//	dc.OnMessage = func(m *chat.Message) { fmt.Println(m.Content) }
//	go dc.Run(ctx)
//
//	msg, err := dc.Send(ctx, channelID, "Hi everyone!")
package discord
