// Package bot runs the chat side of minecord. It reads commands from one
// channel, checks them against the role engine and drives the Minecraft
// server supervisor. Buttons are reactions on trigger messages (see package
// trigger), and the in-game chat can be relayed both ways.
//
// All bot state lives on a single event loop started by Run. Transports
// and the supervisor feed it through the Handle* methods:
//
//	b := bot.New(cfg, dc, sup, engine, log)
//	dc.OnMessage = b.HandleMessage
//	dc.OnReactionAdd = b.HandleReaction
//	sup.OnLine = b.HandleLine
//	sup.OnExit = b.HandleExit
//	err := b.Run(ctx)
//
// Blocking work such as stopping the server runs off the loop and reports
// back to it, so the bot keeps answering while a stop is in progress.
package bot
