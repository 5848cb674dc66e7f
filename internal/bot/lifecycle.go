package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/EgorLis/minecord/internal/server"
	"github.com/EgorLis/minecord/internal/trigger"
)

const eulaPrompt = "You need to agree to Mojang's End-User License Agreement in order to run the server.\n" +
	"For more information, please visit <https://account.mojang.com/documents/minecraft_eula>.\n" +
	"By clicking the button below you are indicating your agreement to Mojang's EULA."

var errNotRunning = errors.New("the server is not running")

func (b *Bot) startServer(ctx context.Context) error {
	if err := b.srv.Start(); err != nil {
		if errors.Is(err, server.ErrAlreadyRunning) {
			return errors.New("the server is already running")
		}
		return fmt.Errorf("could not start the server: %w", err)
	}
	b.setTrigger(ctx, trigger.Start, nil)
	m, err := b.sendTag(ctx, trigger.Control, "Server started!")
	if err != nil {
		return err
	}
	b.react(ctx, m, trigger.ChatStart)
	b.setTrigger(ctx, trigger.ChatInit, m)
	return nil
}

func (b *Bot) stopServer(ctx context.Context) error {
	if !b.srv.Alive() {
		return errNotRunning
	}
	b.exitExpected = true
	began := time.Now()
	b.async(ctx, func(ctx context.Context) func(context.Context) {
		res := b.srv.Stop(ctx, b.cfg.KillTimeout)
		took := time.Since(began)
		return func(ctx context.Context) { b.afterStop(ctx, res, took) }
	})
	return nil
}

func (b *Bot) afterStop(ctx context.Context, res server.StopResult, took time.Duration) {
	switch res {
	case server.StopGraceful:
		b.send(ctx, fmt.Sprintf("Server stopped in %.3fs", took.Seconds()))
	case server.StopTimedOut:
		b.send(ctx, "Server timed out and was killed")
	case server.StopNotRunning:
		b.exitExpected = false
	}
	b.setTrigger(ctx, trigger.Control, nil)
	b.setTrigger(ctx, trigger.Chat, nil)
	b.setTrigger(ctx, trigger.ChatInit, nil)
}

func (b *Bot) restartServer(ctx context.Context) error {
	if !b.srv.Alive() {
		return errNotRunning
	}
	b.exitExpected = true
	began := time.Now()
	b.async(ctx, func(ctx context.Context) func(context.Context) {
		res := b.srv.Stop(ctx, b.cfg.KillTimeout)
		took := time.Since(began)
		return func(ctx context.Context) {
			b.afterStop(ctx, res, took)
			if err := b.srv.Start(); err != nil {
				b.sendError(ctx, capitalize(fmt.Sprintf("could not start the server: %v", err)))
				return
			}
			if _, err := b.sendTag(ctx, trigger.Control, "Server restarted!"); err != nil {
				b.log.Warn("restart notice", zap.Error(err))
			}
		}
	})
	return nil
}

func (b *Bot) killServer(ctx context.Context) error {
	if !b.srv.Alive() {
		return errNotRunning
	}
	b.exitExpected = true
	b.async(ctx, func(ctx context.Context) func(context.Context) {
		killed := b.srv.Kill(ctx)
		return func(ctx context.Context) {
			if killed {
				b.send(ctx, "Server killed")
			} else {
				b.exitExpected = false
			}
		}
	})
	return nil
}

// acceptEULA flips eula=false to eula=true in the server's eula.txt.
func (b *Bot) acceptEULA(ctx context.Context) error {
	path := filepath.Join(b.cfg.MCDirectory, "eula.txt")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("could not read %s: %w", path, err)
	}
	data = bytes.ReplaceAll(data, []byte("eula=false"), []byte("eula=true"))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("could not write %s: %w", path, err)
	}
	b.log.Info("eula accepted", zap.String("path", path))
	b.setTrigger(ctx, trigger.Eula, nil)
	_, err = b.sendTag(ctx, trigger.Start, "EULA accepted. You can now start the server.")
	return err
}

func (b *Bot) onLine(ctx context.Context, l server.Line) {
	ev := server.Classify(l.Text)
	switch ev.Kind {
	case server.EventEULA:
		if _, err := b.sendTag(ctx, trigger.Eula, eulaPrompt); err != nil {
			b.log.Warn("eula prompt", zap.Error(err))
		}
	case server.EventChat:
		if !b.chatOn {
			return
		}
		if _, err := b.sendTag(ctx, trigger.Chat, fmt.Sprintf("**%s**: %s", ev.Author, ev.Text)); err != nil {
			b.log.Warn("relay chat", zap.Error(err))
		}
	}
}

// onExit reports a server that went away without being asked to.
func (b *Bot) onExit(ctx context.Context, err error) {
	if b.exitExpected {
		b.exitExpected = false
		return
	}
	text := "Server stopped unexpectedly"
	if err != nil {
		text += " (" + err.Error() + ")"
	}
	b.setTrigger(ctx, trigger.Control, nil)
	b.setTrigger(ctx, trigger.Chat, nil)
	b.setTrigger(ctx, trigger.ChatInit, nil)
	if _, serr := b.sendTag(ctx, trigger.Start, text); serr != nil {
		b.log.Warn("exit notice", zap.Error(serr))
	}
}
