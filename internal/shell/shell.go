// Package shell keeps per-user shells. While a user has a shell, their
// messages that are not addressed to the bot go to the shell's handler
// instead of being ignored. A shell ends on "exit", after an idle timeout,
// or when its handler is shut down for everyone.
package shell

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/EgorLis/minecord/internal/chat"
)

var (
	ErrConflict       = errors.New("shell: another shell is active")
	ErrUnknownHandler = errors.New("shell: unknown handler")
)

// Handler consumes one line typed by the user.
type Handler func(ctx context.Context, user chat.User, text string) error

// Notifier posts a notice to the channel.
type Notifier func(ctx context.Context, text string)

type Session struct {
	ID           uuid.UUID
	User         chat.User
	Handler      string
	Started      time.Time
	LastActivity time.Time
}

// Registry is not safe for concurrent use.
type Registry struct {
	handlers map[string]Handler
	sessions map[string]*Session
	timeout  time.Duration
	notify   Notifier
	now      func() time.Time
	log      *zap.Logger
}

// NewRegistry creates a registry whose shells expire after timeout without
// input. A zero timeout never expires.
func NewRegistry(timeout time.Duration, notify Notifier, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	if notify == nil {
		notify = func(context.Context, string) {}
	}
	return &Registry{
		handlers: make(map[string]Handler),
		sessions: make(map[string]*Session),
		timeout:  timeout,
		notify:   notify,
		now:      time.Now,
		log:      log,
	}
}

func (r *Registry) Register(name string, h Handler) {
	r.handlers[name] = h
}

// SetClock replaces time.Now, for tests.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// Active returns a copy of the user's session.
func (r *Registry) Active(userID string) (Session, bool) {
	s, ok := r.sessions[userID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Len returns the number of open shells.
func (r *Registry) Len() int {
	return len(r.sessions)
}

// Activate opens the named shell for user. A user holds one shell at a
// time: asking for a different one fails with ErrConflict and changes
// nothing, asking for the same one again is a no-op.
func (r *Registry) Activate(ctx context.Context, user chat.User, name string) error {
	if _, ok := r.handlers[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownHandler, name)
	}
	if s, ok := r.sessions[user.ID]; ok {
		if s.Handler != name {
			r.notify(ctx, "Another shell is already activated for "+user.Mention()+" (quit with `exit`)")
			return ErrConflict
		}
		r.notify(ctx, "Shell `"+name+"` is already active for "+user.Mention())
		return nil
	}
	now := r.now()
	s := &Session{ID: uuid.New(), User: user, Handler: name, Started: now, LastActivity: now}
	r.sessions[user.ID] = s
	r.log.Info("shell opened", zap.String("session", s.ID.String()), zap.String("user", user.ID), zap.String("handler", name))
	r.notify(ctx, "Shell initiated for "+user.Mention())
	return nil
}

// Dispatch routes text to the user's shell. handled is false when the user
// has no shell.
func (r *Registry) Dispatch(ctx context.Context, user chat.User, text string) (handled bool, err error) {
	s, ok := r.sessions[user.ID]
	if !ok {
		return false, nil
	}
	if strings.EqualFold(strings.TrimSpace(text), "exit") {
		r.Terminate(ctx, user)
		return true, nil
	}
	now := r.now()
	if r.timeout > 0 && now.Sub(s.LastActivity) > r.timeout {
		r.remove(s, "timeout")
		r.notify(ctx, "Shell timed out for "+user.Mention())
		return true, nil
	}
	s.LastActivity = now
	h := r.handlers[s.Handler]
	return true, h(ctx, user, text)
}

// Terminate closes the user's shell, if any.
func (r *Registry) Terminate(ctx context.Context, user chat.User) bool {
	s, ok := r.sessions[user.ID]
	if !ok {
		return false
	}
	r.remove(s, "exit")
	r.notify(ctx, "Shell terminated for "+user.Mention())
	return true
}

// TerminateAll closes every shell bound to handler and posts one notice.
func (r *Registry) TerminateAll(ctx context.Context, handler string) int {
	n := 0
	for _, s := range r.sessions {
		if s.Handler == handler {
			r.remove(s, "shutdown")
			n++
		}
	}
	r.notify(ctx, "All `"+handler+"` shells terminated.")
	return n
}

func (r *Registry) remove(s *Session, reason string) {
	delete(r.sessions, s.User.ID)
	r.log.Info("shell closed", zap.String("session", s.ID.String()), zap.String("user", s.User.ID),
		zap.String("handler", s.Handler), zap.String("reason", reason))
}
