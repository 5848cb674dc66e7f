package bot

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/EgorLis/minecord/internal/chat"
	"github.com/EgorLis/minecord/internal/perms"
	"github.com/EgorLis/minecord/internal/server"
	"github.com/EgorLis/minecord/internal/shell"
	"github.com/EgorLis/minecord/internal/trigger"
)

// Server is the supervised game server as the bot drives it.
type Server interface {
	Start() error
	Stop(ctx context.Context, timeout time.Duration) server.StopResult
	Kill(ctx context.Context) bool
	SendLine(text string)
	Alive() bool
	State() server.State
	StartedAt() time.Time
}

// Permissions is the role engine as the bot queries it.
type Permissions interface {
	RoleOf(userID string) *perms.Role
	ListRoles() []perms.RoleInfo
	ShowRole(target string) (string, perms.RoleInfo, error)
	SetRole(actorID, target, newRole string) (perms.Change, error)
	Reload() error
}

type Config struct {
	ChannelID    string
	Prefixes     []string
	MCDirectory  string
	KillTimeout  time.Duration
	ShellTimeout time.Duration
	Autostart    bool
	NamePrefix   string
}

const (
	defaultEphemeralTTL = 10 * time.Second
	queueSize           = 256
)

// Bot ties the chat channel, the server and the permissions together.
// Everything it owns is touched from the Run loop only; the Handle* methods
// may be called from any goroutine and post onto that loop.
type Bot struct {
	cfg   Config
	chat  chat.Transport
	srv   Server
	perms Permissions
	log   *zap.Logger

	queue  chan func(context.Context)
	done   chan struct{}
	closed sync.Once
	wg     sync.WaitGroup // async workers
	sched  *scheduler

	ephemeralTTL time.Duration

	// loop state
	self         chat.User
	prefixes     []string
	greeted      bool
	triggers     *trigger.Registry
	shells       *shell.Registry
	commands     map[string]command
	chatOn       bool
	chatMsg      string
	exitExpected bool
	quit         context.CancelFunc
	quitting     bool
}

func New(cfg Config, transport chat.Transport, srv Server, p Permissions, log *zap.Logger) *Bot {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Bot{
		cfg:          cfg,
		chat:         transport,
		srv:          srv,
		perms:        p,
		log:          log,
		queue:        make(chan func(context.Context), queueSize),
		done:         make(chan struct{}),
		sched:        newScheduler(),
		ephemeralTTL: defaultEphemeralTTL,
		triggers:     trigger.NewRegistry(transport, cfg.ChannelID),
		prefixes:     append([]string(nil), cfg.Prefixes...),
	}
	b.shells = shell.NewRegistry(cfg.ShellTimeout, func(ctx context.Context, text string) {
		b.send(ctx, text)
	}, log.Named("shell"))
	b.shells.Register(chatShell, b.chatShell)
	b.commands = b.commandTable()
	return b
}

// Run processes events until ctx ends or the quit command is used. It
// returns nil after quit.
func (b *Bot) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	b.quit = cancel
	defer func() {
		cancel()
		b.closed.Do(func() { close(b.done) })
		b.sched.stop()
		b.wg.Wait()
	}()

	b.log.Info("bot loop started", zap.String("channel", b.cfg.ChannelID))
	for {
		select {
		case <-ctx.Done():
			if b.quitting {
				b.log.Info("bot quit")
				return nil
			}
			return ctx.Err()
		case fn := <-b.queue:
			fn(ctx)
		}
	}
}

// post queues fn for the loop. Once the loop has exited fn is dropped.
func (b *Bot) post(fn func(context.Context)) {
	select {
	case <-b.done:
		return
	default:
	}
	select {
	case b.queue <- fn:
	case <-b.done:
	}
}

// async runs work off the loop; the continuation it returns, if any, runs
// back on the loop.
func (b *Bot) async(ctx context.Context, work func(ctx context.Context) func(context.Context)) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if then := work(ctx); then != nil {
			b.post(then)
		}
	}()
}

// later runs fn on the loop after d.
func (b *Bot) later(d time.Duration, fn func(context.Context)) {
	b.sched.after(d, func() { b.post(fn) })
}

func (b *Bot) HandleReady(self chat.User) {
	b.post(func(ctx context.Context) { b.onReady(ctx, self) })
}

func (b *Bot) HandleMessage(m *chat.Message) {
	b.post(func(ctx context.Context) { b.onMessage(ctx, m) })
}

func (b *Bot) HandleReaction(ev chat.ReactionEvent) {
	b.post(func(ctx context.Context) { b.onReaction(ctx, ev) })
}

// HandleLine receives console lines from the supervisor.
func (b *Bot) HandleLine(l server.Line) {
	b.post(func(ctx context.Context) { b.onLine(ctx, l) })
}

// HandleExit receives the exit of the server process.
func (b *Bot) HandleExit(err error) {
	b.post(func(ctx context.Context) { b.onExit(ctx, err) })
}

// HandlePermsReload reports a reload triggered by a document change.
func (b *Bot) HandlePermsReload(err error) {
	b.post(func(ctx context.Context) {
		if err != nil {
			b.sendError(ctx, "Permission settings not reloaded: "+err.Error())
			return
		}
		b.send(ctx, "Permission settings changed on disk and were reloaded.")
	})
}

func (b *Bot) onReady(ctx context.Context, self chat.User) {
	b.self = self
	b.triggers.SetSelf(self.ID)
	b.prefixes = append([]string{"<@" + self.ID + ">", "<@!" + self.ID + ">"}, b.cfg.Prefixes...)
	if b.greeted {
		return
	}
	b.greeted = true
	if _, err := b.sendTag(ctx, trigger.Start, "Hi everyone!"); err != nil {
		b.log.Warn("greeting", zap.Error(err))
	}
	if b.cfg.Autostart {
		if err := b.startServer(ctx); err != nil {
			b.sendError(ctx, err.Error())
		}
	}
}

// send posts text to the channel. Failures are logged, not returned.
func (b *Bot) send(ctx context.Context, text string) *chat.Message {
	m, err := b.chat.Send(ctx, b.cfg.ChannelID, text)
	if err != nil {
		b.log.Warn("send message", zap.Error(err))
		return nil
	}
	return m
}

func (b *Bot) sendError(ctx context.Context, text string) {
	b.send(ctx, emojiError+" "+text)
}

// sendDenied posts a permission error that deletes itself after a while.
func (b *Bot) sendDenied(ctx context.Context, text string) {
	m := b.send(ctx, emojiDenied+" "+text)
	if m == nil {
		return
	}
	id := m.ID
	b.later(b.ephemeralTTL, func(ctx context.Context) {
		b.deleteMessage(ctx, id)
	})
}

func (b *Bot) deleteMessage(ctx context.Context, id string) {
	if err := b.chat.DeleteMessage(ctx, b.cfg.ChannelID, id); err != nil && !isNotFound(err) {
		b.log.Warn("delete message", zap.String("message", id), zap.Error(err))
	}
}

func (b *Bot) react(ctx context.Context, m *chat.Message, emoji string) {
	if err := b.chat.AddReaction(ctx, b.cfg.ChannelID, m.ID, emoji); err != nil {
		b.log.Warn("add reaction", zap.String("emoji", emoji), zap.Error(err))
	}
}

// sendTag posts text with the reactions of tag and binds tag to it.
func (b *Bot) sendTag(ctx context.Context, tag trigger.Tag, text string) (*chat.Message, error) {
	m, err := b.chat.Send(ctx, b.cfg.ChannelID, text)
	if err != nil {
		return nil, err
	}
	for _, e := range trigger.Emojis(tag) {
		b.react(ctx, m, e)
	}
	b.setTrigger(ctx, tag, m)
	return m, nil
}

func (b *Bot) setTrigger(ctx context.Context, tag trigger.Tag, m *chat.Message) {
	if err := b.triggers.Set(ctx, tag, m); err != nil {
		b.log.Warn("update trigger", zap.String("tag", string(tag)), zap.Error(err))
	}
}
