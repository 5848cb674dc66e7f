package bot

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/EgorLis/minecord/internal/chat"
	"github.com/EgorLis/minecord/internal/perms"
)

const (
	emojiError  = "❌"
	emojiDenied = "⛔"
)

// Handler shapes. A command declares which inputs it takes.
type (
	NoArgs          func(ctx context.Context) error
	WithArgs        func(ctx context.Context, args string) error
	WithUser        func(ctx context.Context, user chat.User) error
	WithArgsAndUser func(ctx context.Context, user chat.User, args string) error
)

type handler interface {
	call(ctx context.Context, user chat.User, args string) error
}

func (h NoArgs) call(ctx context.Context, _ chat.User, _ string) error { return h(ctx) }
func (h WithArgs) call(ctx context.Context, _ chat.User, args string) error {
	return h(ctx, args)
}
func (h WithUser) call(ctx context.Context, user chat.User, _ string) error { return h(ctx, user) }
func (h WithArgsAndUser) call(ctx context.Context, user chat.User, args string) error {
	return h(ctx, user, args)
}

type command struct {
	name  string
	usage string
	help  string
	run   handler
}

// commandOrder is the order of the help listing.
var commandOrder = []string{
	"start", "stop", "restart", "kill", "eula", "chat", "status",
	"rlist", "rget", "rset", "reload_perms", "help", "quit",
}

func (b *Bot) commandTable() map[string]command {
	list := []command{
		{name: "quit", help: "kill the server and shut the bot down", run: NoArgs(b.quitBot)},
		{name: "start", help: "start the server", run: NoArgs(b.startServer)},
		{name: "stop", help: "stop the server, killing it if it hangs", run: NoArgs(b.stopServer)},
		{name: "restart", help: "stop and start the server", run: NoArgs(b.restartServer)},
		{name: "kill", help: "kill the server", run: NoArgs(b.killServer)},
		{name: "eula", help: "accept the Minecraft EULA", run: NoArgs(b.acceptEULA)},
		{name: "chat", usage: "<true|false>", help: "relay the in-game chat", run: WithArgs(b.setChat)},
		{name: "rlist", help: "list roles", run: NoArgs(b.listRoles)},
		{name: "rget", usage: "[user]", help: "show a user's role", run: WithArgsAndUser(b.showRole)},
		{name: "rset", usage: "<user> [role]", help: "assign a role, or revoke it when none is given", run: WithArgsAndUser(b.setRole)},
		{name: "reload_perms", help: "reload permission settings", run: NoArgs(b.reloadPerms)},
		{name: "help", help: "list the commands you may use", run: WithUser(b.help)},
		{name: "status", help: "show the server state", run: NoArgs(b.status)},
	}
	table := make(map[string]command, len(list))
	for _, c := range list {
		table[c.name] = c
	}
	return table
}

// splitFirst splits s at its first run of white space.
func splitFirst(s string) (head, rest string) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimLeftFunc(s[i:], unicode.IsSpace)
}

func (b *Bot) onMessage(ctx context.Context, m *chat.Message) {
	if m.ChannelID != b.cfg.ChannelID || (b.self.ID != "" && m.Author.ID == b.self.ID) {
		return
	}
	prefix, text := splitFirst(m.Content)
	if !slices.Contains(b.prefixes, prefix) {
		handled, err := b.shells.Dispatch(ctx, m.Author, m.CleanContent)
		if handled && err != nil {
			b.sendError(ctx, err.Error())
		}
		return
	}
	if text == "" {
		return
	}
	name, args := splitFirst(text)
	b.call(ctx, m.Author, name, args)
}

// allowed checks user's role for token. A user whose role grants nothing
// at all is refused silently.
func (b *Bot) allowed(ctx context.Context, user chat.User, token string) bool {
	role := b.perms.RoleOf(user.ID)
	if role.Contains(token) {
		return true
	}
	b.log.Info("command denied", zap.String("user", user.ID), zap.String("command", token), zap.String("role", role.Name))
	if !role.Empty() {
		b.sendDenied(ctx, fmt.Sprintf("%s, you are not allowed to use the command `%s`", user.Mention(), token))
	}
	return false
}

// call runs a command on behalf of user. Names without a command are sent
// to the server console as they are.
func (b *Bot) call(ctx context.Context, user chat.User, name, args string) {
	if !b.allowed(ctx, user, name) {
		return
	}
	c, ok := b.commands[name]
	if !ok {
		line := strings.TrimSpace(name + " " + args)
		b.log.Info("console command", zap.String("user", user.ID), zap.String("line", line))
		b.srv.SendLine(line)
		return
	}
	b.log.Info("command", zap.String("user", user.ID), zap.String("command", name), zap.String("args", args))
	if err := c.run.call(ctx, user, args); err != nil {
		var denied *perms.DeniedError
		if errors.As(err, &denied) {
			b.sendDenied(ctx, user.Mention()+", you are "+denied.Error())
			return
		}
		b.log.Warn("command failed", zap.String("command", name), zap.Error(err))
		b.sendError(ctx, capitalize(err.Error()))
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func (b *Bot) help(ctx context.Context, user chat.User) error {
	role := b.perms.RoleOf(user.ID)
	var sb strings.Builder
	sb.WriteString("Commands you may use:")
	for _, name := range commandOrder {
		if !role.Contains(name) {
			continue
		}
		c := b.commands[name]
		sb.WriteString("\n`" + name)
		if c.usage != "" {
			sb.WriteString(" " + c.usage)
		}
		sb.WriteString("` " + c.help)
	}
	if role.Contains(perms.Wildcard) {
		sb.WriteString("\nAny other command is sent to the server console.")
	}
	b.send(ctx, sb.String())
	return nil
}

func (b *Bot) status(ctx context.Context) error {
	var sb strings.Builder
	if b.srv.Alive() {
		up := time.Since(b.srv.StartedAt()).Round(time.Second)
		fmt.Fprintf(&sb, "Server is %s (up %s)", b.srv.State(), up)
	} else {
		sb.WriteString("Server is stopped")
	}
	if b.chatOn {
		sb.WriteString(", chat relay enabled")
	} else {
		sb.WriteString(", chat relay muted")
	}
	if n := b.shells.Len(); n > 0 {
		fmt.Fprintf(&sb, ", %d open shell(s)", n)
	}
	b.send(ctx, sb.String()+".")
	return nil
}

func (b *Bot) listRoles(ctx context.Context) error {
	roles := b.perms.ListRoles()
	if len(roles) == 0 {
		b.send(ctx, "No roles are defined.")
		return nil
	}
	var sb strings.Builder
	sb.WriteString("Roles:")
	for _, r := range roles {
		sb.WriteString("\n" + formatRole(r))
	}
	b.send(ctx, sb.String())
	return nil
}

func formatRole(r perms.RoleInfo) string {
	if len(r.Tokens) == 0 {
		return "`" + r.Name + "`: (nothing)"
	}
	return "`" + r.Name + "`: " + strings.Join(r.Tokens, ", ")
}

func (b *Bot) showRole(ctx context.Context, user chat.User, args string) error {
	target, _ := splitFirst(args)
	if target == "" {
		target = user.ID
	}
	id, info, err := b.perms.ShowRole(target)
	if err != nil {
		return err
	}
	mention := chat.User{ID: id}.Mention()
	if info.Name == "" {
		b.send(ctx, mention+" has no role.")
		return nil
	}
	b.send(ctx, mention+" has the role "+formatRole(info))
	return nil
}

func (b *Bot) setRole(ctx context.Context, user chat.User, args string) error {
	target, rest := splitFirst(args)
	if target == "" {
		return errors.New("usage: rset <user> [role]")
	}
	role, _ := splitFirst(rest)
	change, err := b.perms.SetRole(user.ID, target, role)
	if err != nil {
		return err
	}
	mention := chat.User{ID: change.UserID}.Mention()
	switch {
	case change.New == "":
		b.send(ctx, fmt.Sprintf("Role `%s` revoked from %s.", change.Old, mention))
	case change.Old == "":
		b.send(ctx, fmt.Sprintf("%s now has the role `%s`.", mention, change.New))
	default:
		b.send(ctx, fmt.Sprintf("%s now has the role `%s` (was `%s`).", mention, change.New, change.Old))
	}
	return nil
}

func (b *Bot) reloadPerms(ctx context.Context) error {
	if err := b.perms.Reload(); err != nil {
		return err
	}
	b.send(ctx, "Successfully reloaded permission settings.")
	return nil
}

func (b *Bot) quitBot(ctx context.Context) error {
	b.quitting = true
	b.exitExpected = b.srv.Alive()
	b.async(ctx, func(ctx context.Context) func(context.Context) {
		killed := b.srv.Kill(ctx)
		return func(ctx context.Context) {
			if killed {
				b.send(ctx, "Server killed")
			}
			b.send(ctx, "Bye!")
			b.quit()
		}
	})
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, chat.ErrNotFound)
}
