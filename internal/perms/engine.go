package perms

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/tidwall/jsonc"
	"go.uber.org/zap"

	"github.com/EgorLis/minecord/internal/chat"
)

// Engine holds the role table and the user assignments loaded from two
// JSON documents. It is safe for concurrent use.
type Engine struct {
	rolesPath string
	usersPath string
	log       *zap.Logger

	mu       sync.RWMutex
	roles    map[string]*Role
	order    []string // document order of roles
	users    map[string]string
	universe *Universe
	// disk holds the raw role and user documents as last loaded or written.
	disk [2][]byte
}

// RoleInfo is a read-only view of a role.
type RoleInfo struct {
	Name   string
	Tokens []string
}

// Change describes a successful SetRole.
type Change struct {
	UserID string
	Old    string
	New    string
}

// New loads both documents. A missing or malformed document is an error.
func New(rolesPath, usersPath string, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		rolesPath: rolesPath,
		usersPath: usersPath,
		log:       log,
		roles:     map[string]*Role{},
		users:     map[string]string{},
		universe:  newUniverse(),
	}
	if err := e.Reload(); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload re-reads both documents. On failure the current tables are kept.
func (e *Engine) Reload() error {
	docs, rawRoles, err := readRoles(e.rolesPath)
	if err != nil {
		return err
	}
	users, rawUsers, err := readUsers(e.usersPath)
	if err != nil {
		return err
	}

	u := newUniverse()
	roles := make(map[string]*Role, len(docs))
	order := make([]string, 0, len(docs))
	for _, d := range docs {
		if _, dup := roles[d.name]; !dup {
			order = append(order, d.name)
		}
		roles[d.name] = newRole(d.name, u)
	}
	// every role exists before references are resolved
	for _, d := range docs {
		r := roles[d.name]
		r.tokens = d.tokens
		r.perms, r.subRoles = nil, nil
		for _, tok := range d.tokens {
			if ref, ok := strings.CutPrefix(tok, RefPrefix); ok {
				sub, found := roles[ref]
				if !found {
					e.log.Warn("role references undeclared role",
						zap.String("role", d.name), zap.String("ref", ref))
					sub = anonymous()
				}
				r.subRoles = append(r.subRoles, sub)
				continue
			}
			r.perms = append(r.perms, tok)
		}
		u.add(r.perms...)
	}
	delete(u.set, Wildcard)

	e.mu.Lock()
	e.roles, e.order, e.users, e.universe = roles, order, users, u
	e.disk = [2][]byte{rawRoles, rawUsers}
	e.mu.Unlock()

	e.log.Info("permissions loaded", zap.Int("roles", len(roles)), zap.Int("users", len(users)))
	return nil
}

// Role returns the named role, or an empty role if it is not declared.
func (e *Engine) Role(name string) *Role {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.roleLocked(name)
}

func (e *Engine) roleLocked(name string) *Role {
	if r, ok := e.roles[name]; ok {
		return r
	}
	return anonymous()
}

// RoleOf returns the role assigned to userID. Unknown users get an empty role.
func (e *Engine) RoleOf(userID string) *Role {
	e.mu.RLock()
	defer e.mu.RUnlock()
	name, ok := e.users[userID]
	if !ok {
		return anonymous()
	}
	return e.roleLocked(name)
}

// ListRoles returns every role in document order.
func (e *Engine) ListRoles() []RoleInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]RoleInfo, 0, len(e.order))
	for _, name := range e.order {
		out = append(out, RoleInfo{Name: name, Tokens: e.roles[name].Tokens()})
	}
	return out
}

// ShowRole resolves target (an id or a mention) and returns its role.
// The Name of the returned info is empty for users without a role.
func (e *Engine) ShowRole(target string) (string, RoleInfo, error) {
	id, ok := chat.MentionID(target)
	if !ok {
		return "", RoleInfo{}, fmt.Errorf("%w: %q", ErrBadTarget, target)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	name := e.users[id]
	return id, RoleInfo{Name: name, Tokens: e.roleLocked(name).Tokens()}, nil
}

// SetRole assigns newRole to target on behalf of actorID, or revokes the
// target's role when newRole is empty. The actor's role must contain the
// reference of the role being revoked and of the role being granted. The
// user document is rewritten before the change becomes visible.
func (e *Engine) SetRole(actorID, target, newRole string) (Change, error) {
	id, ok := chat.MentionID(target)
	if !ok {
		return Change{}, fmt.Errorf("%w: %q", ErrBadTarget, target)
	}
	newRole = strings.TrimPrefix(newRole, RefPrefix)

	e.mu.Lock()
	defer e.mu.Unlock()

	if newRole != "" {
		if _, ok := e.roles[newRole]; !ok {
			return Change{}, fmt.Errorf("%w: %q", ErrUnknownRole, newRole)
		}
	}

	actor := e.roleLocked(e.users[actorID])
	old := e.users[id]
	// a stale assignment to an undeclared role grants nothing
	_, declared := e.roles[old]
	if old != "" && declared && !actor.Contains(RefPrefix+old) {
		return Change{}, &DeniedError{Role: old, Revoke: true}
	}
	if newRole != "" && !actor.Contains(RefPrefix+newRole) {
		return Change{}, &DeniedError{Role: newRole}
	}

	users := make(map[string]string, len(e.users)+1)
	for k, v := range e.users {
		users[k] = v
	}
	if newRole == "" {
		delete(users, id)
	} else {
		users[id] = newRole
	}
	raw, err := writeUsers(e.usersPath, users)
	if err != nil {
		return Change{}, err
	}
	e.users = users
	e.disk[1] = raw

	e.log.Info("role changed",
		zap.String("actor", actorID), zap.String("user", id),
		zap.String("old", old), zap.String("new", newRole))
	return Change{UserID: id, Old: old, New: newRole}, nil
}

type roleDoc struct {
	name   string
	tokens []string
}

// readRoles decodes the role document keeping key order.
func readRoles(path string) ([]roleDoc, []byte, error) {
	raw, data, err := readDocument(path)
	if err != nil {
		return nil, nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := expectDelim(dec, '{'); err != nil {
		return nil, nil, &ConfigError{Path: path, Err: err}
	}
	var out []roleDoc
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, &ConfigError{Path: path, Err: err}
		}
		name, _ := tok.(string)
		var tokens []string
		if err := dec.Decode(&tokens); err != nil {
			return nil, nil, &ConfigError{Path: path, Err: fmt.Errorf("role %q: %w", name, err)}
		}
		out = append(out, roleDoc{name: name, tokens: tokens})
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, nil, &ConfigError{Path: path, Err: err}
	}
	return out, raw, nil
}

func readUsers(path string) (map[string]string, []byte, error) {
	raw, data, err := readDocument(path)
	if err != nil {
		return nil, nil, err
	}
	users := map[string]string{}
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, nil, &ConfigError{Path: path, Err: err}
	}
	return users, raw, nil
}

// readDocument reads a JSON document that may carry comments. It returns
// the file as read and its comment-free form.
func readDocument(path string) (raw, doc []byte, err error) {
	raw, err = os.ReadFile(path)
	if err != nil {
		return nil, nil, &ConfigError{Path: path, Err: err}
	}
	return raw, jsonc.ToJSON(raw), nil
}

// unchanged reports whether both documents on disk are byte for byte what
// the engine last loaded or wrote itself.
func (e *Engine) unchanged() bool {
	var cur [2][]byte
	for i, p := range []string{e.rolesPath, e.usersPath} {
		b, err := os.ReadFile(p)
		if err != nil {
			return false
		}
		cur[i] = b
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return bytes.Equal(cur[0], e.disk[0]) && bytes.Equal(cur[1], e.disk[1])
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return errors.New("expected " + want.String() + " in role document")
	}
	return nil
}
