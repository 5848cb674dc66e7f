package perms

import (
	"slices"
	"strings"
)

const (
	// Wildcard grants every permission nobody declared, e.g. raw console
	// commands that have no entry in the role document.
	Wildcard = "@"
	// RefPrefix marks a role reference: "#admin".
	RefPrefix = "#"
)

// Universe is the set of every permission declared by one role document.
// It is shared by all roles of an Engine generation.
type Universe struct {
	set map[string]struct{}
}

func newUniverse() *Universe {
	return &Universe{set: make(map[string]struct{})}
}

func (u *Universe) add(perms ...string) {
	for _, p := range perms {
		u.set[p] = struct{}{}
	}
}

func (u *Universe) Has(perm string) bool {
	if u == nil {
		return false
	}
	_, ok := u.set[perm]
	return ok
}

// Role is a named bundle of permissions and sub-roles. Sub-roles are shared
// pointers; several roles may inherit from the same one.
type Role struct {
	Name     string
	tokens   []string // as written in the document
	perms    []string
	subRoles []*Role
	universe *Universe
}

func newRole(name string, u *Universe) *Role {
	return &Role{Name: name, universe: u}
}

// anonymous roles are handed out for unknown users and unknown references.
func anonymous() *Role {
	return &Role{}
}

// Tokens returns the role's permission list as declared.
func (r *Role) Tokens() []string {
	if r == nil {
		return nil
	}
	return slices.Clone(r.tokens)
}

// Ref returns the token that names this role, "#name".
func (r *Role) Ref() string {
	return RefPrefix + r.Name
}

// Contains reports whether the role grants token, which is a permission,
// a role reference ("#name") or the wildcard.
func (r *Role) Contains(token string) bool {
	if r == nil {
		return false
	}
	if r.has(token, make(map[*Role]bool)) {
		return true
	}
	if token == Wildcard || strings.HasPrefix(token, RefPrefix) {
		return false
	}
	if !r.universe.Has(token) {
		return r.has(Wildcard, make(map[*Role]bool))
	}
	return false
}

// has walks the role and its sub-roles depth first. seen breaks cycles.
func (r *Role) has(token string, seen map[*Role]bool) bool {
	if seen[r] {
		return false
	}
	seen[r] = true
	if r.Name != "" && token == r.Ref() {
		return true
	}
	if slices.Contains(r.perms, token) {
		return true
	}
	for _, sub := range r.subRoles {
		if sub.has(token, seen) {
			return true
		}
	}
	return false
}

// Empty reports whether the role grants nothing at all. Users with an empty
// role are treated as onlookers.
func (r *Role) Empty() bool {
	return r == nil || !r.granting(make(map[*Role]bool))
}

func (r *Role) granting(seen map[*Role]bool) bool {
	if seen[r] {
		return false
	}
	seen[r] = true
	if len(r.perms) > 0 {
		return true
	}
	for _, sub := range r.subRoles {
		if sub.granting(seen) {
			return true
		}
	}
	return false
}
