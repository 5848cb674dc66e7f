package perms_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/EgorLis/minecord/internal/perms"
)

func writeDocs(t *testing.T, roles, users string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	rp := filepath.Join(dir, "roles.json")
	up := filepath.Join(dir, "users.json")
	require.NoError(t, os.WriteFile(rp, []byte(roles), 0o644))
	require.NoError(t, os.WriteFile(up, []byte(users), 0o644))
	return rp, up
}

func newEngine(t *testing.T, roles, users string) (*perms.Engine, string) {
	t.Helper()
	rp, up := writeDocs(t, roles, users)
	e, err := perms.New(rp, up, zap.NewNop())
	require.NoError(t, err)
	return e, up
}

const sampleRoles = `{
	// hand-edited documents may carry comments
	"admin": ["start", "stop", "#mod", "@"],
	"mod": ["kick", "#helper"],
	"helper": ["chat"],
	"guest": []
}`

func TestRoleOf_SubRoleAndUnknownUser(t *testing.T) {
	e, _ := newEngine(t, `{"admin":["start","stop","#mod"],"mod":["kick"]}`, `{"U1":"admin"}`)

	assert.True(t, e.RoleOf("U1").Contains("kick"))
	assert.True(t, e.RoleOf("U1").Contains("start"))
	assert.False(t, e.RoleOf("U2").Contains("start"))
	assert.True(t, e.RoleOf("U2").Empty())
	assert.False(t, e.RoleOf("U1").Empty())
}

func TestContains_OwnReferenceAlwaysGranted(t *testing.T) {
	e, _ := newEngine(t, sampleRoles, `{}`)
	for _, name := range []string{"admin", "mod", "helper", "guest"} {
		assert.True(t, e.Role(name).Contains("#"+name), name)
	}
	assert.True(t, e.Role("admin").Contains("#mod"))
	assert.True(t, e.Role("admin").Contains("#helper"))
	assert.False(t, e.Role("mod").Contains("#admin"))
}

func TestContains_UndeclaredTokensFollowWildcard(t *testing.T) {
	e, _ := newEngine(t, sampleRoles, `{}`)
	for _, name := range []string{"admin", "mod", "helper", "guest"} {
		r := e.Role(name)
		for _, tok := range []string{"time", "weather", "op", "say"} {
			assert.Equal(t, r.Contains("@"), r.Contains(tok), "%s/%s", name, tok)
		}
	}
	assert.True(t, e.Role("admin").Contains("weather"))
	assert.False(t, e.Role("mod").Contains("weather"))
}

func TestContains_DeclaredTokenNotHeldIsDenied(t *testing.T) {
	e, _ := newEngine(t, sampleRoles, `{}`)
	// "chat" is declared by helper, so the wildcard does not cover it for guest
	assert.False(t, e.Role("guest").Contains("chat"))
	assert.True(t, e.Role("admin").Contains("chat"))
}

func TestContains_ReferencesAndWildcardNeverFallBack(t *testing.T) {
	e, _ := newEngine(t, `{"root":["@"],"other":[]}`, `{}`)
	root := e.Role("root")
	assert.True(t, root.Contains("@"))
	assert.True(t, root.Contains("anything"))
	assert.False(t, root.Contains("#other"))
	assert.False(t, root.Contains("#nobody"))
	assert.False(t, e.Role("other").Contains("@"))
}

func TestContains_AnonymousRoleGrantsNothing(t *testing.T) {
	e, _ := newEngine(t, sampleRoles, `{}`)
	r := e.RoleOf("stranger")
	assert.False(t, r.Contains("#"))
	assert.False(t, r.Contains("start"))
	assert.False(t, r.Contains("undeclared"))
}

func TestReload_ForwardReferenceAndCycle(t *testing.T) {
	e, _ := newEngine(t, `{"a":["one","#b"],"b":["two","#a"]}`, `{}`)
	assert.True(t, e.Role("a").Contains("two"))
	assert.True(t, e.Role("b").Contains("one"))
	assert.False(t, e.Role("a").Contains("three"))
	assert.False(t, e.Role("a").Empty())
}

func TestReload_UndeclaredReferenceIsEmpty(t *testing.T) {
	e, _ := newEngine(t, `{"a":["#ghost"]}`, `{}`)
	assert.True(t, e.Role("a").Empty())
	assert.False(t, e.Role("a").Contains("#ghost"))
}

func TestReload_FailureKeepsPreviousTables(t *testing.T) {
	e, up := newEngine(t, sampleRoles, `{"U1":"admin"}`)

	require.NoError(t, os.WriteFile(up, []byte(`{"U1":`), 0o644))
	err := e.Reload()
	var cfgErr *perms.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, up, cfgErr.Path)
	assert.True(t, e.RoleOf("U1").Contains("start"))

	require.NoError(t, os.Remove(up))
	require.Error(t, e.Reload())
	assert.True(t, e.RoleOf("U1").Contains("start"))
}

func TestNew_MissingDocument(t *testing.T) {
	dir := t.TempDir()
	_, err := perms.New(filepath.Join(dir, "nope.json"), filepath.Join(dir, "users.json"), nil)
	var cfgErr *perms.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestNew_RoleDocumentMustBeObject(t *testing.T) {
	rp, up := writeDocs(t, `["admin"]`, `{}`)
	_, err := perms.New(rp, up, nil)
	var cfgErr *perms.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestListRoles_DocumentOrder(t *testing.T) {
	e, _ := newEngine(t, sampleRoles, `{}`)
	roles := e.ListRoles()
	require.Len(t, roles, 4)
	assert.Equal(t, "admin", roles[0].Name)
	assert.Equal(t, []string{"start", "stop", "#mod", "@"}, roles[0].Tokens)
	assert.Equal(t, "mod", roles[1].Name)
	assert.Equal(t, "helper", roles[2].Name)
	assert.Equal(t, "guest", roles[3].Name)
}

func TestShowRole(t *testing.T) {
	e, _ := newEngine(t, sampleRoles, `{"42":"mod"}`)

	id, info, err := e.ShowRole("<@!42>")
	require.NoError(t, err)
	assert.Equal(t, "42", id)
	assert.Equal(t, "mod", info.Name)
	assert.Equal(t, []string{"kick", "#helper"}, info.Tokens)

	_, info, err = e.ShowRole("43")
	require.NoError(t, err)
	assert.Empty(t, info.Name)

	_, _, err = e.ShowRole("<#12>")
	require.ErrorIs(t, err, perms.ErrBadTarget)
}

func readUsers(t *testing.T, path string) map[string]string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var users map[string]string
	require.NoError(t, json.Unmarshal(b, &users))
	return users
}

func TestSetRole_GrantPersists(t *testing.T) {
	e, up := newEngine(t, sampleRoles, `{"A":"admin"}`)

	ch, err := e.SetRole("A", "<@100>", "mod")
	require.NoError(t, err)
	assert.Equal(t, perms.Change{UserID: "100", Old: "", New: "mod"}, ch)
	assert.True(t, e.RoleOf("100").Contains("kick"))
	assert.Equal(t, map[string]string{"A": "admin", "100": "mod"}, readUsers(t, up))

	b, err := os.ReadFile(up)
	require.NoError(t, err)
	assert.Contains(t, string(b), "\n  \"100\": \"mod\"")
}

func TestSetRole_RevokeWithEmptyRole(t *testing.T) {
	e, up := newEngine(t, sampleRoles, `{"A":"admin","B":"helper"}`)

	ch, err := e.SetRole("A", "B", "")
	require.NoError(t, err)
	assert.Equal(t, "helper", ch.Old)
	assert.True(t, e.RoleOf("B").Empty())
	assert.NotContains(t, readUsers(t, up), "B")
}

func TestSetRole_ActorMustContainGrantedRole(t *testing.T) {
	e, up := newEngine(t, sampleRoles, `{"M":"mod","G":"guest"}`)

	_, err := e.SetRole("M", "N", "admin")
	var denied *perms.DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "admin", denied.Role)
	assert.ErrorIs(t, err, perms.ErrPermissionDenied)
	assert.Equal(t, map[string]string{"M": "mod", "G": "guest"}, readUsers(t, up))
}

func TestSetRole_ActorMustContainRevokedRole(t *testing.T) {
	e, _ := newEngine(t, sampleRoles, `{"M":"mod","X":"admin"}`)

	_, err := e.SetRole("M", "X", "helper")
	var denied *perms.DeniedError
	require.ErrorAs(t, err, &denied)
	assert.True(t, denied.Revoke)
	assert.Equal(t, "admin", e.RoleOf("X").Name)
}

func TestSetRole_OwnRoleUsesSameCheck(t *testing.T) {
	e, _ := newEngine(t, sampleRoles, `{"M":"mod","M2":"mod"}`)

	// mod contains #mod, so a moderator may hand out and take back moderator
	_, err := e.SetRole("M", "N", "mod")
	require.NoError(t, err)
	_, err = e.SetRole("M", "M2", "helper")
	require.NoError(t, err)
	assert.Equal(t, "helper", e.RoleOf("M2").Name)
}

func TestSetRole_UnknownRoleAndBadTarget(t *testing.T) {
	e, _ := newEngine(t, sampleRoles, `{"A":"admin"}`)

	_, err := e.SetRole("A", "B", "wizard")
	require.ErrorIs(t, err, perms.ErrUnknownRole)

	_, err = e.SetRole("A", "@everyone", "mod")
	require.ErrorIs(t, err, perms.ErrBadTarget)

	_, err = e.SetRole("stranger", "B", "guest")
	require.ErrorIs(t, err, perms.ErrPermissionDenied)
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	e, up := newEngine(t, sampleRoles, `{}`)

	ctx, cancel := context.WithCancel(context.Background())
	reloaded := make(chan error, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Watch(ctx, func(err error) { reloaded <- err })
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		_ = os.WriteFile(up, []byte(`{"U9":"mod"}`), 0o644)
		return e.RoleOf("U9").Contains("kick")
	}, 5*time.Second, 400*time.Millisecond)
	assert.NoError(t, <-reloaded)
}

func TestWatch_OwnWritesAreNotReported(t *testing.T) {
	e, up := newEngine(t, sampleRoles, `{}`)

	ctx, cancel := context.WithCancel(context.Background())
	reloaded := make(chan error, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Watch(ctx, func(err error) { reloaded <- err })
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// wait for the watcher to see an outside edit
	require.Eventually(t, func() bool {
		_ = os.WriteFile(up, []byte(`{"M":"mod"}`), 0o644)
		return e.RoleOf("M").Contains("kick")
	}, 5*time.Second, 400*time.Millisecond)
	time.Sleep(600 * time.Millisecond)
	for len(reloaded) > 0 {
		<-reloaded
	}

	_, err := e.SetRole("M", "N", "helper")
	require.NoError(t, err)
	select {
	case err := <-reloaded:
		t.Fatalf("reload reported after SetRole: %v", err)
	case <-time.After(time.Second):
	}
	assert.Equal(t, "helper", e.RoleOf("N").Name)

	require.NoError(t, os.WriteFile(up, []byte(`{"M":"mod","A":"admin"}`), 0o644))
	select {
	case err := <-reloaded:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("outside edit not reported")
	}
	assert.Equal(t, "admin", e.RoleOf("A").Name)
}

func TestSetRole_StaleAssignmentCanBeReplaced(t *testing.T) {
	e, up := newEngine(t, sampleRoles, `{"A":"admin","B":"ghost","C":"ghost"}`)

	ch, err := e.SetRole("A", "B", "mod")
	require.NoError(t, err)
	assert.Equal(t, "ghost", ch.Old)
	assert.Equal(t, "mod", e.RoleOf("B").Name)

	_, err = e.SetRole("A", "C", "")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "admin", "B": "mod"}, readUsers(t, up))
}

func TestSetRole_ReplacesDocumentWhole(t *testing.T) {
	e, up := newEngine(t, sampleRoles, `{"A":"admin"}`)

	_, err := e.SetRole("A", "B", "guest")
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Dir(up))
	require.NoError(t, err)
	var names []string
	for _, de := range entries {
		names = append(names, de.Name())
	}
	assert.ElementsMatch(t, []string{"roles.json", "users.json"}, names)

	fi, err := os.Stat(up)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), fi.Mode().Perm())
	assert.Equal(t, map[string]string{"A": "admin", "B": "guest"}, readUsers(t, up))
}
