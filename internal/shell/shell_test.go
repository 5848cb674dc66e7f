package shell_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EgorLis/minecord/internal/chat"
	"github.com/EgorLis/minecord/internal/shell"
)

type harness struct {
	reg     *shell.Registry
	notices []string
	got     map[string][]string // handler -> lines
	now     time.Time
}

func newHarness(timeout time.Duration) *harness {
	h := &harness{got: map[string][]string{}, now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	h.reg = shell.NewRegistry(timeout, func(_ context.Context, text string) {
		h.notices = append(h.notices, text)
	}, nil)
	h.reg.SetClock(func() time.Time { return h.now })
	for _, name := range []string{"chat", "console"} {
		name := name
		h.reg.Register(name, func(_ context.Context, _ chat.User, text string) error {
			h.got[name] = append(h.got[name], text)
			return nil
		})
	}
	return h
}

var steve = chat.User{ID: "1", Name: "steve"}

func TestActivate_DifferentHandlerConflicts(t *testing.T) {
	h := newHarness(time.Minute)
	ctx := context.Background()

	require.NoError(t, h.reg.Activate(ctx, steve, "chat"))
	before, _ := h.reg.Active(steve.ID)

	err := h.reg.Activate(ctx, steve, "console")
	require.ErrorIs(t, err, shell.ErrConflict)

	after, ok := h.reg.Active(steve.ID)
	require.True(t, ok)
	assert.Equal(t, before, after)
	assert.Equal(t, []string{
		"Shell initiated for <@1>",
		"Another shell is already activated for <@1> (quit with `exit`)",
	}, h.notices)
}

func TestActivate_SameHandlerIsNoop(t *testing.T) {
	h := newHarness(time.Minute)
	ctx := context.Background()

	require.NoError(t, h.reg.Activate(ctx, steve, "chat"))
	first, _ := h.reg.Active(steve.ID)
	h.now = h.now.Add(time.Second)
	require.NoError(t, h.reg.Activate(ctx, steve, "chat"))
	second, _ := h.reg.Active(steve.ID)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, h.reg.Len())
	assert.Len(t, h.notices, 2)
}

func TestActivate_UnknownHandler(t *testing.T) {
	h := newHarness(time.Minute)
	require.ErrorIs(t, h.reg.Activate(context.Background(), steve, "python"), shell.ErrUnknownHandler)
	assert.Zero(t, h.reg.Len())
}

func TestDispatch_RoutesAndRefreshes(t *testing.T) {
	h := newHarness(time.Minute)
	ctx := context.Background()

	handled, err := h.reg.Dispatch(ctx, steve, "hello")
	require.NoError(t, err)
	assert.False(t, handled)

	require.NoError(t, h.reg.Activate(ctx, steve, "chat"))
	for i := 0; i < 3; i++ {
		h.now = h.now.Add(50 * time.Second)
		handled, err = h.reg.Dispatch(ctx, steve, "hello")
		require.NoError(t, err)
		assert.True(t, handled)
	}
	assert.Equal(t, []string{"hello", "hello", "hello"}, h.got["chat"])
}

func TestDispatch_ExitIsCaseInsensitive(t *testing.T) {
	h := newHarness(time.Minute)
	ctx := context.Background()

	require.NoError(t, h.reg.Activate(ctx, steve, "chat"))
	handled, err := h.reg.Dispatch(ctx, steve, "EXIT")
	require.NoError(t, err)
	assert.True(t, handled)
	_, ok := h.reg.Active(steve.ID)
	assert.False(t, ok)
	assert.Empty(t, h.got["chat"])
	assert.Equal(t, "Shell terminated for <@1>", h.notices[len(h.notices)-1])
}

func TestDispatch_IdleTimeout(t *testing.T) {
	h := newHarness(time.Minute)
	ctx := context.Background()

	require.NoError(t, h.reg.Activate(ctx, steve, "chat"))
	h.now = h.now.Add(61 * time.Second)
	handled, err := h.reg.Dispatch(ctx, steve, "too late")
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Empty(t, h.got["chat"])
	assert.Equal(t, "Shell timed out for <@1>", h.notices[len(h.notices)-1])
	assert.Zero(t, h.reg.Len())
}

func TestDispatch_ZeroTimeoutNeverExpires(t *testing.T) {
	h := newHarness(0)
	ctx := context.Background()

	require.NoError(t, h.reg.Activate(ctx, steve, "chat"))
	h.now = h.now.Add(24 * time.Hour)
	_, err := h.reg.Dispatch(ctx, steve, "still here")
	require.NoError(t, err)
	assert.Equal(t, []string{"still here"}, h.got["chat"])
}

func TestTerminateAll_OnlyMatchingHandler(t *testing.T) {
	h := newHarness(time.Minute)
	ctx := context.Background()
	alex := chat.User{ID: "2", Name: "alex"}
	herobrine := chat.User{ID: "3", Name: "herobrine"}

	require.NoError(t, h.reg.Activate(ctx, steve, "chat"))
	require.NoError(t, h.reg.Activate(ctx, alex, "chat"))
	require.NoError(t, h.reg.Activate(ctx, herobrine, "console"))
	h.notices = nil

	assert.Equal(t, 2, h.reg.TerminateAll(ctx, "chat"))
	assert.Equal(t, []string{"All `chat` shells terminated."}, h.notices)
	assert.Equal(t, 1, h.reg.Len())
	_, ok := h.reg.Active(herobrine.ID)
	assert.True(t, ok)
}
