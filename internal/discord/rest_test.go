package discord

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/EgorLis/minecord/internal/chat"
)

type call struct {
	Method, Path, Auth, Body string
}

type fakeAPI struct {
	mu    sync.Mutex
	calls []call
	reply func(w http.ResponseWriter, r *http.Request, n int)
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.calls = append(f.calls, call{r.Method, r.URL.Path, r.Header.Get("Authorization"), string(b)})
	n := len(f.calls)
	f.mu.Unlock()
	f.reply(w, r, n)
}

func (f *fakeAPI) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func newREST(t *testing.T, reply func(w http.ResponseWriter, r *http.Request, n int)) (*Client, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{reply: reply}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return New("tok", zaptest.NewLogger(t), WithAPIURL(srv.URL), WithHTTPClient(srv.Client())), api
}

const fetchedMessage = `{
  "id": "m1",
  "channel_id": "c1",
  "author": {"id": "7", "username": "steve"},
  "member": {"nick": "Steve"},
  "content": "<@99> start and <@!8>",
  "mentions": [
    {"id": "99", "username": "minecord", "bot": true},
    {"id": "8", "username": "alex", "global_name": "Alex", "member": {"nick": "alexa"}}
  ],
  "reactions": [
    {"count": 2, "me": true, "emoji": {"id": null, "name": "▶️"}},
    {"count": 1, "me": false, "emoji": {"id": "123", "name": "creeper"}}
  ]
}`

func TestFetchMessage(t *testing.T) {
	c, api := newREST(t, func(w http.ResponseWriter, _ *http.Request, _ int) {
		_, _ = io.WriteString(w, fetchedMessage)
	})

	m, err := c.FetchMessage(context.Background(), "c1", "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, chat.User{ID: "7", Name: "steve", Nick: "Steve"}, m.Author)
	assert.Equal(t, "@minecord start and @alexa", m.CleanContent)
	require.Len(t, m.Reactions, 2)
	assert.True(t, m.Reactions[0].Me)
	assert.True(t, chat.SameEmoji("▶", m.Reactions[0].Emoji))
	assert.Equal(t, "creeper:123", m.Reactions[1].Emoji)

	calls := api.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, call{http.MethodGet, "/channels/c1/messages/m1", "Bot tok", ""}, calls[0])
}

func TestFetchMessage_NotFound(t *testing.T) {
	c, _ := newREST(t, func(w http.ResponseWriter, _ *http.Request, _ int) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"message": "Unknown Message", "code": 10008}`)
	})

	_, err := c.FetchMessage(context.Background(), "c1", "gone")
	require.ErrorIs(t, err, chat.ErrNotFound)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 10008, apiErr.Code)
	assert.Equal(t, "Unknown Message", apiErr.Message)
}

func TestSend(t *testing.T) {
	c, api := newREST(t, func(w http.ResponseWriter, _ *http.Request, _ int) {
		_, _ = io.WriteString(w, `{"id": "m2", "channel_id": "c1", "author": {"id": "99", "username": "minecord", "bot": true}, "content": "Hi everyone!"}`)
	})

	m, err := c.Send(context.Background(), "c1", "Hi everyone!")
	require.NoError(t, err)
	assert.Equal(t, "m2", m.ID)
	assert.True(t, m.Author.Bot)

	calls := api.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, http.MethodPost, calls[0].Method)
	assert.Equal(t, "/channels/c1/messages", calls[0].Path)
	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(calls[0].Body), &body))
	assert.Equal(t, "Hi everyone!", body["content"])
}

func TestReactions(t *testing.T) {
	c, api := newREST(t, func(w http.ResponseWriter, _ *http.Request, _ int) {
		w.WriteHeader(http.StatusNoContent)
	})
	c.self = chat.User{ID: "99"}
	ctx := context.Background()

	require.NoError(t, c.AddReaction(ctx, "c1", "m1", "⏹"))
	require.NoError(t, c.RemoveReaction(ctx, "c1", "m1", "⏹", "99"))
	require.NoError(t, c.RemoveReaction(ctx, "c1", "m1", "💀", "7"))
	require.NoError(t, c.DeleteMessage(ctx, "c1", "m1"))

	var got []string
	for _, cl := range api.snapshot() {
		got = append(got, cl.Method+" "+cl.Path)
	}
	assert.Equal(t, []string{
		"PUT /channels/c1/messages/m1/reactions/⏹/@me",
		"DELETE /channels/c1/messages/m1/reactions/⏹/@me",
		"DELETE /channels/c1/messages/m1/reactions/💀/7",
		"DELETE /channels/c1/messages/m1",
	}, got)
}

func TestRateLimitRetriedOnce(t *testing.T) {
	c, api := newREST(t, func(w http.ResponseWriter, _ *http.Request, n int) {
		if n == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"message": "You are being rate limited.", "retry_after": 0.01, "global": false}`)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.DeleteMessage(context.Background(), "c1", "m1"))
	assert.Len(t, api.snapshot(), 2)
}

func TestRateLimitGivesUpAfterRetry(t *testing.T) {
	c, api := newREST(t, func(w http.ResponseWriter, _ *http.Request, _ int) {
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	err := c.AddReaction(context.Background(), "c1", "m1", "✅")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
	assert.Len(t, api.snapshot(), 2)
}
