package discord

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/EgorLis/minecord/internal/chat"
)

const (
	DefaultAPIURL     = "https://discord.com/api/v10"
	DefaultGatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"

	// GUILDS | GUILD_MESSAGES | GUILD_MESSAGE_REACTIONS | MESSAGE_CONTENT
	DefaultIntents = 1<<0 | 1<<9 | 1<<10 | 1<<15

	maxBackoff = 30 * time.Second
)

type Client struct {
	token      string
	apiURL     string
	gatewayURL string
	intents    int
	http       *http.Client
	log        *zap.Logger
	minBackoff time.Duration

	mu        sync.Mutex
	sessionID string
	resumeURL string
	self      chat.User

	wmu   sync.Mutex // serializes socket writes
	seq   atomic.Int64
	acked atomic.Bool

	// Events. They run on the gateway goroutine and must not block it.
	OnReady       func(self chat.User)
	OnMessage     func(*chat.Message)
	OnReactionAdd func(chat.ReactionEvent)
	OnError       func(error)
}

var _ chat.Transport = (*Client)(nil)

type Option func(*Client)

func WithAPIURL(u string) Option {
	return func(c *Client) { c.apiURL = u }
}

func WithGatewayURL(u string) Option {
	return func(c *Client) { c.gatewayURL = u }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithIntents(intents int) Option {
	return func(c *Client) { c.intents = intents }
}

func New(token string, log *zap.Logger, opts ...Option) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Client{
		token:      token,
		apiURL:     DefaultAPIURL,
		gatewayURL: DefaultGatewayURL,
		intents:    DefaultIntents,
		http:       &http.Client{Timeout: 10 * time.Second},
		log:        log,
		minBackoff: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Self returns the bot's own user, known once READY has been received.
func (c *Client) Self() chat.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

func (c *Client) reportError(err error) {
	c.log.Warn("discord", zap.Error(err))
	if c.OnError != nil {
		c.OnError(err)
	}
}
