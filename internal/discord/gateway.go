package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opResume         = 6
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatACK   = 11

	closeResumable = 4000
)

// ErrFatalClose means the gateway closed the connection with a code that
// forbids reconnecting, such as a bad token or disallowed intents.
var ErrFatalClose = errors.New("discord: gateway refused the session")

var (
	errReconnect      = errors.New("gateway asked to reconnect")
	errInvalidSession = errors.New("gateway invalidated the session")
)

type payload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
	S  *int64          `json:"s"`
	T  string          `json:"t"`
}

type frame struct {
	Op int `json:"op"`
	D  any `json:"d"`
}

// Run holds a gateway session open until ctx ends or the gateway refuses
// the session. Dropped connections are resumed with exponential backoff.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.minBackoff
	for {
		began := time.Now()
		err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrFatalClose) {
			return err
		}
		if errors.Is(err, errReconnect) {
			continue
		}
		c.reportError(err)
		if time.Since(began) > time.Minute {
			backoff = c.minBackoff
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (c *Client) session(ctx context.Context) error {
	c.mu.Lock()
	url, resume := c.gatewayURL, c.sessionID != ""
	if resume && c.resumeURL != "" {
		url = strings.TrimSuffix(c.resumeURL, "/") + "/?v=10&encoding=json"
	}
	c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	conn.SetReadLimit(16 << 20)
	defer func() {
		// Any code other than 1000/1001 keeps the session resumable.
		code := closeResumable
		if ctx.Err() != nil {
			code = websocket.CloseNormalClosure
		}
		c.closeConn(conn, code)
	}()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	p, err := c.read(conn)
	if err != nil {
		return err
	}
	if p.Op != opHello {
		return fmt.Errorf("expected hello, got op %d", p.Op)
	}
	var hello struct {
		HeartbeatInterval int64 `json:"heartbeat_interval"`
	}
	if err := json.Unmarshal(p.D, &hello); err != nil || hello.HeartbeatInterval <= 0 {
		return fmt.Errorf("bad hello: %s", p.D)
	}

	if resume {
		err = c.sendResume(conn)
	} else {
		err = c.sendIdentify(conn)
	}
	if err != nil {
		return err
	}

	c.acked.Store(true)
	done := make(chan struct{})
	var hb sync.WaitGroup
	hb.Add(1)
	go func() {
		defer hb.Done()
		c.heartbeat(conn, time.Duration(hello.HeartbeatInterval)*time.Millisecond, done)
	}()
	defer func() {
		close(done)
		hb.Wait()
	}()

	for {
		p, err := c.read(conn)
		if err != nil {
			return err
		}
		switch p.Op {
		case opDispatch:
			if p.S != nil {
				c.seq.Store(*p.S)
			}
			c.dispatch(p.T, p.D)
		case opHeartbeat:
			if err := c.sendHeartbeat(conn); err != nil {
				return err
			}
		case opHeartbeatACK:
			c.acked.Store(true)
		case opReconnect:
			return errReconnect
		case opInvalidSession:
			var resumable bool
			_ = json.Unmarshal(p.D, &resumable)
			if !resumable {
				c.resetSession()
			}
			return errInvalidSession
		}
	}
}

func (c *Client) read(conn *websocket.Conn) (*payload, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) && fatalClose(ce.Code) {
			return nil, fmt.Errorf("%w: %d %s", ErrFatalClose, ce.Code, ce.Text)
		}
		return nil, fmt.Errorf("read gateway: %w", err)
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode gateway payload: %w", err)
	}
	return &p, nil
}

// fatalClose reports close codes after which the session must not be
// re-established.
func fatalClose(code int) bool {
	switch code {
	case 4004, 4010, 4011, 4012, 4013, 4014:
		return true
	}
	return false
}

func (c *Client) write(conn *websocket.Conn, v any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteJSON(v)
}

func (c *Client) sendIdentify(conn *websocket.Conn) error {
	return c.write(conn, frame{Op: opIdentify, D: map[string]any{
		"token":   c.token,
		"intents": c.intents,
		"properties": map[string]string{
			"os":      runtime.GOOS,
			"browser": "minecord",
			"device":  "minecord",
		},
	}})
}

func (c *Client) sendResume(conn *websocket.Conn) error {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	return c.write(conn, frame{Op: opResume, D: map[string]any{
		"token":      c.token,
		"session_id": sessionID,
		"seq":        c.seq.Load(),
	}})
}

func (c *Client) sendHeartbeat(conn *websocket.Conn) error {
	var d any
	if s := c.seq.Load(); s > 0 {
		d = s
	}
	return c.write(conn, frame{Op: opHeartbeat, D: d})
}

// heartbeat beats every interval until done is closed. A beat that was not
// acknowledged by the next tick means the connection is dead; closing it
// makes the read loop fail and the session resume.
func (c *Client) heartbeat(conn *websocket.Conn, interval time.Duration, done <-chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			if !c.acked.Swap(false) {
				c.log.Warn("heartbeat not acknowledged, reconnecting")
				_ = conn.Close()
				return
			}
			if err := c.sendHeartbeat(conn); err != nil {
				c.log.Debug("heartbeat", zap.Error(err))
				return
			}
		}
	}
}

func (c *Client) dispatch(event string, d json.RawMessage) {
	switch event {
	case "READY":
		var r ready
		if err := json.Unmarshal(d, &r); err != nil {
			c.reportError(fmt.Errorf("decode READY: %w", err))
			return
		}
		self := toUser(r.User, nil)
		c.mu.Lock()
		c.sessionID, c.resumeURL, c.self = r.SessionID, r.ResumeGatewayURL, self
		c.mu.Unlock()
		c.log.Info("gateway ready", zap.String("user", self.Name), zap.String("id", self.ID))
		if c.OnReady != nil {
			c.OnReady(self)
		}
	case "RESUMED":
		c.log.Info("gateway session resumed", zap.Int64("seq", c.seq.Load()))
	case "MESSAGE_CREATE":
		var m message
		if err := json.Unmarshal(d, &m); err != nil {
			c.reportError(fmt.Errorf("decode MESSAGE_CREATE: %w", err))
			return
		}
		if c.OnMessage != nil {
			c.OnMessage(m.toChat())
		}
	case "MESSAGE_REACTION_ADD":
		var r reactionAdd
		if err := json.Unmarshal(d, &r); err != nil {
			c.reportError(fmt.Errorf("decode MESSAGE_REACTION_ADD: %w", err))
			return
		}
		if c.OnReactionAdd != nil {
			c.OnReactionAdd(r.toChat())
		}
	}
}

func (c *Client) resetSession() {
	c.mu.Lock()
	c.sessionID, c.resumeURL = "", ""
	c.mu.Unlock()
	c.seq.Store(0)
}

// closeConn sends a close frame with code and drops the connection.
func (c *Client) closeConn(conn *websocket.Conn, code int) {
	c.wmu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, "closing"),
		time.Now().Add(500*time.Millisecond))
	c.wmu.Unlock()
	_ = conn.Close()
}
