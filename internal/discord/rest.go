package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/EgorLis/minecord/internal/chat"
)

// APIError is a REST response outside the 2xx range.
type APIError struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("discord api: %d %s (code %d)", e.Status, e.Message, e.Code)
}

// Is makes a 404 match chat.ErrNotFound.
func (e *APIError) Is(target error) bool {
	return target == chat.ErrNotFound && e.Status == http.StatusNotFound
}

func (c *Client) Send(ctx context.Context, channelID, text string) (*chat.Message, error) {
	var m message
	err := c.do(ctx, http.MethodPost, "/channels/"+url.PathEscape(channelID)+"/messages",
		map[string]any{"content": text, "allowed_mentions": map[string]any{"parse": []string{"users"}}}, &m)
	if err != nil {
		return nil, err
	}
	return m.toChat(), nil
}

func (c *Client) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	return c.do(ctx, http.MethodPut, reactionPath(channelID, messageID, emoji)+"/@me", nil, nil)
}

// RemoveReaction removes the reaction placed by userID; an empty userID or
// the bot's own id removes the bot's reaction.
func (c *Client) RemoveReaction(ctx context.Context, channelID, messageID, emoji, userID string) error {
	who := "@me"
	if userID != "" && userID != c.Self().ID {
		who = url.PathEscape(userID)
	}
	return c.do(ctx, http.MethodDelete, reactionPath(channelID, messageID, emoji)+"/"+who, nil, nil)
}

func (c *Client) FetchMessage(ctx context.Context, channelID, messageID string) (*chat.Message, error) {
	var m message
	if err := c.do(ctx, http.MethodGet, messagePath(channelID, messageID), nil, &m); err != nil {
		return nil, err
	}
	return m.toChat(), nil
}

func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return c.do(ctx, http.MethodDelete, messagePath(channelID, messageID), nil, nil)
}

func messagePath(channelID, messageID string) string {
	return "/channels/" + url.PathEscape(channelID) + "/messages/" + url.PathEscape(messageID)
}

func reactionPath(channelID, messageID, emoji string) string {
	return messagePath(channelID, messageID) + "/reactions/" + url.PathEscape(emoji)
}

// do performs one REST call, decoding a JSON answer into out when it is not
// nil. A 429 is retried once after the delay the API asks for.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}
	for attempt := 0; ; attempt++ {
		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, rd)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bot "+c.token)
		req.Header.Set("User-Agent", "DiscordBot (https://github.com/EgorLis/minecord, 1.0)")
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
		if resp.StatusCode == http.StatusTooManyRequests && attempt == 0 {
			wait := retryAfter(resp)
			resp.Body.Close()
			c.log.Warn("rate limited", zap.String("method", method), zap.String("path", path), zap.Duration("retry_after", wait))
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
			continue
		}
		return decode(resp, out)
	}
}

func decode(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		apiErr := &APIError{Status: resp.StatusCode}
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(b, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func retryAfter(resp *http.Response) time.Duration {
	var body struct {
		RetryAfter float64 `json:"retry_after"`
	}
	wait := time.Second
	if json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body) == nil && body.RetryAfter > 0 {
		wait = time.Duration(body.RetryAfter * float64(time.Second))
	} else if s, err := strconv.ParseFloat(resp.Header.Get("Retry-After"), 64); err == nil && s >= 0 {
		wait = time.Duration(s * float64(time.Second))
	}
	return min(wait, maxBackoff)
}
