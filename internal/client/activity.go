package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// ActivityEvent is one entry of the server's live activity feed.
type ActivityEvent struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Factory string         `json:"factory"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
	At      time.Time      `json:"at"`
}

// WatchActivity streams the admin activity feed to fn until ctx is done,
// fn returns an error or the server closes the connection. Empty factories
// receives events of every factory.
func (c *Client) WatchActivity(ctx context.Context, factories []string, fn func(ActivityEvent) error) error {
	u, err := url.Parse(c.serverURL + "/admin/activity")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := u.Query()
	for _, f := range factories {
		q.Add("factory", f)
	}
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	if tr, ok := c.httpClient.Transport.(*http.Transport); ok {
		dialer.Proxy = tr.Proxy
		dialer.NetDialContext = tr.DialContext
	}

	header := http.Header{}
	if c.adminToken != "" {
		header.Set("Authorization", "Bearer "+c.adminToken)
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(resp.Status)}
		}
		return fmt.Errorf("connect to activity feed: %w", err)
	}
	defer conn.Close()

	// Unblock ReadJSON when ctx ends.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var ev ActivityEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return nil
			}
			return fmt.Errorf("read activity feed: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}
