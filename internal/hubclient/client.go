// Package hubclient maintains one hub connection per client session. The
// server forgets group membership when a connection drops, so the client
// re-joins everything it held after every reconnect and then lets the caller
// run its reconciliation read.
package hubclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"barlink-service/internal/models"
)

var ErrClosed = errors.New("hub client closed")

type Config struct {
	// BaseURL is the http(s) root of the service, e.g. "http://localhost:8083".
	BaseURL string
	// UserID is the session identity sent to the negotiate endpoint.
	UserID string
	// OnReconnect runs after group memberships are re-established on a new
	// connection. The coordinator hangs its reconciliation read here.
	OnReconnect func(ctx context.Context)
	// InitialBackoff and MaxBackoff bound the reconnect schedule.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type Client struct {
	cfg    Config
	events chan models.Event

	mu     sync.Mutex
	conn   *websocket.Conn
	held   map[string]bool
	closed bool
}

// Dial negotiates, connects, and starts the read pump.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 30 * time.Second
	}

	c := &Client{
		cfg:    cfg,
		events: make(chan models.Event, 256),
		held:   make(map[string]bool),
	}
	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	go c.readPump(ctx, conn)
	return c, nil
}

// Events is the stream of hub events for every group this client joined.
// Slow consumers lose events; the reconciliation read covers the gap.
func (c *Client) Events() <-chan models.Event { return c.events }

// Join adds the group to the held set and tells the server. Held groups are
// re-joined automatically after a reconnect.
func (c *Client) Join(group string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.held[group] = true
	return c.sendLocked("join", group)
}

// Leave removes the group from the held set and tells the server.
func (c *Client) Leave(group string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	delete(c.held, group)
	return c.sendLocked("leave", group)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

type rpcFrame struct {
	Action string `json:"action"`
	Group  string `json:"group"`
}

func (c *Client) sendLocked(action, group string) error {
	if c.conn == nil {
		// Reconnect in flight; the held set will be replayed once it lands.
		return nil
	}
	return c.conn.WriteJSON(rpcFrame{Action: action, Group: group})
}

type negotiateResponse struct {
	Endpoint    string `json:"endpoint"`
	AccessToken string `json:"accessToken"`
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/negotiate", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-User-Id", c.cfg.UserID)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("negotiate failed: status %d", resp.StatusCode)
	}

	var neg negotiateResponse
	if err := json.NewDecoder(resp.Body).Decode(&neg); err != nil {
		return nil, err
	}

	wsURL := toWebsocketURL(c.cfg.BaseURL) + neg.Endpoint + "?access_token=" + neg.AccessToken
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func toWebsocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}

func (c *Client) readPump(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.conn = nil
			c.mu.Unlock()
			if closed || ctx.Err() != nil {
				return
			}
			log.Printf("hub connection lost, reconnecting: %v", err)
			if !c.reconnect(ctx) {
				return
			}
			return
		}

		var event models.Event
		if err := json.Unmarshal(data, &event); err != nil {
			continue
		}
		select {
		case c.events <- event:
		default:
			// Dropped; the next reconcile pass recovers the state.
		}
	}
}

// reconnect dials with exponential backoff, replays held groups, and fires
// the OnReconnect hook. Returns false when the client was closed or the
// context expired.
func (c *Client) reconnect(ctx context.Context) bool {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.InitialBackoff
	policy.MaxInterval = c.cfg.MaxBackoff
	policy.MaxElapsedTime = 0

	var conn *websocket.Conn
	operation := func() error {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return backoff.Permanent(ErrClosed)
		}
		var err error
		conn, err = c.connect(ctx)
		return err
	}
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		log.Printf("hub reconnect abandoned: %v", err)
		return false
	}

	c.mu.Lock()
	c.conn = conn
	held := make([]string, 0, len(c.held))
	for g := range c.held {
		held = append(held, g)
	}
	c.mu.Unlock()

	for _, group := range held {
		if err := conn.WriteJSON(rpcFrame{Action: "join", Group: group}); err != nil {
			log.Printf("hub re-join failed for %s: %v", group, err)
		}
	}

	go c.readPump(ctx, conn)
	if c.cfg.OnReconnect != nil {
		c.cfg.OnReconnect(ctx)
	}
	return true
}
