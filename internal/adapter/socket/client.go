package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"deskbridge/internal/domain"
)

const (
	writeTimeout   = 5 * time.Second
	initialBackoff = time.Second
	maxBackoff     = time.Minute
)

// Config configures the admin socket client.
type Config struct {
	URL   string
	Token string
}

// Client keeps a websocket connection to the admin socket open and relays
// renderer messages to it. It implements domain.Socketeer.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu sync.Mutex
	ws *websocket.Conn
}

// New creates an admin socket client. Call Run to connect.
func New(cfg Config, logger *slog.Logger) *Client {
	return &Client{cfg: cfg, logger: logger}
}

// Connected reports whether the socket is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}

// Run connects and reconnects with exponential backoff until ctx is
// cancelled.
func (c *Client) Run(ctx context.Context) {
	backoff := initialBackoff
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.logger.Warn("admin socket disconnected", "error", err, "retry_in", backoff)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// session dials once and blocks until the connection ends.
func (c *Client) session(ctx context.Context) error {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	ws, _, err := websocket.Dial(dialCtx, c.cfg.URL, &websocket.DialOptions{HTTPHeader: header})
	cancel()
	if err != nil {
		return fmt.Errorf("dial admin socket: %w", err)
	}

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	c.logger.Info("admin socket connected", "url", c.cfg.URL)

	// Inbound messages are not part of the protocol; CloseRead discards
	// them and reports when the peer goes away.
	readCtx := ws.CloseRead(ctx)
	<-readCtx.Done()

	c.mu.Lock()
	if c.ws == ws {
		c.ws = nil
	}
	c.mu.Unlock()
	ws.Close(websocket.StatusNormalClosure, "")
	return readCtx.Err()
}

// SendSocketMessage writes msg as one text message.
func (c *Client) SendSocketMessage(ctx context.Context, msg json.RawMessage) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return domain.ErrSocketClosed
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := ws.Write(ctx, websocket.MessageText, msg); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSocketClosed, err)
	}
	return nil
}
