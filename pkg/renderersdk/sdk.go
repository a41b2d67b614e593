// Package renderersdk is the renderer side of the deskbridge channel.
//
// A renderer dials the host, sends init, and from then on can call host
// methods and serve the host's calls:
//
//	c, err := renderersdk.Dial(ctx, "ws://127.0.0.1:7419/ipc",
//	    renderersdk.WithToken(token),
//	)
//	c.Handle("appUpdateDownloaded", func(ctx context.Context, args []json.RawMessage) (any, error) {
//	    return nil, nil
//	})
//	platform, err := c.Init(ctx)
//	value, err := c.Call(ctx, "getConfigValue", "spellcheck")
package renderersdk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"deskbridge/internal/domain"
	"deskbridge/internal/ipc"
)

// HandlerFunc serves a host→renderer call.
type HandlerFunc func(ctx context.Context, args []json.RawMessage) (any, error)

// Client is one renderer connection to the host.
type Client struct {
	token       string
	actor       int
	callTimeout time.Duration
	logger      *slog.Logger

	ws     *websocket.Conn
	router *ipc.Router
	done   chan struct{}

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// Dial connects to the host at rawURL. Handlers may be added before or
// after Dial returns; calls for methods without a handler fail with
// UnknownMethod.
func Dial(ctx context.Context, rawURL string, opts ...Option) (*Client, error) {
	c := &Client{
		handlers: make(map[string]HandlerFunc),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("renderersdk: parse url: %w", err)
	}
	if c.actor > 0 {
		q := u.Query()
		q.Set("actor", strconv.Itoa(c.actor))
		u.RawQuery = q.Encode()
	}
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	ws, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("renderersdk: dial: %w", err)
	}
	c.ws = ws

	c.router = ipc.NewRouter(ipc.Config{IDPrefix: "renderer", CallTimeout: c.callTimeout},
		ipc.DispatcherFunc(c.dispatch), nil, c.logger)
	if err := c.router.Register(domain.HostActorID, sender{ws: ws}); err != nil {
		ws.Close(websocket.StatusInternalError, "")
		return nil, err
	}
	// The host serves requests as soon as the channel is open.
	if err := c.router.SignalReady(domain.HostActorID); err != nil {
		ws.Close(websocket.StatusInternalError, "")
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

// Handle registers h for host calls of method.
func (c *Client) Handle(method string, h HandlerFunc) {
	c.mu.Lock()
	c.handlers[method] = h
	c.mu.Unlock()
}

// Init performs the handshake and returns the host's platform name.
func (c *Client) Init(ctx context.Context) (string, error) {
	raw, err := c.Call(ctx, "init")
	if err != nil {
		return "", err
	}
	var platform string
	if err := json.Unmarshal(raw, &platform); err != nil {
		return "", fmt.Errorf("renderersdk: decode init result: %w", err)
	}
	return platform, nil
}

// Call invokes method on the host and returns its raw JSON result.
func (c *Client) Call(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	return c.router.Call(ctx, domain.HostActorID, method, args...)
}

// Done is closed once the connection to the host has ended.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close disconnects from the host. Pending calls fail with RouterClosed.
func (c *Client) Close() error {
	c.router.Close(context.Background())
	err := c.ws.Close(websocket.StatusNormalClosure, "")
	<-c.done
	return err
}

func (c *Client) dispatch(ctx context.Context, _ domain.ActorID, method string, args []json.RawMessage) (any, error) {
	c.mu.RLock()
	h, ok := c.handlers[method]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownMethod, method)
	}
	v, err := h(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrCollaborator, method, err)
	}
	return v, nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer c.router.Deregister(domain.HostActorID)
	ctx := context.Background()
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 {
				c.logger.Debug("renderersdk: read failed", "error", err)
			}
			return
		}
		c.router.HandleMessage(ctx, domain.HostActorID, data)
	}
}

// sender writes frames straight to the socket; websocket.Conn serializes
// concurrent writers.
type sender struct{ ws *websocket.Conn }

func (s sender) Send(ctx context.Context, frame ipc.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return s.ws.Write(ctx, websocket.MessageText, data)
}
