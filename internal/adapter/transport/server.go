package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"nhooyr.io/websocket"

	"deskbridge/internal/domain"
	"deskbridge/internal/infra/middleware"
	"deskbridge/internal/ipc"
)

// Router is the part of the message router the transport drives.
type Router interface {
	Register(id domain.ActorID, sender ipc.Sender) error
	Attach(id domain.ActorID, sender ipc.Sender) error
	Deregister(id domain.ActorID)
	State(id domain.ActorID) (domain.ActorState, bool)
	HandleMessage(ctx context.Context, actor domain.ActorID, data []byte)
	Actors() []domain.ActorInfo
	Pending() int
}

// Config configures the transport server.
type Config struct {
	Addr            string
	Path            string
	SendBuffer      int
	WriteTimeout    time.Duration
	MaxMessageBytes int64
	AllowedOrigins  []string
	// RateLimit is applied to upgrade requests when non-nil.
	RateLimit *middleware.RateLimitConfig
}

// conn is one renderer connection. It is the actor's ipc.Sender: frames are
// queued on sendCh and written by a single writer goroutine, which keeps
// them in Send order.
type conn struct {
	id        string
	actor     domain.ActorID
	client    string
	ws        *websocket.Conn
	sendCh    chan ipc.Frame
	done      chan struct{}
	closeOnce sync.Once
}

func (c *conn) Send(ctx context.Context, frame ipc.Frame) error {
	select {
	case <-c.done:
		return fmt.Errorf("%w: connection %s closed", domain.ErrActorGone, c.id)
	default:
	}
	select {
	case c.sendCh <- frame:
		return nil
	case <-c.done:
		return fmt.Errorf("%w: connection %s closed", domain.ErrActorGone, c.id)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Server accepts renderer websocket connections and binds each one to an
// actor of the router.
type Server struct {
	cfg     Config
	router  Router
	auth    Authenticator
	bus     domain.EventBus
	logger  *slog.Logger
	httpSrv *http.Server

	mu        sync.Mutex
	conns     map[domain.ActorID]*conn
	boundAddr string
	nextActor atomic.Int64
	unsub     func()
}

// NewServer creates a transport server. auth may be nil, in which case every
// local client is accepted. bus may be nil.
func NewServer(cfg Config, router Router, auth Authenticator, bus domain.EventBus, logger *slog.Logger) *Server {
	if cfg.Path == "" {
		cfg.Path = "/ipc"
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Server{
		cfg:    cfg,
		router: router,
		auth:   auth,
		bus:    bus,
		logger: logger,
		conns:  make(map[domain.ActorID]*conn),
	}
}

// Handler returns the HTTP handler serving the upgrade endpoint and the
// status endpoint.
func (s *Server) Handler(ctx context.Context) http.Handler {
	var upgrade http.Handler = http.HandlerFunc(s.handleUpgrade)
	upgrade = middleware.OriginCheck(s.cfg.AllowedOrigins, s.logger)(upgrade)
	if s.cfg.RateLimit != nil {
		upgrade = middleware.RateLimit(ctx, *s.cfg.RateLimit, s.logger)(upgrade)
	}

	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, upgrade)
	mux.HandleFunc("GET /status", s.handleStatus)
	return middleware.SecurityHeaders(mux)
}

// Start begins accepting connections. Blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("transport listen: %w", err)
	}

	s.mu.Lock()
	s.boundAddr = listener.Addr().String()
	s.httpSrv = &http.Server{Handler: s.Handler(ctx), ReadHeaderTimeout: 10 * time.Second}
	srv := s.httpSrv
	if s.bus != nil {
		s.unsub = s.bus.Subscribe(domain.EventActorClosed, s.onActorClosed)
	}
	s.mu.Unlock()

	s.logger.Info("transport started", "addr", listener.Addr().String(), "path", s.cfg.Path)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("transport serve: %w", err)
	}
	return nil
}

// Stop closes every connection and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
	var sockets []*websocket.Conn
	for _, c := range s.conns {
		c.close()
		if c.ws != nil {
			sockets = append(sockets, c.ws)
		}
	}
	srv := s.httpSrv
	s.mu.Unlock()

	for _, ws := range sockets {
		ws.Close(websocket.StatusGoingAway, "host shutting down")
	}

	if srv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// BoundAddr returns the address the server is listening on. Empty before
// Start.
func (s *Server) BoundAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}

// Connected reports whether actor currently has a live connection.
func (s *Server) Connected(actor domain.ActorID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.conns[actor]
	return ok
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	client := "anonymous"
	if s.auth != nil {
		name, err := s.auth.Authenticate(requestToken(r))
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		client = name
	}

	c := &conn{
		id:     ulid.Make().String(),
		client: client,
		sendCh: make(chan ipc.Frame, s.cfg.SendBuffer),
		done:   make(chan struct{}),
	}

	actor, status, err := s.claimActor(r.URL.Query().Get("actor"), c)
	if err != nil {
		s.logger.Warn("transport: actor claim rejected", "conn_id", c.id, "error", err)
		http.Error(w, err.Error(), status)
		return
	}
	c.actor = actor

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Origin is enforced by middleware.OriginCheck.
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "conn_id", c.id, "error", err)
		s.release(c)
		return
	}
	if s.cfg.MaxMessageBytes > 0 {
		ws.SetReadLimit(s.cfg.MaxMessageBytes)
	}
	s.mu.Lock()
	c.ws = ws
	s.mu.Unlock()

	s.logger.Info("renderer connected", "conn_id", c.id, "actor", actor, "client", client)

	go s.writeLoop(c)
	s.readLoop(r.Context(), c)

	s.release(c)
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("renderer disconnected", "conn_id", c.id, "actor", actor)
}

// claimActor binds c to an actor. A requested id must either be unknown or
// registered by the host without a channel; without a request the next free
// id is taken.
func (s *Server) claimActor(requested string, c *conn) (domain.ActorID, int, error) {
	if requested != "" {
		n, err := strconv.Atoi(requested)
		if err != nil || n <= int(domain.HostActorID) {
			return 0, http.StatusBadRequest, fmt.Errorf("%w: actor %q", domain.ErrInvalidInput, requested)
		}
		id := domain.ActorID(n)
		if state, ok := s.router.State(id); ok {
			if state != domain.ActorRegistered {
				return 0, http.StatusConflict, fmt.Errorf("%w: actor %d already connected", domain.ErrInvalidInput, id)
			}
			if err := s.router.Attach(id, c); err != nil {
				return 0, http.StatusConflict, err
			}
		} else if err := s.router.Register(id, c); err != nil {
			return 0, http.StatusConflict, err
		}
		s.track(id, c)
		return id, 0, nil
	}

	for {
		id := domain.ActorID(s.nextActor.Add(1))
		err := s.router.Register(id, c)
		if err == nil {
			s.track(id, c)
			return id, 0, nil
		}
		if !errors.Is(err, domain.ErrInvalidInput) {
			return 0, http.StatusServiceUnavailable, err
		}
	}
}

func (s *Server) track(id domain.ActorID, c *conn) {
	s.mu.Lock()
	s.conns[id] = c
	s.mu.Unlock()
}

// release detaches c from its actor. The actor is deregistered only while c
// is still the connection bound to it.
func (s *Server) release(c *conn) {
	c.close()
	s.mu.Lock()
	owned := s.conns[c.actor] == c
	if owned {
		delete(s.conns, c.actor)
	}
	s.mu.Unlock()
	if owned {
		s.router.Deregister(c.actor)
	}
}

func (s *Server) readLoop(ctx context.Context, c *conn) {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				s.logger.Debug("transport read failed", "conn_id", c.id, "error", err)
			}
			return
		}
		s.router.HandleMessage(ctx, c.actor, data)
	}
}

func (s *Server) writeLoop(c *conn) {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.sendCh:
			data, err := json.Marshal(frame)
			if err != nil {
				s.logger.Error("transport: encode frame", "conn_id", c.id, "frame_id", frame.ID, "error", err)
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
			err = c.ws.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				s.logger.Warn("transport write failed", "conn_id", c.id, "actor", c.actor, "error", err)
				c.close()
				c.ws.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

// onActorClosed drops the connection of an actor the host deregistered.
func (s *Server) onActorClosed(_ context.Context, ev domain.Event) {
	s.mu.Lock()
	c, ok := s.conns[ev.ActorID]
	var ws *websocket.Conn
	if ok {
		delete(s.conns, ev.ActorID)
		ws = c.ws
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	c.close()
	if ws != nil {
		ws.Close(websocket.StatusNormalClosure, "actor closed")
	}
}
