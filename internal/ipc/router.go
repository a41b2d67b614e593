package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"deskbridge/internal/domain"
	"deskbridge/internal/infra/tracer"
)

// Dispatcher executes inbound requests.
type Dispatcher interface {
	Invoke(ctx context.Context, actor domain.ActorID, method string, args []json.RawMessage) (any, error)
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, actor domain.ActorID, method string, args []json.RawMessage) (any, error)

func (f DispatcherFunc) Invoke(ctx context.Context, actor domain.ActorID, method string, args []json.RawMessage) (any, error) {
	return f(ctx, actor, method, args)
}

// Config tunes a Router.
type Config struct {
	// IDPrefix is prepended to outbound request ids, e.g. "desktop".
	IDPrefix string
	// CallTimeout bounds outbound calls. Zero waits until the call settles,
	// the actor goes away or the router closes.
	CallTimeout time.Duration
}

// initMethod is the handshake every actor sends before anything else.
const initMethod = "init"

// Router owns the actor registry, the readiness barriers and the
// pending-call table of one side of the channel. A single mutex guards all
// three; no blocking operation is performed while it is held.
type Router struct {
	mu      sync.Mutex
	actors  map[domain.ActorID]*actorEntry
	pending *pendingTable
	closed  bool
	closing chan struct{}

	dispatcher  Dispatcher
	bus         domain.EventBus
	logger      *slog.Logger
	callTimeout time.Duration

	baseCtx  context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup

	// afterReady runs between the readiness wait of an outbound call and
	// the pending-slot allocation. Tests only.
	afterReady func(domain.ActorID)
}

// NewRouter creates a router. bus may be nil.
func NewRouter(cfg Config, dispatcher Dispatcher, bus domain.EventBus, logger *slog.Logger) *Router {
	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		actors:      make(map[domain.ActorID]*actorEntry),
		pending:     newPendingTable(cfg.IDPrefix),
		closing:     make(chan struct{}),
		dispatcher:  dispatcher,
		bus:         bus,
		logger:      logger,
		callTimeout: cfg.CallTimeout,
		baseCtx:     ctx,
		cancel:      cancel,
	}
}

// HandleMessage parses a raw frame received from actor and routes it.
// Malformed frames are logged and dropped.
func (r *Router) HandleMessage(ctx context.Context, actor domain.ActorID, data []byte) {
	frame, err := ParseFrame(data)
	if err != nil {
		r.logger.Warn("dropping malformed frame", "actor", actor, "error", err)
		return
	}
	r.HandleFrame(ctx, actor, frame)
}

// HandleFrame routes one frame received from actor.
func (r *Router) HandleFrame(ctx context.Context, actor domain.ActorID, frame Frame) {
	switch frame.Type {
	case FrameTypeResponse:
		r.mu.Lock()
		ok := r.pending.resolve(frame.ID, actor, frame.Value)
		r.mu.Unlock()
		if !ok {
			r.logger.Debug("response for unknown request", "actor", actor, "frame_id", frame.ID)
		}
	case FrameTypeRequestError:
		r.mu.Lock()
		ok := r.pending.reject(frame.ID, actor, remoteErrorFrom(frame.Error))
		r.mu.Unlock()
		if !ok {
			r.logger.Debug("error for unknown request", "actor", actor, "frame_id", frame.ID)
		}
	default:
		r.serve(actor, frame)
	}
}

// serve runs an inbound request on its own goroutine and answers it.
func (r *Router) serve(actor domain.ActorID, req Frame) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Debug("router closed, dropping request", "actor", actor, "method", req.Method)
		return
	}
	r.inflight.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.inflight.Done()

		ctx, span := tracer.StartSpan(r.baseCtx, "ipc.serve")
		defer span.End()
		span.SetAttributes(
			tracer.MethodAttr(req.Method),
			tracer.ActorAttr(actor),
			tracer.RequestIDAttr(req.ID),
		)

		value, err := r.invoke(ctx, actor, req)
		var reply Frame
		if err == nil {
			var raw json.RawMessage
			raw, err = json.Marshal(value)
			if err != nil {
				err = fmt.Errorf("%w: encode result of %s: %v", domain.ErrCollaborator, req.Method, err)
			} else {
				reply = NewResponse(req.ID, raw)
			}
		}
		if err != nil {
			tracer.RecordError(span, err)
			r.logger.Debug("request failed", "actor", actor, "method", req.Method, "error", err)
			reply = NewRequestError(req.ID, err)
		} else {
			tracer.SetOK(span)
		}
		r.send(ctx, actor, reply)
	}()
}

func (r *Router) invoke(ctx context.Context, actor domain.ActorID, req Frame) (value any, err error) {
	if req.Method == initMethod {
		if err := r.SignalReady(actor); err != nil {
			return nil, err
		}
	} else if err := r.AwaitReady(ctx, actor); err != nil {
		return nil, err
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("dispatcher panicked", "actor", actor, "method", req.Method, "panic", p)
			value, err = nil, fmt.Errorf("%w: %s panicked: %v", domain.ErrCollaborator, req.Method, p)
		}
	}()
	return r.dispatcher.Invoke(ctx, actor, req.Method, req.Args)
}

// Call invokes method on actor and waits for its result. The request is
// not sent before the actor is ready.
func (r *Router) Call(ctx context.Context, actor domain.ActorID, method string, args ...any) (json.RawMessage, error) {
	ctx, span := tracer.StartSpan(ctx, "ipc.call")
	defer span.End()
	span.SetAttributes(tracer.MethodAttr(method), tracer.ActorAttr(actor))

	value, err := r.call(ctx, actor, method, args)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	tracer.SetOK(span)
	return value, nil
}

func (r *Router) call(ctx context.Context, actor domain.ActorID, method string, args []any) (json.RawMessage, error) {
	rawArgs := make([]json.RawMessage, len(args))
	for i, arg := range args {
		raw, err := json.Marshal(arg)
		if err != nil {
			return nil, domain.NewDomainError("ipc.call", domain.ErrInvalidArguments,
				fmt.Sprintf("%s arg %d: %v", method, i, err))
		}
		rawArgs[i] = raw
	}

	if r.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, r.callTimeout,
			fmt.Errorf("%w after %s", domain.ErrCallTimeout, r.callTimeout))
		defer cancel()
	}

	ready, err := r.awaitBarrier(ctx, actor)
	if err != nil {
		return nil, timeoutCause(ctx, err)
	}
	if r.afterReady != nil {
		r.afterReady(actor)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, domain.WrapOp("ipc.call", domain.ErrRouterClosed)
	}
	// A different barrier means the actor was replaced after it became
	// ready; the new registration has not sent init.
	entry, ok := r.actors[actor]
	if !ok || entry.barrier != ready {
		r.mu.Unlock()
		return nil, domain.WrapOp("ipc.call", domain.ErrActorGone)
	}
	sender := entry.sender
	id, done := r.pending.allocate(actor, method)
	r.mu.Unlock()

	if sender == nil {
		r.abandon(id)
		return nil, domain.NewDomainError("ipc.call", domain.ErrActorGone, "actor has no channel")
	}
	if err := sender.Send(ctx, NewRequest(id, method, rawArgs)); err != nil {
		if r.abandon(id) {
			return nil, domain.WrapOp("ipc.call", err)
		}
		// Deregister already settled the slot.
	}

	select {
	case res := <-done:
		return res.value, res.err
	case <-ctx.Done():
		if !r.abandon(id) {
			res := <-done
			return res.value, res.err
		}
		return nil, timeoutCause(ctx, ctx.Err())
	}
}

// abandon drops a pending slot the caller no longer waits for. Returns
// false if the slot was already settled.
func (r *Router) abandon(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending.remove(id)
}

// timeoutCause reports ErrCallTimeout when err comes from the router's own
// call timeout rather than the caller's context.
func timeoutCause(ctx context.Context, err error) error {
	if !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if cause := context.Cause(ctx); errors.Is(cause, domain.ErrCallTimeout) {
		return cause
	}
	return err
}

// Broadcast calls method on every ready actor concurrently and returns the
// joined failures.
func (r *Router) Broadcast(ctx context.Context, method string, args ...any) error {
	r.mu.Lock()
	var targets []domain.ActorID
	for id, entry := range r.actors {
		if entry.state == domain.ActorReady {
			targets = append(targets, id)
		}
	}
	r.mu.Unlock()

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, id := range targets {
		g.Go(func() error {
			if _, err := r.Call(ctx, id, method, args...); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("actor %d: %w", id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}

// Pending returns the number of outstanding outbound calls.
func (r *Router) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending.len()
}

// Close rejects every pending call and barrier waiter with ErrRouterClosed,
// stops accepting requests and waits for in-flight requests to finish or
// for ctx to expire.
func (r *Router) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.closing)
	failed := r.pending.failAll(domain.ErrRouterClosed)
	r.mu.Unlock()

	r.logger.Info("router closing", "failed_calls", failed)

	drained := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(drained)
	}()
	defer r.cancel()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("router close: %w", ctx.Err())
	}
}

func (r *Router) publish(t domain.EventType, actor domain.ActorID) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(r.baseCtx, domain.NewEvent(t, actor, nil))
}
