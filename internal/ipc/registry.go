package ipc

import (
	"context"
	"fmt"
	"sort"

	"deskbridge/internal/domain"
)

// Sender pushes a frame onto an actor's channel. Implementations must
// deliver frames in the order Send is called.
type Sender interface {
	Send(ctx context.Context, frame Frame) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, frame Frame) error

func (f SenderFunc) Send(ctx context.Context, frame Frame) error { return f(ctx, frame) }

type actorEntry struct {
	id      domain.ActorID
	state   domain.ActorState
	sender  Sender
	barrier *barrier
}

// Register creates the bookkeeping for a new actor. With a nil sender the
// actor stays Registered until Attach supplies its channel.
func (r *Router) Register(id domain.ActorID, sender Sender) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return domain.WrapOp("ipc.register", domain.ErrRouterClosed)
	}
	if _, exists := r.actors[id]; exists {
		r.mu.Unlock()
		return domain.NewDomainError("ipc.register", domain.ErrInvalidInput,
			fmt.Sprintf("actor %d already registered", id))
	}
	entry := &actorEntry{
		id:      id,
		state:   domain.ActorRegistered,
		sender:  sender,
		barrier: newBarrier(),
	}
	if sender != nil {
		entry.state = domain.ActorAwaitingInit
	}
	r.actors[id] = entry
	r.mu.Unlock()

	r.logger.Debug("actor registered", "actor", id, "state", entry.state)
	r.publish(domain.EventActorRegistered, id)
	return nil
}

// Attach supplies the channel of an actor registered without one and moves
// it to AwaitingInit.
func (r *Router) Attach(id domain.ActorID, sender Sender) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.actors[id]
	if !ok {
		return domain.WrapOp("ipc.attach", domain.ErrUnknownActor)
	}
	if entry.sender != nil {
		return domain.NewDomainError("ipc.attach", domain.ErrInvalidInput,
			fmt.Sprintf("actor %d already attached", id))
	}
	entry.sender = sender
	if entry.state == domain.ActorRegistered {
		entry.state = domain.ActorAwaitingInit
	}
	return nil
}

// Deregister removes an actor. Barrier waiters and pending calls addressed
// to it fail with ErrActorGone. Unknown ids are ignored.
func (r *Router) Deregister(id domain.ActorID) {
	r.mu.Lock()
	entry, ok := r.actors[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.actors, id)
	entry.state = domain.ActorClosed
	entry.barrier.remove()
	failed := r.pending.failActor(id, domain.ErrActorGone)
	r.mu.Unlock()

	r.logger.Debug("actor deregistered", "actor", id, "failed_calls", failed)
	r.publish(domain.EventActorClosed, id)
}

// SignalReady fulfills the actor's readiness barrier. Repeated calls are
// no-ops.
func (r *Router) SignalReady(id domain.ActorID) error {
	r.mu.Lock()
	entry, ok := r.actors[id]
	if !ok {
		r.mu.Unlock()
		return domain.WrapOp("ipc.signal_ready", domain.ErrUnknownActor)
	}
	first := entry.barrier.signal()
	entry.state = domain.ActorReady
	r.mu.Unlock()

	if first {
		r.logger.Debug("actor ready", "actor", id)
		r.publish(domain.EventActorReady, id)
	}
	return nil
}

// AwaitReady blocks until the actor has completed its init handshake.
// Fails with ErrUnknownActor for ids that were never registered and with
// ErrActorGone if the actor is deregistered while waiting.
func (r *Router) AwaitReady(ctx context.Context, id domain.ActorID) error {
	_, err := r.awaitBarrier(ctx, id)
	return err
}

// awaitBarrier is AwaitReady returning the barrier that was fulfilled, so
// callers can tell the same registration apart from a later one under the
// same id.
func (r *Router) awaitBarrier(ctx context.Context, id domain.ActorID) (*barrier, error) {
	r.mu.Lock()
	entry, ok := r.actors[id]
	if !ok {
		r.mu.Unlock()
		return nil, domain.WrapOp("ipc.await_ready", domain.ErrUnknownActor)
	}
	b := entry.barrier
	r.mu.Unlock()

	select {
	case <-b.ready:
		return b, nil
	default:
	}
	select {
	case <-b.ready:
		return b, nil
	case <-b.gone:
		return nil, domain.WrapOp("ipc.await_ready", domain.ErrActorGone)
	case <-r.closing:
		return nil, domain.WrapOp("ipc.await_ready", domain.ErrRouterClosed)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// State reports the lifecycle state of an actor.
func (r *Router) State(id domain.ActorID) (domain.ActorState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.actors[id]
	if !ok {
		return domain.ActorClosed, false
	}
	return entry.state, true
}

// Actors returns a snapshot of all registered actors ordered by id.
func (r *Router) Actors() []domain.ActorInfo {
	r.mu.Lock()
	infos := make([]domain.ActorInfo, 0, len(r.actors))
	for id, entry := range r.actors {
		infos = append(infos, domain.ActorInfo{
			ID:      id,
			State:   entry.state,
			Pending: r.pending.countFor(id),
		})
	}
	r.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// send pushes a frame to an actor. Frames for vanished or unattached actors
// are dropped.
func (r *Router) send(ctx context.Context, id domain.ActorID, frame Frame) {
	r.mu.Lock()
	var sender Sender
	if entry, ok := r.actors[id]; ok {
		sender = entry.sender
	}
	r.mu.Unlock()

	if sender == nil {
		r.logger.Debug("dropping frame for vanished actor", "actor", id, "frame_id", frame.ID, "type", frame.Type)
		return
	}
	if err := sender.Send(ctx, frame); err != nil {
		r.logger.Warn("send failed", "actor", id, "frame_id", frame.ID, "error", err)
	}
}
