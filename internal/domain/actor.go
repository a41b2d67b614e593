package domain

import "strconv"

// ActorID identifies one renderer window (or, from a renderer's point of
// view, the host). IDs are assigned by the transport and never reused while
// the actor is registered.
type ActorID int

func (id ActorID) String() string { return strconv.Itoa(int(id)) }

// HostActorID is the id a renderer uses for the host it is connected to.
const HostActorID ActorID = 0

// ActorState is the lifecycle state of an actor as seen by the router.
type ActorState string

const (
	ActorRegistered   ActorState = "registered"
	ActorAwaitingInit ActorState = "awaiting_init"
	ActorReady        ActorState = "ready"
	ActorClosed       ActorState = "closed"
)

// ActorInfo is a snapshot of an actor's bookkeeping.
type ActorInfo struct {
	ID      ActorID    `json:"id"`
	State   ActorState `json:"state"`
	Pending int        `json:"pending"`
}
