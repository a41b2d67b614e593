package ipc

import (
	"encoding/json"
	"strconv"

	"deskbridge/internal/domain"
)

// maxRequestID is the largest integer a JavaScript peer can represent exactly.
const maxRequestID = 1<<53 - 1

// callResult is the terminal outcome of one outbound request.
type callResult struct {
	value json.RawMessage
	err   error
}

type pendingCall struct {
	actor  domain.ActorID
	method string
	done   chan callResult // buffered(1), written exactly once
}

// pendingTable correlates outbound request ids with their waiting callers.
// It is not safe for concurrent use; the Router guards it with its mutex.
type pendingTable struct {
	prefix  string
	counter uint64
	calls   map[string]*pendingCall
}

func newPendingTable(prefix string) *pendingTable {
	return &pendingTable{
		prefix: prefix,
		calls:  make(map[string]*pendingCall),
	}
}

// nextID issues the current counter value and advances it, wrapping to zero
// at maxRequestID and skipping ids that are still pending.
func (t *pendingTable) nextID() string {
	for {
		if t.counter >= maxRequestID {
			t.counter = 0
		}
		n := t.counter
		t.counter++
		id := t.prefix + strconv.FormatUint(n, 10)
		if _, busy := t.calls[id]; !busy {
			return id
		}
	}
}

// allocate issues a fresh id and inserts its slot with the completion
// channel already attached.
func (t *pendingTable) allocate(actor domain.ActorID, method string) (string, <-chan callResult) {
	id := t.nextID()
	call := &pendingCall{actor: actor, method: method, done: make(chan callResult, 1)}
	t.calls[id] = call
	return id, call.done
}

// settle removes the slot for id and completes it. Returns false when no
// slot exists or when from is not the actor the request was sent to.
func (t *pendingTable) settle(id string, from domain.ActorID, res callResult) bool {
	call, ok := t.calls[id]
	if !ok || call.actor != from {
		return false
	}
	delete(t.calls, id)
	call.done <- res
	return true
}

func (t *pendingTable) resolve(id string, from domain.ActorID, value json.RawMessage) bool {
	return t.settle(id, from, callResult{value: value})
}

func (t *pendingTable) reject(id string, from domain.ActorID, err error) bool {
	return t.settle(id, from, callResult{err: err})
}

// remove drops the slot without completing it. Used when the caller gave up.
func (t *pendingTable) remove(id string) bool {
	if _, ok := t.calls[id]; !ok {
		return false
	}
	delete(t.calls, id)
	return true
}

// failActor rejects every call addressed to actor and returns how many
// were failed.
func (t *pendingTable) failActor(actor domain.ActorID, err error) int {
	n := 0
	for id, call := range t.calls {
		if call.actor != actor {
			continue
		}
		delete(t.calls, id)
		call.done <- callResult{err: err}
		n++
	}
	return n
}

// failAll rejects every outstanding call.
func (t *pendingTable) failAll(err error) int {
	n := len(t.calls)
	for id, call := range t.calls {
		delete(t.calls, id)
		call.done <- callResult{err: err}
	}
	return n
}

func (t *pendingTable) countFor(actor domain.ActorID) int {
	n := 0
	for _, call := range t.calls {
		if call.actor == actor {
			n++
		}
	}
	return n
}

func (t *pendingTable) len() int { return len(t.calls) }
