package ipc

// barrier is the one-shot readiness gate of a single actor. ready is closed
// when the actor's init request is processed; gone is closed when the actor
// is deregistered. Both transitions happen under the Router's mutex.
type barrier struct {
	ready    chan struct{}
	gone     chan struct{}
	signaled bool
	removed  bool
}

func newBarrier() *barrier {
	return &barrier{
		ready: make(chan struct{}),
		gone:  make(chan struct{}),
	}
}

// signal fulfills the barrier. Returns false if it was already fulfilled.
func (b *barrier) signal() bool {
	if b.signaled {
		return false
	}
	b.signaled = true
	close(b.ready)
	return true
}

// remove releases every waiter with a failure.
func (b *barrier) remove() {
	if b.removed {
		return
	}
	b.removed = true
	close(b.gone)
}
