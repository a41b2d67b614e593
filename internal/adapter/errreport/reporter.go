package errreport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"deskbridge/internal/domain"
	"deskbridge/internal/ipc"
)

// maxPerWindow caps the reports kept for one window; older ones are dropped.
const maxPerWindow = 10

// Caller invokes a method on a renderer.
type Caller interface {
	Call(ctx context.Context, actor domain.ActorID, method string, args ...any) (json.RawMessage, error)
}

// Report is one failure recorded for a window.
type Report struct {
	Method  string    `json:"method"`
	Name    string    `json:"name"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Reporter collects collaborator failures per window and hands them to the
// window once it asks for its push identifier. It implements
// domain.ErrorReporter.
type Reporter struct {
	logger *slog.Logger

	mu      sync.Mutex
	caller  Caller
	reports map[domain.ActorID][]Report
	unsub   func()
}

// New creates a reporter. bus may be nil.
func New(bus domain.EventBus, logger *slog.Logger) *Reporter {
	r := &Reporter{logger: logger, reports: make(map[domain.ActorID][]Report)}
	if bus != nil {
		r.unsub = bus.Subscribe(domain.EventActorClosed, func(_ context.Context, ev domain.Event) {
			r.mu.Lock()
			delete(r.reports, ev.ActorID)
			r.mu.Unlock()
		})
	}
	return r
}

// Bind supplies the router used to deliver reports.
func (r *Reporter) Bind(c Caller) {
	r.mu.Lock()
	r.caller = c
	r.mu.Unlock()
}

// Close stops listening for actor events.
func (r *Reporter) Close() {
	r.mu.Lock()
	unsub := r.unsub
	r.unsub = nil
	r.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// Record stores a failure of method for actor.
func (r *Reporter) Record(actor domain.ActorID, method string, err error) {
	rep := Report{Method: method, Name: domain.ErrorName(err), Message: err.Error(), Time: time.Now().UTC()}
	r.mu.Lock()
	defer r.mu.Unlock()
	list := append(r.reports[actor], rep)
	if len(list) > maxPerWindow {
		list = list[len(list)-maxPerWindow:]
	}
	r.reports[actor] = list
}

// Pending returns the reports waiting for actor.
func (r *Reporter) Pending(actor domain.ActorID) []Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Report(nil), r.reports[actor]...)
}

// SendErrorReport delivers the pending reports of id through a reportError
// call. Reports are kept when delivery fails.
func (r *Reporter) SendErrorReport(ctx context.Context, id domain.ActorID) error {
	r.mu.Lock()
	pending := r.reports[id]
	caller := r.caller
	delete(r.reports, id)
	r.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	if caller == nil {
		r.restore(id, pending)
		return fmt.Errorf("error reporter not bound to a router")
	}
	if _, err := caller.Call(ctx, id, string(domain.RendererReportError), pending); err != nil {
		if !errors.Is(err, domain.ErrActorGone) && !errors.Is(err, domain.ErrUnknownActor) {
			r.restore(id, pending)
		}
		return fmt.Errorf("deliver error report: %w", err)
	}
	r.logger.Info("error reports delivered", "actor", id, "count", len(pending))
	return nil
}

func (r *Reporter) restore(id domain.ActorID, reports []Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports[id] = append(reports, r.reports[id]...)
}

// Wrap returns a dispatcher that records the collaborator failures of next.
// Argument and method errors are the caller's fault and are not recorded.
func (r *Reporter) Wrap(next ipc.Dispatcher) ipc.Dispatcher {
	return ipc.DispatcherFunc(func(ctx context.Context, actor domain.ActorID, method string, args []json.RawMessage) (any, error) {
		v, err := next.Invoke(ctx, actor, method, args)
		if err != nil && errors.Is(err, domain.ErrCollaborator) {
			r.Record(actor, method, err)
		}
		return v, err
	})
}
