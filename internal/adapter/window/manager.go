package window

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"deskbridge/internal/domain"
)

// PageSearcher performs find-in-page inside a renderer.
type PageSearcher interface {
	Find(ctx context.Context, id domain.ActorID, text string, opts domain.FindOptions) (domain.FindResult, error)
	Stop(id domain.ActorID)
}

// DragSource starts an OS drag operation for files on disk.
type DragSource interface {
	StartDrag(ctx context.Context, id domain.ActorID, paths []string) error
}

// ActorLookup reports whether an actor is known to the router.
type ActorLookup interface {
	State(id domain.ActorID) (domain.ActorState, bool)
}

// Config configures the window manager.
type Config struct {
	RendererCommand string
	RendererArgs    []string
	// TempDir is where files offered for native drag live.
	TempDir   string
	FindRate  float64
	FindBurst int
}

// Manager keeps one record per live renderer window. Records are created
// on first use for actors the router knows and dropped on actor.closed.
type Manager struct {
	cfg      Config
	searcher PageSearcher
	drag     DragSource
	logger   *slog.Logger

	mu      sync.Mutex
	actors  ActorLookup
	windows map[domain.ActorID]*Window
	unsub   func()
}

// NewManager creates a window manager. searcher and drag may be nil, in
// which case headless defaults are used.
func NewManager(cfg Config, searcher PageSearcher, drag DragSource, bus domain.EventBus, logger *slog.Logger) *Manager {
	if cfg.FindRate <= 0 {
		cfg.FindRate = 20
	}
	if cfg.FindBurst <= 0 {
		cfg.FindBurst = 5
	}
	if searcher == nil {
		searcher = headlessSearcher{}
	}
	if drag == nil {
		drag = logDrag{logger: logger}
	}
	m := &Manager{
		cfg:      cfg,
		searcher: searcher,
		drag:     drag,
		logger:   logger,
		windows:  make(map[domain.ActorID]*Window),
	}
	if bus != nil {
		m.unsub = bus.Subscribe(domain.EventActorClosed, func(_ context.Context, ev domain.Event) {
			m.remove(ev.ActorID)
		})
	}
	return m
}

// Bind supplies the actor lookup. Until Bind is called Get finds nothing.
func (m *Manager) Bind(actors ActorLookup) {
	m.mu.Lock()
	m.actors = actors
	m.mu.Unlock()
}

// Close stops listening for actor events.
func (m *Manager) Close() {
	m.mu.Lock()
	unsub := m.unsub
	m.unsub = nil
	m.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// Get returns the window of actor id, or false when the actor is gone.
func (m *Manager) Get(id domain.ActorID) (domain.Window, bool) {
	w, ok := m.window(id)
	if !ok {
		return nil, false
	}
	return w, true
}

func (m *Manager) window(id domain.ActorID) (*Window, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.actors == nil {
		return nil, false
	}
	state, ok := m.actors.State(id)
	if !ok || state == domain.ActorClosed {
		delete(m.windows, id)
		return nil, false
	}
	w, ok := m.windows[id]
	if !ok {
		w = &Window{
			id:       id,
			searcher: m.searcher,
			limiter:  rate.NewLimiter(rate.Limit(m.cfg.FindRate), m.cfg.FindBurst),
		}
		m.windows[id] = w
	}
	return w, true
}

func (m *Manager) remove(id domain.ActorID) {
	m.mu.Lock()
	_, ok := m.windows[id]
	delete(m.windows, id)
	m.mu.Unlock()
	if ok {
		m.searcher.Stop(id)
	}
}

// NewWindow launches another renderer process. The process outlives ctx.
func (m *Manager) NewWindow(_ context.Context) error {
	if m.cfg.RendererCommand == "" {
		return fmt.Errorf("%w: no renderer command configured", domain.ErrDisabled)
	}
	cmd := exec.Command(m.cfg.RendererCommand, m.cfg.RendererArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start renderer: %w", err)
	}
	pid := cmd.Process.Pid
	m.logger.Info("renderer launched", "pid", pid, "command", m.cfg.RendererCommand)
	go func() {
		if err := cmd.Wait(); err != nil {
			m.logger.Warn("renderer exited", "pid", pid, "error", err)
			return
		}
		m.logger.Debug("renderer exited", "pid", pid)
	}()
	return nil
}

// StartNativeDrag starts dragging files from the temp directory out of
// window id.
func (m *Manager) StartNativeDrag(ctx context.Context, id domain.ActorID, fileNames []string) error {
	if _, ok := m.window(id); !ok {
		return fmt.Errorf("%w: %d", domain.ErrWindowNotFound, id)
	}
	if len(fileNames) == 0 {
		return fmt.Errorf("%w: no files to drag", domain.ErrInvalidInput)
	}
	paths := make([]string, 0, len(fileNames))
	for _, name := range fileNames {
		p, err := resolveIn(m.cfg.TempDir, name)
		if err != nil {
			return err
		}
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("%w: drag source %q", domain.ErrNotFound, name)
		}
		paths = append(paths, p)
	}
	return m.drag.StartDrag(ctx, id, paths)
}

// resolveIn joins name onto dir and rejects names that escape it.
func resolveIn(dir, name string) (string, error) {
	p := filepath.Join(dir, name)
	rel, err := filepath.Rel(dir, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: %q", domain.ErrPathOutsideDir, name)
	}
	return p, nil
}

// Window is the host-side record of one renderer window.
type Window struct {
	id       domain.ActorID
	searcher PageSearcher
	limiter  *rate.Limiter

	mu            sync.Mutex
	userInfo      *domain.UserInfo
	hidden        bool
	overlayActive bool
	overlayForced bool
}

func (w *Window) ID() domain.ActorID { return w.id }

// FindInPage searches the window's page. Searches arriving faster than the
// configured rate are rejected.
func (w *Window) FindInPage(ctx context.Context, text string, opts domain.FindOptions) (domain.FindResult, error) {
	if text == "" {
		w.searcher.Stop(w.id)
		return domain.FindResult{}, nil
	}
	if !w.limiter.Allow() {
		return domain.FindResult{}, fmt.Errorf("%w: find-in-page throttled", domain.ErrTimeout)
	}
	return w.searcher.Find(ctx, w.id, text, opts)
}

func (w *Window) StopFindInPage() { w.searcher.Stop(w.id) }

func (w *Window) SetSearchOverlayState(state, force bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.overlayActive = state
	w.overlayForced = force
}

// SearchOverlayState returns the last overlay state set by the renderer.
func (w *Window) SearchOverlayState() (active, forced bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.overlayActive, w.overlayForced
}

func (w *Window) SetUserInfo(info domain.UserInfo) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.userInfo = &info
}

func (w *Window) UserInfo() (domain.UserInfo, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.userInfo == nil {
		return domain.UserInfo{}, false
	}
	return *w.userInfo, true
}

// SetHidden records whether the window is minimized or hidden.
func (w *Window) SetHidden(hidden bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hidden = hidden
}

func (w *Window) IsHidden() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hidden
}

func (w *Window) Focus() { w.SetHidden(false) }

type headlessSearcher struct{}

func (headlessSearcher) Find(context.Context, domain.ActorID, string, domain.FindOptions) (domain.FindResult, error) {
	return domain.FindResult{}, nil
}

func (headlessSearcher) Stop(domain.ActorID) {}

type logDrag struct{ logger *slog.Logger }

func (d logDrag) StartDrag(_ context.Context, id domain.ActorID, paths []string) error {
	d.logger.Info("native drag requested", "actor", id, "files", len(paths))
	return nil
}
