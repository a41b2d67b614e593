package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/oklog/ulid/v2"

	"deskbridge/internal/domain"
)

// Display puts a notification on screen.
type Display interface {
	Show(ctx context.Context, n Notification) error
}

// Notification is one desktop notification.
type Notification struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// Notifier keeps the notifications shown per user until a window of that
// user resolves them. It implements domain.Notifier.
type Notifier struct {
	display Display
	bus     domain.EventBus
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string][]Notification
}

// NewNotifier creates a notifier. display and bus may be nil.
func NewNotifier(display Display, bus domain.EventBus, logger *slog.Logger) *Notifier {
	if display == nil {
		display = DetectDisplay(logger)
	}
	return &Notifier{
		display: display,
		bus:     bus,
		logger:  logger,
		pending: make(map[string][]Notification),
	}
}

// Show displays a notification for userID and keeps it in that user's
// group.
func (n *Notifier) Show(ctx context.Context, userID, title, body string) (Notification, error) {
	note := Notification{ID: ulid.Make().String(), UserID: userID, Title: title, Body: body}
	if err := n.display.Show(ctx, note); err != nil {
		return Notification{}, fmt.Errorf("show notification: %w", err)
	}
	n.mu.Lock()
	n.pending[userID] = append(n.pending[userID], note)
	n.mu.Unlock()
	if n.bus != nil {
		n.bus.Publish(ctx, domain.NewEvent(domain.EventNotificationShown, 0, note))
	}
	return note, nil
}

// ResolveGroupedNotification drops every pending notification of userID.
func (n *Notifier) ResolveGroupedNotification(ctx context.Context, userID string) {
	n.mu.Lock()
	resolved := len(n.pending[userID])
	delete(n.pending, userID)
	n.mu.Unlock()
	if resolved == 0 {
		return
	}
	n.logger.Debug("notifications resolved", "user", userID, "count", resolved)
	if n.bus != nil {
		n.bus.Publish(ctx, domain.NewEvent(domain.EventNotificationResolved, 0, map[string]any{
			"userId": userID,
			"count":  resolved,
		}))
	}
}

// Pending returns the unresolved notifications of userID.
func (n *Notifier) Pending(userID string) []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.pending[userID]...)
}

// DetectDisplay returns a notify-send backed display when the binary is on
// PATH, and a logging display otherwise.
func DetectDisplay(logger *slog.Logger) Display {
	if path, err := exec.LookPath("notify-send"); err == nil {
		return notifySend{path: path}
	}
	return logDisplay{logger: logger}
}

type notifySend struct{ path string }

func (d notifySend) Show(ctx context.Context, n Notification) error {
	return exec.CommandContext(ctx, d.path, "--app-name=deskbridge", n.Title, n.Body).Run()
}

type logDisplay struct{ logger *slog.Logger }

func (d logDisplay) Show(_ context.Context, n Notification) error {
	d.logger.Info("notification", "user", n.UserID, "title", n.Title)
	return nil
}
