package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"deskbridge/internal/domain"
)

// Services are the collaborators the dispatched methods delegate to.
// Updater, Socket and Dialogs are optional.
type Services struct {
	Windows      domain.WindowManager
	Desktop      domain.DesktopUtils
	Integrator   domain.Integrator
	Config       domain.ConfigStore
	Spellcheck   domain.SpellChecker
	Dialogs      domain.Dialogs
	Downloads    domain.DownloadManager
	Exporter     domain.FileExporter
	Crypto       domain.CryptoFacade
	ErrorReports domain.ErrorReporter
	Notifier     domain.Notifier
	Push         domain.PushStore
	AlarmStorage domain.AlarmStorage
	Alarms       domain.AlarmScheduler
	Socket       domain.Socketeer
	Logs         domain.LogSource
	Lang         domain.Localizer
	Updater      domain.Updater
}

func (s Services) missing() []string {
	var out []string
	check := func(name string, ok bool) {
		if !ok {
			out = append(out, name)
		}
	}
	check("Windows", s.Windows != nil)
	check("Desktop", s.Desktop != nil)
	check("Integrator", s.Integrator != nil)
	check("Config", s.Config != nil)
	check("Spellcheck", s.Spellcheck != nil)
	check("Downloads", s.Downloads != nil)
	check("Exporter", s.Exporter != nil)
	check("Crypto", s.Crypto != nil)
	check("ErrorReports", s.ErrorReports != nil)
	check("Notifier", s.Notifier != nil)
	check("Push", s.Push != nil)
	check("AlarmStorage", s.AlarmStorage != nil)
	check("Alarms", s.Alarms != nil)
	check("Logs", s.Logs != nil)
	check("Lang", s.Lang != nil)
	return out
}

type handlerFunc func(ctx context.Context, actor domain.ActorID, args []json.RawMessage) (any, error)

// Dispatcher maps wire method names to typed handlers. It implements
// ipc.Dispatcher.
type Dispatcher struct {
	svc      Services
	schemas  map[domain.Method]*jsonschema.Schema
	handlers map[domain.Method]handlerFunc
	platform string
	logger   *slog.Logger
}

// New creates a dispatcher. It fails if a required collaborator is missing
// or an argument schema does not compile.
func New(svc Services, logger *slog.Logger) (*Dispatcher, error) {
	if missing := svc.missing(); len(missing) > 0 {
		return nil, fmt.Errorf("dispatch: missing collaborators: %v", missing)
	}
	schemas, err := compileSchemas()
	if err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	d := &Dispatcher{
		svc:      svc,
		schemas:  schemas,
		platform: Platform(),
		logger:   logger,
	}
	d.handlers = d.handlerTable()
	return d, nil
}

// Platform returns the platform name renderers expect from init.
func Platform() string {
	if runtime.GOOS == "windows" {
		return "win32"
	}
	return runtime.GOOS
}

// Invoke runs method for actor. Unknown methods fail with ErrUnknownMethod
// without reaching any collaborator.
func (d *Dispatcher) Invoke(ctx context.Context, actor domain.ActorID, method string, args []json.RawMessage) (any, error) {
	m := domain.ParseMethod(method)
	h, ok := d.handlers[m]
	if m == domain.MethodUnknown || !ok {
		return nil, fmt.Errorf("%w: invalid method invocation: %s", domain.ErrUnknownMethod, method)
	}
	if err := validateArgs(d.schemas[m], m, args); err != nil {
		return nil, err
	}
	return h(ctx, actor, args)
}

// collaboratorErr wraps a collaborator failure so it crosses the wire as
// CollaboratorError while keeping the original error in the chain.
func collaboratorErr(m domain.Method, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrCollaborator) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrCollaborator, m, err)
}
