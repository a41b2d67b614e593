package integration

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"deskbridge/internal/adapter/errreport"
	"deskbridge/internal/adapter/filecrypt"
	"deskbridge/internal/adapter/files"
	xdg "deskbridge/internal/adapter/integration"
	"deskbridge/internal/adapter/lang"
	"deskbridge/internal/adapter/notify"
	"deskbridge/internal/adapter/store"
	"deskbridge/internal/adapter/transport"
	"deskbridge/internal/adapter/updater"
	"deskbridge/internal/adapter/window"
	"deskbridge/internal/dispatch"
	"deskbridge/internal/infra/logger"
	"deskbridge/internal/ipc"
	"deskbridge/internal/usecase/eventbus"
	"deskbridge/internal/usecase/scheduling"
)

// Token is the renderer token every test host accepts.
const Token = "integration-token"

// SkipIfShort skips integration tests in short mode
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// NewTestContext creates a context with timeout for integration tests
func NewTestContext(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// HostOptions tunes StartHost.
type HostOptions struct {
	// FeedURL enables the updater against the given release feed.
	FeedURL string
	Version string
}

// Host is a fully wired host listening on a loopback port.
type Host struct {
	URL    string
	Dir    string
	Router *ipc.Router
	Bus    *eventbus.Bus
	Store  *store.SQLiteStore
	Server *transport.Server
}

// StartHost wires the real collaborators, the router and the transport
// under a temp directory. Everything is torn down with the test.
func StartHost(t *testing.T, opts HostOptions) *Host {
	t.Helper()
	dir := t.TempDir()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ring := logger.NewRing(100)
	bus := eventbus.New(log)
	sched := scheduling.NewScheduler(log)

	st, err := store.Open(filepath.Join(dir, "deskbridge.db"), "integration", log)
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	tempDir := filepath.Join(dir, "tmp")
	windows := window.NewManager(window.Config{TempDir: tempDir}, nil, nil, bus, log)
	desktop := xdg.New(xdg.Config{
		AppName:         "deskbridge",
		Executable:      os.Args[0],
		ApplicationsDir: filepath.Join(dir, "applications"),
		AutostartDir:    filepath.Join(dir, "autostart"),
		MimeAppsPath:    filepath.Join(dir, "mimeapps.list"),
	}, log)
	notifier := notify.NewNotifier(notify.DetectDisplay(log), bus, log)

	version := opts.Version
	if version == "" {
		version = "1.0.0"
	}
	upd, err := updater.New(updater.Config{
		Enabled:        opts.FeedURL != "",
		FeedURL:        opts.FeedURL,
		CheckInterval:  time.Hour,
		Timeout:        5 * time.Second,
		CurrentVersion: version,
		StagingDir:     filepath.Join(tempDir, "updates"),
	}, http.DefaultClient, log)
	if err != nil {
		t.Fatalf("updater: %v", err)
	}
	reporter := errreport.New(bus, log)

	d, err := dispatch.New(dispatch.Services{
		Windows:      windows,
		Desktop:      desktop,
		Integrator:   desktop,
		Config:       st,
		Spellcheck:   lang.NewSpellChecker([]string{"en-US", "de-DE"}, "", log),
		Downloads:    files.NewManager(files.Config{DownloadDir: filepath.Join(dir, "downloads"), TempDir: tempDir}, nil, nil, log),
		Exporter:     files.NewExporter(tempDir, log),
		Crypto:       filecrypt.New(filepath.Join(tempDir, "decrypted"), log),
		ErrorReports: reporter,
		Notifier:     notifier,
		Push:         st,
		AlarmStorage: st,
		Alarms:       notify.NewAlarmScheduler(sched, notifier, st, bus, log),
		Logs:         ring,
		Lang:         lang.NewLocalizer("en", bus, log),
		Updater:      upd,
	}, log)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	router := ipc.NewRouter(ipc.Config{IDPrefix: "desktop", CallTimeout: 5 * time.Second}, reporter.Wrap(d), bus, log)
	windows.Bind(router)
	upd.Bind(router)
	reporter.Bind(router)

	srv := transport.NewServer(transport.Config{Addr: "127.0.0.1:0"}, router,
		transport.NewStaticTokenAuth([]transport.TokenEntry{{Name: "integration", Token: Token}}), bus, log)
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Start(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for srv.BoundAddr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("transport did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}

	t.Cleanup(func() {
		cancel()
		srv.Stop(context.Background())
		router.Close(context.Background())
		sched.Stop()
		reporter.Close()
		windows.Close()
		bus.Close()
		st.Close()
	})

	return &Host{
		URL:    "ws://" + srv.BoundAddr() + "/ipc",
		Dir:    dir,
		Router: router,
		Bus:    bus,
		Store:  st,
		Server: srv,
	}
}
