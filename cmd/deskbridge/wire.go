package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"deskbridge/internal/adapter/dialog"
	"deskbridge/internal/adapter/errreport"
	"deskbridge/internal/adapter/filecrypt"
	"deskbridge/internal/adapter/files"
	"deskbridge/internal/adapter/integration"
	"deskbridge/internal/adapter/lang"
	"deskbridge/internal/adapter/notify"
	"deskbridge/internal/adapter/socket"
	"deskbridge/internal/adapter/store"
	"deskbridge/internal/adapter/updater"
	"deskbridge/internal/adapter/window"
	"deskbridge/internal/dispatch"
	"deskbridge/internal/domain"
	"deskbridge/internal/infra/config"
	"deskbridge/internal/infra/logger"
	"deskbridge/internal/ipc"
	"deskbridge/internal/security"
	"deskbridge/internal/usecase/scheduling"
)

// services holds the collaborators behind the dispatcher plus the handles
// run needs for late binding and shutdown.
type services struct {
	dispatch dispatch.Services
	store    *store.SQLiteStore
	windows  *window.Manager
	updater  *updater.Updater
	reporter *errreport.Reporter
}

// close releases the collaborators in reverse start order.
func (s *services) close(log *slog.Logger) {
	s.reporter.Close()
	s.windows.Close()
	if err := s.store.Close(); err != nil {
		log.Warn("store close", "error", err)
	}
}

func initServices(ctx context.Context, cfg *config.Config, ring *logger.Ring, bus domain.EventBus, sched *scheduling.Scheduler, log *slog.Logger) (*services, error) {
	st, err := store.Open(cfg.Store.Path, cfg.Store.EncryptionKey, log)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	exe := cfg.Integration.Executable
	if exe == "" {
		if p, err := os.Executable(); err == nil {
			exe = p
		}
	}

	windows := window.NewManager(window.Config{
		RendererCommand: cfg.Windows.RendererCommand,
		RendererArgs:    cfg.Windows.RendererArgs,
		TempDir:         cfg.Files.TempDir,
		FindRate:        cfg.Windows.FindRate,
		FindBurst:       cfg.Windows.FindBurst,
	}, nil, nil, bus, log)

	desktop := integration.New(integration.Config{
		AppName:         cfg.Integration.AppName,
		Executable:      exe,
		IconPath:        cfg.Integration.IconPath,
		ApplicationsDir: cfg.Integration.ApplicationsDir,
		AutostartDir:    cfg.Integration.AutostartDir,
		MimeAppsPath:    cfg.Integration.MimeAppsPath,
	}, log)

	downloads := files.NewManager(files.Config{
		DownloadDir:      cfg.Files.DownloadDir,
		TempDir:          cfg.Files.TempDir,
		DownloadTimeout:  cfg.Files.DownloadTimeout,
		MaxDownloadBytes: cfg.Files.MaxDownloadBytes,
	}, nil, nil, log)

	notifier := notify.NewNotifier(notify.DetectDisplay(log), bus, log)

	upd, err := updater.New(updater.Config{
		Enabled:        cfg.Updater.Enabled,
		FeedURL:        cfg.Updater.FeedURL,
		CheckInterval:  cfg.Updater.CheckInterval,
		Timeout:        cfg.Updater.Timeout,
		CurrentVersion: version,
		StagingDir:     filepath.Join(cfg.Files.TempDir, "updates"),
	}, &http.Client{Timeout: cfg.Updater.Timeout}, log)
	if err != nil {
		windows.Close()
		st.Close()
		return nil, fmt.Errorf("updater: %w", err)
	}

	reporter := errreport.New(bus, log)

	svc := dispatch.Services{
		Windows:      windows,
		Desktop:      desktop,
		Integrator:   desktop,
		Config:       st,
		Spellcheck:   lang.NewSpellChecker(cfg.Spellcheck.Languages, cfg.Spellcheck.DictionaryDir, log),
		Downloads:    downloads,
		Exporter:     files.NewExporter(cfg.Files.TempDir, log),
		Crypto:       filecrypt.New(filepath.Join(cfg.Files.TempDir, "decrypted"), log),
		ErrorReports: reporter,
		Notifier:     notifier,
		Push:         st,
		AlarmStorage: st,
		Alarms:       notify.NewAlarmScheduler(sched, notifier, st, bus, log),
		Logs:         ring,
		Lang:         lang.NewLocalizer(systemLanguage(), bus, log),
		Updater:      upd,
	}

	// Optional collaborators are only set when present so the dispatcher
	// never sees a typed nil.
	if z, err := dialog.Detect(); err == nil {
		svc.Dialogs = z
	} else {
		log.Info("directory dialogs unavailable", "error", err)
	}
	if cfg.AdminSocket.Enabled {
		client := socket.New(socket.Config{URL: cfg.AdminSocket.URL, Token: cfg.AdminSocket.Token}, log)
		go client.Run(ctx)
		svc.Socket = client
	}

	return &services{
		dispatch: svc,
		store:    st,
		windows:  windows,
		updater:  upd,
		reporter: reporter,
	}, nil
}

// initRouter builds the dispatcher and the router, then hands the router to
// the collaborators that call back into renderers.
func initRouter(cfg *config.Config, svc *services, bus domain.EventBus, log *slog.Logger) (*ipc.Router, error) {
	d, err := dispatch.New(svc.dispatch, log)
	if err != nil {
		return nil, err
	}
	router := ipc.NewRouter(ipc.Config{
		IDPrefix:    cfg.IPC.IDPrefix,
		CallTimeout: cfg.IPC.CallTimeout,
	}, svc.reporter.Wrap(d), bus, log)

	svc.windows.Bind(router)
	svc.updater.Bind(router)
	svc.reporter.Bind(router)
	return router, nil
}

// systemLanguage derives a BCP 47 tag from LANG, e.g. "de_DE.UTF-8" -> "de-DE".
func systemLanguage() string {
	v := os.Getenv("LANG")
	if i := strings.IndexAny(v, ".@"); i >= 0 {
		v = v[:i]
	}
	return strings.ReplaceAll(v, "_", "-")
}

const auditRetentionJob = "audit:retention"

// initAudit journals every bus event and trims the journal on
// cfg.RetentionSchedule. The returned function detaches and closes it.
func initAudit(cfg config.AuditConfig, bus domain.EventBus, sched *scheduling.Scheduler, log *slog.Logger) (func(), error) {
	maxSize, err := security.ParseRetentionMaxSize(cfg.MaxSize)
	if err != nil {
		return nil, err
	}
	schedule, err := scheduling.Parse(cfg.RetentionSchedule)
	if err != nil {
		return nil, fmt.Errorf("audit.retention_schedule: %w", err)
	}
	audit, err := security.NewFileAuditLogger(cfg.Path)
	if err != nil {
		return nil, err
	}
	audit.SetRetention(security.RetentionPolicy{MaxAge: cfg.MaxAge, MaxSize: maxSize})
	unsub := audit.Attach(bus)

	err = sched.Add(scheduling.Job{
		ID:       auditRetentionJob,
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			removed, err := audit.EnforceRetention(ctx)
			if removed > 0 {
				log.Info("audit retention", "removed", removed)
			}
			return err
		},
	})
	if err != nil {
		unsub()
		audit.Close()
		return nil, err
	}

	return func() {
		sched.Remove(auditRetentionJob)
		unsub()
		if err := audit.Close(); err != nil {
			log.Warn("audit close", "error", err)
		}
	}, nil
}
