package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"deskbridge/internal/adapter/transport"
	"deskbridge/internal/infra/config"
	"deskbridge/internal/infra/logger"
	"deskbridge/internal/infra/middleware"
	"deskbridge/internal/infra/tracer"
	"deskbridge/internal/usecase/eventbus"
	"deskbridge/internal/usecase/scheduling"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "0.1.0"

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		case "--version", "version":
			fmt.Println(version)
			return
		}
	}

	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		if err := run(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	switch os.Args[1] {
	case "check":
		if err := runCheck(); err != nil {
			fmt.Fprintf(os.Stderr, "check: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'deskbridge --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`deskbridge - desktop host for renderer processes

USAGE:
    deskbridge [COMMAND] [FLAGS]

COMMANDS:
    check       Validate the configuration and local environment
    version     Print the version

    (no command) - Run the host

FLAGS:
    -h, --help         Show this help message
    --config PATH      Specify config file path (default: ./deskbridge.yaml)

CONFIGURATION:
    Config file: ./deskbridge.yaml
    Environment: DESKBRIDGE_* variables override config

EXAMPLES:
    deskbridge                                   # Run with deskbridge.yaml
    deskbridge --config /etc/deskbridge.yaml     # Run with custom config
    deskbridge check                             # Check the setup`)
}

func configPath() string {
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("DESKBRIDGE_CONFIG"); p != "" {
		return p
	}
	return "deskbridge.yaml"
}

func run() error {
	// 1. Config
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	ring := logger.NewRing(cfg.Logger.RingSize)
	log, logCloser, err := logger.New(cfg.Logger, ring)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer, version)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	// 3. Event bus
	bus := eventbus.New(log)
	defer bus.Close()

	// 4. Graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 5. Scheduler and audit journal
	sched := scheduling.NewScheduler(log)
	if cfg.Audit.Enabled {
		auditClose, err := initAudit(cfg.Audit, bus, sched, log)
		if err != nil {
			return fmt.Errorf("audit: %w", err)
		}
		defer auditClose()
	}

	// 6. Store and collaborators
	svc, err := initServices(ctx, cfg, ring, bus, sched, log)
	if err != nil {
		return err
	}
	defer svc.close(log)

	// 7. Router
	router, err := initRouter(cfg, svc, bus, log)
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}

	// 8. Scheduled jobs
	if err := svc.updater.Start(sched); err != nil {
		return fmt.Errorf("updater: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	// 9. Transport
	server := transport.NewServer(transportConfig(cfg.Transport), router, transportAuth(cfg.Transport.Auth), bus, log)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(ctx) }()

	log.Info("deskbridge starting",
		"version", version,
		"addr", cfg.Transport.Addr,
		"store", cfg.Store.Path,
		"updater", cfg.Updater.Enabled,
		"admin_socket", cfg.AdminSocket.Enabled,
		"auth", len(cfg.Transport.Auth.Tokens) > 0,
		"audit", cfg.Audit.Enabled,
	)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	// 10. Shutdown: transport, then router, then scheduler. Stores close in
	// the deferred svc.close.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Warn("transport stop", "error", err)
	}
	if err := router.Close(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Warn("router close", "error", err)
	}
	if err := sched.Stop(); err != nil {
		log.Warn("scheduler stop", "error", err)
	}
	log.Info("deskbridge stopped")
	return serveErr
}

func transportConfig(t config.TransportConfig) transport.Config {
	out := transport.Config{
		Addr:            t.Addr,
		Path:            t.Path,
		SendBuffer:      t.SendBuffer,
		WriteTimeout:    t.WriteTimeout,
		MaxMessageBytes: t.MaxMessageBytes,
		AllowedOrigins:  t.AllowedOrigins,
	}
	if t.RateLimit.Enabled {
		out.RateLimit = &middleware.RateLimitConfig{
			RequestsPerSecond: t.RateLimit.RequestsPerSecond,
			Burst:             t.RateLimit.Burst,
		}
	}
	return out
}

// transportAuth returns nil when no tokens are configured so that the
// server accepts every local client.
func transportAuth(a config.AuthConfig) transport.Authenticator {
	if len(a.Tokens) == 0 {
		return nil
	}
	entries := make([]transport.TokenEntry, 0, len(a.Tokens))
	for _, t := range a.Tokens {
		entries = append(entries, transport.TokenEntry{Name: t.Name, Token: t.Token})
	}
	return transport.NewStaticTokenAuth(entries)
}
