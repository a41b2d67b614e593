package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateTransport(cfg, ve)
	validateIPC(cfg, ve)
	validateStore(cfg, ve)
	validateFiles(cfg, ve)
	validateUpdater(cfg, ve)
	validateWindows(cfg, ve)
	validateAdminSocket(cfg, ve)
	validateAudit(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

var (
	validLevels    = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validFormats   = map[string]bool{"text": true, "json": true}
	validExporters = map[string]bool{"noop": true, "stdout": true}
)

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q must be one of debug, info, warn, error", cfg.Logger.Level)
	}
	if !validFormats[strings.ToLower(cfg.Logger.Format)] {
		ve.Add("logger.format %q must be text or json", cfg.Logger.Format)
	}
	if cfg.Logger.RingSize < 0 {
		ve.Add("logger.ring_size must be >= 0, got %d", cfg.Logger.RingSize)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	if !validExporters[cfg.Tracer.Exporter] {
		ve.Add("tracer.exporter %q must be noop or stdout", cfg.Tracer.Exporter)
	}
	if r := cfg.Tracer.SampleRatio; r < 0 || r > 1 {
		ve.Add("tracer.sample_ratio must be within [0, 1], got %g", r)
	}
}

func validateTransport(cfg *Config, ve *ValidationError) {
	t := cfg.Transport
	if t.Addr == "" {
		ve.Add("transport.addr is required")
	} else if _, _, err := net.SplitHostPort(t.Addr); err != nil {
		ve.Add("transport.addr %q is not a valid host:port", t.Addr)
	}
	if !strings.HasPrefix(t.Path, "/") {
		ve.Add("transport.path %q must start with /", t.Path)
	}
	if t.SendBuffer <= 0 {
		ve.Add("transport.send_buffer must be > 0, got %d", t.SendBuffer)
	}
	if t.WriteTimeout <= 0 {
		ve.Add("transport.write_timeout must be > 0")
	}
	if t.MaxMessageBytes < 1024 {
		ve.Add("transport.max_message_bytes must be >= 1024, got %d", t.MaxMessageBytes)
	}
	seen := make(map[string]bool)
	for i, tok := range t.Auth.Tokens {
		if tok.Name == "" {
			ve.Add("transport.auth.tokens[%d].name is required", i)
		}
		if tok.Token == "" {
			ve.Add("transport.auth.tokens[%d].token is required", i)
		}
		if seen[tok.Name] {
			ve.Add("transport.auth.tokens: duplicate name %q", tok.Name)
		}
		seen[tok.Name] = true
	}
	if t.RateLimit.Enabled {
		if t.RateLimit.RequestsPerSecond <= 0 {
			ve.Add("transport.rate_limit.requests_per_second must be > 0")
		}
		if t.RateLimit.Burst <= 0 {
			ve.Add("transport.rate_limit.burst must be > 0")
		}
	}
}

func validateIPC(cfg *Config, ve *ValidationError) {
	if cfg.IPC.IDPrefix == "" {
		ve.Add("ipc.id_prefix is required")
	}
	if cfg.IPC.CallTimeout < 0 {
		ve.Add("ipc.call_timeout must be >= 0, got %s", cfg.IPC.CallTimeout)
	}
}

func validateStore(cfg *Config, ve *ValidationError) {
	if cfg.Store.Path == "" {
		ve.Add("store.path is required")
	}
	if strings.HasPrefix(cfg.Store.EncryptionKey, "enc:") {
		ve.Add("store.encryption_key is encrypted but DESKBRIDGE_CONFIG_KEY is not set")
	}
}

func validateFiles(cfg *Config, ve *ValidationError) {
	if cfg.Files.DownloadDir == "" {
		ve.Add("files.download_dir is required")
	}
	if cfg.Files.TempDir == "" {
		ve.Add("files.temp_dir is required")
	}
	if cfg.Files.DownloadTimeout <= 0 {
		ve.Add("files.download_timeout must be > 0")
	}
	if cfg.Files.MaxDownloadBytes <= 0 {
		ve.Add("files.max_download_bytes must be > 0, got %d", cfg.Files.MaxDownloadBytes)
	}
}

func validateUpdater(cfg *Config, ve *ValidationError) {
	if !cfg.Updater.Enabled {
		return
	}
	if cfg.Updater.FeedURL == "" {
		ve.Add("updater.feed_url is required when updater is enabled")
	} else if u, err := url.Parse(cfg.Updater.FeedURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		ve.Add("updater.feed_url %q must be an http(s) URL", cfg.Updater.FeedURL)
	}
	if cfg.Updater.CheckInterval < time.Minute {
		ve.Add("updater.check_interval must be >= 1m, got %s", cfg.Updater.CheckInterval)
	}
	if cfg.Updater.Timeout <= 0 {
		ve.Add("updater.timeout must be > 0")
	}
}

func validateWindows(cfg *Config, ve *ValidationError) {
	if cfg.Windows.FindRate <= 0 {
		ve.Add("windows.find_rate must be > 0")
	}
	if cfg.Windows.FindBurst <= 0 {
		ve.Add("windows.find_burst must be > 0, got %d", cfg.Windows.FindBurst)
	}
}

func validateAdminSocket(cfg *Config, ve *ValidationError) {
	if !cfg.AdminSocket.Enabled {
		return
	}
	u, err := url.Parse(cfg.AdminSocket.URL)
	if cfg.AdminSocket.URL == "" || err != nil {
		ve.Add("admin_socket.url is required when admin_socket is enabled")
		return
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		ve.Add("admin_socket.url %q must use ws or wss", cfg.AdminSocket.URL)
	}
}

func validateAudit(cfg *Config, ve *ValidationError) {
	if !cfg.Audit.Enabled {
		return
	}
	if cfg.Audit.Path == "" {
		ve.Add("audit.path is required when audit is enabled")
	}
	if cfg.Audit.MaxAge < 0 {
		ve.Add("audit.max_age must be >= 0, got %s", cfg.Audit.MaxAge)
	}
	if strings.TrimSpace(cfg.Audit.RetentionSchedule) == "" {
		ve.Add("audit.retention_schedule is required when audit is enabled")
	}
}
