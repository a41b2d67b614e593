package main

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"deskbridge/internal/infra/config"
)

// CheckStatus is the outcome class of a single check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string
}

// Check is a named environment check.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

// runCheck validates the configuration and the host environment and prints
// one line per check.
func runCheck() error {
	cfgPath := configPath()
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Transport address", Fn: checkTransportAddr},
		{Name: "Store directory", Fn: checkStoreDir},
		{Name: "Download directory", Fn: checkDownloadDir},
		{Name: "Desktop tools", Fn: checkDesktopTools},
	}

	fmt.Println("deskbridge check")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println()

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Printf("  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Printf("      Fix: %s\n", result.Fix)
		}
		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Println()
	fmt.Println(strings.Repeat("-", 50))
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)
	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

func notLoaded() CheckResult {
	return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
}

// checkConfigFile reports whether the config loaded. A missing file is only
// a warning since defaults apply.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     "Fix the listed fields in " + cfgPath,
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults", cfgPath),
			}
		}
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("config loaded from %s", cfgPath)}
	}
}

// checkTransportAddr verifies the transport address can be bound.
func checkTransportAddr(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	ln, err := net.Listen("tcp", cfg.Transport.Addr)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot listen on %s: %v", cfg.Transport.Addr, err),
			Fix:     "Stop the process holding the port or change transport.addr",
		}
	}
	addr := ln.Addr().String()
	ln.Close()
	return CheckResult{Status: StatusPass, Message: "listening possible on " + addr}
}

func checkStoreDir(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	if cfg.Store.Path == ":memory:" {
		return CheckResult{Status: StatusWarn, Message: "in-memory store, nothing persists"}
	}
	res := checkWritableDir(filepath.Dir(cfg.Store.Path))
	if res.Status == StatusPass && cfg.Store.EncryptionKey == "" {
		return CheckResult{
			Status:  StatusWarn,
			Message: "store.encryption_key is empty, session keys are stored in plaintext",
			Fix:     "Set store.encryption_key or DESKBRIDGE_STORE_ENCRYPTION_KEY",
		}
	}
	return res
}

func checkDownloadDir(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	return checkWritableDir(cfg.Files.DownloadDir)
}

// checkWritableDir creates dir if needed and writes a temp file into it.
func checkWritableDir(dir string) CheckResult {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("cannot create %s: %v", dir, err)}
	}
	f, err := os.CreateTemp(dir, ".deskbridge-check-*")
	if err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("%s is not writable: %v", dir, err)}
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return CheckResult{Status: StatusPass, Message: dir + " is writable"}
}

// checkDesktopTools looks for the optional helpers used for dialogs,
// notifications and opening files.
func checkDesktopTools(_ *config.Config) CheckResult {
	var missing []string
	for _, tool := range []string{"zenity", "notify-send", "xdg-open"} {
		if _, err := exec.LookPath(tool); err != nil {
			missing = append(missing, tool)
		}
	}
	if len(missing) > 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: "missing: " + strings.Join(missing, ", "),
			Fix:     "Install the missing tools for full desktop integration",
		}
	}
	return CheckResult{Status: StatusPass, Message: "zenity, notify-send and xdg-open found"}
}
