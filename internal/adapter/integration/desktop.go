package integration

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"
)

const (
	mailtoScheme       = "x-scheme-handler/mailto"
	defaultAppsSection = "[Default Applications]"
	autoLaunchFlag     = "-a"
)

// Config describes the freedesktop files the integrator manages.
type Config struct {
	AppName         string
	Executable      string
	IconPath        string
	ApplicationsDir string
	AutostartDir    string
	MimeAppsPath    string
}

// Freedesktop integrates the application into a freedesktop.org desktop:
// a launcher entry, an autostart entry and the mailto default handler. It
// implements domain.Integrator and domain.DesktopUtils.
type Freedesktop struct {
	cfg    Config
	logger *slog.Logger

	// mu serializes read-modify-write cycles on mimeapps.list.
	mu sync.Mutex
}

// New creates a freedesktop integrator.
func New(cfg Config, logger *slog.Logger) *Freedesktop {
	if cfg.AppName == "" {
		cfg.AppName = "deskbridge"
	}
	return &Freedesktop{cfg: cfg, logger: logger}
}

// DesktopFileName is the basename of the launcher entry.
func (f *Freedesktop) DesktopFileName() string {
	name := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' {
			return unicode.ToLower(r)
		}
		return '-'
	}, f.cfg.AppName)
	return name + ".desktop"
}

func (f *Freedesktop) launcherPath() string {
	return filepath.Join(f.cfg.ApplicationsDir, f.DesktopFileName())
}

func (f *Freedesktop) autostartPath() string {
	return filepath.Join(f.cfg.AutostartDir, f.DesktopFileName())
}

// desktopEntry renders a .desktop file. extraArgs are appended to Exec.
func (f *Freedesktop) desktopEntry(extraArgs ...string) []byte {
	exec := quoteExec(f.cfg.Executable)
	for _, a := range extraArgs {
		exec += " " + a
	}
	var b bytes.Buffer
	b.WriteString("[Desktop Entry]\n")
	b.WriteString("Type=Application\n")
	fmt.Fprintf(&b, "Name=%s\n", f.cfg.AppName)
	fmt.Fprintf(&b, "Exec=%s %%U\n", exec)
	if f.cfg.IconPath != "" {
		fmt.Fprintf(&b, "Icon=%s\n", f.cfg.IconPath)
	}
	b.WriteString("Terminal=false\n")
	b.WriteString("Categories=Network;Email;\n")
	fmt.Fprintf(&b, "MimeType=%s;\n", mailtoScheme)
	return b.Bytes()
}

func quoteExec(path string) string {
	if strings.ContainsAny(path, " \t\"") {
		return `"` + strings.ReplaceAll(path, `"`, `\"`) + `"`
	}
	return path
}

// Integrate installs the launcher entry.
func (f *Freedesktop) Integrate(_ context.Context) error {
	if f.cfg.Executable == "" {
		return errors.New("integrate: no executable configured")
	}
	if err := writeFileAtomic(f.launcherPath(), f.desktopEntry()); err != nil {
		return fmt.Errorf("integrate: %w", err)
	}
	f.logger.Info("desktop integration installed", "path", f.launcherPath())
	return nil
}

// Unintegrate removes the launcher entry. Missing files are not an error.
func (f *Freedesktop) Unintegrate(_ context.Context) error {
	if err := removeIfExists(f.launcherPath()); err != nil {
		return fmt.Errorf("unintegrate: %w", err)
	}
	return nil
}

func (f *Freedesktop) IsIntegrated(_ context.Context) (bool, error) {
	return exists(f.launcherPath())
}

// EnableAutoLaunch installs the autostart entry.
func (f *Freedesktop) EnableAutoLaunch(_ context.Context) error {
	if f.cfg.Executable == "" {
		return errors.New("enable auto launch: no executable configured")
	}
	if err := writeFileAtomic(f.autostartPath(), f.desktopEntry(autoLaunchFlag)); err != nil {
		return fmt.Errorf("enable auto launch: %w", err)
	}
	return nil
}

func (f *Freedesktop) DisableAutoLaunch(_ context.Context) error {
	if err := removeIfExists(f.autostartPath()); err != nil {
		return fmt.Errorf("disable auto launch: %w", err)
	}
	return nil
}

func (f *Freedesktop) IsAutoLaunchEnabled(_ context.Context) (bool, error) {
	return exists(f.autostartPath())
}

// CheckIsMailtoHandler reports whether mimeapps.list names this application
// as the default mailto handler.
func (f *Freedesktop) CheckIsMailtoHandler(_ context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines, err := readLines(f.cfg.MimeAppsPath)
	if err != nil {
		return false, err
	}
	handler, _ := lookupDefault(lines, mailtoScheme)
	return handler == f.DesktopFileName(), nil
}

// RegisterAsMailtoHandler makes this application the default mailto
// handler, keeping every other line of mimeapps.list.
func (f *Freedesktop) RegisterAsMailtoHandler(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines, err := readLines(f.cfg.MimeAppsPath)
	if err != nil {
		return err
	}
	lines = setDefault(lines, mailtoScheme, f.DesktopFileName())
	return writeFileAtomic(f.cfg.MimeAppsPath, joinLines(lines))
}

// UnregisterAsMailtoHandler drops the mailto default when it points at this
// application.
func (f *Freedesktop) UnregisterAsMailtoHandler(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines, err := readLines(f.cfg.MimeAppsPath)
	if err != nil {
		return err
	}
	handler, idx := lookupDefault(lines, mailtoScheme)
	if handler != f.DesktopFileName() {
		return nil
	}
	lines = append(lines[:idx], lines[idx+1:]...)
	return writeFileAtomic(f.cfg.MimeAppsPath, joinLines(lines))
}

// lookupDefault returns the value of key in the [Default Applications]
// section and its line index, or "" and -1.
func lookupDefault(lines []string, key string) (string, int) {
	in := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[") {
			in = trimmed == defaultAppsSection
			continue
		}
		if !in {
			continue
		}
		k, v, ok := strings.Cut(trimmed, "=")
		if ok && strings.TrimSpace(k) == key {
			// Only the first entry of a ;-separated list is the default.
			first, _, _ := strings.Cut(strings.TrimSpace(v), ";")
			return first, i
		}
	}
	return "", -1
}

func setDefault(lines []string, key, value string) []string {
	entry := key + "=" + value + ";"
	if _, idx := lookupDefault(lines, key); idx >= 0 {
		lines[idx] = entry
		return lines
	}
	for i, line := range lines {
		if strings.TrimSpace(line) == defaultAppsSection {
			return append(lines[:i+1], append([]string{entry}, lines[i+1:]...)...)
		}
	}
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) != "" {
		lines = append(lines, "")
	}
	return append(lines, defaultAppsSection, entry)
}

func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

func joinLines(lines []string) []byte {
	if len(lines) == 0 {
		return nil
	}
	return []byte(strings.Join(lines, "\n") + "\n")
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
