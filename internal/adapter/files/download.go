package files

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/oklog/ulid/v2"

	"deskbridge/internal/domain"
)

// Opener hands a file to the desktop's default application.
type Opener interface {
	Open(ctx context.Context, path string) error
}

// Config configures the download manager.
type Config struct {
	DownloadDir      string
	TempDir          string
	DownloadTimeout  time.Duration
	MaxDownloadBytes int64
}

// Manager implements domain.DownloadManager on the local file system.
type Manager struct {
	cfg    Config
	client *http.Client
	opener Opener
	logger *slog.Logger
}

// NewManager creates a download manager. client and opener may be nil.
func NewManager(cfg Config, client *http.Client, opener Opener, logger *slog.Logger) *Manager {
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 5 * time.Minute
	}
	if cfg.MaxDownloadBytes <= 0 {
		cfg.MaxDownloadBytes = 2 << 30
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.DownloadTimeout}
	}
	if opener == nil {
		opener = xdgOpener{}
	}
	return &Manager{cfg: cfg, client: client, opener: opener, logger: logger}
}

// executableTypes are never handed to the default application.
var executableTypes = []string{
	"application/x-executable",
	"application/x-elf",
	"application/x-sharedlib",
	"application/x-mach-binary",
	"application/vnd.microsoft.portable-executable",
	"application/x-msi",
	"text/x-shellscript",
}

// Open opens a previously downloaded or saved file. Only files inside the
// download or temp directory are opened, and executables are refused.
func (m *Manager) Open(ctx context.Context, itemPath string) error {
	p := filepath.Clean(itemPath)
	if !within(m.cfg.DownloadDir, p) && !within(m.cfg.TempDir, p) {
		return fmt.Errorf("%w: %q", domain.ErrPathOutsideDir, itemPath)
	}
	mt, err := mimetype.DetectFile(p)
	if err != nil {
		return fmt.Errorf("%w: %q: %w", domain.ErrNotFound, itemPath, err)
	}
	for _, t := range executableTypes {
		if mt.Is(t) {
			return fmt.Errorf("%w: refusing to open executable %q (%s)", domain.ErrInvalidInput, itemPath, mt.String())
		}
	}
	return m.opener.Open(ctx, p)
}

// Download fetches sourceURL into the download directory and returns the
// saved path. The body is written to a temporary file and renamed into
// place once complete.
func (m *Manager) Download(ctx context.Context, sourceURL, fileName string, headers map[string]string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.DownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: build request: %w", domain.ErrDownload, err)
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", domain.ErrInvalidInput, req.URL.Scheme)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrDownload, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s returned status %d", domain.ErrDownload, req.URL.Redacted(), resp.StatusCode)
	}
	if resp.ContentLength > m.cfg.MaxDownloadBytes {
		return "", fmt.Errorf("%w: %d bytes exceeds limit of %d", domain.ErrDownload, resp.ContentLength, m.cfg.MaxDownloadBytes)
	}

	p, err := m.store(m.cfg.DownloadDir, fileName, resp.Body)
	if err != nil {
		return "", err
	}
	m.logger.Info("download finished", "path", p)
	return p, nil
}

// SaveBlob writes data into the download directory and returns the path.
func (m *Manager) SaveBlob(_ context.Context, fileName string, data []byte) (string, error) {
	if int64(len(data)) > m.cfg.MaxDownloadBytes {
		return "", fmt.Errorf("%w: %d bytes exceeds limit of %d", domain.ErrDownload, len(data), m.cfg.MaxDownloadBytes)
	}
	return m.store(m.cfg.DownloadDir, fileName, bytes.NewReader(data))
}

// store copies r into dir under a sanitized, unused version of name.
func (m *Manager) store(dir, name string, r io.Reader) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("%w: create %s: %w", domain.ErrDownload, dir, err)
	}
	part := filepath.Join(dir, ".download-"+ulid.Make().String()+".part")
	f, err := os.OpenFile(part, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrDownload, err)
	}
	defer os.Remove(part)

	n, err := io.Copy(f, io.LimitReader(r, m.cfg.MaxDownloadBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("%w: write: %w", domain.ErrDownload, err)
	}
	if n > m.cfg.MaxDownloadBytes {
		return "", fmt.Errorf("%w: body exceeds limit of %d bytes", domain.ErrDownload, m.cfg.MaxDownloadBytes)
	}

	target, err := linkUnused(part, dir, SanitizeName(name))
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrDownload, err)
	}
	return target, nil
}

// DeleteTempDirectory removes everything under the temp directory.
func (m *Manager) DeleteTempDirectory(_ context.Context) error {
	if m.cfg.TempDir == "" {
		return nil
	}
	entries, err := os.ReadDir(m.cfg.TempDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(m.cfg.TempDir, e.Name())); err != nil {
			return err
		}
	}
	m.logger.Debug("temp directory cleared", "dir", m.cfg.TempDir, "entries", len(entries))
	return nil
}

type xdgOpener struct{}

func (xdgOpener) Open(ctx context.Context, path string) error {
	name := "xdg-open"
	if runtime.GOOS == "darwin" {
		name = "open"
	}
	if out, err := exec.CommandContext(ctx, name, path).CombinedOutput(); err != nil {
		return fmt.Errorf("%s %q: %w: %s", name, path, err, strings.TrimSpace(string(out)))
	}
	return nil
}
