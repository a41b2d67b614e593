package updater

import (
	"context"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/sony/gobreaker/v2"

	"deskbridge/internal/domain"
	"deskbridge/internal/usecase/scheduling"
)

const (
	checkJobID         = "updater:check"
	maxFeedBytes       = 1 << 20
	defaultMaxFailures = 3
)

// Broadcaster delivers a host→renderer call to every ready window.
type Broadcaster interface {
	Broadcast(ctx context.Context, method string, args ...any) error
}

// JobScheduler is the part of scheduling.Scheduler the updater needs.
type JobScheduler interface {
	Add(job scheduling.Job) error
	Remove(id string) bool
}

// Config configures the updater.
type Config struct {
	Enabled        bool
	FeedURL        string
	CheckInterval  time.Duration
	Timeout        time.Duration
	CurrentVersion string
	// StagingDir receives downloaded update artifacts.
	StagingDir string
}

// feedEntry is the JSON document served at the feed URL.
type feedEntry struct {
	Version      string    `json:"version"`
	ReleaseDate  time.Time `json:"releaseDate"`
	ReleaseNotes string    `json:"releaseNotes"`
	URL          string    `json:"url"`
	SHA512       string    `json:"sha512"`
}

// Updater polls a release feed and stages newer versions. It implements
// domain.Updater.
type Updater struct {
	cfg     Config
	current *semver.Version
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*feedEntry]
	logger  *slog.Logger

	mu          sync.Mutex
	staged      *domain.UpdateInfo
	broadcaster Broadcaster
	// checkMu serializes checks so a manual update never races the poller.
	checkMu sync.Mutex
}

// New creates an updater. It fails when CurrentVersion is not semver.
func New(cfg Config, client *http.Client, logger *slog.Logger) (*Updater, error) {
	current, err := semver.NewVersion(cfg.CurrentVersion)
	if err != nil {
		return nil, fmt.Errorf("updater: current version %q: %w", cfg.CurrentVersion, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 3 * time.Hour
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	u := &Updater{cfg: cfg, current: current, client: client, logger: logger}
	u.breaker = gobreaker.NewCircuitBreaker[*feedEntry](gobreaker.Settings{
		Name:        "updater:feed",
		MaxRequests: 1,
		Timeout:     cfg.CheckInterval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= defaultMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return u, nil
}

// Bind supplies the router used to announce staged updates.
func (u *Updater) Bind(b Broadcaster) {
	u.mu.Lock()
	u.broadcaster = b
	u.mu.Unlock()
}

// Start schedules periodic checks. It is a no-op when the updater is
// disabled.
func (u *Updater) Start(jobs JobScheduler) error {
	if !u.cfg.Enabled {
		return nil
	}
	return jobs.Add(scheduling.Job{
		ID:       checkJobID,
		Schedule: scheduling.Every(u.cfg.CheckInterval),
		Timeout:  u.cfg.Timeout * 4,
		Run: func(ctx context.Context) error {
			_, err := u.Check(ctx)
			return err
		},
	})
}

// UpdateInfo returns the staged update, or nil.
func (u *Updater) UpdateInfo() *domain.UpdateInfo {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.staged == nil {
		return nil
	}
	info := *u.staged
	return &info
}

// ManualUpdate checks for an update now. It reports false without error
// when the updater is disabled.
func (u *Updater) ManualUpdate(ctx context.Context) (bool, error) {
	if !u.cfg.Enabled {
		return false, nil
	}
	return u.Check(ctx)
}

// Check fetches the feed and stages a newer version. It reports whether an
// update is staged after the check.
func (u *Updater) Check(ctx context.Context) (bool, error) {
	u.checkMu.Lock()
	defer u.checkMu.Unlock()

	entry, err := u.breaker.Execute(func() (*feedEntry, error) {
		return u.fetchFeed(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return u.UpdateInfo() != nil, fmt.Errorf("%w: feed temporarily unavailable: %w", domain.ErrUpdateCheck, err)
		}
		return u.UpdateInfo() != nil, err
	}

	latest, err := semver.NewVersion(entry.Version)
	if err != nil {
		return false, fmt.Errorf("%w: feed version %q: %w", domain.ErrUpdateCheck, entry.Version, err)
	}
	if !latest.GreaterThan(u.current) {
		u.logger.Debug("no update available", "current", u.current.String(), "latest", latest.String())
		return false, nil
	}
	if staged := u.UpdateInfo(); staged != nil && staged.Version == latest.String() {
		return true, nil
	}

	info := &domain.UpdateInfo{
		Version:      latest.String(),
		ReleaseDate:  entry.ReleaseDate,
		ReleaseNotes: entry.ReleaseNotes,
		URL:          entry.URL,
		SHA512:       entry.SHA512,
	}
	if err := u.stage(ctx, info); err != nil {
		return false, err
	}

	u.mu.Lock()
	u.staged = info
	b := u.broadcaster
	u.mu.Unlock()

	u.logger.Info("update staged", "version", info.Version)
	if b != nil {
		if err := b.Broadcast(ctx, string(domain.RendererAppUpdateDownloaded), info); err != nil {
			u.logger.Warn("announce update failed", "error", err)
		}
	}
	return true, nil
}

func (u *Updater) fetchFeed(ctx context.Context) (*feedEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, u.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.cfg.FeedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUpdateCheck, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUpdateCheck, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: feed returned status %d", domain.ErrUpdateCheck, resp.StatusCode)
	}
	var entry feedEntry
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxFeedBytes)).Decode(&entry); err != nil {
		return nil, fmt.Errorf("%w: decode feed: %w", domain.ErrUpdateCheck, err)
	}
	return &entry, nil
}

// stage downloads the artifact into the staging dir and verifies its
// SHA-512 when the feed provides one. Entries without a URL are staged as
// announcements only.
func (u *Updater) stage(ctx context.Context, info *domain.UpdateInfo) error {
	if info.URL == "" || u.cfg.StagingDir == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, info.URL, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrUpdateCheck, err)
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: download update: %w", domain.ErrUpdateCheck, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: update download returned status %d", domain.ErrUpdateCheck, resp.StatusCode)
	}

	if err := os.MkdirAll(u.cfg.StagingDir, 0o700); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrUpdateCheck, err)
	}
	name := path.Base(req.URL.Path)
	if name == "/" || name == "." {
		name = "update-" + info.Version
	}
	target := filepath.Join(u.cfg.StagingDir, name)
	f, err := os.CreateTemp(u.cfg.StagingDir, ".staging-*")
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrUpdateCheck, err)
	}
	defer os.Remove(f.Name())

	h := sha512.New()
	_, err = io.Copy(io.MultiWriter(f, h), resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("%w: write update: %w", domain.ErrUpdateCheck, err)
	}
	if info.SHA512 != "" {
		if got := base64.StdEncoding.EncodeToString(h.Sum(nil)); got != info.SHA512 {
			return fmt.Errorf("%w: checksum mismatch for %s", domain.ErrUpdateCheck, name)
		}
	}
	if err := os.Rename(f.Name(), target); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrUpdateCheck, err)
	}
	return nil
}
