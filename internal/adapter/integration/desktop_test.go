package integration

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIntegrator(t *testing.T) (*Freedesktop, Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		AppName:         "Desk Bridge",
		Executable:      "/opt/desk bridge/deskbridge",
		IconPath:        "/opt/deskbridge/icon.png",
		ApplicationsDir: filepath.Join(dir, "applications"),
		AutostartDir:    filepath.Join(dir, "autostart"),
		MimeAppsPath:    filepath.Join(dir, "mimeapps.list"),
	}
	return New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil))), cfg
}

func TestDesktopFileName(t *testing.T) {
	f, _ := newTestIntegrator(t)
	assert.Equal(t, "desk-bridge.desktop", f.DesktopFileName())
}

func TestIntegrateRoundTrip(t *testing.T) {
	f, cfg := newTestIntegrator(t)
	ctx := context.Background()

	ok, err := f.IsIntegrated(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, f.Integrate(ctx))
	ok, _ = f.IsIntegrated(ctx)
	assert.True(t, ok)

	data, err := os.ReadFile(filepath.Join(cfg.ApplicationsDir, "desk-bridge.desktop"))
	require.NoError(t, err)
	entry := string(data)
	assert.Contains(t, entry, "[Desktop Entry]\n")
	assert.Contains(t, entry, `Exec="/opt/desk bridge/deskbridge" %U`)
	assert.Contains(t, entry, "Icon=/opt/deskbridge/icon.png\n")
	assert.Contains(t, entry, "MimeType=x-scheme-handler/mailto;\n")

	require.NoError(t, f.Unintegrate(ctx))
	ok, _ = f.IsIntegrated(ctx)
	assert.False(t, ok)
	require.NoError(t, f.Unintegrate(ctx), "removing twice is fine")
}

func TestAutoLaunch(t *testing.T) {
	f, cfg := newTestIntegrator(t)
	ctx := context.Background()

	require.NoError(t, f.EnableAutoLaunch(ctx))
	ok, err := f.IsAutoLaunchEnabled(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	data, _ := os.ReadFile(filepath.Join(cfg.AutostartDir, "desk-bridge.desktop"))
	assert.Contains(t, string(data), `deskbridge" -a %U`)

	require.NoError(t, f.DisableAutoLaunch(ctx))
	ok, _ = f.IsAutoLaunchEnabled(ctx)
	assert.False(t, ok)
}

func TestIntegrateWithoutExecutable(t *testing.T) {
	f := New(Config{ApplicationsDir: t.TempDir()}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, f.Integrate(context.Background()))
	assert.Error(t, f.EnableAutoLaunch(context.Background()))
}

func TestMailtoHandlerKeepsOtherEntries(t *testing.T) {
	f, cfg := newTestIntegrator(t)
	ctx := context.Background()
	existing := strings.Join([]string{
		"[Added Associations]",
		"text/html=firefox.desktop;",
		"",
		"[Default Applications]",
		"x-scheme-handler/mailto=thunderbird.desktop;",
		"text/plain=gedit.desktop;",
		"",
	}, "\n")
	require.NoError(t, os.WriteFile(cfg.MimeAppsPath, []byte(existing), 0o644))

	ok, err := f.CheckIsMailtoHandler(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, f.RegisterAsMailtoHandler(ctx))
	ok, _ = f.CheckIsMailtoHandler(ctx)
	assert.True(t, ok)

	data, _ := os.ReadFile(cfg.MimeAppsPath)
	content := string(data)
	assert.Contains(t, content, "x-scheme-handler/mailto=desk-bridge.desktop;")
	assert.NotContains(t, content, "thunderbird")
	assert.Contains(t, content, "text/plain=gedit.desktop;")
	assert.Contains(t, content, "text/html=firefox.desktop;")

	require.NoError(t, f.UnregisterAsMailtoHandler(ctx))
	ok, _ = f.CheckIsMailtoHandler(ctx)
	assert.False(t, ok)
	data, _ = os.ReadFile(cfg.MimeAppsPath)
	assert.NotContains(t, string(data), "x-scheme-handler/mailto")
	assert.Contains(t, string(data), "text/plain=gedit.desktop;")
}

func TestMailtoHandlerCreatesFile(t *testing.T) {
	f, cfg := newTestIntegrator(t)
	ctx := context.Background()

	require.NoError(t, f.RegisterAsMailtoHandler(ctx))
	data, err := os.ReadFile(cfg.MimeAppsPath)
	require.NoError(t, err)
	assert.Equal(t, "[Default Applications]\nx-scheme-handler/mailto=desk-bridge.desktop;\n", string(data))
}

func TestUnregisterLeavesForeignHandler(t *testing.T) {
	f, cfg := newTestIntegrator(t)
	content := "[Default Applications]\nx-scheme-handler/mailto=thunderbird.desktop;\n"
	require.NoError(t, os.WriteFile(cfg.MimeAppsPath, []byte(content), 0o644))

	require.NoError(t, f.UnregisterAsMailtoHandler(context.Background()))
	data, _ := os.ReadFile(cfg.MimeAppsPath)
	assert.Equal(t, content, string(data))
}
