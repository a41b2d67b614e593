package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Logger.Level != "info" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "info")
	}
	if cfg.Logger.RingSize != 1000 {
		t.Errorf("Logger.RingSize = %d, want 1000", cfg.Logger.RingSize)
	}
	if cfg.IPC.IDPrefix != "desktop" {
		t.Errorf("IPC.IDPrefix = %q, want %q", cfg.IPC.IDPrefix, "desktop")
	}
	if cfg.IPC.CallTimeout != 0 {
		t.Errorf("IPC.CallTimeout = %s, want 0 (no deadline)", cfg.IPC.CallTimeout)
	}
	if cfg.Transport.Path != "/ipc" {
		t.Errorf("Transport.Path = %q, want /ipc", cfg.Transport.Path)
	}
	if cfg.Updater.Enabled {
		t.Error("updater should be disabled by default")
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load("/tmp/nonexistent-deskbridge-config-12345.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transport.Addr != "127.0.0.1:7419" {
		t.Errorf("expected defaults, got Transport.Addr=%q", cfg.Transport.Addr)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
logger:
  level: "debug"
  ring_size: 50
transport:
  addr: "127.0.0.1:9000"
  auth:
    tokens:
      - name: "renderer"
        token: "secret"
ipc:
  call_timeout: 30s
  id_prefix: "host"
spellcheck:
  languages: ["de-DE", "en-GB"]
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logger.Level != "debug" || cfg.Logger.RingSize != 50 {
		t.Errorf("Logger = %+v", cfg.Logger)
	}
	if cfg.Transport.Addr != "127.0.0.1:9000" {
		t.Errorf("Transport.Addr = %q", cfg.Transport.Addr)
	}
	if cfg.Transport.Path != "/ipc" {
		t.Errorf("unset Transport.Path should keep default, got %q", cfg.Transport.Path)
	}
	if len(cfg.Transport.Auth.Tokens) != 1 || cfg.Transport.Auth.Tokens[0].Token != "secret" {
		t.Errorf("Tokens mismatch: %+v", cfg.Transport.Auth.Tokens)
	}
	if cfg.IPC.CallTimeout != 30*time.Second || cfg.IPC.IDPrefix != "host" {
		t.Errorf("IPC = %+v", cfg.IPC)
	}
	if len(cfg.Spellcheck.Languages) != 2 {
		t.Errorf("Spellcheck.Languages = %v", cfg.Spellcheck.Languages)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DESKBRIDGE_LOGGER_LEVEL", "debug")
	t.Setenv("DESKBRIDGE_TRANSPORT_ADDR", "127.0.0.1:1234")
	t.Setenv("DESKBRIDGE_IPC_CALL_TIMEOUT", "2m")
	t.Setenv("DESKBRIDGE_UPDATER_ENABLED", "true")
	t.Setenv("DESKBRIDGE_UPDATER_FEED_URL", "https://example.com/feed.json")
	t.Setenv("DESKBRIDGE_SPELLCHECK_LANGUAGES", "fr-FR, de-DE")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "debug")
	}
	if cfg.Transport.Addr != "127.0.0.1:1234" {
		t.Errorf("Transport.Addr = %q", cfg.Transport.Addr)
	}
	if cfg.IPC.CallTimeout != 2*time.Minute {
		t.Errorf("IPC.CallTimeout = %s", cfg.IPC.CallTimeout)
	}
	if !cfg.Updater.Enabled || cfg.Updater.FeedURL != "https://example.com/feed.json" {
		t.Errorf("Updater = %+v", cfg.Updater)
	}
	if got := strings.Join(cfg.Spellcheck.Languages, "|"); got != "fr-FR|de-DE" {
		t.Errorf("Spellcheck.Languages = %q", got)
	}
}

func TestEnvOverridesInvalidDurationIgnored(t *testing.T) {
	t.Setenv("DESKBRIDGE_IPC_CALL_TIMEOUT", "soon")
	cfg := Defaults()
	ApplyEnvOverrides(cfg)
	if cfg.IPC.CallTimeout != 0 {
		t.Errorf("IPC.CallTimeout = %s, want 0", cfg.IPC.CallTimeout)
	}
}

func TestEnvOverridesTransportToken(t *testing.T) {
	t.Setenv("DESKBRIDGE_TRANSPORT_TOKEN", "from-env")
	cfg := Defaults()
	ApplyEnvOverrides(cfg)
	if len(cfg.Transport.Auth.Tokens) != 1 || cfg.Transport.Auth.Tokens[0].Token != "from-env" {
		t.Errorf("Tokens = %+v", cfg.Transport.Auth.Tokens)
	}
}

func TestEnvOverridesAdminSocket(t *testing.T) {
	t.Setenv("DESKBRIDGE_ADMIN_SOCKET_URL", "ws://127.0.0.1:9999/admin")
	cfg := Defaults()
	ApplyEnvOverrides(cfg)
	if !cfg.AdminSocket.Enabled || cfg.AdminSocket.URL != "ws://127.0.0.1:9999/admin" {
		t.Errorf("AdminSocket = %+v", cfg.AdminSocket)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	passphrase := "test-passphrase-123"
	plaintext := "renderer-token-abcdef"

	encrypted, err := EncryptValue(plaintext, passphrase)
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}

	decrypted, err := DecryptValue(encrypted, passphrase)
	if err != nil {
		t.Fatalf("DecryptValue: %v", err)
	}

	if decrypted != plaintext {
		t.Errorf("got %q, want %q", decrypted, plaintext)
	}
}

func TestDecryptWrongPassphrase(t *testing.T) {
	encrypted, err := EncryptValue("secret", "correct-pass")
	if err != nil {
		t.Fatal(err)
	}

	_, err = DecryptValue(encrypted, "wrong-pass")
	if err == nil {
		t.Error("expected error with wrong passphrase")
	}
}

func TestDecryptValueInvalidInputs(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"no separator", "deadbeef"},
		{"bad salt", "zz:00"},
		{"bad ciphertext", "00:zz"},
		{"too short", "00112233445566778899aabbccddeeff:00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecryptValue(tt.input, "pass"); err == nil {
				t.Errorf("DecryptValue(%q) should fail", tt.input)
			}
		})
	}
}

func TestDecryptSecrets(t *testing.T) {
	passphrase := "test-config-key"
	encToken, err := EncryptValue("tok-123", passphrase)
	if err != nil {
		t.Fatal(err)
	}
	encStore, err := EncryptValue("store-key", passphrase)
	if err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	cfg.Transport.Auth.Tokens = []AuthTokenConfig{
		{Name: "renderer", Token: "enc:" + encToken},
		{Name: "plain", Token: "not-encrypted"},
	}
	cfg.Store.EncryptionKey = "enc:" + encStore

	if err := decryptSecrets(cfg, passphrase); err != nil {
		t.Fatalf("decryptSecrets: %v", err)
	}
	if cfg.Transport.Auth.Tokens[0].Token != "tok-123" {
		t.Errorf("token = %q", cfg.Transport.Auth.Tokens[0].Token)
	}
	if cfg.Transport.Auth.Tokens[1].Token != "not-encrypted" {
		t.Errorf("plain token changed: %q", cfg.Transport.Auth.Tokens[1].Token)
	}
	if cfg.Store.EncryptionKey != "store-key" {
		t.Errorf("store key = %q", cfg.Store.EncryptionKey)
	}
}

func TestDecryptSecretsInvalidCiphertext(t *testing.T) {
	cfg := Defaults()
	cfg.AdminSocket.Token = "enc:invalid-format"
	err := decryptSecrets(cfg, "pass")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "admin_socket") {
		t.Errorf("error should name the field: %v", err)
	}
}

func TestLoadWithConfigKey(t *testing.T) {
	passphrase := "test-load-key"
	plain := "renderer-secret"

	encrypted, err := EncryptValue(plain, passphrase)
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
transport:
  auth:
    tokens:
      - name: "renderer"
        token: "enc:` + encrypted + `"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("DESKBRIDGE_CONFIG_KEY", passphrase)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transport.Auth.Tokens[0].Token != plain {
		t.Errorf("Token = %q, want %q", cfg.Transport.Auth.Tokens[0].Token, plain)
	}
}

func TestLoadDecryptSecretsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
store:
  encryption_key: "enc:invalid-not-hex"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("DESKBRIDGE_CONFIG_KEY", "some-key")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected decrypt error")
	}
	if !strings.Contains(err.Error(), "decrypt secrets") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadInsecurePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "insecure.yaml")
	if err := os.WriteFile(path, []byte("logger:\n  level: debug\n"), 0666); err != nil {
		t.Fatal(err)
	}
	// WriteFile is subject to umask; force the mode.
	if err := os.Chmod(path, 0666); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Error("expected error for insecure permissions")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("logger: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadValidationFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("transport:\n  addr: \"nonsense\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Errorf("error type = %T, want *ValidationError", err)
	}
}

func TestValidatePermissions(t *testing.T) {
	dir := t.TempDir()

	for _, mode := range []os.FileMode{0600, 0644} {
		p := filepath.Join(dir, mode.String())
		if err := os.WriteFile(p, []byte("test"), mode); err != nil {
			t.Fatal(err)
		}
		if err := os.Chmod(p, mode); err != nil {
			t.Fatal(err)
		}
		if err := validatePermissions(p); err != nil {
			t.Errorf("%o should pass: %v", mode, err)
		}
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("test"), 0666); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(bad, 0666); err != nil {
		t.Fatal(err)
	}
	if err := validatePermissions(bad); err == nil {
		t.Error("0666 should fail")
	}
}

func TestValidatePermissionsStatError(t *testing.T) {
	if err := validatePermissions("/tmp/nonexistent-file-for-stat-test-xyz.yaml"); err == nil {
		t.Error("expected error for non-existent file")
	}
}
