package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the deskbridge host.
type Config struct {
	Includes    []string          `yaml:"includes,omitempty"`
	Logger      LoggerConfig      `yaml:"logger"`
	Tracer      TracerConfig      `yaml:"tracer"`
	Transport   TransportConfig   `yaml:"transport"`
	IPC         IPCConfig         `yaml:"ipc"`
	Store       StoreConfig       `yaml:"store"`
	Files       FilesConfig       `yaml:"files"`
	Updater     UpdaterConfig     `yaml:"updater"`
	Integration IntegrationConfig `yaml:"integration"`
	Windows     WindowsConfig     `yaml:"windows"`
	AdminSocket AdminSocketConfig `yaml:"admin_socket"`
	Spellcheck  SpellcheckConfig  `yaml:"spellcheck"`
	Audit       AuditConfig       `yaml:"audit"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	RingSize int    `yaml:"ring_size"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`

	// Output is the file the stdout exporter appends to; empty means stdout.
	Output      string  `yaml:"output"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// TransportConfig configures the websocket endpoint renderers connect to.
type TransportConfig struct {
	Addr            string          `yaml:"addr"`
	Path            string          `yaml:"path"`
	AllowedOrigins  []string        `yaml:"allowed_origins,omitempty"`
	SendBuffer      int             `yaml:"send_buffer"`
	WriteTimeout    time.Duration   `yaml:"write_timeout"`
	MaxMessageBytes int64           `yaml:"max_message_bytes"`
	Auth            AuthConfig      `yaml:"auth"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

// AuthConfig holds the static bearer tokens accepted by the transport.
type AuthConfig struct {
	Tokens []AuthTokenConfig `yaml:"tokens,omitempty"`
}

// AuthTokenConfig names one accepted token.
type AuthTokenConfig struct {
	Name  string `yaml:"name"`
	Token string `yaml:"token"`
}

// RateLimitConfig bounds connection attempts per client address.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// IPCConfig tunes the message router.
type IPCConfig struct {
	IDPrefix    string        `yaml:"id_prefix"`
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// StoreConfig configures the SQLite store for config values, push
// registration and alarm session keys.
type StoreConfig struct {
	Path          string `yaml:"path"`
	EncryptionKey string `yaml:"encryption_key"`
}

// FilesConfig configures download, temp and export directories.
type FilesConfig struct {
	DownloadDir      string        `yaml:"download_dir"`
	TempDir          string        `yaml:"temp_dir"`
	DownloadTimeout  time.Duration `yaml:"download_timeout"`
	MaxDownloadBytes int64         `yaml:"max_download_bytes"`
}

// UpdaterConfig configures the release feed poller.
type UpdaterConfig struct {
	Enabled       bool          `yaml:"enabled"`
	FeedURL       string        `yaml:"feed_url"`
	CheckInterval time.Duration `yaml:"check_interval"`
	Timeout       time.Duration `yaml:"timeout"`
}

// IntegrationConfig describes the freedesktop integration files.
type IntegrationConfig struct {
	AppName         string `yaml:"app_name"`
	Executable      string `yaml:"executable"`
	IconPath        string `yaml:"icon_path"`
	ApplicationsDir string `yaml:"applications_dir"`
	AutostartDir    string `yaml:"autostart_dir"`
	MimeAppsPath    string `yaml:"mimeapps_path"`
}

// WindowsConfig configures renderer windows.
type WindowsConfig struct {
	RendererCommand string   `yaml:"renderer_command"`
	RendererArgs    []string `yaml:"renderer_args,omitempty"`
	FindRate        float64  `yaml:"find_rate"`
	FindBurst       int      `yaml:"find_burst"`
}

// AdminSocketConfig configures the optional admin client socket.
type AdminSocketConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
}

// SpellcheckConfig lists the spell-check dictionaries.
type SpellcheckConfig struct {
	Languages     []string `yaml:"languages,omitempty"`
	DictionaryDir string   `yaml:"dictionary_dir"`
}

// AuditConfig controls the JSONL journal of bus events.
type AuditConfig struct {
	Enabled bool          `yaml:"enabled"`
	Path    string        `yaml:"path"`
	MaxAge  time.Duration `yaml:"max_age"`
	MaxSize string        `yaml:"max_size"` // e.g. "10MB"

	// RetentionSchedule is a cron expression or a Go duration.
	RetentionSchedule string `yaml:"retention_schedule"`
}

// defaultDataDir returns the persistent data directory under $HOME/.deskbridge.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".deskbridge")
}

// xdgDir returns $env or $HOME/fallback.
func xdgDir(env, fallback string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", fallback)
	}
	return filepath.Join(home, fallback)
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	configHome := xdgDir("XDG_CONFIG_HOME", ".config")
	dataHome := xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
	return &Config{
		Logger: LoggerConfig{
			Level:    "info",
			Format:   "text",
			Output:   "stderr",
			RingSize: 1000,
		},
		Tracer: TracerConfig{
			Enabled:     false,
			Exporter:    "noop",
			SampleRatio: 1,
		},
		Transport: TransportConfig{
			Addr:            "127.0.0.1:7419",
			Path:            "/ipc",
			SendBuffer:      64,
			WriteTimeout:    5 * time.Second,
			MaxMessageBytes: 64 << 20,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: 10,
				Burst:             20,
			},
		},
		IPC: IPCConfig{
			IDPrefix: "desktop",
		},
		Store: StoreConfig{
			Path: filepath.Join(dataDir, "deskbridge.db"),
		},
		Files: FilesConfig{
			DownloadDir:      xdgDir("XDG_DOWNLOAD_DIR", "Downloads"),
			TempDir:          filepath.Join(os.TempDir(), "deskbridge"),
			DownloadTimeout:  5 * time.Minute,
			MaxDownloadBytes: 2 << 30,
		},
		Updater: UpdaterConfig{
			Enabled:       false,
			CheckInterval: 3 * time.Hour,
			Timeout:       30 * time.Second,
		},
		Integration: IntegrationConfig{
			AppName:         "deskbridge",
			ApplicationsDir: filepath.Join(dataHome, "applications"),
			AutostartDir:    filepath.Join(configHome, "autostart"),
			MimeAppsPath:    filepath.Join(configHome, "mimeapps.list"),
		},
		Windows: WindowsConfig{
			FindRate:  20,
			FindBurst: 5,
		},
		Spellcheck: SpellcheckConfig{
			Languages:     []string{"en-US"},
			DictionaryDir: "/usr/share/hunspell",
		},
		Audit: AuditConfig{
			Path:    filepath.Join(dataDir, "audit.jsonl"),
			MaxAge:  30 * 24 * time.Hour,
			MaxSize: "10MB",

			RetentionSchedule: "@hourly",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	// First pass: unmarshal to get the includes list.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Includes) > 0 {
		visited := map[string]bool{absPath: true}
		if err := processIncludes(cfg, filepath.Dir(absPath), visited, 0); err != nil {
			return nil, err
		}

		// Second pass: the main file wins over its includes.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Includes = nil
	}

	ApplyEnvOverrides(cfg)

	passphrase := os.Getenv("DESKBRIDGE_CONFIG_KEY")
	if passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps DESKBRIDGE_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DESKBRIDGE_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("DESKBRIDGE_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("DESKBRIDGE_LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("DESKBRIDGE_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("DESKBRIDGE_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("DESKBRIDGE_TRANSPORT_ADDR"); v != "" {
		cfg.Transport.Addr = v
	}
	if v := os.Getenv("DESKBRIDGE_TRANSPORT_TOKEN"); v != "" {
		cfg.Transport.Auth.Tokens = append(cfg.Transport.Auth.Tokens, AuthTokenConfig{Name: "env", Token: v})
	}
	if v := os.Getenv("DESKBRIDGE_IPC_CALL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.IPC.CallTimeout = d
		}
	}
	if v := os.Getenv("DESKBRIDGE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("DESKBRIDGE_STORE_ENCRYPTION_KEY"); v != "" {
		cfg.Store.EncryptionKey = v
	}
	if v := os.Getenv("DESKBRIDGE_FILES_DOWNLOAD_DIR"); v != "" {
		cfg.Files.DownloadDir = v
	}
	if v := os.Getenv("DESKBRIDGE_FILES_TEMP_DIR"); v != "" {
		cfg.Files.TempDir = v
	}
	if v := os.Getenv("DESKBRIDGE_UPDATER_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Updater.Enabled = b
		}
	}
	if v := os.Getenv("DESKBRIDGE_UPDATER_FEED_URL"); v != "" {
		cfg.Updater.FeedURL = v
	}
	if v := os.Getenv("DESKBRIDGE_WINDOWS_RENDERER_COMMAND"); v != "" {
		cfg.Windows.RendererCommand = v
	}
	if v := os.Getenv("DESKBRIDGE_ADMIN_SOCKET_URL"); v != "" {
		cfg.AdminSocket.URL = v
		cfg.AdminSocket.Enabled = true
	}
	if v := os.Getenv("DESKBRIDGE_ADMIN_SOCKET_TOKEN"); v != "" && cfg.AdminSocket.Token == "" {
		cfg.AdminSocket.Token = v
	}
	if v := os.Getenv("DESKBRIDGE_SPELLCHECK_LANGUAGES"); v != "" {
		cfg.Spellcheck.Languages = splitAndTrim(v, ",")
	}
	if v := os.Getenv("DESKBRIDGE_AUDIT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Audit.Enabled = b
		}
	}
}

// splitAndTrim splits s by sep and trims whitespace from each element.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// decryptSecrets finds "enc:..." values and decrypts them in place.
func decryptSecrets(cfg *Config, passphrase string) error {
	for i := range cfg.Transport.Auth.Tokens {
		tok := &cfg.Transport.Auth.Tokens[i]
		if err := decryptField(&tok.Token, passphrase); err != nil {
			return fmt.Errorf("transport auth token %s: %w", tok.Name, err)
		}
	}
	if err := decryptField(&cfg.Store.EncryptionKey, passphrase); err != nil {
		return fmt.Errorf("store encryption_key: %w", err)
	}
	if err := decryptField(&cfg.AdminSocket.Token, passphrase); err != nil {
		return fmt.Errorf("admin_socket token: %w", err)
	}
	return nil
}

func decryptField(fp *string, passphrase string) error {
	if !strings.HasPrefix(*fp, "enc:") {
		return nil
	}
	decrypted, err := DecryptValue(strings.TrimPrefix(*fp, "enc:"), passphrase)
	if err != nil {
		return err
	}
	*fp = decrypted
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts an AES-256-GCM encrypted value.
func DecryptValue(encrypted, passphrase string) (string, error) {
	salt, data, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}

	saltBytes, err := hex.DecodeString(salt)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}

	payload, err := hex.DecodeString(data)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	key := deriveKey(passphrase, saltBytes)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(payload) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := payload[:nonceSize], payload[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}

	return string(plaintext), nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
