package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"deskbridge/internal/domain"
	"deskbridge/internal/security"
)

// SQLiteStore implements domain.ConfigStore, domain.PushStore and
// domain.AlarmStorage on one SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	enc    *security.AESContentEncryptor
	logger *slog.Logger
}

// Open opens (or creates) the database at dbPath and runs the schema
// migration. When passphrase is non-empty, push session keys are encrypted
// at rest with a key derived from it and a salt kept in the database.
func Open(dbPath, passphrase string, logger *slog.Logger) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, fmt.Errorf("%w: create store dir: %w", domain.ErrStore, err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %w", domain.ErrStore, err)
	}
	// A single connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: set WAL mode: %w", domain.ErrStore, err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %w", domain.ErrStore, err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if passphrase == "" {
		logger.Warn("store: no encryption key configured, session keys are stored unencrypted")
		return s, nil
	}
	salt, err := s.salt()
	if err != nil {
		db.Close()
		return nil, err
	}
	enc, err := security.NewAESContentEncryptor(passphrase, salt)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", domain.ErrStore, err)
	}
	s.enc = enc
	return s, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS config (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS sse_info (
			id         INTEGER PRIMARY KEY CHECK (id = 1),
			identifier TEXT NOT NULL,
			sse_origin TEXT NOT NULL,
			user_ids   TEXT NOT NULL DEFAULT '[]'
		);
		CREATE TABLE IF NOT EXISTS push_session_keys (
			push_identifier_id TEXT PRIMARY KEY,
			session_key        TEXT NOT NULL
		)
	`)
	return err
}

// salt returns the persisted key-derivation salt, creating it on first use.
func (s *SQLiteStore) salt() ([]byte, error) {
	var encoded string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = 'salt'").Scan(&encoded)
	if err == nil {
		salt, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("%w: decode salt: %w", domain.ErrStore, err)
		}
		return salt, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: read salt: %w", domain.ErrStore, err)
	}

	salt, err := security.NewSalt()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStore, err)
	}
	if _, err := s.db.Exec("INSERT INTO meta (key, value) VALUES ('salt', ?)",
		base64.StdEncoding.EncodeToString(salt)); err != nil {
		return nil, fmt.Errorf("%w: store salt: %w", domain.ErrStore, err)
	}
	return salt, nil
}

// Close closes the database and wipes the in-memory key.
func (s *SQLiteStore) Close() error {
	if s.enc != nil {
		s.enc.Zeroize()
	}
	return s.db.Close()
}

// GetVar returns the stored JSON value for key, or nil when unset.
func (s *SQLiteStore) GetVar(ctx context.Context, key string) (json.RawMessage, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %q: %w", domain.ErrStore, key, err)
	}
	return json.RawMessage(value), nil
}

// SetVar stores value under key. A JSON null deletes the key.
func (s *SQLiteStore) SetVar(ctx context.Context, key string, value json.RawMessage) error {
	if len(value) == 0 || string(value) == "null" {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM config WHERE key = ?", key); err != nil {
			return fmt.Errorf("%w: delete %q: %w", domain.ErrStore, key, err)
		}
		return nil
	}
	if !json.Valid(value) {
		return fmt.Errorf("%w: value for %q is not valid JSON", domain.ErrInvalidInput, key)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(value), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("%w: set %q: %w", domain.ErrStore, key, err)
	}
	return nil
}

// SseInfo returns the stored push registration, or nil when none exists.
func (s *SQLiteStore) SseInfo(ctx context.Context) (*domain.SseInfo, error) {
	var (
		info    domain.SseInfo
		userIDs string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT identifier, sse_origin, user_ids FROM sse_info WHERE id = 1",
	).Scan(&info.Identifier, &info.SseOrigin, &userIDs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read sse info: %w", domain.ErrStore, err)
	}
	if err := json.Unmarshal([]byte(userIDs), &info.UserIDs); err != nil {
		return nil, fmt.Errorf("%w: decode user ids: %w", domain.ErrStore, err)
	}
	return &info, nil
}

// StorePushIdentifier records identifier for userID. The same identifier and
// origin accumulate user ids; anything else replaces the registration.
func (s *SQLiteStore) StorePushIdentifier(ctx context.Context, identifier, userID, sseOrigin string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", domain.ErrStore, err)
	}
	defer tx.Rollback()

	var (
		curIdentifier, curOrigin, rawIDs string
		userIDs                          []string
	)
	err = tx.QueryRowContext(ctx,
		"SELECT identifier, sse_origin, user_ids FROM sse_info WHERE id = 1",
	).Scan(&curIdentifier, &curOrigin, &rawIDs)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("%w: read sse info: %w", domain.ErrStore, err)
	case curIdentifier == identifier && curOrigin == sseOrigin:
		if err := json.Unmarshal([]byte(rawIDs), &userIDs); err != nil {
			return fmt.Errorf("%w: decode user ids: %w", domain.ErrStore, err)
		}
	}
	if !slices.Contains(userIDs, userID) {
		userIDs = append(userIDs, userID)
	}
	encoded, err := json.Marshal(userIDs)
	if err != nil {
		return fmt.Errorf("%w: encode user ids: %w", domain.ErrStore, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sse_info (id, identifier, sse_origin, user_ids) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET identifier = excluded.identifier,
			sse_origin = excluded.sse_origin, user_ids = excluded.user_ids`,
		identifier, sseOrigin, string(encoded),
	); err != nil {
		return fmt.Errorf("%w: write sse info: %w", domain.ErrStore, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", domain.ErrStore, err)
	}
	return nil
}

// StorePushIdentifierSessionKey stores the session key for a push
// identifier, encrypted when the store has a key.
func (s *SQLiteStore) StorePushIdentifierSessionKey(ctx context.Context, pushIdentifierID, sessionKeyB64 string) error {
	value := sessionKeyB64
	if s.enc != nil {
		sealed, err := s.enc.Encrypt(sessionKeyB64)
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrStore, err)
		}
		value = sealed
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO push_session_keys (push_identifier_id, session_key) VALUES (?, ?)
		ON CONFLICT(push_identifier_id) DO UPDATE SET session_key = excluded.session_key`,
		pushIdentifierID, value,
	)
	if err != nil {
		return fmt.Errorf("%w: store session key: %w", domain.ErrStore, err)
	}
	return nil
}

// PushIdentifierSessionKey returns the stored session key. It fails with
// ErrNotFound when none is stored.
func (s *SQLiteStore) PushIdentifierSessionKey(ctx context.Context, pushIdentifierID string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT session_key FROM push_session_keys WHERE push_identifier_id = ?", pushIdentifierID,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: session key for %q", domain.ErrNotFound, pushIdentifierID)
	}
	if err != nil {
		return "", fmt.Errorf("%w: read session key: %w", domain.ErrStore, err)
	}
	if s.enc == nil {
		if strings.HasPrefix(value, "enc:") {
			return "", fmt.Errorf("%w: session key is encrypted but no key is configured", domain.ErrDecryption)
		}
		return value, nil
	}
	return s.enc.Decrypt(value)
}
