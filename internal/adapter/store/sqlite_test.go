package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskbridge/internal/domain"
)

func newTestStore(t *testing.T, passphrase string) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deskbridge.db")
	s, err := Open(path, passphrase, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestConfigVars(t *testing.T) {
	s, _ := newTestStore(t, "")
	ctx := context.Background()

	v, err := s.GetVar(ctx, "spellcheck")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, s.SetVar(ctx, "spellcheck", json.RawMessage(`"de-DE"`)))
	v, err = s.GetVar(ctx, "spellcheck")
	require.NoError(t, err)
	assert.JSONEq(t, `"de-DE"`, string(v))

	require.NoError(t, s.SetVar(ctx, "spellcheck", json.RawMessage(`{"lang":"en"}`)))
	v, _ = s.GetVar(ctx, "spellcheck")
	assert.JSONEq(t, `{"lang":"en"}`, string(v))

	require.NoError(t, s.SetVar(ctx, "spellcheck", json.RawMessage(`null`)))
	v, _ = s.GetVar(ctx, "spellcheck")
	assert.Nil(t, v)
}

func TestSetVarRejectsInvalidJSON(t *testing.T) {
	s, _ := newTestStore(t, "")
	err := s.SetVar(context.Background(), "k", json.RawMessage(`{broken`))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestStorePushIdentifier(t *testing.T) {
	s, _ := newTestStore(t, "")
	ctx := context.Background()

	info, err := s.SseInfo(ctx)
	require.NoError(t, err)
	assert.Nil(t, info)

	require.NoError(t, s.StorePushIdentifier(ctx, "id-1", "user-a", "https://mail.example"))
	require.NoError(t, s.StorePushIdentifier(ctx, "id-1", "user-b", "https://mail.example"))
	require.NoError(t, s.StorePushIdentifier(ctx, "id-1", "user-a", "https://mail.example"))

	info, err = s.SseInfo(ctx)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, domain.SseInfo{
		Identifier: "id-1",
		SseOrigin:  "https://mail.example",
		UserIDs:    []string{"user-a", "user-b"},
	}, *info)

	// A new identifier replaces the registration.
	require.NoError(t, s.StorePushIdentifier(ctx, "id-2", "user-c", "https://mail.example"))
	info, _ = s.SseInfo(ctx)
	assert.Equal(t, "id-2", info.Identifier)
	assert.Equal(t, []string{"user-c"}, info.UserIDs)
}

func TestSessionKeysEncryptedAtRest(t *testing.T) {
	s, path := newTestStore(t, "device-key")
	ctx := context.Background()

	require.NoError(t, s.StorePushIdentifierSessionKey(ctx, "pi-1", "c2Vzc2lvbmtleQ=="))
	got, err := s.PushIdentifierSessionKey(ctx, "pi-1")
	require.NoError(t, err)
	assert.Equal(t, "c2Vzc2lvbmtleQ==", got)

	raw, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer raw.Close()
	var stored string
	require.NoError(t, raw.QueryRow("SELECT session_key FROM push_session_keys WHERE push_identifier_id = 'pi-1'").Scan(&stored))
	assert.True(t, strings.HasPrefix(stored, "enc:"), "stored value should be sealed, got %q", stored)
}

func TestSessionKeysSurviveReopen(t *testing.T) {
	s, path := newTestStore(t, "device-key")
	ctx := context.Background()
	require.NoError(t, s.StorePushIdentifierSessionKey(ctx, "pi-1", "a2V5"))
	require.NoError(t, s.Close())

	reopened, err := Open(path, "device-key", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.PushIdentifierSessionKey(ctx, "pi-1")
	require.NoError(t, err)
	assert.Equal(t, "a2V5", got)
}

func TestSessionKeyMissing(t *testing.T) {
	s, _ := newTestStore(t, "")
	_, err := s.PushIdentifierSessionKey(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSessionKeySealedWithoutKey(t *testing.T) {
	s, path := newTestStore(t, "device-key")
	require.NoError(t, s.StorePushIdentifierSessionKey(context.Background(), "pi-1", "a2V5"))
	require.NoError(t, s.Close())

	plain, err := Open(path, "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer plain.Close()

	_, err = plain.PushIdentifierSessionKey(context.Background(), "pi-1")
	assert.ErrorIs(t, err, domain.ErrDecryption)
}
