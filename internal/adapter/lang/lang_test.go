package lang

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"deskbridge/internal/domain"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestSetLanguage(t *testing.T) {
	l := NewLocalizer("not a tag!", nil, discardLogger())
	assert.Equal(t, language.English, l.Current())

	require.NoError(t, l.SetLanguage(context.Background(), domain.LanguageSpec{Code: "de", LanguageTag: "de-DE"}))
	assert.Equal(t, "de-DE", l.Current().String())

	require.NoError(t, l.SetLanguage(context.Background(), domain.LanguageSpec{Code: "fr", LanguageTag: ""}))
	assert.Equal(t, "fr", l.Current().String())

	err := l.SetLanguage(context.Background(), domain.LanguageSpec{Code: "??", LanguageTag: "!!"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, "fr", l.Current().String())
}

func TestAvailableLanguagesFiltersByDictionary(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"en_US.dic", "de_DE.dic", "de_DE.aff"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	s := NewSpellChecker([]string{"en-US", "de_DE", "fr-FR", "en-us", "bad tag!"}, dir, discardLogger())

	got, err := s.AvailableLanguages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"de-DE", "en-US"}, got)
}

func TestAvailableLanguagesWithoutDictionaryDir(t *testing.T) {
	s := NewSpellChecker([]string{"en-US", "fr"}, filepath.Join(t.TempDir(), "missing"), discardLogger())
	got, err := s.AvailableLanguages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"en-US", "fr"}, got)

	empty := NewSpellChecker(nil, "", discardLogger())
	got, err = empty.AvailableLanguages(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
