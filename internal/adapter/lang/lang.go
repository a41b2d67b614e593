package lang

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/language"

	"deskbridge/internal/domain"
)

// Localizer tracks the UI language chosen by the renderers. It implements
// domain.Localizer.
type Localizer struct {
	bus    domain.EventBus
	logger *slog.Logger

	mu      sync.RWMutex
	current language.Tag
}

// NewLocalizer creates a localizer starting at initial, or English when
// initial does not parse.
func NewLocalizer(initial string, bus domain.EventBus, logger *slog.Logger) *Localizer {
	tag, err := language.Parse(initial)
	if err != nil {
		tag = language.English
	}
	return &Localizer{bus: bus, logger: logger, current: tag}
}

// SetLanguage switches to sel.LanguageTag, falling back to sel.Code.
func (l *Localizer) SetLanguage(ctx context.Context, sel domain.LanguageSpec) error {
	tag, err := language.Parse(sel.LanguageTag)
	if err != nil {
		tag, err = language.Parse(sel.Code)
	}
	if err != nil {
		return fmt.Errorf("%w: language %q / %q", domain.ErrInvalidInput, sel.LanguageTag, sel.Code)
	}

	l.mu.Lock()
	changed := tag != l.current
	l.current = tag
	l.mu.Unlock()

	if !changed {
		return nil
	}
	l.logger.Info("language changed", "tag", tag.String())
	if l.bus != nil {
		l.bus.Publish(ctx, domain.NewEvent(domain.EventLanguageChanged, 0, map[string]string{
			"languageTag": tag.String(),
		}))
	}
	return nil
}

// Current returns the active language tag.
func (l *Localizer) Current() language.Tag {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// SpellChecker lists configured spell-check languages that have a
// dictionary installed. It implements domain.SpellChecker.
type SpellChecker struct {
	languages     []string
	dictionaryDir string
	logger        *slog.Logger
}

// NewSpellChecker creates a spell checker over the configured languages.
func NewSpellChecker(languages []string, dictionaryDir string, logger *slog.Logger) *SpellChecker {
	return &SpellChecker{languages: languages, dictionaryDir: dictionaryDir, logger: logger}
}

// AvailableLanguages returns the canonical BCP 47 tags of the configured
// languages. When the dictionary directory exists, only languages with a
// hunspell dictionary in it are listed.
func (s *SpellChecker) AvailableLanguages(_ context.Context) ([]string, error) {
	installed, checkInstalled := s.installed()
	seen := make(map[string]bool)
	var out []string
	for _, l := range s.languages {
		tag, err := language.Parse(l)
		if err != nil {
			s.logger.Warn("ignoring invalid spellcheck language", "language", l)
			continue
		}
		name := tag.String()
		if seen[name] {
			continue
		}
		if checkInstalled && !installed[dictKey(name)] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	sort.Strings(out)
	if out == nil {
		out = []string{}
	}
	return out, nil
}

// installed lists the .dic files of the dictionary dir keyed like dictKey.
func (s *SpellChecker) installed() (map[string]bool, bool) {
	if s.dictionaryDir == "" {
		return nil, false
	}
	matches, err := filepath.Glob(filepath.Join(s.dictionaryDir, "*.dic"))
	if err != nil {
		return nil, false
	}
	if _, err := os.Stat(s.dictionaryDir); err != nil {
		return nil, false
	}
	out := make(map[string]bool, len(matches))
	for _, m := range matches {
		out[dictKey(strings.TrimSuffix(filepath.Base(m), ".dic"))] = true
	}
	return out, true
}

// dictKey normalizes "en_US" and "en-US" to the same key.
func dictKey(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "_", "-"))
}
