package files

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"deskbridge/internal/domain"
)

const maxNameBytes = 255

// SanitizeName turns a renderer-supplied file name into a safe basename.
// Separators, reserved and control characters become '_'; leading and
// trailing dots and spaces are dropped.
func SanitizeName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\':
			return '_'
		case strings.ContainsRune(`<>:"|?*`, r):
			return '_'
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, name)
	name = strings.Trim(name, ". ")
	if name == "" {
		return "download"
	}
	if len(name) > maxNameBytes {
		ext := filepath.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		base := name[:maxNameBytes-len(ext)]
		for !utf8.ValidString(base) {
			base = base[:len(base)-1]
		}
		name = base + ext
	}
	return name
}

// linkUnused hard-links src into dir as name, or as "stem (n).ext" for the
// first n not taken yet, and returns the claimed path. The link either
// creates the name or fails with ErrExist, so concurrent savers never share
// a target.
func linkUnused(src, dir, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	p := filepath.Join(dir, name)
	for i := 1; i <= 10000; i++ {
		err := os.Link(src, p)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
		p = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
	}
	return "", fmt.Errorf("no free file name for %q in %s", name, dir)
}

// within reports whether path lies inside dir.
func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)
}

// resolveIn joins name onto dir, rejecting anything that escapes it.
func resolveIn(dir, name string) (string, error) {
	p := filepath.Join(dir, name)
	if !within(dir, p) {
		return "", fmt.Errorf("%w: %q", domain.ErrPathOutsideDir, name)
	}
	return p, nil
}
