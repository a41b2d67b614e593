package dialog

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"deskbridge/internal/domain"
)

// Zenity opens native dialogs through the zenity binary. It implements
// domain.Dialogs.
type Zenity struct {
	path string
}

// Detect returns a Zenity dialog provider, or ErrNoDialog when zenity is
// not installed.
func Detect() (*Zenity, error) {
	path, err := exec.LookPath("zenity")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrNoDialog, err)
	}
	return &Zenity{path: path}, nil
}

// ChooseDirectory asks the user for a directory. A cancelled dialog yields
// an empty list.
func (z *Zenity) ChooseDirectory(ctx context.Context) ([]string, error) {
	out, err := exec.CommandContext(ctx, z.path, "--file-selection", "--directory").Output()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("zenity: %w", err)
	}
	return parseSelection(string(out)), nil
}

// parseSelection splits zenity's "|"-separated output.
func parseSelection(out string) []string {
	out = strings.TrimRight(out, "\r\n")
	if out == "" {
		return []string{}
	}
	return strings.Split(out, "|")
}
