package fsutil

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ExpandHome expands a leading '~' to the user's home directory.
func ExpandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}

// PathExists checks if the given path exists.
func PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, os.ErrNotExist)
}

// ResolveBinary expands and verifies an executable path: a bare name is
// looked up on PATH, anything else must exist on disk.
func ResolveBinary(path string) (string, error) {
	expanded, err := ExpandHome(path)
	if err != nil {
		return "", err
	}
	if !strings.ContainsRune(expanded, os.PathSeparator) {
		found, err := exec.LookPath(expanded)
		if err != nil {
			return "", fmt.Errorf("binary %q not on PATH: %w", expanded, err)
		}
		return found, nil
	}
	if !PathExists(expanded) {
		return "", fmt.Errorf("binary not found: %s", expanded)
	}
	return expanded, nil
}
