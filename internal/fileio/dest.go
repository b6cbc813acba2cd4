package fileio

import (
	"fmt"
	"os"
	"path/filepath"
)

// ResolveDestDir validates a destination directory for received files,
// creating it when its parent already exists.
func ResolveDestDir(dir string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("destination directory is required")
	}

	if info, err := os.Stat(dir); err == nil {
		if !info.IsDir() {
			return "", fmt.Errorf("destination path %q exists but is not a directory", dir)
		}
		return dir, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("cannot access destination path: %w", err)
	}

	parent := filepath.Dir(dir)
	if info, err := os.Stat(parent); err != nil || !info.IsDir() {
		return "", fmt.Errorf("parent directory does not exist: %s", parent)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create destination directory: %w", err)
	}

	return dir, nil
}
