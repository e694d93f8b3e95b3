// Package filex holds small filesystem helpers for the local state directory
// and downloaded archives.
package filex

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnsureDir creates dir (relative paths are resolved against the working
// directory, a leading "~/" against the home directory) and returns its
// absolute path.
func EnsureDir(dir string) (string, error) {
	if strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("home dir: %w", err)
		}
		dir = filepath.Join(home, dir[2:])
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("abs %s: %w", dir, err)
	}

	if err := os.MkdirAll(abs, 0o700); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", abs, err)
	}

	return abs, nil
}

// AtomicFile is written under a temporary name next to its final path and
// only appears at that path after Commit.
type AtomicFile struct {
	*os.File
	final string
	done  bool
}

func CreateAtomic(path string) (*AtomicFile, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".part-*")
	if err != nil {
		return nil, fmt.Errorf("create temp for %s: %w", path, err)
	}
	return &AtomicFile{File: f, final: path}, nil
}

// Commit closes the file and renames it into place.
func (a *AtomicFile) Commit() error {
	if a.done {
		return errors.New("atomic file already finished")
	}
	a.done = true
	if err := a.File.Close(); err != nil {
		_ = os.Remove(a.Name())
		return err
	}
	return os.Rename(a.Name(), a.final)
}

// Abort discards the temporary file. It is a no-op after Commit.
func (a *AtomicFile) Abort() {
	if a.done {
		return
	}
	a.done = true
	_ = a.File.Close()
	_ = os.Remove(a.Name())
}
