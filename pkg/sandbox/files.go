package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// Files performs filesystem operations contained within a Guard's root.
//
// Every operation checks containment first and fails with an *Error of kind
// KindAccessDenied when the path lies outside the root.
type Files struct {
	guard *Guard
	locks *pathLocks
}

// NewFiles creates a Files bound to guard.
func NewFiles(guard *Guard) *Files {
	return &Files{guard: guard, locks: newPathLocks()}
}

// Guard returns the guard the store is bound to.
func (f *Files) Guard() *Guard { return f.guard }

// Read returns the contents of the file at path verbatim.
func (f *Files) Read(path string) (string, error) {
	full, ok := f.guard.Admit(path)
	if !ok {
		return "", denied(path)
	}

	slog.Info("Reading file", "path", path, "resolved", full)
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &Error{Kind: KindNotFound, Path: path, Err: err}
		}
		return "", &Error{Kind: KindIO, Path: path, Err: err}
	}
	return string(data), nil
}

// Write creates or truncates the file at path and writes content to it.
// Parent directories are not created.
func (f *Files) Write(path, content string) error {
	full, ok := f.guard.Admit(path)
	if !ok {
		return denied(path)
	}

	unlock := f.locks.lock(full)
	defer unlock()

	slog.Info("Writing file", "path", path, "resolved", full, "size", len(content))
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return &Error{Kind: KindIO, Path: path, Err: err}
	}
	return nil
}

// Delete removes the file at path. Directories are not removed.
func (f *Files) Delete(path string) error {
	full, ok := f.guard.AdmitEntry(path)
	if !ok {
		return denied(path)
	}

	unlock := f.locks.lock(full)
	defer unlock()

	info, err := os.Lstat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Error{Kind: KindNotFound, Path: path, Err: err}
		}
		return &Error{Kind: KindIO, Path: path, Err: err}
	}
	if info.IsDir() {
		return &Error{Kind: KindIO, Path: path, Err: fmt.Errorf("is a directory")}
	}

	slog.Info("Deleting file", "path", path, "resolved", full)
	if err := os.Remove(full); err != nil {
		return &Error{Kind: KindIO, Path: path, Err: err}
	}
	return nil
}

// List walks dir recursively and returns the path of every regular file,
// relative to the root, in lexical order. A missing directory yields an
// empty list.
func (f *Files) List(dir string) ([]string, error) {
	if dir == "" {
		dir = "."
	}
	full, ok := f.guard.Admit(dir)
	if !ok {
		return nil, denied(dir)
	}

	slog.Info("Listing files", "path", dir, "resolved", full)
	files := []string{}
	err := filepath.WalkDir(full, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == full && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			slog.Debug("Skipping unreadable entry", "path", p, "error", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			files = append(files, f.guard.Rel(p))
		}
		return nil
	})
	if err != nil {
		return nil, &Error{Kind: KindIO, Path: dir, Err: err}
	}
	return files, nil
}

func denied(path string) error {
	slog.Warn("Path denied", "path", path)
	return &Error{Kind: KindAccessDenied, Path: path}
}
