package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// Guard decides whether a caller-supplied path lies within a fixed root.
// A Guard is immutable and safe for concurrent use.
type Guard struct {
	// root is the absolute, symlink-free root.
	root string
	// alias is the root as supplied (cleaned and absolute). It differs from
	// root when the supplied path traverses a symlink, e.g. /tmp on macOS.
	alias string
}

// NewGuard returns a Guard rooted at root, which must be an existing directory.
func NewGuard(root string) (*Guard, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %q: %w", root, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %q: %w", root, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to stat root %q: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %q is not a directory", root)
	}
	return &Guard{root: resolved, alias: filepath.Clean(abs)}, nil
}

// Root returns the absolute root directory.
func (g *Guard) Root() string { return g.root }

// Admit resolves candidate against the root and reports whether the result is
// the root itself or one of its descendants. Relative candidates are taken
// relative to the root. Symlinks below the root are followed when they stay
// inside it and re-rooted under it otherwise, so the returned path is safe
// to open.
func (g *Guard) Admit(candidate string) (string, bool) {
	return g.admit(candidate, true)
}

// AdmitEntry is like Admit but leaves the final path element unresolved, so
// that operations on the entry itself (such as removing a symlink) act on the
// link and not on its target.
func (g *Guard) AdmitEntry(candidate string) (string, bool) {
	return g.admit(candidate, false)
}

func (g *Guard) admit(candidate string, followLast bool) (string, bool) {
	target := candidate
	switch {
	case target == "":
		target = g.root
	case !filepath.IsAbs(target):
		target = filepath.Join(g.root, target)
	}
	target = filepath.Clean(target)

	rel, ok := within(g.root, target)
	if !ok && g.alias != g.root {
		rel, ok = within(g.alias, target)
	}
	if !ok {
		return target, false
	}

	if !followLast && rel != "." {
		parent, err := g.resolve(filepath.Dir(rel))
		if err != nil {
			return target, false
		}
		return filepath.Join(parent, filepath.Base(rel)), true
	}
	resolved, err := g.resolve(rel)
	if err != nil {
		return target, false
	}
	return resolved, true
}

// resolve follows the symlinks in rel the way the OS would. When that lands
// outside the root, or cannot be determined, links are instead re-rooted
// under it.
func (g *Guard) resolve(rel string) (string, error) {
	if real, err := realPath(filepath.Join(g.root, rel)); err == nil {
		if _, ok := within(g.root, real); ok {
			return real, nil
		}
	}
	return securejoin.SecureJoin(g.root, rel)
}

// realPath resolves the longest existing prefix of path and appends the
// missing remainder. A dangling symlink is an error, since the OS would
// follow it on create.
func realPath(path string) (string, error) {
	var rest []string
	cur := path
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(append([]string{resolved}, rest...)...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		if _, lerr := os.Lstat(cur); lerr == nil {
			return "", fmt.Errorf("dangling symlink %s", cur)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", err
		}
		rest = append([]string{filepath.Base(cur)}, rest...)
		cur = parent
	}
}

// Rel returns path relative to the root, or path unchanged if it cannot be
// expressed that way.
func (g *Guard) Rel(path string) string {
	rel, err := filepath.Rel(g.root, path)
	if err != nil {
		return path
	}
	return rel
}

// within reports whether target equals base or descends from it, comparing
// whole path segments. It returns target relative to base.
func within(base, target string) (string, bool) {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}
