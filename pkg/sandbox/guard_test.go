package sandbox_test

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/nstogner/devcli/pkg/sandbox"
)

func newGuard(t *testing.T, root string) *sandbox.Guard {
	t.Helper()
	g, err := sandbox.NewGuard(root)
	if err != nil {
		t.Fatalf("NewGuard(%q) failed: %v", root, err)
	}
	return g
}

func TestGuard_Admit(t *testing.T) {
	root := t.TempDir()
	g := newGuard(t, root)

	tests := []struct {
		name      string
		candidate string
		allowed   bool
		want      string
	}{
		{name: "empty means root", candidate: "", allowed: true, want: g.Root()},
		{name: "dot", candidate: ".", allowed: true, want: g.Root()},
		{name: "relative file", candidate: "notes.txt", allowed: true, want: filepath.Join(g.Root(), "notes.txt")},
		{name: "nested relative", candidate: "a/b/c.go", allowed: true, want: filepath.Join(g.Root(), "a", "b", "c.go")},
		{name: "dotdot that stays inside", candidate: "a/../b.txt", allowed: true, want: filepath.Join(g.Root(), "b.txt")},
		{name: "absolute inside", candidate: filepath.Join(root, "x.txt"), allowed: true, want: filepath.Join(g.Root(), "x.txt")},
		{name: "escape with dotdot", candidate: "../../etc/passwd", allowed: false},
		{name: "parent of root", candidate: "..", allowed: false},
		{name: "absolute outside", candidate: filepath.Dir(g.Root()), allowed: false},
		{name: "child named with dots", candidate: "..hidden", allowed: true, want: filepath.Join(g.Root(), "..hidden")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := g.Admit(tt.candidate)
			if ok != tt.allowed {
				t.Fatalf("Admit(%q) allowed = %v, want %v (resolved %q)", tt.candidate, ok, tt.allowed, got)
			}
			if ok && got != tt.want {
				t.Errorf("Admit(%q) = %q, want %q", tt.candidate, got, tt.want)
			}
		})
	}
}

func TestGuard_SiblingWithSharedPrefix(t *testing.T) {
	base := t.TempDir()
	for _, dir := range []string{"b", "bc"} {
		if err := os.Mkdir(filepath.Join(base, dir), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	g := newGuard(t, filepath.Join(base, "b"))

	if _, ok := g.Admit(filepath.Join(base, "bc", "secret.txt")); ok {
		t.Errorf("Expected sibling directory sharing a name prefix to be denied")
	}
	if _, ok := g.Admit("../bc/secret.txt"); ok {
		t.Errorf("Expected relative path into sibling to be denied")
	}
	if _, ok := g.Admit(filepath.Join(base, "b", "ok.txt")); !ok {
		t.Errorf("Expected file inside root to be admitted")
	}
}

func TestGuard_SymlinkEscapeIsClamped(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	root := t.TempDir()
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}
	g := newGuard(t, root)

	got, ok := g.Admit("link/passwd")
	if !ok {
		t.Fatalf("Expected path through in-root symlink to be admitted")
	}
	rel, err := filepath.Rel(g.Root(), got)
	if err != nil || strings.HasPrefix(rel, "..") {
		t.Errorf("Resolved path %q escapes root %q", got, g.Root())
	}

	// The entry form leaves the link itself addressable.
	entry, ok := g.AdmitEntry("link")
	if !ok || entry != filepath.Join(g.Root(), "link") {
		t.Errorf("AdmitEntry(link) = %q, %v", entry, ok)
	}
}

func TestGuard_AbsoluteSymlinkInsideRoot(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	g := newGuard(t, t.TempDir())
	root := g.Root()
	if err := os.WriteFile(filepath.Join(root, "data.txt"), []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	for link, target := range map[string]string{
		"alias.txt": filepath.Join(root, "data.txt"),
		"subdir":    filepath.Join(root, "sub"),
		"dangling":  filepath.Join(t.TempDir(), "created-outside"),
	} {
		if err := os.Symlink(target, filepath.Join(root, link)); err != nil {
			t.Fatalf("Failed to create symlink: %v", err)
		}
	}

	t.Logf("Testing that an absolute link to an in-root file is followed")
	if got, ok := g.Admit("alias.txt"); !ok || got != filepath.Join(root, "data.txt") {
		t.Errorf("Admit(alias.txt) = %q, %v", got, ok)
	}
	files := sandbox.NewFiles(g)
	content, err := files.Read("alias.txt")
	if err != nil || content != "payload" {
		t.Errorf("Read(alias.txt) = %q, %v", content, err)
	}

	t.Logf("Testing that a new file under an absolute directory link lands in the target")
	if err := files.Write("subdir/new.txt", "x"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "sub", "new.txt")); err != nil {
		t.Errorf("Expected sub/new.txt: %v", err)
	}

	t.Logf("Testing that a dangling link to the outside stays contained")
	got, ok := g.Admit("dangling")
	if !ok {
		t.Fatalf("Expected dangling link to be admitted")
	}
	if rel, err := filepath.Rel(root, got); err != nil || strings.HasPrefix(rel, "..") {
		t.Errorf("Resolved path %q escapes root %q", got, root)
	}
}

func TestNewGuard_RejectsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := sandbox.NewGuard(file); err == nil {
		t.Errorf("Expected error for non-directory root")
	}
	if _, err := sandbox.NewGuard(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Errorf("Expected error for missing root")
	}
}

func TestGuard_Rel(t *testing.T) {
	g := newGuard(t, t.TempDir())
	if got := g.Rel(filepath.Join(g.Root(), "sub", "a.txt")); got != filepath.Join("sub", "a.txt") {
		t.Errorf("Rel = %q", got)
	}
}
