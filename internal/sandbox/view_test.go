package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestView(t *testing.T) (*View, string) {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "reports"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "reports", "file.csv"), []byte("a,b\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	v, err := NewView(root)
	if err != nil {
		t.Fatalf("NewView() error: %v", err)
	}
	return v, v.Root()
}

func TestResolveWithinRoot(t *testing.T) {
	v, root := newTestView(t)

	tests := []struct {
		name      string
		requested string
		want      string
	}{
		{"relative", "reports/file.csv", filepath.Join(root, "reports", "file.csv")},
		{"absolute is root relative", "/reports/file.csv", filepath.Join(root, "reports", "file.csv")},
		{"root itself", "/", root},
		{"empty", "", root},
		{"dot", ".", root},
		{"internal dot dot", "reports/../reports/file.csv", filepath.Join(root, "reports", "file.csv")},
		{"nonexistent leaf", "reports/missing.csv", filepath.Join(root, "reports", "missing.csv")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Resolve(tt.requested)
			if err != nil {
				t.Fatalf("Resolve(%q) error: %v", tt.requested, err)
			}
			if got != tt.want {
				t.Errorf("Resolve(%q): got %s, want %s", tt.requested, got, tt.want)
			}
		})
	}
}

func TestResolveRejectsEscapes(t *testing.T) {
	v, _ := newTestView(t)

	tests := []string{
		"..",
		"../",
		"../../etc/passwd",
		"reports/../../etc/passwd",
		"reports/../../../x",
	}

	for _, requested := range tests {
		t.Run(requested, func(t *testing.T) {
			_, err := v.Resolve(requested)
			if !errors.Is(err, ErrPathEscape) {
				t.Fatalf("Resolve(%q): got %v, want ErrPathEscape", requested, err)
			}
		})
	}
}

func TestResolveRejectsSymlinkEscape(t *testing.T) {
	v, root := newTestView(t)

	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "secret"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := os.Symlink(outside, filepath.Join(root, "leak")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	if _, err := v.Resolve("leak/secret"); !errors.Is(err, ErrPathEscape) {
		t.Fatalf("symlink escape: got %v, want ErrPathEscape", err)
	}
}

func TestResolveAllowsInternalSymlink(t *testing.T) {
	v, root := newTestView(t)

	if err := os.Symlink(filepath.Join(root, "reports"), filepath.Join(root, "latest")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	if _, err := v.Resolve("latest/file.csv"); err != nil {
		t.Fatalf("internal symlink rejected: %v", err)
	}
}

func TestNewViewRejectsBadRoot(t *testing.T) {
	if _, err := NewView(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("NewView accepted a nonexistent root")
	}

	file := filepath.Join(t.TempDir(), "plain")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := NewView(file); err == nil {
		t.Error("NewView accepted a plain file as root")
	}
}
