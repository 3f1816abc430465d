// Package sandbox confines all file access to one exported directory tree.
//
// Every path a client sends is resolved against the export root before any
// filesystem call; a path that escapes the root, whether by dot-dot
// traversal or through a symlink pointing outside the tree, is rejected.
// The view is read-only at the protocol layer too: the handlers refuse
// writes before a path is even resolved.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrPathEscape marks a client path that would leave the export root.
var ErrPathEscape = errors.New("path escapes the export root")

// View is a read-only window onto one directory tree.
type View struct {
	root string // absolute, symlink-resolved
}

// NewView opens a view on root, which must be an existing directory.
func NewView(root string) (*View, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve export root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve export root: %w", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to stat export root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("export root %s is not a directory", root)
	}
	return &View{root: resolved}, nil
}

// Root returns the resolved export root.
func (v *View) Root() string {
	return v.root
}

// Resolve maps a client path to a filesystem path under the root. Paths
// are slash separated; absolute and relative paths both resolve against
// the export root.
func (v *View) Resolve(requested string) (string, error) {
	rel := path.Clean(strings.TrimPrefix(requested, "/"))
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%q: %w", requested, ErrPathEscape)
	}

	full := v.root
	if rel != "." && rel != "" {
		full = filepath.Join(v.root, filepath.FromSlash(rel))
	}
	if !v.contains(full) {
		return "", fmt.Errorf("%q: %w", requested, ErrPathEscape)
	}

	// A symlink inside the tree may still point outside it.
	if err := v.checkSymlinks(full, requested); err != nil {
		return "", err
	}
	return full, nil
}

func (v *View) contains(p string) bool {
	return p == v.root || strings.HasPrefix(p, v.root+string(filepath.Separator))
}

// checkSymlinks resolves the nearest existing ancestor of full and rejects
// the path when the resolved location lies outside the root. Nonexistent
// trailing components are fine; the filesystem call reports those.
func (v *View) checkSymlinks(full, requested string) error {
	probe := full
	for {
		resolved, err := filepath.EvalSymlinks(probe)
		if err == nil {
			if !v.contains(resolved) {
				return fmt.Errorf("%q: %w", requested, ErrPathEscape)
			}
			return nil
		}
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to resolve %q: %w", requested, err)
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			return nil
		}
		probe = parent
	}
}
