package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"coda/model"
)

// PathEscapeError reports a candidate path that normalizes outside the
// project root. Such a path must never reach the filesystem.
type PathEscapeError struct {
	Path string
}

func (e *PathEscapeError) Error() string {
	return fmt.Sprintf("path escapes project root: %s", e.Path)
}

// Resolver maps project-relative candidate paths to absolute paths and
// rejects anything that would land outside the project root.
type Resolver struct {
	root string
}

// NewResolver creates a Resolver anchored at root.
func NewResolver(root string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving project root: %w", err)
	}
	return &Resolver{root: abs}, nil
}

// Root returns the absolute project root.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve returns the absolute path for a project-relative candidate path.
// Absolute inputs and inputs whose cleaned form leaves the root yield a
// PathEscapeError.
func (r *Resolver) Resolve(relative string) (string, error) {
	if relative == "" {
		return "", fmt.Errorf("empty path")
	}
	if filepath.IsAbs(relative) {
		return "", &PathEscapeError{Path: relative}
	}
	abs := filepath.Join(r.root, filepath.Clean(relative))
	rel, err := filepath.Rel(r.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &PathEscapeError{Path: relative}
	}
	return abs, nil
}

// Rel converts an absolute path under the root back to project-relative form.
func (r *Resolver) Rel(abs string) string {
	rel, err := filepath.Rel(r.root, abs)
	if err != nil {
		return abs
	}
	return rel
}

// FinalizeOp pins down create vs modify against the current filesystem
// state. The parser tags everything with content as a create; the stat here,
// at apply time, is authoritative. Deletes pass through untouched.
func FinalizeOp(op model.Operation, abs string) model.Operation {
	if op == model.OpDelete {
		return op
	}
	if _, err := os.Stat(abs); err == nil {
		return model.OpModify
	}
	return model.OpCreate
}

// ValidFilename reports whether a parsed token is plausible as a file path:
// no whitespace or shell-hostile characters, bounded length, and at least
// one of an extension dot or a directory separator.
func ValidFilename(name string) bool {
	if name == "" || len(name) > 200 {
		return false
	}
	if strings.HasPrefix(name, "-") {
		return false
	}
	if strings.ContainsAny(name, " \t\n<>:\"|?*") {
		return false
	}
	return strings.Contains(name, ".") || strings.Contains(name, "/")
}
