// Package backup preserves pre-write file contents so any applied change
// can be rolled back by hand or by the applicator itself.
package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"coda/model"
)

// Error wraps a failed backup or restore for one path.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("backup %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

const timeLayout = "20060102T150405.000000"

// Manager copies files into a mirror tree under the backup root before
// they are overwritten or deleted. Backups are never removed by the tool.
type Manager struct {
	root    string
	project string
}

// NewManager returns a Manager writing under root; mirrored paths are
// taken relative to project.
func NewManager(project, root string) *Manager {
	return &Manager{root: root, project: project}
}

// Root returns the backup root directory.
func (m *Manager) Root() string { return m.root }

// Create snapshots the current content of path and returns the record
// needed to restore it. A failed backup must abort that path's apply.
func (m *Manager) Create(path string) (model.BackupRecord, error) {
	rel, err := filepath.Rel(m.project, path)
	if err != nil || !filepath.IsLocal(rel) {
		rel = filepath.Base(path)
	}
	now := time.Now().UTC()
	name := fmt.Sprintf("%s.%s.bak", filepath.Base(rel), now.Format(timeLayout))
	dst := filepath.Join(m.root, filepath.Dir(rel), name)

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return model.BackupRecord{}, &Error{Path: path, Err: err}
	}
	if err := copyFile(path, dst); err != nil {
		return model.BackupRecord{}, &Error{Path: path, Err: err}
	}
	return model.BackupRecord{
		OriginalPath: path,
		BackupPath:   dst,
		CapturedAt:   now,
	}, nil
}

// Restore copies the backed-up bytes over the original path, recreating
// parent directories if the apply deleted them.
func (m *Manager) Restore(rec model.BackupRecord) error {
	if err := os.MkdirAll(filepath.Dir(rec.OriginalPath), 0o755); err != nil {
		return &Error{Path: rec.OriginalPath, Err: err}
	}
	if err := copyFile(rec.BackupPath, rec.OriginalPath); err != nil {
		return &Error{Path: rec.OriginalPath, Err: err}
	}
	return nil
}

// copyFile streams src to dst, preserving the source file mode.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
