package coda

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"coda/internal/backup"
	"coda/internal/fs"
	"coda/model"
)

// WriteError reports a failed mutation of a project file. Restored is set
// when the pre-write backup was copied back successfully, leaving the file
// as it was before the attempt.
type WriteError struct {
	Path     string
	Err      error
	Restored bool
}

func (e *WriteError) Error() string {
	msg := fmt.Sprintf("failed to write %s: %v", e.Path, e.Err)
	if e.Restored {
		msg += " (original restored from backup)"
	}
	return msg
}

func (e *WriteError) Unwrap() error { return e.Err }

// Applicator materializes accepted candidates inside one project root:
// resolve the path, settle create-vs-modify against what is actually on
// disk, back up anything about to be overwritten or deleted, then write
// or remove the file.
type Applicator struct {
	resolver *fs.Resolver
	backups  *backup.Manager
}

// NewApplicator builds an Applicator over an already-validated root.
func NewApplicator(resolver *fs.Resolver, backups *backup.Manager) *Applicator {
	return &Applicator{resolver: resolver, backups: backups}
}

// Apply runs a single accepted candidate. A path that escapes the project
// root fails before any filesystem access. A failed write after a backup
// restores the original bytes and records whether that restore succeeded.
func (a *Applicator) Apply(c model.Candidate) model.ApplyResult {
	abs, err := a.resolver.Resolve(c.Path)
	if err != nil {
		return model.ApplyResult{Candidate: c, Status: model.StatusFailed, Err: err}
	}

	c.Op = fs.FinalizeOp(c.Op, abs)

	var rec model.BackupRecord
	backed := false
	if c.Op == model.OpModify || c.Op == model.OpDelete {
		rec, err = a.backups.Create(abs)
		if err != nil {
			return model.ApplyResult{Candidate: c, Status: model.StatusFailed, Err: err}
		}
		backed = true
	}

	switch c.Op {
	case model.OpDelete:
		err = os.Remove(abs)
	default:
		if err = os.MkdirAll(filepath.Dir(abs), 0o755); err == nil {
			err = os.WriteFile(abs, []byte(c.Content), 0o644)
		}
	}
	if err != nil {
		werr := &WriteError{Path: c.Path, Err: err}
		if backed {
			if rerr := a.backups.Restore(rec); rerr != nil {
				slog.Error("restore after failed write", "path", c.Path, "err", rerr)
			} else {
				werr.Restored = true
			}
		}
		return model.ApplyResult{Candidate: c, Status: model.StatusFailed, Err: werr, Restored: werr.Restored}
	}

	slog.Info("applied change", "op", string(c.Op), "path", c.Path)
	return model.ApplyResult{Candidate: c, Status: model.StatusApplied}
}

// ApplyAll runs the candidates in decision order. One candidate's failure
// never stops its siblings. The second return value lists the
// project-relative paths that actually changed on disk, in apply order,
// ready for the turn's single commit.
func (a *Applicator) ApplyAll(cands []model.Candidate) ([]model.ApplyResult, []string) {
	results := make([]model.ApplyResult, 0, len(cands))
	var touched []string
	for _, c := range cands {
		r := a.Apply(c)
		results = append(results, r)
		if r.Status == model.StatusApplied {
			touched = append(touched, r.Candidate.Path)
		}
	}
	return results, touched
}
