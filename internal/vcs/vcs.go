// Package vcs records applied changes as git commits, one per assistant
// turn, and provides history and rollback over them.
package vcs

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// ErrNotRepo reports that the project directory is not a git repository.
var ErrNotRepo = errors.New("not a git repository")

// CommitError wraps a failed stage-and-commit. Changes are already on disk
// when this happens; callers downgrade to "applied but not committed"
// rather than failing the apply.
type CommitError struct {
	Paths []string
	Err   error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("committing %d path(s): %v", len(e.Paths), e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

const (
	authorName  = "coda"
	authorEmail = "coda@localhost"
)

// Repo is a git repository rooted at the project directory.
type Repo struct {
	dir  string
	repo *git.Repository
}

// Open opens the repository at dir, without searching parent directories.
func Open(dir string) (*Repo, error) {
	r, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNotRepo
	}
	if err != nil {
		return nil, err
	}
	return &Repo{dir: dir, repo: r}, nil
}

// Init creates a repository at dir, seeds .gitignore with the tool's own
// state directory, and records an initial commit.
func Init(dir string) (*Repo, error) {
	r, err := git.PlainInit(dir, false)
	if err != nil {
		return nil, err
	}
	repo := &Repo{dir: dir, repo: r}
	if err := repo.seedIgnore(); err != nil {
		return nil, err
	}
	return repo, nil
}

// EnsureRepo opens the repository at dir, initializing one if none exists.
func EnsureRepo(dir string) (*Repo, error) {
	r, err := Open(dir)
	if errors.Is(err, ErrNotRepo) {
		return Init(dir)
	}
	return r, err
}

// Dir returns the project directory.
func (r *Repo) Dir() string { return r.dir }

func (r *Repo) seedIgnore() error {
	path := filepath.Join(r.dir, ".gitignore")
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if !hasIgnoreLine(data, ".coda/") {
		if len(data) > 0 && !bytes.HasSuffix(data, []byte("\n")) {
			data = append(data, '\n')
		}
		data = append(data, ".coda/\n"...)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return err
		}
	}
	_, err = r.Commit([]string{".gitignore"}, "coda: initialize repository")
	return err
}

func hasIgnoreLine(data []byte, line string) bool {
	for _, l := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(l) == line {
			return true
		}
	}
	return false
}

// Commit stages exactly the given project-relative paths and records one
// commit. Missing paths stage as deletions.
func (r *Repo) Commit(paths []string, message string) (string, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return "", &CommitError{Paths: paths, Err: err}
	}
	for _, p := range paths {
		if _, err := wt.Add(p); err != nil {
			return "", &CommitError{Paths: paths, Err: fmt.Errorf("staging %s: %w", p, err)}
		}
	}
	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: authorName, Email: authorEmail, When: time.Now()},
	})
	if err != nil {
		return "", &CommitError{Paths: paths, Err: err}
	}
	return hash.String(), nil
}

// Head returns the short hash of the current HEAD commit.
func (r *Repo) Head() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", err
	}
	return shortHash(head.Hash()), nil
}

// CommitSummary is one history entry.
type CommitSummary struct {
	Hash    string // short
	When    time.Time
	Message string // subject line
}

func (c CommitSummary) String() string {
	return fmt.Sprintf("%s - %s - %s", c.Hash, c.When.Format("2006-01-02 15:04"), c.Message)
}

// History returns up to limit recent commits, newest first. limit <= 0
// means no limit.
func (r *Repo) History(limit int) ([]CommitSummary, error) {
	head, err := r.repo.Head()
	if err != nil {
		return nil, err
	}
	iter, err := r.repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []CommitSummary
	err = iter.ForEach(func(c *object.Commit) error {
		if limit > 0 && len(out) >= limit {
			return storer.ErrStop
		}
		subject, _, _ := strings.Cut(c.Message, "\n")
		out = append(out, CommitSummary{
			Hash:    shortHash(c.Hash),
			When:    c.Author.When,
			Message: subject,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RevertLast hard-resets to the parent of HEAD, undoing the most recent
// commit's files, and returns the paths that were restored. A non-empty
// commitID guards against reverting a commit the tool did not author:
// HEAD must match it or nothing happens.
func (r *Repo) RevertLast(commitID string) ([]string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return nil, err
	}
	commit, err := r.repo.CommitObject(head.Hash())
	if err != nil {
		return nil, err
	}
	if commitID != "" && !strings.HasPrefix(commit.Hash.String(), commitID) {
		return nil, fmt.Errorf("HEAD %s is not the expected commit %s", shortHash(commit.Hash), commitID)
	}
	parent, err := commit.Parent(0)
	if err != nil {
		return nil, fmt.Errorf("nothing to revert: %w", err)
	}

	var paths []string
	if stats, serr := commit.Stats(); serr == nil {
		for _, st := range stats {
			paths = append(paths, st.Name)
		}
	}
	if err := r.reset(parent.Hash); err != nil {
		return nil, err
	}
	return paths, nil
}

// Reset hard-resets the worktree to rev, which may be a full or
// abbreviated hash or any revision git understands.
func (r *Repo) Reset(rev string) error {
	h, err := r.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return fmt.Errorf("resolving %q: %w", rev, err)
	}
	return r.reset(*h)
}

func (r *Repo) reset(h plumbing.Hash) error {
	wt, err := r.repo.Worktree()
	if err != nil {
		return err
	}
	return wt.Reset(&git.ResetOptions{Mode: git.HardReset, Commit: h})
}

// Status lists changed paths as "XY path" lines, empty when clean.
func (r *Repo) Status() ([]string, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return nil, err
	}
	st, err := wt.Status()
	if err != nil {
		return nil, err
	}
	var out []string
	for path, fst := range st {
		if fst.Staging == git.Unmodified && fst.Worktree == git.Unmodified {
			continue
		}
		out = append(out, fmt.Sprintf("%c%c %s", fst.Staging, fst.Worktree, path))
	}
	sort.Strings(out)
	return out, nil
}

func shortHash(h plumbing.Hash) string {
	return h.String()[:7]
}
