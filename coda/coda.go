// Package coda wires the assistant together: the App owns the project
// collaborators and routes between the interactive chat session and the
// one-shot apply/revert/history modes.
package coda

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"

	"coda/cli"
	"coda/internal/approval"
	"coda/internal/backup"
	"coda/internal/fs"
	"coda/internal/logging"
	"coda/internal/ollama"
	"coda/internal/parser"
	"coda/internal/scanner"
	"coda/internal/source"
	"coda/internal/state"
	"coda/internal/tui"
	"coda/internal/ui"
	"coda/internal/vcs"
	"coda/model"
)

// Version is the tool version printed by --version.
const Version = "0.1.0"

// DetailedError enhances a standard error with a stack trace.
type DetailedError struct {
	Err   error
	Stack []byte
}

func (e *DetailedError) Error() string {
	return e.Err.Error()
}

// App orchestrates the entire application logic.
type App struct {
	cfg        *cli.Config
	root       string
	resolver   *fs.Resolver
	backups    *backup.Manager
	applicator *Applicator
	journal    *state.Manager
	scan       *scanner.Scanner
	client     *ollama.Client
	repo       *vcs.Repo // nil until opened or lazily initialized
	ui         *ui.Printer
	closeLog   func()
}

// New creates a new App instance rooted at cfg.Dir.
func New(cfg *cli.Config) (*App, error) {
	root, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project directory: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("project directory %s: %w", cfg.Dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", cfg.Dir)
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	closeLog, err := logging.Setup(logging.Options{Level: level, Quiet: cfg.Quiet, Dir: root})
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	resolver, err := fs.NewResolver(root)
	if err != nil {
		closeLog()
		return nil, err
	}
	backupRoot := filepath.Join(root, ".coda", "backups")
	if cfg.BackupDir != "" {
		backupRoot, err = filepath.Abs(cfg.BackupDir)
		if err != nil {
			closeLog()
			return nil, fmt.Errorf("failed to resolve backup directory: %w", err)
		}
	}
	journal, err := state.New(root)
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("failed to open apply journal: %w", err)
	}
	scan, err := scanner.New(root, cfg.Excludes...)
	if err != nil {
		closeLog()
		return nil, err
	}

	backups := backup.NewManager(root, backupRoot)
	a := &App{
		cfg:        cfg,
		root:       root,
		resolver:   resolver,
		backups:    backups,
		applicator: NewApplicator(resolver, backups),
		journal:    journal,
		scan:       scan,
		client:     ollama.New(cfg.URL, cfg.Model),
		ui:         ui.New(os.Stdout, ui.IsTerminal(os.Stdout) && !cfg.Quiet),
		closeLog:   closeLog,
	}
	if !cfg.NoGit {
		repo, err := vcs.Open(root)
		switch {
		case err == nil:
			a.repo = repo
		case errors.Is(err, vcs.ErrNotRepo):
			// Initialized lazily when the first change is committed.
		default:
			closeLog()
			return nil, err
		}
	}
	return a, nil
}

// Root returns the absolute project root.
func (a *App) Root() string { return a.root }

// Close releases the session log file.
func (a *App) Close() {
	if a.closeLog != nil {
		a.closeLog()
	}
}

// Execute runs the mode selected by the flags.
func (a *App) Execute() (err error) {
	// Centralized panic recovery.
	defer func() {
		if r := recover(); r != nil {
			err = &DetailedError{
				Err:   fmt.Errorf("internal panic: %v", r),
				Stack: debug.Stack(),
			}
		}
	}()

	switch {
	case a.cfg.Revert:
		return a.revertOnce()
	case a.cfg.History:
		return a.printHistory(a.ui, defaultHistoryLimit)
	case a.cfg.Apply:
		return a.applyOnce()
	default:
		s := newSession(a, os.Stdin, a.ui)
		return s.Run()
	}
}

// readProjectFile reads a project-relative file through the escape guard.
// It serves both diff bases for the parser and the /file command.
func (a *App) readProjectFile(path string) (string, error) {
	abs, err := a.resolver.Resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ensureRepo opens or initializes the repository on first need.
func (a *App) ensureRepo() error {
	if a.repo != nil {
		return nil
	}
	repo, err := vcs.EnsureRepo(a.root)
	if err != nil {
		return err
	}
	a.repo = repo
	return nil
}

// applyReviewed materializes the accepted candidates and commits them as
// one batch. A failed commit leaves the files changed on disk but
// downgrades their results to failed; the backups are the recovery path.
func (a *App) applyReviewed(accepted []model.Candidate, rejected int) (model.Summary, []model.ApplyResult, []string) {
	results, touched := a.applicator.ApplyAll(accepted)

	var commitID string
	if len(touched) > 0 && !a.cfg.NoGit {
		id, err := a.commitBatch(results, touched)
		if err != nil {
			slog.Error("commit failed, files remain changed on disk", "err", err, "count", len(touched))
			for i := range results {
				if results[i].Status == model.StatusApplied {
					results[i].Status = model.StatusFailed
					results[i].Err = fmt.Errorf("applied but uncommitted: %w", err)
				}
			}
		} else {
			commitID = id
			for i := range results {
				if results[i].Status == model.StatusApplied {
					results[i].CommitID = id
				}
			}
			if err := a.journal.Record(id, touched); err != nil {
				slog.Warn("failed to record apply journal entry", "err", err)
			}
		}
	}

	summary := model.Summary{}
	for _, r := range results {
		summary.Add(r)
	}
	summary.Rejected += rejected
	summary.CommitID = commitID
	return summary, results, touched
}

func (a *App) commitBatch(results []model.ApplyResult, touched []string) (string, error) {
	if err := a.ensureRepo(); err != nil {
		return "", err
	}
	return a.repo.Commit(touched, commitMessage(results))
}

// commitMessage summarizes one applied batch.
func commitMessage(results []model.ApplyResult) string {
	var lines []string
	for _, r := range results {
		if r.Status != model.StatusApplied {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s %s", r.Candidate.Op, r.Candidate.Path))
	}
	msg := fmt.Sprintf("coda: %d change(s)", len(lines))

	const maxListed = 10
	if len(lines) > maxListed {
		rest := len(lines) - maxListed
		lines = append(lines[:maxListed], fmt.Sprintf("... and %d more", rest))
	}
	if len(lines) > 0 {
		msg += "\n\n" + strings.Join(lines, "\n")
	}
	return msg
}

// splitReviewed separates the gate's output into accepted candidates and
// an explicit-reject count, stopping at the abort point. Candidates from
// the abort point on were neither accepted nor rejected by the operator.
func splitReviewed(reviewed []approval.Reviewed, abortedAt int) ([]model.Candidate, int) {
	var accepted []model.Candidate
	rejected := 0
	for i, r := range reviewed {
		if abortedAt >= 0 && i >= abortedAt {
			break
		}
		if r.Decision == model.Accept {
			accepted = append(accepted, r.Candidate)
		} else {
			rejected++
		}
	}
	return accepted, rejected
}

// printOutcome writes the per-file lines and the turn summary.
func printOutcome(p *ui.Printer, results []model.ApplyResult, summary model.Summary) {
	for _, r := range results {
		switch r.Status {
		case model.StatusApplied:
			p.Applied(r.Candidate.Op, r.Candidate.Path)
		case model.StatusFailed:
			path := r.Candidate.Path
			if path == "" {
				path = "(no filename)"
			}
			detail := "unknown error"
			if r.Err != nil {
				detail = r.Err.Error()
			}
			p.FailedFile(path, detail)
		}
	}
	p.Summary(summary)
}

// applyOnce runs the pipeline over pasted text instead of a model reply:
// stdin when piped, the clipboard otherwise.
func (a *App) applyOnce() error {
	content, kind, err := source.Read()
	if err != nil {
		return err
	}
	if strings.TrimSpace(content) == "" {
		a.ui.Warn("Source is empty. Nothing to process.")
		return nil
	}

	p := parser.New(parser.Options{
		Extensions: a.cfg.Extensions,
		ReadFile:   a.readProjectFile,
	})
	cands := p.Parse(content)
	for _, w := range p.Warnings() {
		a.ui.Warn("%s", w.Reason)
	}
	if len(cands) == 0 {
		a.ui.Warn("No file changes found in the source. Nothing to apply.")
		return nil
	}
	// Piped input consumed stdin, so there is no terminal left to review on.
	if !a.cfg.Yes && kind == source.Stdin {
		return fmt.Errorf("response text came from a pipe; re-run with --yes to apply without review")
	}

	gate := approval.New(approval.Options{
		Out:       a.ui.Writer(),
		AssumeYes: a.cfg.Yes,
		Describe:  a.ui.Proposal,
	})
	reviewed, abortedAt := gate.Review(cands)
	accepted, rejected := splitReviewed(reviewed, abortedAt)
	if abortedAt >= 0 {
		a.ui.Warn("Aborted; %d change(s) skipped.", len(cands)-abortedAt)
	}
	if len(accepted) == 0 && rejected == 0 {
		return nil
	}

	var (
		summary model.Summary
		results []model.ApplyResult
	)
	if err := tui.Run("Applying changes", func() error {
		summary, results, _ = a.applyReviewed(accepted, rejected)
		return nil
	}); err != nil {
		return err
	}
	printOutcome(a.ui, results, summary)
	return nil
}

// revertOnce rolls back the last batch coda committed.
func (a *App) revertOnce() error {
	if a.cfg.NoGit {
		return fmt.Errorf("git is disabled (--no-git); nothing to revert")
	}
	if a.repo == nil {
		a.ui.Warn("Not a git repository; nothing to revert.")
		return nil
	}
	entry, ok := a.journal.Last()
	if !ok {
		a.ui.Warn("No applied changes to revert.")
		return nil
	}
	paths, err := a.repo.RevertLast(entry.Commit)
	if err != nil {
		return fmt.Errorf("revert failed: %w", err)
	}
	if _, err := a.journal.Pop(); err != nil {
		slog.Warn("failed to trim apply journal", "err", err)
	}
	a.ui.Success("Reverted commit %s; restored %d file(s):", shortCommit(entry.Commit), len(paths))
	for _, p := range paths {
		a.ui.Info("  - %s", p)
	}
	return nil
}

const defaultHistoryLimit = 10

// printHistory lists recent commits, marking the ones coda made.
func (a *App) printHistory(p *ui.Printer, limit int) error {
	if a.repo == nil {
		p.Info("Not a git repository yet; no history.")
		return nil
	}
	commits, err := a.repo.History(limit)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	if len(commits) == 0 {
		p.Info("No commits yet.")
		return nil
	}

	var mine []string
	for _, e := range a.journal.List(limit) {
		if e.Commit != "" {
			mine = append(mine, e.Commit)
		}
	}
	p.Header("Recent commits:")
	for _, c := range commits {
		line := "  " + c.String()
		for _, id := range mine {
			if strings.HasPrefix(id, c.Hash) {
				line += "  [coda]"
				break
			}
		}
		p.Println(line)
	}
	return nil
}

func shortCommit(id string) string {
	if len(id) > 7 {
		return id[:7]
	}
	return id
}
