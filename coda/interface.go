package coda

import (
	"fmt"
	"io"

	"coda/cli"
	"coda/internal/approval"
	"coda/internal/parser"
	"coda/model"
)

// Config for using coda as a library.
type Config struct {
	// Dir is the project root; empty means the current directory.
	Dir string
	// Extensions filters which fenced blocks become changes (e.g. "py").
	Extensions []string
	// NoGit skips the per-batch commit.
	NoGit bool
	// BackupDir overrides the default <dir>/.coda/backups.
	BackupDir string
}

// Apply parses response text and applies every resolvable change without
// prompting. It is the library equivalent of `coda --apply --yes`.
func Apply(content string, config Config) (model.Summary, error) {
	cliCfg := &cli.Config{
		Dir:        config.Dir,
		Extensions: config.Extensions,
		NoGit:      config.NoGit,
		BackupDir:  config.BackupDir,
		Yes:        true,
		Quiet:      true,
	}
	if cliCfg.Dir == "" {
		cliCfg.Dir = "."
	}

	app, err := New(cliCfg)
	if err != nil {
		return model.Summary{}, fmt.Errorf("failed to initialize coda: %w", err)
	}
	defer app.Close()

	return app.ApplyText(content), nil
}

// ApplyText runs one parse-and-apply pass over response text, accepting
// every resolvable candidate. Candidates whose path cannot be resolved are
// rejected, never guessed.
func (a *App) ApplyText(content string) model.Summary {
	p := parser.New(parser.Options{
		Extensions: a.cfg.Extensions,
		ReadFile:   a.readProjectFile,
	})
	cands := p.Parse(content)
	if len(cands) == 0 {
		return model.Summary{}
	}

	gate := approval.New(approval.Options{Out: io.Discard, AssumeYes: true})
	reviewed, abortedAt := gate.Review(cands)
	accepted, rejected := splitReviewed(reviewed, abortedAt)
	summary, _, _ := a.applyReviewed(accepted, rejected)
	return summary
}
