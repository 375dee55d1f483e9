// Package cli parses command-line flags into the session configuration.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

// Config holds all the command-line flag values.
type Config struct {
	Model      string
	URL        string
	Dir        string
	BackupDir  string
	NoGit      bool
	Yes        bool
	Excludes   []string
	Extensions []string

	// One-shot modes; absent all three, coda starts the interactive chat.
	Apply   bool
	Revert  bool
	History bool

	Verbose bool
	Quiet   bool
	Version bool
}

// ParseFlags defines and parses command-line flags using pflag. Validation
// failures are printed to stderr before the error is returned, so callers
// only need to exit.
func ParseFlags(args []string) (*Config, error) {
	cfg := &Config{}
	fs := pflag.NewFlagSet("coda", pflag.ContinueOnError)

	fs.StringVarP(&cfg.Model, "model", "m", "", "Ollama model to chat with (default qwen3-coder:30b).")
	fs.StringVar(&cfg.URL, "url", os.Getenv("OLLAMA_HOST"), "Ollama server URL (default http://localhost:11434, or $OLLAMA_HOST).")
	fs.StringVarP(&cfg.Dir, "dir", "C", ".", "Project directory to work in.")
	fs.StringVar(&cfg.BackupDir, "backup-dir", "", "Directory for pre-write backups (default <dir>/.coda/backups).")
	fs.BoolVar(&cfg.NoGit, "no-git", false, "Do not commit applied changes to git.")
	fs.BoolVarP(&cfg.Yes, "yes", "y", false, "Apply changes without asking; only valid with --apply.")
	fs.StringSliceVarP(&cfg.Excludes, "exclude", "x", nil, "Glob of paths to leave out of the project scan (repeatable).")
	fs.StringSliceVarP(&cfg.Extensions, "extension", "e", nil, "Only accept changes for these file extensions (repeatable, e.g. py,go).")

	fs.BoolVarP(&cfg.Apply, "apply", "A", false, "Apply a pasted response from stdin or the clipboard, then exit.")
	fs.BoolVarP(&cfg.Revert, "revert", "r", false, "Revert the last commit coda made, then exit.")
	fs.BoolVar(&cfg.History, "history", false, "Show recent commits, then exit.")

	fs.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Log debug detail to the session log.")
	fs.BoolVarP(&cfg.Quiet, "quiet", "q", false, "Disable styling and the session log.")
	fs.BoolVar(&cfg.Version, "version", false, "Print the version and exit.")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: coda [flags]")
		fmt.Fprintln(os.Stderr, "\nChat with a local Ollama model about the current project. Proposed file")
		fmt.Fprintln(os.Stderr, "changes go through a review prompt before anything is written or committed.")
		fmt.Fprintln(os.Stderr, "\nExamples:")
		fmt.Fprintln(os.Stderr, "  coda -C ~/src/myproj")
		fmt.Fprintln(os.Stderr, "  pbpaste | coda --apply --yes")
		fmt.Fprintln(os.Stderr, "\nFlags:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		// pflag already printed the message (or the help text).
		return nil, err
	}

	if err := validate(cfg, fs); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config, fs *pflag.FlagSet) error {
	modes := 0
	for _, on := range []bool{cfg.Apply, cfg.Revert, cfg.History} {
		if on {
			modes++
		}
	}
	if modes > 1 {
		return fmt.Errorf("--apply, --revert and --history are mutually exclusive")
	}
	if cfg.Yes && !cfg.Apply {
		return fmt.Errorf("--yes only makes sense with --apply")
	}
	if cfg.Verbose && cfg.Quiet {
		return fmt.Errorf("--verbose and --quiet are mutually exclusive")
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	return nil
}
