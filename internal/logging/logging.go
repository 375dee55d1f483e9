// Package logging routes structured logs to a session file under the
// project's .coda directory, keeping the terminal free for the chat.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

const fileName = "coda.log"

// Options configure Setup.
type Options struct {
	Level slog.Level
	Quiet bool   // discard all log output
	Dir   string // project root; logs land in <Dir>/.coda/logs
}

// Setup installs the process-wide default logger. The returned function
// closes the log file and is safe to call when logging is disabled.
func Setup(opts Options) (func(), error) {
	if opts.Quiet || opts.Dir == "" {
		slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
		return func() {}, nil
	}

	dir := filepath.Join(opts.Dir, ".coda", "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, fileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	handler := slog.NewTextHandler(f, &slog.HandlerOptions{Level: opts.Level})
	slog.SetDefault(slog.New(handler))
	return func() { f.Close() }, nil
}

// File returns the path Setup logs to for a given project root.
func File(dir string) string {
	return filepath.Join(dir, ".coda", "logs", fileName)
}
