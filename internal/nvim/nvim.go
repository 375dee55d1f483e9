// Package nvim nudges a parent Neovim instance to reload buffers whose
// files were rewritten on disk.
package nvim

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/neovim/go-client/nvim"
)

// Refresher holds a connection to the Neovim instance hosting this process.
type Refresher struct {
	conn *nvim.Nvim
}

// Connect dials the instance named by $NVIM (or the older
// $NVIM_LISTEN_ADDRESS). Returns nil when not running inside Neovim or the
// dial fails; everything here is cosmetic.
func Connect() *Refresher {
	addr := os.Getenv("NVIM")
	if addr == "" {
		addr = os.Getenv("NVIM_LISTEN_ADDRESS")
	}
	if addr == "" {
		return nil
	}
	v, err := nvim.Dial(addr)
	if err != nil {
		slog.Debug("nvim dial failed", "addr", addr, "err", err)
		return nil
	}
	return &Refresher{conn: v}
}

// Refresh asks Neovim to re-check the files just written so open buffers
// pick up the new contents without :e!. Failures are logged and swallowed.
func (r *Refresher) Refresh(root string, paths []string) {
	if r == nil || r.conn == nil || len(paths) == 0 {
		return
	}
	b := r.conn.NewBatch()
	for _, p := range paths {
		b.Command(fmt.Sprintf("silent! checktime %s", filepath.Join(root, p)))
	}
	if err := b.Execute(); err != nil {
		slog.Debug("nvim refresh failed", "err", err)
	}
}

// Close drops the connection. Safe on a nil Refresher.
func (r *Refresher) Close() {
	if r != nil && r.conn != nil {
		r.conn.Close()
	}
}
