// Package state keeps a journal of applied turns under the project's
// .coda directory: when each batch landed, which commit carries it, and
// the paths it touched.
package state

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	dirName  = ".coda"
	fileName = "state"
)

// ErrEmpty reports that the journal has no entries.
var ErrEmpty = errors.New("journal is empty")

// Entry is one applied turn.
type Entry struct {
	When   time.Time `json:"when"`
	Commit string    `json:"commit"`
	Paths  []string  `json:"paths"`
}

// Manager reads and appends the journal, one JSON object per line.
type Manager struct {
	path    string
	entries []Entry
}

// New loads the journal for the project rooted at dir, creating the state
// directory on first use.
func New(dir string) (*Manager, error) {
	stateDir := filepath.Join(dir, dirName)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	m := &Manager{path: filepath.Join(stateDir, fileName)}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

// Dir returns the state directory holding the journal.
func (m *Manager) Dir() string { return filepath.Dir(m.path) }

func (m *Manager) load() error {
	f, err := os.Open(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			// A corrupt line loses one entry, not the whole journal.
			continue
		}
		m.entries = append(m.entries, e)
	}
	return sc.Err()
}

// Record appends one applied turn.
func (m *Manager) Record(commit string, paths []string) error {
	e := Entry{
		When:   time.Now().UTC(),
		Commit: commit,
		Paths:  append([]string(nil), paths...),
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(m.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	m.entries = append(m.entries, e)
	return nil
}

// Last returns the most recent entry.
func (m *Manager) Last() (Entry, bool) {
	if len(m.entries) == 0 {
		return Entry{}, false
	}
	return m.entries[len(m.entries)-1], true
}

// Pop removes and returns the most recent entry, used when its commit has
// been reverted.
func (m *Manager) Pop() (Entry, error) {
	if len(m.entries) == 0 {
		return Entry{}, ErrEmpty
	}
	last := m.entries[len(m.entries)-1]
	m.entries = m.entries[:len(m.entries)-1]
	if err := m.rewrite(); err != nil {
		m.entries = append(m.entries, last)
		return Entry{}, err
	}
	return last, nil
}

// List returns up to n entries, newest first. n <= 0 returns all.
func (m *Manager) List(n int) []Entry {
	total := len(m.entries)
	if n <= 0 || n > total {
		n = total
	}
	out := make([]Entry, 0, n)
	for i := total - 1; i >= total-n; i-- {
		out = append(out, m.entries[i])
	}
	return out
}

func (m *Manager) rewrite() error {
	var b strings.Builder
	for _, e := range m.entries {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		b.Write(data)
		b.WriteByte('\n')
	}
	return os.WriteFile(m.path, []byte(b.String()), 0o644)
}
