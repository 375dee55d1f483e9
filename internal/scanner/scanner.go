// Package scanner indexes the project tree so each chat turn can brief the
// model on what the project contains.
package scanner

import (
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// MaxFiles caps how many files a single scan will index. Larger projects
// are truncated rather than walked to completion.
const MaxFiles = 1000

// sourceExtensions lists the file types worth indexing. Everything else is
// treated as noise (binaries, lock files, build output).
var sourceExtensions = map[string]bool{
	".py": true, ".pyw": true,
	".js": true, ".jsx": true, ".ts": true, ".tsx": true,
	".java": true, ".cpp": true, ".hpp": true, ".c": true, ".h": true,
	".cc": true, ".cxx": true, ".cs": true, ".go": true, ".rs": true,
	".rb": true, ".php": true, ".swift": true, ".kt": true, ".kts": true,
	".scala": true, ".r": true, ".m": true, ".sql": true,
	".sh": true, ".bash": true,
	".md": true, ".txt": true, ".rst": true,
	".json": true, ".yaml": true, ".yml": true, ".toml": true, ".ini": true,
	".cfg": true, ".html": true, ".css": true, ".xml": true,
}

// skipDirs are never descended into.
var skipDirs = map[string]bool{
	".git": true, ".svn": true, ".hg": true,
	"__pycache__": true, "node_modules": true,
	"venv": true, ".venv": true, "env": true, ".env": true,
	"build": true, "dist": true, ".eggs": true,
	".tox": true, ".pytest_cache": true, ".mypy_cache": true,
	"target": true, "bin": true, "obj": true,
	".idea": true, ".vscode": true, "vendor": true,
	".coda": true,
}

// Scanner walks a project root.
type Scanner struct {
	root     string
	excludes []string
}

// New returns a scanner for root. Each exclude is a doublestar glob matched
// against project-relative paths.
func New(root string, excludes ...string) (*Scanner, error) {
	for _, pat := range excludes {
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("bad exclude pattern %q", pat)
		}
	}
	return &Scanner{root: root, excludes: excludes}, nil
}

// Project is the result of one scan.
type Project struct {
	Root      string
	Files     []string // project-relative, sorted
	ByExt     map[string]int
	TotalSize int64
	Truncated bool
}

// Scan walks the root and indexes every source file that survives the
// extension set, the skip list, and the user excludes.
func (s *Scanner) Scan() (*Project, error) {
	p := &Project{Root: s.root, ByExt: make(map[string]int)}

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d == nil {
				return err
			}
			slog.Debug("skipping unreadable path", "path", path, "err", err)
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		rel, relErr := filepath.Rel(s.root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			name := d.Name()
			if skipDirs[name] || strings.HasSuffix(name, ".egg-info") {
				return fs.SkipDir
			}
			if s.excluded(rel) {
				return fs.SkipDir
			}
			return nil
		}

		ext := strings.ToLower(filepath.Ext(d.Name()))
		if !sourceExtensions[ext] || s.excluded(rel) {
			return nil
		}
		if len(p.Files) >= MaxFiles {
			p.Truncated = true
			return fs.SkipAll
		}

		p.Files = append(p.Files, rel)
		p.ByExt[ext]++
		if info, err := d.Info(); err == nil {
			p.TotalSize += info.Size()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", s.root, err)
	}

	sort.Strings(p.Files)
	if p.Truncated {
		slog.Warn("project scan truncated", "root", s.root, "cap", MaxFiles)
	}
	return p, nil
}

func (s *Scanner) excluded(rel string) bool {
	for _, pat := range s.excludes {
		if ok, _ := doublestar.Match(pat, rel); ok {
			return true
		}
	}
	return false
}

// Context renders the project brief injected into the model's system
// prompt: root, file count, and up to maxFiles paths.
func (p *Project) Context(maxFiles int) string {
	var b strings.Builder
	b.WriteString("Current project information:\n")
	fmt.Fprintf(&b, "Path: %s\n", p.Root)
	fmt.Fprintf(&b, "Total files: %d\n", len(p.Files))

	if len(p.Files) == 0 {
		return b.String()
	}
	n := len(p.Files)
	if maxFiles > 0 && n > maxFiles {
		n = maxFiles
	}
	b.WriteString("\nProject files:\n")
	for _, f := range p.Files[:n] {
		fmt.Fprintf(&b, "  - %s\n", f)
	}
	if rest := len(p.Files) - n; rest > 0 {
		fmt.Fprintf(&b, "  ... and %d more files\n", rest)
	}
	return b.String()
}

// Stats renders the full file listing with a per-extension breakdown.
func (p *Project) Stats() string {
	if len(p.Files) == 0 {
		return "No files found in project\n"
	}

	exts := make([]string, 0, len(p.ByExt))
	for ext := range p.ByExt {
		exts = append(exts, ext)
	}
	sort.Slice(exts, func(i, j int) bool {
		if p.ByExt[exts[i]] != p.ByExt[exts[j]] {
			return p.ByExt[exts[i]] > p.ByExt[exts[j]]
		}
		return exts[i] < exts[j]
	})

	var b strings.Builder
	fmt.Fprintf(&b, "Project files (%d, %s):\n", len(p.Files), humanSize(p.TotalSize))
	for _, ext := range exts {
		fmt.Fprintf(&b, "  %s: %d\n", ext, p.ByExt[ext])
	}
	b.WriteString("\n")
	for _, f := range p.Files {
		fmt.Fprintf(&b, "  - %s\n", f)
	}
	if p.Truncated {
		fmt.Fprintf(&b, "  (listing truncated at %d files)\n", MaxFiles)
	}
	return b.String()
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
