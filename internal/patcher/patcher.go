// Package patcher turns unified-diff blocks from a model response into
// full replacement file contents. Model-emitted diffs routinely carry
// stale line numbers and mangled whitespace, so every hunk is re-anchored
// against the real file before it is applied.
package patcher

import (
	"fmt"
	"regexp"
	"strings"
)

var diffPathRegex = regexp.MustCompile(`(?m)^\+\+\+ b/(?P<path>.*?)(\s|$)`)

// PathFromDiff extracts the target path from a diff's "+++ b/" line.
// Returns "" when the diff has no usable path.
func PathFromDiff(raw string) string {
	m := diffPathRegex.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// Correct re-anchors a raw diff against the current file content and
// returns a clean equivalent diff with accurate headers and line numbers.
func Correct(raw, base, path string) (string, error) {
	hunks, err := parseHunks(raw)
	if err != nil {
		return "", err
	}
	corrected, err := correctHunks(strings.Split(base, "\n"), hunks)
	if err != nil {
		return "", err
	}
	return renderDiff(path, corrected), nil
}

// Materialize applies a raw diff to base and returns the patched content
// alongside the corrected diff text.
func Materialize(raw, base, path string) (string, string, error) {
	hunks, err := parseHunks(raw)
	if err != nil {
		return "", "", err
	}
	srcLines := strings.Split(base, "\n")
	corrected, err := correctHunks(srcLines, hunks)
	if err != nil {
		return "", "", err
	}
	patched, err := applyHunks(srcLines, corrected)
	if err != nil {
		return "", "", err
	}
	return patched, renderDiff(path, corrected), nil
}

func renderDiff(path string, hunks []Hunk) string {
	var b strings.Builder
	fmt.Fprintf(&b, "--- a/%s\n+++ b/%s\n", path, path)
	for _, h := range hunks {
		fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldLines, h.NewStart, h.NewLines)
		for _, l := range h.Lines {
			b.WriteString(l)
			b.WriteByte('\n')
		}
	}
	return b.String()
}
