package patcher

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Hunk is one @@ section of a unified diff. After correction OldStart and
// OldLines describe the real region of the source file the hunk touches,
// including blank lines the model's context may have omitted.
type Hunk struct {
	OldStart, OldLines int
	NewStart, NewLines int
	Lines              []string
}

var hunkHeaderRegex = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))?`)

// parseHunks splits a raw diff into hunks, tolerating the usual model
// sloppiness: prose before the first @@, missing counts in headers, and
// blank context lines emitted without their leading space.
func parseHunks(raw string) ([]Hunk, error) {
	var hunks []Hunk
	var cur *Hunk
	for _, line := range strings.Split(strings.TrimSuffix(raw, "\n"), "\n") {
		if strings.HasPrefix(line, "--- ") || strings.HasPrefix(line, "+++ ") {
			continue
		}
		if m := hunkHeaderRegex.FindStringSubmatch(line); m != nil {
			hunks = append(hunks, Hunk{
				OldStart: atoi(m[1]),
				OldLines: atoiOr(m[2], 1),
				NewStart: atoi(m[3]),
				NewLines: atoiOr(m[4], 1),
			})
			cur = &hunks[len(hunks)-1]
			continue
		}
		if cur == nil {
			continue
		}
		switch {
		case line == "":
			cur.Lines = append(cur.Lines, " ")
		case strings.HasPrefix(line, "\\"):
			// "\ No newline at end of file"
		case line[0] == ' ' || line[0] == '+' || line[0] == '-':
			cur.Lines = append(cur.Lines, line)
		}
	}
	if len(hunks) == 0 {
		return nil, fmt.Errorf("no hunks found in diff")
	}
	return hunks, nil
}

// targetBlock builds a search pattern from the lines guaranteed to exist in
// the source file (context and removed lines), skipping blanks so matching
// survives whitespace-only drift.
func targetBlock(lines []string) []string {
	var block []string
	for _, line := range lines {
		if len(line) == 0 || (line[0] != ' ' && line[0] != '-') {
			continue
		}
		content := line[1:]
		if strings.TrimSpace(content) != "" {
			block = append(block, content)
		}
	}
	return block
}

// normalizeLine collapses all whitespace runs to single spaces for
// comparison.
func normalizeLine(line string) string {
	return strings.Join(strings.Fields(line), " ")
}

// matchBlock locates block within src, comparing whitespace-normalized
// lines and ignoring blank source lines. It returns the 1-based first and
// last source line numbers of the matched region.
func matchBlock(src, block []string) (start, end int, ok bool) {
	if len(block) == 0 {
		return 0, 0, false
	}
	norm := make([]string, len(block))
	for i, line := range block {
		norm[i] = normalizeLine(line)
	}

	var filtered []string
	var lineNums []int
	for i, line := range src {
		if n := normalizeLine(line); n != "" {
			filtered = append(filtered, n)
			lineNums = append(lineNums, i+1)
		}
	}

	for i := 0; i+len(norm) <= len(filtered); i++ {
		match := true
		for j := range norm {
			if filtered[i+j] != norm[j] {
				match = false
				break
			}
		}
		if match {
			return lineNums[i], lineNums[i+len(norm)-1], true
		}
	}
	return 0, 0, false
}

// correctHunks re-anchors every hunk against src, discarding the model's
// stated line numbers in favor of where the context actually matches. A
// hunk with no context at all (pure addition) keeps its stated position.
func correctHunks(src []string, hunks []Hunk) ([]Hunk, error) {
	out := make([]Hunk, 0, len(hunks))
	offset := 0
	for i, h := range hunks {
		removed, added := h.counts()
		target := targetBlock(h.Lines)
		if len(target) == 0 {
			if h.OldStart > len(src) {
				h.OldStart = len(src)
			}
			h.OldLines = 0
			h.NewStart = h.OldStart + offset
			if h.NewStart < 1 {
				h.NewStart = 1
			}
			h.NewLines = added
			out = append(out, h)
			offset += added
			continue
		}
		start, end, ok := matchBlock(src, target)
		if !ok {
			return nil, fmt.Errorf("hunk %d: no match in source for %q", i+1, target[0])
		}
		h.OldStart = start
		h.OldLines = end - start + 1
		h.NewStart = start + offset
		h.NewLines = h.OldLines - removed + added
		out = append(out, h)
		offset += added - removed
	}
	return out, nil
}

func (h Hunk) counts() (removed, added int) {
	for _, l := range h.Lines {
		switch {
		case strings.HasPrefix(l, "+"):
			added++
		case strings.HasPrefix(l, "-"):
			removed++
		}
	}
	return removed, added
}

// applyHunks produces the patched file content from corrected hunks.
func applyHunks(src []string, hunks []Hunk) (string, error) {
	ordered := make([]Hunk, len(hunks))
	copy(ordered, hunks)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].OldStart < ordered[j].OldStart
	})

	var out []string
	cursor := 0
	for i, h := range ordered {
		if h.OldLines == 0 {
			if h.OldStart < cursor {
				return "", fmt.Errorf("hunk %d overlaps an earlier hunk", i+1)
			}
			if h.OldStart > len(src) {
				return "", fmt.Errorf("hunk %d starts past end of file", i+1)
			}
			out = append(out, src[cursor:h.OldStart]...)
			cursor = h.OldStart
			for _, l := range h.Lines {
				if strings.HasPrefix(l, "+") {
					out = append(out, l[1:])
				}
			}
			continue
		}
		regionStart := h.OldStart - 1
		regionEnd := regionStart + h.OldLines
		if regionStart < cursor {
			return "", fmt.Errorf("hunk %d overlaps an earlier hunk", i+1)
		}
		if regionEnd > len(src) {
			return "", fmt.Errorf("hunk %d runs past end of file", i+1)
		}
		out = append(out, src[cursor:regionStart]...)
		patched, err := spliceRegion(src[regionStart:regionEnd], h.Lines)
		if err != nil {
			return "", fmt.Errorf("hunk %d: %w", i+1, err)
		}
		out = append(out, patched...)
		cursor = regionEnd
	}
	out = append(out, src[cursor:]...)
	return strings.Join(out, "\n"), nil
}

// spliceRegion rewrites one matched source region according to the hunk's
// lines. Blank source lines the hunk's context skipped are carried through
// unchanged.
func spliceRegion(region, hunkLines []string) ([]string, error) {
	var out []string
	ri := 0
	for _, hl := range hunkLines {
		tag, text := hl[0], hl[1:]
		if tag == '+' {
			out = append(out, text)
			continue
		}
		if strings.TrimSpace(text) == "" {
			if tag == '-' && ri < len(region) && strings.TrimSpace(region[ri]) == "" {
				ri++
			}
			continue
		}
		for ri < len(region) && strings.TrimSpace(region[ri]) == "" {
			out = append(out, region[ri])
			ri++
		}
		if ri >= len(region) {
			return nil, fmt.Errorf("ran out of source lines at %q", text)
		}
		if normalizeLine(region[ri]) != normalizeLine(text) {
			return nil, fmt.Errorf("context mismatch at %q", region[ri])
		}
		if tag == ' ' {
			out = append(out, region[ri])
		}
		ri++
	}
	out = append(out, region[ri:]...)
	return out, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	return atoi(s)
}
