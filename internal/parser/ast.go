package parser

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// CodeBlock is one fenced segment lifted out of a model response.
type CodeBlock struct {
	// Hint is the text of the paragraph immediately preceding the fence.
	Hint string
	// Lang is the first word of the fence info string (e.g. "go", "diff").
	Lang string
	// InfoRest is the remainder of the info string after Lang, which
	// models sometimes use for a path ("```go cmd/main.go").
	InfoRest string
	// Content is the raw text inside the fence.
	Content string
	// Start and End are byte offsets of the content in the source text.
	Start int
	End   int
	// Terminated is false when no closing fence was found before EOF.
	Terminated bool
}

// extractCodeBlocks returns every fenced code block in source with its
// preceding-paragraph hint and byte span.
//
// Plain extraction walks the goldmark AST. On top of that sits a repair
// loop for the one place CommonMark disagrees with how models write
// markdown files that themselves contain fenced examples: CommonMark
// closes a ```markdown fence at the first bare ``` line, while the model
// intends that line to close the inner example. When a markdown-language
// block is left with unbalanced inner openers, the true closer is found by
// counting openers-with-info against bare closers, the block absorbs the
// intervening text, and the remainder of the source is re-parsed from a
// clean state.
func extractCodeBlocks(source []byte) []CodeBlock {
	var out []CodeBlock
	base := 0
	for base <= len(source) {
		blocks := parseBlocks(source, base)

		repaired := false
		for i, b := range blocks {
			if isMarkdownLang(b.Lang) && b.Terminated && countOpenFences(b.Content) > 0 {
				out = append(out, blocks[:i]...)
				nb, next := absorbNested(source, b)
				out = append(out, nb)
				if next < 0 {
					return out
				}
				base = next
				repaired = true
				break
			}
		}
		if !repaired {
			out = append(out, blocks...)
			return out
		}
	}
	return out
}

// parseBlocks runs goldmark over source[base:] and returns fenced blocks
// with offsets relative to the full source.
func parseBlocks(source []byte, base int) []CodeBlock {
	chunk := source[base:]
	md := goldmark.DefaultParser()
	root := md.Parse(text.NewReader(chunk))

	var blocks []CodeBlock
	walker := func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		fence, ok := node.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}

		var block CodeBlock
		if fence.Info != nil {
			info := strings.TrimSpace(string(fence.Info.Segment.Value(chunk)))
			if i := strings.IndexAny(info, " \t"); i >= 0 {
				block.Lang = info[:i]
				block.InfoRest = strings.TrimSpace(info[i:])
			} else {
				block.Lang = info
			}
		}

		var content bytes.Buffer
		lines := fence.Lines()
		for i := 0; i < lines.Len(); i++ {
			line := lines.At(i)
			content.Write(line.Value(chunk))
		}
		block.Content = content.String()
		if lines.Len() > 0 {
			block.Start = base + lines.At(0).Start
			block.End = base + lines.At(lines.Len()-1).Stop
		} else if fence.Info != nil {
			// Empty block: anchor the span just past the opener line.
			pos := base + fence.Info.Segment.Stop
			if i := bytes.IndexByte(source[pos:], '\n'); i >= 0 {
				pos += i + 1
			} else {
				pos = len(source)
			}
			block.Start = pos
			block.End = pos
		} else {
			block.Start = base
			block.End = base
		}
		block.Terminated = closerAt(source, block.End)

		// The hint keeps its raw markdown so backticked paths survive.
		if prev := fence.PreviousSibling(); prev != nil {
			if p, ok := prev.(*ast.Paragraph); ok {
				var hint bytes.Buffer
				for i := 0; i < p.Lines().Len(); i++ {
					hint.Write(p.Lines().At(i).Value(chunk))
				}
				block.Hint = strings.TrimSpace(hint.String())
			}
		}

		blocks = append(blocks, block)
		return ast.WalkSkipChildren, nil
	}
	// The walker never returns an error.
	_ = ast.Walk(root, walker)
	return blocks
}

// absorbNested extends a markdown block past its premature closer to the
// true one and reports the offset where parsing should resume, or -1 when
// the outer fence never closes (the block is returned unterminated).
func absorbNested(source []byte, b CodeBlock) (CodeBlock, int) {
	nesting := countOpenFences(b.Content)
	offset := b.End
	rest := string(source[offset:])
	for _, line := range strings.SplitAfter(rest, "\n") {
		if line == "" {
			break
		}
		switch fenceKind(strings.TrimSuffix(line, "\n")) {
		case fenceOpener:
			nesting++
		case fenceCloser:
			if nesting > 0 {
				nesting--
			} else {
				b.Content = string(source[b.Start:offset])
				b.End = offset
				b.Terminated = true
				return b, offset + len(line)
			}
		}
		offset += len(line)
	}
	b.Content = string(source[b.Start:])
	b.End = len(source)
	b.Terminated = false
	return b, -1
}

// countOpenFences counts fence openers with an info string not balanced by
// a bare closer within the given text.
func countOpenFences(text string) int {
	open := 0
	for _, line := range strings.Split(text, "\n") {
		switch fenceKind(line) {
		case fenceOpener:
			open++
		case fenceCloser:
			if open > 0 {
				open--
			}
		}
	}
	return open
}

func isMarkdownLang(lang string) bool {
	return lang == "markdown" || lang == "md"
}

type fenceLineKind int

const (
	fenceNone fenceLineKind = iota
	fenceOpener
	fenceCloser
)

// fenceKind classifies a line as a fence opener (backticks plus an info
// string), a bare closer, or neither. Up to three leading spaces are
// allowed, matching fence syntax.
func fenceKind(line string) fenceLineKind {
	trimmed := strings.TrimLeft(line, " ")
	if len(line)-len(trimmed) > 3 || !strings.HasPrefix(trimmed, "```") {
		return fenceNone
	}
	rest := strings.TrimLeft(trimmed, "`")
	if strings.TrimSpace(rest) == "" {
		return fenceCloser
	}
	return fenceOpener
}

// closerAt reports whether the line starting at offset is a closing fence.
func closerAt(source []byte, offset int) bool {
	if offset >= len(source) {
		return false
	}
	rest := string(source[offset:])
	line := rest
	if i := strings.IndexByte(rest, '\n'); i >= 0 {
		line = rest[:i]
	}
	return fenceKind(line) == fenceCloser
}
