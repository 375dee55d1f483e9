package parser

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"coda/internal/fs"
	"coda/internal/patcher"
	"coda/model"
)

// Warning is a recoverable parse problem. Parsing never fails hard on
// malformed model output; skipped segments surface here instead.
type Warning struct {
	Span   model.Span
	Reason string
}

func (w Warning) String() string {
	return fmt.Sprintf("parse warning at %d..%d: %s", w.Span.Start, w.Span.End, w.Reason)
}

// Options configures a Parser for one turn.
type Options struct {
	// Extensions filters candidates by file extension ("py" or ".py").
	// Empty means no filter.
	Extensions []string
	// Mentions are path tokens from the user's own message, consumed in
	// order as fallback names for unlabeled blocks.
	Mentions []string
	// Readme resolves an otherwise unlabeled markdown block to README.md,
	// used when the user's message asked for a readme.
	Readme bool
	// ReadFile supplies current file content for diff blocks. Nil disables
	// diff support (those blocks degrade to warnings).
	ReadFile func(path string) (string, error)
}

// Parser turns a model response into an ordered sequence of candidates.
// It never touches the filesystem itself; create vs modify is finalized by
// the applicator, and diff bases come through the injected ReadFile.
type Parser struct {
	opts     Options
	exts     map[string]bool
	warnings []Warning
}

var (
	pathInHintRegex = regexp.MustCompile("`([^`\n]+)`")

	// deleteIntentRegex matches an explicit instruction to remove a file,
	// with the path adjacent to the verb to avoid firing on prose like
	// "remove the deprecated function in utils.py".
	deleteIntentRegex = regexp.MustCompile("(?i)\\b(?:delete|remove)\\s+(?:the\\s+)?(?:file\\s+)?(?:`([^`\n ]+)`|([A-Za-z0-9_][A-Za-z0-9_\\-./]*\\.[A-Za-z0-9]+))")

	mentionRegex = regexp.MustCompile(`\b[A-Za-z0-9_\-]+(?:/[A-Za-z0-9_\-]+)*\.[A-Za-z0-9]+\b`)
)

// New creates a Parser.
func New(opts Options) *Parser {
	exts := make(map[string]bool, len(opts.Extensions))
	for _, e := range opts.Extensions {
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = true
	}
	return &Parser{opts: opts, exts: exts}
}

// Parse extracts candidates from a complete response text, in order of
// appearance. Warnings accumulate on the parser and reset on each call.
func (p *Parser) Parse(source string) []model.Candidate {
	p.warnings = nil

	blocks := extractCodeBlocks([]byte(source))
	claimed := make(map[string]bool)
	mention := 0

	var cands []model.Candidate
	for _, b := range blocks {
		span := model.Span{Start: b.Start, End: b.End}
		if !b.Terminated {
			p.warn(span, "unterminated code block skipped")
			continue
		}
		if b.Lang == "diff" {
			if c, ok := p.diffCandidate(b, span); ok {
				cands = append(cands, c)
				claimed[c.Path] = true
			}
			continue
		}

		path, content := p.resolvePath(b, span, &mention)
		if path == "" && strings.TrimSpace(content) == "" {
			p.warn(span, "empty unlabeled block skipped")
			continue
		}
		if !p.allowed(path, b.Lang) {
			continue
		}
		cands = append(cands, model.Candidate{
			Path:    path,
			Op:      model.OpCreate,
			Content: content,
			Lang:    b.Lang,
			Span:    span,
		})
		if path != "" {
			claimed[path] = true
		}
	}

	cands = append(cands, p.deleteCandidates(source, claimed)...)

	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].Span.Start < cands[j].Span.Start
	})
	return cands
}

// Warnings returns the soft failures from the last Parse call.
func (p *Parser) Warnings() []Warning {
	out := make([]Warning, len(p.warnings))
	copy(out, p.warnings)
	return out
}

func (p *Parser) warn(span model.Span, format string, args ...any) {
	p.warnings = append(p.warnings, Warning{Span: span, Reason: fmt.Sprintf(format, args...)})
}

// resolvePath names a block, trying in order: a comment on the block's
// first line, a backticked token in the hint paragraph above the fence, a
// token in the fence info string, an unconsumed mention from the user's
// message, and the readme heuristic. Returns the path (possibly empty) and
// the content with a consumed comment line stripped.
func (p *Parser) resolvePath(b CodeBlock, span model.Span, mention *int) (string, string) {
	content := b.Content

	if token, rest, ok := commentPath(content); ok {
		return token, rest
	}

	if token := hintPath(b.Hint); token != "" {
		return token, content
	}

	if b.InfoRest != "" {
		if fs.ValidFilename(b.InfoRest) {
			return b.InfoRest, content
		}
		p.warn(span, "ignoring invalid filename %q in code fence", b.InfoRest)
	}

	for *mention < len(p.opts.Mentions) {
		token := p.opts.Mentions[*mention]
		*mention++
		if fs.ValidFilename(token) {
			return token, content
		}
	}

	if p.opts.Readme && isMarkdownLang(b.Lang) {
		return "README.md", content
	}

	return "", content
}

// hintPath pulls a path out of a hint paragraph. The token must be in
// backticks and look like a filename, so commands quoted above a block
// ("run `go test ./...`") do not become paths.
func hintPath(hint string) string {
	for _, m := range pathInHintRegex.FindAllStringSubmatch(hint, -1) {
		token := strings.TrimSpace(m[1])
		if fs.ValidFilename(token) {
			return token
		}
	}
	return ""
}

var commentLeaders = []struct {
	prefix string
	suffix string
}{
	{"#", ""},
	{"//", ""},
	{"--", ""},
	{";", ""},
	{"/*", "*/"},
	{"<!--", "-->"},
}

// commentPath checks whether the first line of a block is a lone comment
// naming a file ("# main.py"). On a hit it returns the path and the
// content without that line.
func commentPath(content string) (string, string, bool) {
	line, rest, _ := strings.Cut(content, "\n")
	trimmed := strings.TrimSpace(line)
	for _, leader := range commentLeaders {
		if !strings.HasPrefix(trimmed, leader.prefix) {
			continue
		}
		token := strings.TrimPrefix(trimmed, leader.prefix)
		if leader.suffix != "" {
			if !strings.HasSuffix(token, leader.suffix) {
				continue
			}
			token = strings.TrimSuffix(token, leader.suffix)
		}
		token = strings.TrimSpace(token)
		if fs.ValidFilename(token) {
			return token, rest, true
		}
	}
	return "", content, false
}

func (p *Parser) diffCandidate(b CodeBlock, span model.Span) (model.Candidate, bool) {
	path := patcher.PathFromDiff(b.Content)
	if path == "" {
		p.warn(span, "diff block has no +++ path, skipped")
		return model.Candidate{}, false
	}
	if !p.allowed(path, "diff") {
		return model.Candidate{}, false
	}
	if p.opts.ReadFile == nil {
		p.warn(span, "diff block for %s skipped: no file reader", path)
		return model.Candidate{}, false
	}
	base, err := p.opts.ReadFile(path)
	if err != nil {
		// A missing base means the diff creates the file; patch against
		// empty content.
		base = ""
	}
	patched, _, err := patcher.Materialize(b.Content, base, path)
	if err != nil {
		p.warn(span, "could not apply diff for %s: %v", path, err)
		return model.Candidate{}, false
	}
	return model.Candidate{
		Path:    path,
		Op:      model.OpModify,
		Content: patched,
		Lang:    "diff",
		Span:    span,
	}, true
}

// deleteCandidates scans the response prose for explicit file deletion
// instructions and produces content-less delete candidates for paths not
// already claimed by a fenced block.
func (p *Parser) deleteCandidates(source string, claimed map[string]bool) []model.Candidate {
	var out []model.Candidate
	seen := make(map[string]bool)
	for _, m := range deleteIntentRegex.FindAllStringSubmatchIndex(source, -1) {
		token := submatch(source, m, 1)
		if token == "" {
			token = submatch(source, m, 2)
		}
		if token == "" || seen[token] || claimed[token] || !fs.ValidFilename(token) {
			continue
		}
		if !p.allowed(token, "") {
			continue
		}
		seen[token] = true
		out = append(out, model.Candidate{
			Path: token,
			Op:   model.OpDelete,
			Span: model.Span{Start: m[0], End: m[1]},
		})
	}
	return out
}

func submatch(s string, idx []int, n int) string {
	if 2*n+1 >= len(idx) || idx[2*n] < 0 {
		return ""
	}
	return s[idx[2*n]:idx[2*n+1]]
}

// langExts maps fence languages to extensions for filtering blocks that
// have no resolved path yet.
var langExts = map[string]string{
	"python":     ".py",
	"javascript": ".js",
	"typescript": ".ts",
	"golang":     ".go",
	"rust":       ".rs",
	"ruby":       ".rb",
	"shell":      ".sh",
	"bash":       ".sh",
	"markdown":   ".md",
}

func (p *Parser) allowed(path, lang string) bool {
	if len(p.exts) == 0 {
		return true
	}
	if path != "" {
		return p.exts[filepath.Ext(path)]
	}
	if lang == "" {
		return false
	}
	if ext, ok := langExts[lang]; ok {
		return p.exts[ext]
	}
	return p.exts["."+lang]
}

// ExtractMentions pulls path-like tokens out of free text, in order,
// deduplicated. The session feeds the user's own message through this to
// give unlabeled blocks a fallback name.
func ExtractMentions(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range mentionRegex.FindAllString(text, -1) {
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}
