package parser_test

import (
	"errors"
	"strings"
	"testing"

	"coda/internal/parser"
	"coda/model"
)

func TestParsePathFromCommentLine(t *testing.T) {
	p := parser.New(parser.Options{})
	src := "Here you go:\n\n```python\n# src/app.py\nx = 1\n```\n"

	cands := p.Parse(src)
	if len(cands) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(cands))
	}
	c := cands[0]
	if c.Path != "src/app.py" {
		t.Errorf("path = %q, want src/app.py", c.Path)
	}
	if c.Content != "x = 1\n" {
		t.Errorf("comment line not stripped, content = %q", c.Content)
	}
	if c.Op != model.OpCreate {
		t.Errorf("op = %q, want %q", c.Op, model.OpCreate)
	}
	if c.Lang != "python" {
		t.Errorf("lang = %q, want python", c.Lang)
	}
}

func TestParsePathFromHintParagraph(t *testing.T) {
	p := parser.New(parser.Options{})
	src := "Update `src/util.py`:\n\n```python\nvalue = 2\n```\n"

	cands := p.Parse(src)
	if len(cands) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(cands))
	}
	if cands[0].Path != "src/util.py" {
		t.Errorf("path = %q, want src/util.py", cands[0].Path)
	}
	if cands[0].Content != "value = 2\n" {
		t.Errorf("content = %q, want unchanged body", cands[0].Content)
	}
}

func TestParsePathFromInfoString(t *testing.T) {
	p := parser.New(parser.Options{})
	src := "```go cmd/main.go\npackage main\n```\n"

	cands := p.Parse(src)
	if len(cands) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(cands))
	}
	if cands[0].Path != "cmd/main.go" {
		t.Errorf("path = %q, want cmd/main.go", cands[0].Path)
	}
	if cands[0].Lang != "go" {
		t.Errorf("lang = %q, want go", cands[0].Lang)
	}
}

func TestParseCommentLineBeatsHint(t *testing.T) {
	p := parser.New(parser.Options{})
	src := "Save as `wrong.py`:\n\n```python\n# right.py\nx = 1\n```\n"

	cands := p.Parse(src)
	if len(cands) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(cands))
	}
	if cands[0].Path != "right.py" {
		t.Errorf("path = %q, want right.py", cands[0].Path)
	}
}

func TestParseUnresolvedBlockKept(t *testing.T) {
	p := parser.New(parser.Options{})
	src := "```python\nx = 1\n```\n"

	cands := p.Parse(src)
	if len(cands) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(cands))
	}
	if cands[0].Path != "" {
		t.Errorf("path = %q, want unresolved", cands[0].Path)
	}
	if cands[0].Content != "x = 1\n" {
		t.Errorf("content = %q", cands[0].Content)
	}
}

func TestParseMentionsNameUnlabeledBlocks(t *testing.T) {
	p := parser.New(parser.Options{Mentions: []string{"notes/a.md", "b.py"}})
	src := "```text\nalpha\n```\n\n```text\nbeta\n```\n"

	cands := p.Parse(src)
	if len(cands) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(cands))
	}
	if cands[0].Path != "notes/a.md" || cands[1].Path != "b.py" {
		t.Errorf("paths = %q, %q; want mentions consumed in order", cands[0].Path, cands[1].Path)
	}
}

func TestParseReadmeHeuristic(t *testing.T) {
	p := parser.New(parser.Options{Readme: true})
	src := "```markdown\n# My Project\nDocs here.\n```\n"

	cands := p.Parse(src)
	if len(cands) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(cands))
	}
	if cands[0].Path != "README.md" {
		t.Errorf("path = %q, want README.md", cands[0].Path)
	}
}

func TestParseUnterminatedBlockSkippedWithWarning(t *testing.T) {
	p := parser.New(parser.Options{})
	src := "```python\nx = 1\n"

	cands := p.Parse(src)
	if len(cands) != 0 {
		t.Fatalf("expected no candidates, got %d", len(cands))
	}
	warns := p.Warnings()
	if len(warns) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(warns))
	}
	if !strings.Contains(warns[0].Reason, "unterminated") {
		t.Errorf("warning = %q", warns[0].Reason)
	}
}

func TestParseMarkdownBlockWithNestedFences(t *testing.T) {
	p := parser.New(parser.Options{Readme: true})
	src := "Here:\n\n```markdown\n# Title\n\n```python\nprint(1)\n```\n\nTail text.\n```\n"

	cands := p.Parse(src)
	if len(cands) != 1 {
		t.Fatalf("expected 1 candidate, got %d: %+v", len(cands), cands)
	}
	c := cands[0]
	if c.Path != "README.md" {
		t.Errorf("path = %q, want README.md", c.Path)
	}
	want := "# Title\n\n```python\nprint(1)\n```\n\nTail text.\n"
	if c.Content != want {
		t.Errorf("nested fence not absorbed:\ngot  %q\nwant %q", c.Content, want)
	}
	if len(p.Warnings()) != 0 {
		t.Errorf("unexpected warnings: %v", p.Warnings())
	}
}

func TestParseDeletionIntent(t *testing.T) {
	p := parser.New(parser.Options{})
	src := "The helper is obsolete. Please delete `old/helper.py` and update `app.py`:\n\n```python\n# app.py\nrun()\n```\n"

	cands := p.Parse(src)
	if len(cands) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(cands))
	}
	// Prose comes before the block, so the delete sorts first.
	if cands[0].Op != model.OpDelete || cands[0].Path != "old/helper.py" {
		t.Errorf("first candidate = %+v, want delete of old/helper.py", cands[0])
	}
	if cands[0].Content != "" {
		t.Errorf("delete candidate should carry no content, got %q", cands[0].Content)
	}
	if cands[1].Op != model.OpCreate || cands[1].Path != "app.py" {
		t.Errorf("second candidate = %+v, want create of app.py", cands[1])
	}
}

func TestParseDeletionIntentBareToken(t *testing.T) {
	p := parser.New(parser.Options{})
	cands := p.Parse("You should remove the file config.old.json now.\n")
	if len(cands) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(cands))
	}
	if cands[0].Op != model.OpDelete || cands[0].Path != "config.old.json" {
		t.Errorf("candidate = %+v", cands[0])
	}
}

func TestParseDeletionIntentIgnoresProseAboutCode(t *testing.T) {
	p := parser.New(parser.Options{})
	cands := p.Parse("Next, remove the deprecated function in utils.py and rerun.\n")
	if len(cands) != 0 {
		t.Fatalf("expected no candidates, got %+v", cands)
	}
}

func TestParseDiffBlock(t *testing.T) {
	files := map[string]string{"app.py": "x = 1\ny = 2\n"}
	read := func(path string) (string, error) {
		c, ok := files[path]
		if !ok {
			return "", errors.New("no such file")
		}
		return c, nil
	}
	p := parser.New(parser.Options{ReadFile: read})
	src := "```diff\n--- a/app.py\n+++ b/app.py\n@@ -1,2 +1,2 @@\n x = 1\n-y = 2\n+y = 3\n```\n"

	cands := p.Parse(src)
	if len(cands) != 1 {
		t.Fatalf("expected 1 candidate, got %d (warnings: %v)", len(cands), p.Warnings())
	}
	c := cands[0]
	if c.Path != "app.py" || c.Op != model.OpModify {
		t.Errorf("candidate = %+v, want modify of app.py", c)
	}
	if c.Content != "x = 1\ny = 3\n" {
		t.Errorf("patched content = %q", c.Content)
	}
}

func TestParseDiffBlockWithoutReaderWarns(t *testing.T) {
	p := parser.New(parser.Options{})
	src := "```diff\n+++ b/app.py\n@@ -1 +1 @@\n-x\n+y\n```\n"

	cands := p.Parse(src)
	if len(cands) != 0 {
		t.Fatalf("expected no candidates, got %d", len(cands))
	}
	warns := p.Warnings()
	if len(warns) != 1 || !strings.Contains(warns[0].Reason, "no file reader") {
		t.Errorf("warnings = %v", warns)
	}
}

func TestParseExtensionFilter(t *testing.T) {
	p := parser.New(parser.Options{Extensions: []string{"py"}})
	src := "```go cmd/main.go\npackage main\n```\n\n" +
		"```python\n# keep.py\nx = 1\n```\n\n" +
		"```python\nunnamed = True\n```\n\n" +
		"```ruby\nputs 1\n```\n"

	cands := p.Parse(src)
	if len(cands) != 2 {
		t.Fatalf("expected 2 candidates, got %d: %+v", len(cands), cands)
	}
	if cands[0].Path != "keep.py" {
		t.Errorf("first = %+v", cands[0])
	}
	if cands[1].Path != "" || cands[1].Lang != "python" {
		t.Errorf("second = %+v, want unresolved python block", cands[1])
	}
}

func TestParseInvalidInfoFilenameWarns(t *testing.T) {
	p := parser.New(parser.Options{})
	src := "```python bad name.py\nx = 1\n```\n"

	cands := p.Parse(src)
	if len(cands) != 1 || cands[0].Path != "" {
		t.Fatalf("candidates = %+v, want one unresolved", cands)
	}
	warns := p.Warnings()
	if len(warns) != 1 || !strings.Contains(warns[0].Reason, "invalid filename") {
		t.Errorf("warnings = %v", warns)
	}
}

func TestParseWarningsResetPerCall(t *testing.T) {
	p := parser.New(parser.Options{})
	p.Parse("```python\nx = 1\n")
	if len(p.Warnings()) != 1 {
		t.Fatalf("expected 1 warning after first parse, got %d", len(p.Warnings()))
	}
	p.Parse("fine text, no blocks\n")
	if len(p.Warnings()) != 0 {
		t.Errorf("warnings not reset: %v", p.Warnings())
	}
}

func TestExtractMentions(t *testing.T) {
	got := parser.ExtractMentions("see src/a.py and b.txt, then src/a.py again")
	want := []string{"src/a.py", "b.txt"}
	if len(got) != len(want) {
		t.Fatalf("mentions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("mentions[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
