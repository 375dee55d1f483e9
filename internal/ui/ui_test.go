package ui_test

import (
	"bytes"
	"strings"
	"testing"

	"coda/internal/ui"
	"coda/model"
)

func TestBannerPlain(t *testing.T) {
	var buf bytes.Buffer
	p := ui.New(&buf, false)
	p.Banner("qwen3-coder:30b", "/tmp/proj")

	out := buf.String()
	for _, want := range []string{
		"coda - Code Assistant",
		"Model: qwen3-coder:30b",
		"Project: /tmp/proj",
		"Type /help for available commands",
		"Press Ctrl+D twice or type /quit to exit",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("banner missing %q:\n%s", want, out)
		}
	}
}

func TestAppliedAndFailedLines(t *testing.T) {
	var buf bytes.Buffer
	p := ui.New(&buf, false)
	p.Applied(model.OpCreate, "src/new.py")
	p.Applied(model.OpModify, "main.py")
	p.Applied(model.OpDelete, "old.py")
	p.FailedFile("locked.py", "permission denied")

	out := buf.String()
	for _, want := range []string{
		"  ✓ created src/new.py\n",
		"  ✓ updated main.py\n",
		"  ✓ deleted old.py\n",
		"  ✗ locked.py: permission denied\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestSummary(t *testing.T) {
	var buf bytes.Buffer
	p := ui.New(&buf, false)
	p.Summary(model.Summary{
		Applied:  2,
		Rejected: 1,
		Failed:   1,
		Failures: []model.Failure{{Path: "a.py", Detail: "disk full"}},
		CommitID: "0123456789abcdef",
	})

	out := buf.String()
	for _, want := range []string{
		"Successfully processed 2 file(s) (commit 0123456)",
		"Rejected 1 proposed change(s)",
		"Failed to process 1 file(s):",
		"  ✗ a.py: disk full",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestSummaryEmpty(t *testing.T) {
	var buf bytes.Buffer
	p := ui.New(&buf, false)
	p.Summary(model.Summary{})
	if !strings.Contains(buf.String(), "Nothing to do.") {
		t.Errorf("empty summary = %q", buf.String())
	}
}

func TestUserPromptPlain(t *testing.T) {
	p := ui.New(&bytes.Buffer{}, false)
	if got := p.UserPrompt(); got != "You: " {
		t.Errorf("UserPrompt() = %q", got)
	}
}

func TestStreamedReply(t *testing.T) {
	var buf bytes.Buffer
	p := ui.New(&buf, false)
	p.AssistantPrefix()
	p.Chunk("Hello")
	p.Chunk(" there")
	if got := buf.String(); got != "\nAssistant: Hello there" {
		t.Errorf("stream = %q", got)
	}
}

func TestStyledDoesNotMangleContent(t *testing.T) {
	var buf bytes.Buffer
	p := ui.New(&buf, true)
	p.Success("Successfully processed 1 file(s)")
	if !strings.Contains(buf.String(), "Successfully processed 1 file(s)") {
		t.Errorf("styled output lost content: %q", buf.String())
	}
}

func TestProposalPlain(t *testing.T) {
	p := ui.New(&bytes.Buffer{}, false)
	got := p.Proposal(model.Candidate{Path: "src/a.py", Op: model.OpModify, Lang: "py"})
	if got != "MODIFY src/a.py (py)" {
		t.Errorf("Proposal = %q", got)
	}
	got = p.Proposal(model.Candidate{Op: model.OpCreate})
	if got != "CREATE (no filename)" {
		t.Errorf("Proposal = %q", got)
	}
}
