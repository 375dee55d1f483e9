// Package ui renders the chat session's terminal output.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"coda/model"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")) // Mauve
	promptStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("78")) // Green
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("197"))
	faintStyle   = lipgloss.NewStyle().Faint(true)
)

const ruleWidth = 70

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return stat.Mode()&os.ModeCharDevice != 0
}

// Printer writes session output to one destination. With styling off every
// helper degrades to plain text, so piped output stays greppable.
type Printer struct {
	w      io.Writer
	styled bool
}

func New(w io.Writer, styled bool) *Printer {
	return &Printer{w: w, styled: styled}
}

// Writer exposes the destination so collaborators can share it.
func (p *Printer) Writer() io.Writer { return p.w }

func (p *Printer) render(st lipgloss.Style, s string) string {
	if !p.styled {
		return s
	}
	return st.Render(s)
}

// Banner prints the session header.
func (p *Printer) Banner(modelName, dir string) {
	rule := strings.Repeat("=", ruleWidth)
	fmt.Fprintln(p.w)
	fmt.Fprintln(p.w, p.render(faintStyle, rule))
	fmt.Fprintln(p.w, p.render(headerStyle, "coda - Code Assistant"))
	fmt.Fprintln(p.w, p.render(faintStyle, rule))
	fmt.Fprintf(p.w, "Model: %s\n", modelName)
	fmt.Fprintf(p.w, "Project: %s\n", dir)
	fmt.Fprintln(p.w, "Type /help for available commands")
	fmt.Fprintln(p.w, "Press Ctrl+D twice or type /quit to exit")
	fmt.Fprintln(p.w, p.render(faintStyle, rule))
	fmt.Fprintln(p.w)
}

// UserPrompt returns the styled input prompt.
func (p *Printer) UserPrompt() string {
	return p.render(promptStyle, "You:") + " "
}

// AssistantPrefix opens the model's streamed reply.
func (p *Printer) AssistantPrefix() {
	fmt.Fprint(p.w, "\nAssistant: ")
}

// Chunk writes a streamed reply fragment as-is.
func (p *Printer) Chunk(s string) {
	fmt.Fprint(p.w, s)
}

func (p *Printer) Println(a ...any) {
	fmt.Fprintln(p.w, a...)
}

func (p *Printer) Info(format string, a ...any) {
	fmt.Fprintf(p.w, format+"\n", a...)
}

func (p *Printer) Header(format string, a ...any) {
	fmt.Fprintln(p.w, p.render(headerStyle, fmt.Sprintf(format, a...)))
}

func (p *Printer) Success(format string, a ...any) {
	fmt.Fprintln(p.w, p.render(successStyle, fmt.Sprintf(format, a...)))
}

func (p *Printer) Warn(format string, a ...any) {
	fmt.Fprintln(p.w, p.render(warnStyle, fmt.Sprintf(format, a...)))
}

func (p *Printer) Error(format string, a ...any) {
	fmt.Fprintln(p.w, p.render(errorStyle, fmt.Sprintf(format, a...)))
}

// Proposal renders the review header for one candidate: operation word
// colored by severity, then path, then the fence language when known.
func (p *Printer) Proposal(c model.Candidate) string {
	path := c.Path
	if path == "" {
		path = "(no filename)"
	}
	st := successStyle
	switch c.Op {
	case model.OpModify:
		st = warnStyle
	case model.OpDelete:
		st = errorStyle
	}
	line := p.render(st, strings.ToUpper(string(c.Op))) + " " + path
	if c.Lang != "" {
		line += " " + p.render(faintStyle, "("+c.Lang+")")
	}
	return line
}

// Applied prints one per-file success line.
func (p *Printer) Applied(op model.Operation, path string) {
	fmt.Fprintf(p.w, "  %s %s %s\n", p.render(successStyle, "✓"), verbFor(op), path)
}

// FailedFile prints one per-file failure line.
func (p *Printer) FailedFile(path, detail string) {
	fmt.Fprintf(p.w, "  %s %s: %s\n", p.render(errorStyle, "✗"), path, detail)
}

// Summary prints the end-of-turn tally.
func (p *Printer) Summary(s model.Summary) {
	fmt.Fprintln(p.w)
	if s.Applied == 0 && s.Rejected == 0 && s.Failed == 0 {
		fmt.Fprintln(p.w, p.render(faintStyle, "Nothing to do."))
		return
	}
	if s.Applied > 0 {
		line := fmt.Sprintf("Successfully processed %d file(s)", s.Applied)
		if s.CommitID != "" {
			line += fmt.Sprintf(" (commit %s)", shortID(s.CommitID))
		}
		p.Success("%s", line)
	}
	if s.Rejected > 0 {
		p.Info("Rejected %d proposed change(s)", s.Rejected)
	}
	if s.Failed > 0 {
		p.Error("Failed to process %d file(s):", s.Failed)
		for _, f := range s.Failures {
			p.FailedFile(f.Path, f.Detail)
		}
	}
}

func verbFor(op model.Operation) string {
	switch op {
	case model.OpCreate:
		return "created"
	case model.OpDelete:
		return "deleted"
	default:
		return "updated"
	}
}

func shortID(id string) string {
	if len(id) > 7 {
		return id[:7]
	}
	return id
}
