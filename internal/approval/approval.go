// Package approval runs the human decision loop over pending candidates.
// It reads decisions and writes prompts on injected streams and never
// touches the filesystem itself.
package approval

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"coda/internal/fs"
	"coda/model"
)

const previewLimit = 500

// Options configures a Gate.
type Options struct {
	In  io.Reader
	Out io.Writer
	// ReadLine overrides In as the decision source. The session injects
	// its own line reader so the gate and the chat prompt share one
	// input buffer instead of racing each other on stdin.
	ReadLine func() (string, bool)
	// AssumeYes accepts every resolvable candidate without prompting.
	AssumeYes bool
	// Describe renders the header line for a candidate. Nil uses a plain
	// "OP path" default; the session injects a styled renderer.
	Describe func(model.Candidate) string
}

// Reviewed is a candidate with its final decision. Only Accept and Reject
// appear here; accept-all and abort are flow controls that expand into
// per-candidate decisions.
type Reviewed struct {
	model.Candidate
	Decision model.Decision
}

// Gate prompts for one decision per candidate, in order.
type Gate struct {
	in        *bufio.Scanner
	read      func() (string, bool)
	out       io.Writer
	assumeYes bool
	describe  func(model.Candidate) string
}

// New creates a Gate. Nil In/Out default to stdin/stdout.
func New(opts Options) *Gate {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	describe := opts.Describe
	if describe == nil {
		describe = defaultDescribe
	}
	g := &Gate{
		out:       out,
		assumeYes: opts.AssumeYes,
		describe:  describe,
		read:      opts.ReadLine,
	}
	if g.read == nil {
		in := opts.In
		if in == nil {
			in = os.Stdin
		}
		g.in = bufio.NewScanner(in)
	}
	return g
}

func defaultDescribe(c model.Candidate) string {
	path := c.Path
	if path == "" {
		path = "(no filename)"
	}
	return fmt.Sprintf("%s %s", strings.ToUpper(string(c.Op)), path)
}

// Review walks the candidates and returns each with its decision, plus
// the index at which the operator aborted (-1 when the loop ran out).
// An abort rejects the remainder for this pass; decisions made before it
// stand.
func (g *Gate) Review(cands []model.Candidate) ([]Reviewed, int) {
	out := make([]Reviewed, 0, len(cands))
	acceptAll := g.assumeYes
	abortedAt := -1

	for i, c := range cands {
		switch {
		case abortedAt >= 0:
			out = append(out, Reviewed{Candidate: c, Decision: model.Reject})

		case acceptAll:
			// Never auto-apply a nameless candidate, even under
			// accept-all: it still needs a filename or a rejection.
			if c.Path == "" && !g.promptPath(&c) {
				out = append(out, Reviewed{Candidate: c, Decision: model.Reject})
				continue
			}
			out = append(out, Reviewed{Candidate: c, Decision: model.Accept})

		default:
			g.present(c)
			if c.Path == "" && !g.promptPath(&c) {
				fmt.Fprintln(g.out, "skipped (no filename)")
				out = append(out, Reviewed{Candidate: c, Decision: model.Reject})
				continue
			}
			switch g.decide() {
			case model.Accept:
				out = append(out, Reviewed{Candidate: c, Decision: model.Accept})
			case model.Reject:
				out = append(out, Reviewed{Candidate: c, Decision: model.Reject})
			case model.AcceptAll:
				out = append(out, Reviewed{Candidate: c, Decision: model.Accept})
				acceptAll = true
			case model.Abort:
				out = append(out, Reviewed{Candidate: c, Decision: model.Reject})
				abortedAt = i
			}
		}
	}
	return out, abortedAt
}

func (g *Gate) present(c model.Candidate) {
	fmt.Fprintln(g.out)
	fmt.Fprintln(g.out, g.describe(c))
	if c.Op == model.OpDelete {
		return
	}
	preview := c.Content
	if len(preview) > previewLimit {
		preview = preview[:previewLimit] + "\n... (truncated)"
	}
	if !strings.HasSuffix(preview, "\n") {
		preview += "\n"
	}
	fmt.Fprint(g.out, preview)
}

// decide reads one decision, re-prompting on unrecognized input. EOF
// aborts the remainder.
func (g *Gate) decide() model.Decision {
	for {
		fmt.Fprint(g.out, "Apply? [Y/n/a/q, Q aborts] ")
		line, ok := g.readLine()
		if !ok {
			return model.Abort
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "Q" {
			return model.Abort
		}
		switch strings.ToLower(trimmed) {
		case "", "y", "yes":
			return model.Accept
		case "n", "no", "q":
			return model.Reject
		case "a", "all":
			return model.AcceptAll
		case "abort":
			return model.Abort
		}
		fmt.Fprintf(g.out, "unrecognized input %q\n", trimmed)
	}
}

// promptPath asks for a filename for a nameless candidate. Empty input
// skips it; an invalid name gets one retry.
func (g *Gate) promptPath(c *model.Candidate) bool {
	for attempt := 0; attempt < 2; attempt++ {
		fmt.Fprint(g.out, "Filename for this block (empty to skip): ")
		line, ok := g.readLine()
		if !ok {
			return false
		}
		name := strings.TrimSpace(line)
		if name == "" {
			return false
		}
		if fs.ValidFilename(name) {
			c.Path = name
			return true
		}
		fmt.Fprintf(g.out, "invalid filename %q\n", name)
	}
	return false
}

func (g *Gate) readLine() (string, bool) {
	if g.read != nil {
		return g.read()
	}
	if !g.in.Scan() {
		return "", false
	}
	return g.in.Text(), true
}
