package approval_test

import (
	"bytes"
	"strings"
	"testing"

	"coda/internal/approval"
	"coda/model"
)

func cand(path, content string) model.Candidate {
	return model.Candidate{Path: path, Op: model.OpCreate, Content: content}
}

func review(t *testing.T, input string, opts approval.Options, cands ...model.Candidate) ([]approval.Reviewed, int, string) {
	t.Helper()
	var out bytes.Buffer
	opts.In = strings.NewReader(input)
	opts.Out = &out
	g := approval.New(opts)
	got, abortedAt := g.Review(cands)
	return got, abortedAt, out.String()
}

func TestAcceptAndReject(t *testing.T) {
	got, abortedAt, _ := review(t, "y\nn\n", approval.Options{},
		cand("a.py", "a\n"), cand("b.py", "b\n"))
	if abortedAt != -1 {
		t.Fatalf("abortedAt = %d, want -1", abortedAt)
	}
	if got[0].Decision != model.Accept || got[1].Decision != model.Reject {
		t.Errorf("decisions = %v, %v", got[0].Decision, got[1].Decision)
	}
}

func TestEmptyInputAccepts(t *testing.T) {
	got, _, _ := review(t, "\n", approval.Options{}, cand("a.py", "a\n"))
	if got[0].Decision != model.Accept {
		t.Errorf("decision = %v, want Accept", got[0].Decision)
	}
}

func TestLowercaseQRejectsOne(t *testing.T) {
	got, abortedAt, _ := review(t, "q\ny\n", approval.Options{},
		cand("a.py", "a\n"), cand("b.py", "b\n"))
	if abortedAt != -1 {
		t.Fatal("lowercase q must not abort")
	}
	if got[0].Decision != model.Reject || got[1].Decision != model.Accept {
		t.Errorf("decisions = %v, %v", got[0].Decision, got[1].Decision)
	}
}

func TestAcceptAllShortCircuits(t *testing.T) {
	// One "a" answer covers all three candidates.
	got, abortedAt, output := review(t, "a\n", approval.Options{},
		cand("a.py", "a\n"), cand("b.py", "b\n"), cand("c.py", "c\n"))
	if abortedAt != -1 {
		t.Fatal("unexpected abort")
	}
	for i, r := range got {
		if r.Decision != model.Accept {
			t.Errorf("candidate %d decision = %v, want Accept", i, r.Decision)
		}
	}
	if strings.Count(output, "Apply?") != 1 {
		t.Errorf("expected exactly one prompt, output:\n%s", output)
	}
}

func TestUppercaseQAbortsRemainder(t *testing.T) {
	got, abortedAt, _ := review(t, "y\nQ\n", approval.Options{},
		cand("a.py", "a\n"), cand("b.py", "b\n"), cand("c.py", "c\n"))
	if abortedAt != 1 {
		t.Fatalf("abortedAt = %d, want 1", abortedAt)
	}
	if got[0].Decision != model.Accept {
		t.Errorf("first decision = %v, want Accept (abort keeps earlier accepts)", got[0].Decision)
	}
	if got[1].Decision != model.Reject || got[2].Decision != model.Reject {
		t.Errorf("aborted decisions = %v, %v, want Reject", got[1].Decision, got[2].Decision)
	}
}

func TestUnrecognizedInputReprompts(t *testing.T) {
	got, _, output := review(t, "zzz\ny\n", approval.Options{}, cand("a.py", "a\n"))
	if got[0].Decision != model.Accept {
		t.Errorf("decision = %v, want Accept after re-prompt", got[0].Decision)
	}
	if strings.Count(output, "Apply?") != 2 {
		t.Errorf("expected re-prompt, output:\n%s", output)
	}
	if !strings.Contains(output, "unrecognized input") {
		t.Errorf("missing unrecognized notice, output:\n%s", output)
	}
}

func TestEOFAborts(t *testing.T) {
	got, abortedAt, _ := review(t, "", approval.Options{},
		cand("a.py", "a\n"), cand("b.py", "b\n"))
	if abortedAt != 0 {
		t.Fatalf("abortedAt = %d, want 0 on EOF", abortedAt)
	}
	if got[0].Decision != model.Reject || got[1].Decision != model.Reject {
		t.Errorf("decisions = %v, %v", got[0].Decision, got[1].Decision)
	}
}

func TestNamelessCandidatePromptsForPath(t *testing.T) {
	got, _, output := review(t, "fresh.py\ny\n", approval.Options{}, cand("", "x = 1\n"))
	if got[0].Path != "fresh.py" {
		t.Errorf("path = %q, want fresh.py", got[0].Path)
	}
	if got[0].Decision != model.Accept {
		t.Errorf("decision = %v, want Accept", got[0].Decision)
	}
	if !strings.Contains(output, "Filename for this block") {
		t.Errorf("missing filename prompt, output:\n%s", output)
	}
}

func TestNamelessCandidateEmptyNameRejects(t *testing.T) {
	got, abortedAt, _ := review(t, "\ny\n", approval.Options{},
		cand("", "x = 1\n"), cand("b.py", "b\n"))
	if abortedAt != -1 {
		t.Fatal("unexpected abort")
	}
	if got[0].Decision != model.Reject {
		t.Errorf("nameless decision = %v, want Reject", got[0].Decision)
	}
	if got[1].Decision != model.Accept {
		t.Errorf("second decision = %v, want Accept", got[1].Decision)
	}
}

func TestNamelessCandidateInvalidThenValidName(t *testing.T) {
	got, _, output := review(t, "bad name\nok.py\ny\n", approval.Options{}, cand("", "x\n"))
	if got[0].Path != "ok.py" || got[0].Decision != model.Accept {
		t.Errorf("got = %+v", got[0])
	}
	if !strings.Contains(output, "invalid filename") {
		t.Errorf("missing invalid-name notice, output:\n%s", output)
	}
}

func TestNamelessCandidateInvalidTwiceRejects(t *testing.T) {
	got, _, _ := review(t, "bad name\nworse name\n", approval.Options{}, cand("", "x\n"))
	if got[0].Decision != model.Reject {
		t.Errorf("decision = %v, want Reject after two invalid names", got[0].Decision)
	}
}

func TestAssumeYes(t *testing.T) {
	got, abortedAt, output := review(t, "", approval.Options{AssumeYes: true},
		cand("a.py", "a\n"), cand("", "orphan\n"), cand("b.py", "b\n"))
	if abortedAt != -1 {
		t.Fatal("unexpected abort")
	}
	if got[0].Decision != model.Accept || got[2].Decision != model.Accept {
		t.Errorf("named decisions = %v, %v, want Accept", got[0].Decision, got[2].Decision)
	}
	// The nameless one cannot be auto-applied and EOF means no name comes.
	if got[1].Decision != model.Reject {
		t.Errorf("nameless decision = %v, want Reject", got[1].Decision)
	}
	if strings.Contains(output, "Apply?") {
		t.Errorf("assume-yes must not prompt for decisions, output:\n%s", output)
	}
}

func TestDeletePresentedWithoutPreview(t *testing.T) {
	_, _, output := review(t, "y\n", approval.Options{},
		model.Candidate{Path: "old.py", Op: model.OpDelete})
	if !strings.Contains(output, "DELETE old.py") {
		t.Errorf("missing delete header, output:\n%s", output)
	}
}

func TestLongContentTruncated(t *testing.T) {
	long := strings.Repeat("x", 1200)
	_, _, output := review(t, "y\n", approval.Options{}, cand("big.py", long))
	if !strings.Contains(output, "... (truncated)") {
		t.Errorf("missing truncation marker, output:\n%s", output)
	}
	if strings.Contains(output, long) {
		t.Error("full content leaked into preview")
	}
}

func TestCustomDescribe(t *testing.T) {
	opts := approval.Options{Describe: func(c model.Candidate) string {
		return ">> " + c.Path + " <<"
	}}
	_, _, output := review(t, "y\n", opts, cand("a.py", "a\n"))
	if !strings.Contains(output, ">> a.py <<") {
		t.Errorf("custom describe not used, output:\n%s", output)
	}
}

func TestReadLineOverridesReader(t *testing.T) {
	lines := []string{"y", "n"}
	var out bytes.Buffer
	g := approval.New(approval.Options{
		// In is deliberately absent; decisions come from the callback.
		Out: &out,
		ReadLine: func() (string, bool) {
			if len(lines) == 0 {
				return "", false
			}
			l := lines[0]
			lines = lines[1:]
			return l, true
		},
	})
	got, abortedAt := g.Review([]model.Candidate{cand("a.py", "a\n"), cand("b.py", "b\n")})
	if abortedAt != -1 {
		t.Fatalf("abortedAt = %d, want -1", abortedAt)
	}
	if got[0].Decision != model.Accept || got[1].Decision != model.Reject {
		t.Errorf("decisions = %v, %v", got[0].Decision, got[1].Decision)
	}
}
