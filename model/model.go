package model

import "time"

// Operation is the kind of filesystem mutation a candidate proposes.
type Operation string

const (
	OpCreate Operation = "create"
	OpModify Operation = "modify"
	OpDelete Operation = "delete"
)

// Span locates a candidate inside the source response text.
type Span struct {
	Start int
	End   int
}

// Candidate is a single proposed file change extracted from a model response.
// An empty Path means the parser could not resolve a filename; such a
// candidate must not be applied until the operator supplies one.
type Candidate struct {
	Path    string
	Op      Operation
	Content string
	Lang    string
	Span    Span
}

// BackupRecord is a pre-mutation snapshot of a file.
type BackupRecord struct {
	OriginalPath string
	BackupPath   string
	CapturedAt   time.Time
}

// Status is the outcome of attempting one candidate.
type Status string

const (
	StatusApplied  Status = "applied"
	StatusRejected Status = "rejected"
	StatusFailed   Status = "failed"
)

// ApplyResult records what happened to one candidate.
// Err is set iff Status is StatusFailed. CommitID is set once the turn's
// batch commit succeeds. Restored reports that a failed write was rolled
// back from its backup.
type ApplyResult struct {
	Candidate Candidate
	Status    Status
	Err       error
	CommitID  string
	Restored  bool
}

// Failure is one failed path with its reason, for the session summary.
type Failure struct {
	Path   string
	Detail string
}

// Summary tallies a turn's results for display.
type Summary struct {
	Applied  int
	Rejected int
	Failed   int
	Failures []Failure
	CommitID string
}

// Add folds one result into the summary.
func (s *Summary) Add(r ApplyResult) {
	switch r.Status {
	case StatusApplied:
		s.Applied++
	case StatusRejected:
		s.Rejected++
	case StatusFailed:
		s.Failed++
		detail := "unknown error"
		if r.Err != nil {
			detail = r.Err.Error()
		}
		path := r.Candidate.Path
		if path == "" {
			path = "(no filename)"
		}
		s.Failures = append(s.Failures, Failure{Path: path, Detail: detail})
	}
}

// Decision is one operator choice for a pending candidate.
type Decision int

const (
	Accept Decision = iota
	Reject
	AcceptAll
	Abort
)
