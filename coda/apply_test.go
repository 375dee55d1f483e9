package coda_test

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"coda/coda"
	"coda/internal/backup"
	"coda/internal/fs"
	"coda/model"
)

func newApplicator(t *testing.T) (*coda.Applicator, string) {
	t.Helper()
	root := t.TempDir()
	resolver, err := fs.NewResolver(root)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	backups := backup.NewManager(root, filepath.Join(root, ".coda", "backups"))
	return coda.NewApplicator(resolver, backups), root
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, rel))
	if err != nil {
		t.Fatalf("ReadFile %s: %v", rel, err)
	}
	return string(data)
}

func backupsFor(t *testing.T, root, rel string) []string {
	t.Helper()
	pattern := filepath.Join(root, ".coda", "backups", filepath.Dir(rel), filepath.Base(rel)+".*.bak")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		t.Fatal(err)
	}
	return matches
}

func TestApplyCreateWritesNestedFile(t *testing.T) {
	app, root := newApplicator(t)

	res := app.Apply(model.Candidate{Path: "src/pkg/new.py", Op: model.OpCreate, Content: "print('hi')\n"})
	if res.Status != model.StatusApplied {
		t.Fatalf("status = %v (err %v), want applied", res.Status, res.Err)
	}
	if res.Candidate.Op != model.OpCreate {
		t.Fatalf("op = %v, want create", res.Candidate.Op)
	}
	if got := readFile(t, root, "src/pkg/new.py"); got != "print('hi')\n" {
		t.Fatalf("content = %q", got)
	}
	if b := backupsFor(t, root, "src/pkg/new.py"); len(b) != 0 {
		t.Fatalf("create took a backup: %v", b)
	}
}

func TestApplyFinalizesModifyAndBacksUp(t *testing.T) {
	app, root := newApplicator(t)
	writeFile(t, root, "main.py", "old\n")

	// The parser tags everything create; the applicator settles it by stat.
	res := app.Apply(model.Candidate{Path: "main.py", Op: model.OpCreate, Content: "new\n"})
	if res.Status != model.StatusApplied {
		t.Fatalf("status = %v (err %v), want applied", res.Status, res.Err)
	}
	if res.Candidate.Op != model.OpModify {
		t.Fatalf("op = %v, want modify", res.Candidate.Op)
	}
	if got := readFile(t, root, "main.py"); got != "new\n" {
		t.Fatalf("content = %q, want %q", got, "new\n")
	}

	backups := backupsFor(t, root, "main.py")
	if len(backups) != 1 {
		t.Fatalf("backups = %v, want exactly one", backups)
	}
	data, err := os.ReadFile(backups[0])
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "old\n" {
		t.Fatalf("backup holds %q, want the pre-write content", data)
	}
}

func TestApplyDeleteBacksUpFirst(t *testing.T) {
	app, root := newApplicator(t)
	writeFile(t, root, "old.py", "bye\n")

	res := app.Apply(model.Candidate{Path: "old.py", Op: model.OpDelete})
	if res.Status != model.StatusApplied {
		t.Fatalf("status = %v (err %v), want applied", res.Status, res.Err)
	}
	if _, err := os.Stat(filepath.Join(root, "old.py")); !os.IsNotExist(err) {
		t.Fatalf("old.py still present (err %v)", err)
	}

	backups := backupsFor(t, root, "old.py")
	if len(backups) != 1 {
		t.Fatalf("backups = %v, want exactly one", backups)
	}
	data, err := os.ReadFile(backups[0])
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "bye\n" {
		t.Fatalf("backup holds %q, want the deleted content", data)
	}
}

func TestApplyEscapingPathNeverTouchesDisk(t *testing.T) {
	app, root := newApplicator(t)

	res := app.Apply(model.Candidate{Path: "../escape.py", Op: model.OpCreate, Content: "x"})
	if res.Status != model.StatusFailed {
		t.Fatalf("status = %v, want failed", res.Status)
	}
	var perr *fs.PathEscapeError
	if !errors.As(res.Err, &perr) {
		t.Fatalf("err = %v, want PathEscapeError", res.Err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(root), "escape.py")); !os.IsNotExist(err) {
		t.Fatalf("escaped file was written (err %v)", err)
	}
}

func TestApplyEmptyPathFails(t *testing.T) {
	app, _ := newApplicator(t)

	res := app.Apply(model.Candidate{Path: "", Op: model.OpCreate, Content: "x"})
	if res.Status != model.StatusFailed {
		t.Fatalf("status = %v, want failed", res.Status)
	}
	if res.Err == nil {
		t.Fatal("expected an error for the empty path")
	}
}

func TestApplyDeleteMissingFileFails(t *testing.T) {
	app, _ := newApplicator(t)

	res := app.Apply(model.Candidate{Path: "ghost.py", Op: model.OpDelete})
	if res.Status != model.StatusFailed {
		t.Fatalf("status = %v, want failed", res.Status)
	}
	var berr *backup.Error
	if !errors.As(res.Err, &berr) {
		t.Fatalf("err = %v, want backup.Error", res.Err)
	}
}

func TestApplyCreateUnderFileParentFails(t *testing.T) {
	app, root := newApplicator(t)
	writeFile(t, root, "blocker", "i am a file\n")

	res := app.Apply(model.Candidate{Path: "blocker/child.py", Op: model.OpCreate, Content: "x"})
	if res.Status != model.StatusFailed {
		t.Fatalf("status = %v, want failed", res.Status)
	}
	var werr *coda.WriteError
	if !errors.As(res.Err, &werr) {
		t.Fatalf("err = %v, want WriteError", res.Err)
	}
	if werr.Restored {
		t.Fatal("nothing was backed up, nothing should be restored")
	}
}

func TestApplyDeleteFailureRestores(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("directory permissions are not enforced for root")
	}
	app, root := newApplicator(t)
	writeFile(t, root, "locked/f.py", "keep\n")

	dir := filepath.Join(root, "locked")
	if err := os.Chmod(dir, 0o555); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chmod(dir, 0o755) })

	res := app.Apply(model.Candidate{Path: "locked/f.py", Op: model.OpDelete})
	if res.Status != model.StatusFailed {
		t.Fatalf("status = %v, want failed", res.Status)
	}
	var werr *coda.WriteError
	if !errors.As(res.Err, &werr) {
		t.Fatalf("err = %v, want WriteError", res.Err)
	}
	if !werr.Restored || !res.Restored {
		t.Fatalf("restore not recorded: werr.Restored=%v res.Restored=%v", werr.Restored, res.Restored)
	}
	if got := readFile(t, root, "locked/f.py"); got != "keep\n" {
		t.Fatalf("content = %q, want untouched", got)
	}
}

func TestApplyAllIsolatesFailures(t *testing.T) {
	app, root := newApplicator(t)
	writeFile(t, root, "b.py", "old\n")

	results, touched := app.ApplyAll([]model.Candidate{
		{Path: "a.py", Op: model.OpCreate, Content: "a\n"},
		{Path: "../escape.py", Op: model.OpCreate, Content: "x"},
		{Path: "b.py", Op: model.OpCreate, Content: "new\n"},
	})
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	want := []model.Status{model.StatusApplied, model.StatusFailed, model.StatusApplied}
	for i, r := range results {
		if r.Status != want[i] {
			t.Fatalf("results[%d].Status = %v, want %v", i, r.Status, want[i])
		}
	}
	if !reflect.DeepEqual(touched, []string{"a.py", "b.py"}) {
		t.Fatalf("touched = %v", touched)
	}
	if got := readFile(t, root, "b.py"); got != "new\n" {
		t.Fatalf("b.py = %q, want %q", got, "new\n")
	}
}
