package results

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFailureLog(t *testing.T) {
	dir := t.TempDir()
	fl, err := NewFailureLog(dir)
	if err != nil {
		t.Fatalf("NewFailureLog failed: %v", err)
	}
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	tick := 0
	fl.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	if err := fl.RecordFailure(FailureRecord{ID: "a.md", Input: "a.md", Stage: StageLoad, ErrorMsg: "document not found"}); err != nil {
		t.Fatal(err)
	}
	if err := fl.RecordFailure(FailureRecord{ID: "b.md", SessionID: "s-1", Input: "b.md", Stage: StageIncomplete}); err != nil {
		t.Fatal(err)
	}
	// A second failure of the same document counts as a retry.
	if err := fl.RecordFailure(FailureRecord{ID: "a.md", SessionID: "s-2", Input: "a.md", Stage: StageAborted}); err != nil {
		t.Fatal(err)
	}

	rec, ok := fl.GetFailure("a.md")
	if !ok || rec.RetryCount != 1 || rec.Stage != StageAborted || rec.LastRetry.IsZero() {
		t.Errorf("unexpected record: %+v", rec)
	}

	list := fl.ListFailures()
	if len(list) != 2 || list[0].ID != "a.md" {
		t.Fatalf("unexpected list order: %+v", list)
	}

	// Records survive a reload.
	reloaded, err := NewFailureLog(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(reloaded.ListFailures()) != 2 {
		t.Errorf("reloaded %d records, want 2", len(reloaded.ListFailures()))
	}

	if err := fl.RemoveFailure("b.md"); err != nil {
		t.Fatal(err)
	}
	if _, ok := fl.GetFailure("b.md"); ok {
		t.Error("b.md should be removed")
	}
	if err := fl.RemoveFailure("never-recorded"); err != nil {
		t.Errorf("removing unknown id failed: %v", err)
	}

	if err := fl.ClearAll(); err != nil {
		t.Fatal(err)
	}
	if len(fl.ListFailures()) != 0 {
		t.Error("ClearAll left records behind")
	}
}

func TestFailureLogInvalidFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, failuresFile), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFailureLog(dir); err == nil {
		t.Error("expected error for corrupt failures file")
	}
}
