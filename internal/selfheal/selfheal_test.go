package selfheal

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRecoverStaleProcessing_MovesOldFilesBack(t *testing.T) {
	dir := t.TempDir()
	processing := filepath.Join(dir, "processing")
	inbox := filepath.Join(dir, "inbox")
	if err := os.MkdirAll(processing, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	stale := filepath.Join(processing, "stale.jsonl")
	if err := os.WriteFile(stale, []byte(`{}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	old := time.Now().Add(-1 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	if err := RecoverStaleProcessing(processing, inbox, 10*time.Minute, time.Now()); err != nil {
		t.Fatalf("RecoverStaleProcessing: %v", err)
	}

	if _, err := os.Stat(filepath.Join(inbox, "stale.jsonl")); err != nil {
		t.Errorf("expected stale.jsonl to be moved to inbox: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("expected stale.jsonl to be gone from processing")
	}
}

func TestRecoverStaleProcessing_LeavesFreshFilesInPlace(t *testing.T) {
	dir := t.TempDir()
	processing := filepath.Join(dir, "processing")
	inbox := filepath.Join(dir, "inbox")
	if err := os.MkdirAll(processing, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	fresh := filepath.Join(processing, "fresh.jsonl")
	if err := os.WriteFile(fresh, []byte(`{}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := RecoverStaleProcessing(processing, inbox, 10*time.Minute, time.Now()); err != nil {
		t.Fatalf("RecoverStaleProcessing: %v", err)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Errorf("expected fresh.jsonl to remain in processing: %v", err)
	}
}

func TestRecoverStaleProcessing_MissingDirIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	if err := RecoverStaleProcessing(filepath.Join(dir, "nope"), filepath.Join(dir, "inbox"), time.Minute, time.Now()); err != nil {
		t.Errorf("expected no error for missing processing dir, got %v", err)
	}
}

func TestCleanStaleGitIndexLock_MissingLockIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	if err := CleanStaleGitIndexLock(dir, time.Minute, time.Now()); err != nil {
		t.Errorf("expected no error for missing lock file, got %v", err)
	}
}

func TestCleanStaleGitIndexLock_FreshLockIsLeftAlone(t *testing.T) {
	dir := t.TempDir()
	gitDir := filepath.Join(dir, ".git")
	if err := os.MkdirAll(gitDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	lockPath := filepath.Join(gitDir, "index.lock")
	if err := os.WriteFile(lockPath, []byte(""), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := CleanStaleGitIndexLock(dir, time.Hour, time.Now()); err != nil {
		t.Fatalf("CleanStaleGitIndexLock: %v", err)
	}
	if _, err := os.Stat(lockPath); err != nil {
		t.Errorf("expected fresh lock to survive, got %v", err)
	}
}

func TestPruneArchive_RemovesFilesOlderThanKeepDays(t *testing.T) {
	dir := t.TempDir()
	oldFile := filepath.Join(dir, "ledger.jsonl.20200101T000000")
	if err := os.WriteFile(oldFile, []byte(""), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	old := time.Now().Add(-30 * 24 * time.Hour)
	if err := os.Chtimes(oldFile, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	newFile := filepath.Join(dir, "ledger.jsonl.20991231T000000")
	if err := os.WriteFile(newFile, []byte(""), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := PruneArchive(dir, 14, time.Now()); err != nil {
		t.Fatalf("PruneArchive: %v", err)
	}

	if _, err := os.Stat(oldFile); !os.IsNotExist(err) {
		t.Errorf("expected old archive file to be pruned")
	}
	if _, err := os.Stat(newFile); err != nil {
		t.Errorf("expected recent archive file to survive: %v", err)
	}
}

func TestPruneArchive_ZeroKeepDaysIsNoop(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "ledger.jsonl.x")
	if err := os.WriteFile(f, []byte(""), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := PruneArchive(dir, 0, time.Now()); err != nil {
		t.Fatalf("PruneArchive: %v", err)
	}
	if _, err := os.Stat(f); err != nil {
		t.Errorf("expected file to survive with keepDays=0 (disabled), got %v", err)
	}
}
