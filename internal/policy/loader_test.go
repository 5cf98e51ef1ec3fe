package policy

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFilesUseDefaults(t *testing.T) {
	p, err := Load(filepath.Join(t.TempDir(), "missing-global.json"), filepath.Join(t.TempDir(), "missing-project.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Queue.MaxConcurrentTasks != Default().Queue.MaxConcurrentTasks {
		t.Errorf("expected defaults to pass through untouched")
	}
}

func TestLoad_ProjectOverridesGlobal(t *testing.T) {
	dir := t.TempDir()
	globalPath := filepath.Join(dir, "global.json")
	projectPath := filepath.Join(dir, "project.json")

	mustWrite(t, globalPath, `{"queue":{"max_concurrent_tasks":2,"recovery_processing_stale_minutes":10,"heartbeat_every_seconds":5,"log_rotate_max_mb":50,"log_keep_days":14}}`)
	mustWrite(t, projectPath, `{"queue":{"max_concurrent_tasks":8,"recovery_processing_stale_minutes":10,"heartbeat_every_seconds":5,"log_rotate_max_mb":50,"log_keep_days":14}}`)

	p, err := Load(globalPath, projectPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Queue.MaxConcurrentTasks != 8 {
		t.Errorf("expected project value 8 to win, got %d", p.Queue.MaxConcurrentTasks)
	}
}

func TestLoad_MalformedJSONErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	mustWrite(t, path, `{not json`)

	if _, err := Load(path, ""); err == nil {
		t.Fatal("expected error for malformed policy file")
	}
}

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "policy.json")

	want := Default()
	want.Queue.MaxConcurrentTasks = 9

	if err := Save(want, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load("", path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Queue.MaxConcurrentTasks != 9 {
		t.Errorf("expected round-tripped value 9, got %d", got.Queue.MaxConcurrentTasks)
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}
