package breaker

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "circuit_breakers.json")
	r, err := NewRegistry(path)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r, path
}

func TestRegistry_ClosedUntilWindowFailuresReached(t *testing.T) {
	r, _ := newTestRegistry(t)

	for i := 0; i < 2; i++ {
		if err := r.RecordResult("git", false, 3, 60); err != nil {
			t.Fatalf("RecordResult: %v", err)
		}
	}

	blocked, err := r.Blocked("git")
	if err != nil {
		t.Fatalf("Blocked: %v", err)
	}
	if blocked {
		t.Error("expected tool not yet blocked before reaching WindowFailures")
	}
}

func TestRegistry_OpensAfterWindowFailures(t *testing.T) {
	r, _ := newTestRegistry(t)

	for i := 0; i < 3; i++ {
		if err := r.RecordResult("git", false, 3, 60); err != nil {
			t.Fatalf("RecordResult: %v", err)
		}
	}

	blocked, err := r.Blocked("git")
	if err != nil {
		t.Fatalf("Blocked: %v", err)
	}
	if !blocked {
		t.Error("expected tool to be blocked after reaching WindowFailures")
	}
}

func TestRegistry_SuccessClosesBreaker(t *testing.T) {
	r, _ := newTestRegistry(t)

	for i := 0; i < 3; i++ {
		_ = r.RecordResult("git", false, 3, 60)
	}
	if err := r.RecordResult("git", true, 3, 60); err != nil {
		t.Fatalf("RecordResult: %v", err)
	}

	blocked, err := r.Blocked("git")
	if err != nil {
		t.Fatalf("Blocked: %v", err)
	}
	if blocked {
		t.Error("expected a successful attempt to close the breaker")
	}
}

func TestRegistry_UnknownToolIsNotBlocked(t *testing.T) {
	r, _ := newTestRegistry(t)
	blocked, err := r.Blocked("never-seen")
	if err != nil {
		t.Fatalf("Blocked: %v", err)
	}
	if blocked {
		t.Error("expected an unseen tool to be unblocked")
	}
}

func TestRegistry_PersistsAcrossInstances(t *testing.T) {
	r1, path := newTestRegistry(t)
	for i := 0; i < 3; i++ {
		_ = r1.RecordResult("codex", false, 3, 60)
	}

	r2, err := NewRegistry(path)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	blocked, err := r2.Blocked("codex")
	if err != nil {
		t.Fatalf("Blocked: %v", err)
	}
	if !blocked {
		t.Error("expected the open state to survive a process restart via the persisted file")
	}
}

func TestRegistry_ExternalForceCloseTakesEffectOnNextCheck(t *testing.T) {
	r, path := newTestRegistry(t)
	for i := 0; i < 3; i++ {
		_ = r.RecordResult("claude", false, 3, 60)
	}

	blocked, err := r.Blocked("claude")
	if err != nil || !blocked {
		t.Fatalf("expected blocked before external edit, blocked=%v err=%v", blocked, err)
	}

	forced := map[string]State{"claude": {Fails: 0, State: StateClosed}}
	data, err := json.Marshal(forced)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing forced state: %v", err)
	}

	blocked, err = r.Blocked("claude")
	if err != nil {
		t.Fatalf("Blocked: %v", err)
	}
	if blocked {
		t.Error("expected an externally force-closed breaker to unblock on the next check")
	}
}

func TestRegistry_UntilExpiryUnblocksWithoutSuccess(t *testing.T) {
	r, _ := newTestRegistry(t)
	for i := 0; i < 3; i++ {
		_ = r.RecordResult("aider", false, 3, 1)
	}

	blocked, err := r.Blocked("aider")
	if err != nil || !blocked {
		t.Fatalf("expected blocked immediately after opening, blocked=%v err=%v", blocked, err)
	}

	r.now = func() time.Time { return time.Now().Add(2 * time.Second) }

	blocked, err = r.Blocked("aider")
	if err != nil {
		t.Fatalf("Blocked: %v", err)
	}
	if blocked {
		t.Error("expected the breaker to stop blocking once now has passed until, with no automatic half-open probe needed")
	}
}
