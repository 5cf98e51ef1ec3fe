// Package breaker implements the per-tool Circuit Breaker: it tracks
// consecutive failures per tool, persists the {fails, state, until}
// snapshot to .state/circuit_breakers.json on every update, and lets the
// scheduler decide ingestion-time blocking by re-reading that snapshot
// rather than trusting in-process state alone, so an operator
// force-closing the file externally takes effect within one poll tick.
package breaker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// State is the persisted snapshot for one tool.
type State struct {
	Fails int       `json:"fails"`
	State string    `json:"state"`
	Until time.Time `json:"until"`
}

const (
	StateClosed = "closed"
	StateOpen   = "open"
)

// Registry owns the on-disk snapshot file shared by every tool's breaker
// state.
type Registry struct {
	mu       sync.Mutex
	path     string
	snapshot map[string]State
	now      func() time.Time
}

// NewRegistry loads any existing snapshot at path (missing file means all
// tools start closed) and returns a ready Registry.
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{
		path:     path,
		snapshot: make(map[string]State),
		now:      time.Now,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("reading circuit breaker state: %w", err)
	}
	if err := json.Unmarshal(data, &r.snapshot); err != nil {
		return nil, fmt.Errorf("parsing circuit breaker state %s: %w", path, err)
	}
	return r, nil
}

// RecordResult updates the breaker for tool after one attempt, applying
// the closed/open transition rules, and persists the result. A success
// always closes the breaker immediately, even mid-open-window: an
// operator or retry that got a tool working again shouldn't have to wait
// out the rest of openSeconds.
func (r *Registry) RecordResult(tool string, success bool, windowFailures, openSeconds int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.snapshot[tool]
	if success {
		st.Fails = 0
		st.State = StateClosed
		st.Until = time.Time{}
	} else {
		st.Fails++
		if st.Fails >= windowFailures {
			st.State = StateOpen
			st.Until = r.now().Add(time.Duration(openSeconds) * time.Second)
		}
	}
	r.snapshot[tool] = st

	return r.save()
}

// Blocked reports whether tool is currently open against the on-disk
// snapshot, re-reading it from disk first so an external force-close
// edit to the snapshot file takes effect without restarting the worker.
func (r *Registry) Blocked(tool string) (bool, error) {
	if err := r.reload(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.snapshot[tool]
	if !ok {
		return false, nil
	}
	return st.State == StateOpen && r.now().Before(st.Until), nil
}

func (r *Registry) reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading circuit breaker state: %w", err)
	}

	var onDisk map[string]State
	if err := json.Unmarshal(data, &onDisk); err != nil {
		return fmt.Errorf("parsing circuit breaker state %s: %w", r.path, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshot = onDisk
	return nil
}

// save writes the full snapshot atomically via temp-file-plus-rename.
// Caller must hold r.mu.
func (r *Registry) save() error {
	data, err := json.MarshalIndent(r.snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling circuit breaker state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing temp state file: %w", err)
	}
	return os.Rename(tmp, r.path)
}

// Snapshot returns a copy of the current in-memory state, for status
// reporting.
func (r *Registry) Snapshot() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]State, len(r.snapshot))
	for k, v := range r.snapshot {
		out[k] = v
	}
	return out
}
