package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/gammazero/toposort"
	"github.com/google/uuid"
)

// Defaults carries the Policy fields the validator falls back to when a
// Raw record omits them. Kept separate from the policy package to avoid an
// import cycle (policy doesn't need to know about task shapes).
type Defaults struct {
	Repo       string
	MaxRetries int
	BackoffSec int
	BackoffMax int
	JitterSec  int
}

// Validate canonicalizes one decoded Raw record into a Task, filling
// defaults from d and lowercasing/normalizing fields. Validation fails
// for a missing tool, a task that depends on itself, or a run_at that is
// not RFC 3339; everything else defaults or normalizes silently.
func Validate(raw Raw, sourceFile string, d Defaults) (*Task, error) {
	if strings.TrimSpace(raw.Tool) == "" {
		return nil, fmt.Errorf("task missing required field %q", "tool")
	}

	t := &Task{
		ID:         raw.ID,
		Tool:       strings.ToLower(strings.TrimSpace(raw.Tool)),
		Repo:       raw.Repo,
		Priority:   ParsePriority(raw.Priority),
		Args:       append([]string(nil), raw.Args...),
		Flags:      append([]string(nil), raw.Flags...),
		Files:      append([]string(nil), raw.Files...),
		Prompt:     raw.Prompt,
		Attempt:    0,
		SourceFile: sourceFile,
	}

	if t.ID == "" {
		id, err := newTaskID()
		if err != nil {
			return nil, fmt.Errorf("generating task id: %w", err)
		}
		t.ID = id
	}

	if t.Repo == "" {
		t.Repo = d.Repo
	}

	t.MaxRetries = intOrDefault(raw.MaxRetries, d.MaxRetries)
	t.BackoffSec = intOrDefault(raw.BackoffSec, d.BackoffSec)
	t.BackoffMax = intOrDefault(raw.BackoffMax, d.BackoffMax)
	t.JitterSec = intOrDefault(raw.JitterSec, d.JitterSec)
	if raw.Attempt != nil {
		t.Attempt = *raw.Attempt
	}

	t.DependsOn = stripEmpty(raw.DependsOn)
	for _, dep := range t.DependsOn {
		if dep == t.ID {
			return nil, fmt.Errorf("task %q depends on itself", t.ID)
		}
	}

	if raw.RunAt != "" {
		when, err := time.Parse(time.RFC3339, raw.RunAt)
		if err != nil {
			return nil, fmt.Errorf("parsing run_at %q: %w", raw.RunAt, err)
		}
		t.RunAt = &when
	}

	if raw.RecurringMinutes != nil {
		t.RecurringMinutes = *raw.RecurringMinutes
	}
	if raw.TimeoutSec != nil {
		t.TimeoutSec = *raw.TimeoutSec
	}

	return t, nil
}

// ValidateCycles checks that the depends_on edges among the tasks decoded
// from a single inbox file don't form a cycle. Self-dependency is
// rejected per-task in Validate; running toposort over the whole file's
// edges here extends that rejection to multi-task cycles declared within
// one file.
func ValidateCycles(tasks []*Task) error {
	byID := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	var edges []toposort.Edge
	for _, t := range tasks {
		if len(t.DependsOn) == 0 {
			edges = append(edges, toposort.Edge{nil, t.ID})
			continue
		}
		for _, dep := range t.DependsOn {
			// Dependencies on tasks outside this file (already resolved,
			// or never declared) aren't part of this file's graph and
			// can't participate in a cycle detected here.
			if _, ok := byID[dep]; !ok {
				continue
			}
			edges = append(edges, toposort.Edge{dep, t.ID})
		}
	}

	if _, err := toposort.Toposort(edges); err != nil {
		return fmt.Errorf("depends_on graph contains a cycle: %w", err)
	}
	return nil
}

func intOrDefault(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func stripEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

// NewID generates a task identifier for callers outside the package that
// need to mint one (e.g. the scheduler writing a recurring task's
// successor).
func NewID() (string, error) {
	return newTaskID()
}

// newTaskID generates a task identifier: a v4 UUID with its hyphens
// stripped and truncated to 10 hex characters, short enough to read in a
// ledger line while keeping collisions practically impossible for a
// single repo's queue.
func newTaskID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(id.String(), "-", "")[:10], nil
}
