package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/opsqueue/queueworker/internal/task"
)

// enqueueRecurring writes a fresh inbox file carrying a copy of t, due
// RecurringMinutes from now: a new id, attempt reset to zero, and no
// inherited depends_on (the dependency graph that gated the original run
// is not re-applied to its recurrence).
func (s *Scheduler) enqueueRecurring(t *task.Task) error {
	id, err := task.NewID()
	if err != nil {
		return fmt.Errorf("generating recurring task id: %w", err)
	}
	runAt := s.now().Add(time.Duration(t.RecurringMinutes) * time.Minute)

	raw := task.Raw{
		ID:               id,
		Tool:             t.Tool,
		Repo:             t.Repo,
		Priority:         t.Priority.String(),
		Args:             t.Args,
		Flags:            t.Flags,
		Files:            t.Files,
		Prompt:           t.Prompt,
		RunAt:            runAt.Format(time.RFC3339),
		RecurringMinutes: &t.RecurringMinutes,
		TimeoutSec:       &t.TimeoutSec,
	}
	line, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshaling recurring task: %w", err)
	}

	name := fmt.Sprintf("recur_%s_%s.jsonl", t.ID, s.now().Format("150405"))
	if err := os.MkdirAll(s.Dirs.Inbox(), 0o755); err != nil {
		return fmt.Errorf("creating inbox directory: %w", err)
	}
	return os.WriteFile(filepath.Join(s.Dirs.Inbox(), name), append(line, '\n'), 0o644)
}
