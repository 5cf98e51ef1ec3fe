package scheduler

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opsqueue/queueworker/internal/events"
	"github.com/opsqueue/queueworker/internal/ledger"
	"github.com/opsqueue/queueworker/internal/task"
)

// ingestOne ingests the single oldest inbox file. It moves the file to
// processing/ first, decodes each non-blank line, and either fails the
// whole file (parse error), diverts it to quarantine/ (circuit breaker
// open for some line's tool), or accumulates pending entries into a
// fresh FileContext.
func (s *Scheduler) ingestOne() error {
	src, err := oldestInboxFile(s.Dirs.Inbox())
	if err != nil {
		return fmt.Errorf("scanning inbox: %w", err)
	}
	if src == "" {
		return nil
	}

	name := filepath.Base(src)
	if err := moveFile(src, s.Dirs.Processing()); err != nil {
		return fmt.Errorf("moving %s to processing: %w", src, err)
	}
	processingPath := filepath.Join(s.Dirs.Processing(), name)

	ctxRec := &FileContext{SourceFile: name}

	f, err := os.Open(processingPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", processingPath, err)
	}
	defer f.Close()

	var entries []*PendingEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	defaults := task.Defaults{
		Repo:       s.Dirs.Repo,
		MaxRetries: s.Policy.Retry.DefaultMaxRetries,
		BackoffSec: s.Policy.Retry.BackoffStartSeconds,
		BackoffMax: s.Policy.Retry.BackoffMaxSeconds,
		JitterSec:  s.Policy.Retry.JitterSeconds,
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var raw task.Raw
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return s.failWholeFile(ctxRec, processingPath, "bad json")
		}

		t, err := task.Validate(raw, ctxRec.SourceFile, defaults)
		if err != nil {
			return s.failWholeFile(ctxRec, processingPath, err.Error())
		}

		blocked, err := s.Breaker.Blocked(t.Tool)
		if err != nil {
			return fmt.Errorf("checking breaker for %s: %w", t.Tool, err)
		}
		if blocked {
			return s.quarantineWholeFile(ctxRec, processingPath)
		}

		entries = append(entries, &PendingEntry{Task: t, State: task.StatePending, Added: s.now(), Context: ctxRec})
	}
	if err := scanner.Err(); err != nil {
		return s.failWholeFile(ctxRec, processingPath, "read error")
	}

	if err := task.ValidateCycles(tasksOf(entries)); err != nil {
		return s.failWholeFile(ctxRec, processingPath, err.Error())
	}

	ctxRec.Total = len(entries)
	s.pending = append(s.pending, entries...)

	if ctxRec.Total == 0 {
		return moveFile(processingPath, s.Dirs.Done())
	}

	return nil
}

func tasksOf(entries []*PendingEntry) []*task.Task {
	out := make([]*task.Task, len(entries))
	for i, e := range entries {
		out[i] = e.Task
	}
	return out
}

// failWholeFile records the parse/999 ledger entry and moves the
// offending file to failed/.
func (s *Scheduler) failWholeFile(ctxRec *FileContext, path, note string) error {
	_ = s.Ledger.Append(ledger.Record{
		Timestamp: s.now(), ID: "parse", Attempt: 1, Exit: task.ExitParseFailure, OK: false, Note: note,
	})
	s.publish(events.TopicFile, events.FileFailedEvent{SourceFile: ctxRec.SourceFile, Reason: note, Timestamp: s.now()})
	return moveFile(path, s.Dirs.Failed())
}

func (s *Scheduler) quarantineWholeFile(ctxRec *FileContext, path string) error {
	s.publish(events.TopicFile, events.FileQuarantinedEvent{SourceFile: ctxRec.SourceFile, Timestamp: s.now()})
	return moveFile(path, s.Dirs.Quarantine())
}

func (s *Scheduler) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}
