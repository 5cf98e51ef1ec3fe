package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/opsqueue/queueworker/internal/events"
	"github.com/opsqueue/queueworker/internal/procrunner"
	"github.com/opsqueue/queueworker/internal/resolver"
	"github.com/opsqueue/queueworker/internal/task"
)

// singleExitResult builds a one-attempt procrunner.Result for
// command-resolution failures that never reach the process runner (a
// security rejection or an unwritable prompt file), so the reap step can
// still emit a ledger record for them, carrying note through to that
// record (e.g. the rejected SecurityError's reason).
func singleExitResult(attempt, exit int, note string, at time.Time) procrunner.Result {
	return procrunner.Result{
		Success:   false,
		FinalExit: exit,
		Attempts:  []procrunner.Attempt{{Attempt: attempt, Exit: exit, Timestamp: at, Note: note}},
		Started:   at,
		Ended:     at,
	}
}

// ready reports whether entry can be dispatched right now: pending,
// its tool unlocked, its schedule reached, and every dependency
// succeeded.
func (s *Scheduler) ready(e *PendingEntry) bool {
	if e.State != task.StatePending {
		return false
	}
	if _, locked := s.locks[e.Task.Tool]; locked {
		return false
	}
	if e.Task.RunAt != nil && s.now().Before(*e.Task.RunAt) {
		return false
	}
	for _, dep := range e.Task.DependsOn {
		res, ok := s.results[dep]
		if !ok || !res.Success {
			return false
		}
	}
	return true
}

// dispatch selects ready entries sorted by priority desc / added asc and
// launches as many as the semaphore allows. It never blocks: a full
// semaphore or an already-locked tool simply skips that entry this tick.
func (s *Scheduler) dispatch(ctx context.Context) {
	var candidates []*PendingEntry
	for _, e := range s.pending {
		if s.ready(e) {
			candidates = append(candidates, e)
		}
	}
	sortReady(candidates)

	for _, e := range candidates {
		if !s.sem.TryAcquire(1) {
			break
		}
		if _, locked := s.locks[e.Task.Tool]; locked {
			s.sem.Release(1)
			continue
		}

		s.locks[e.Task.Tool] = e.Task.ID
		e.State = task.StateRunning
		job := &runningJob{entry: e, tool: e.Task.Tool, started: s.now(), resultCh: make(chan procrunner.Result, 1)}
		s.running[e.Task.ID] = job

		s.publish(events.TopicTask, events.TaskDispatchedEvent{
			ID: e.Task.ID, Tool: e.Task.Tool, Repo: e.Task.Repo, Timestamp: s.now(),
		})
		if s.Metrics != nil {
			s.Metrics.RecordDispatch(e.Task.Tool)
		}

		go s.runTask(ctx, e, job)
	}

	s.writeRunningSnapshot()
}

// runTask resolves and launches the command for e, publishing the
// procrunner.Result on job.resultCh once the attempt/retry loop finishes.
func (s *Scheduler) runTask(ctx context.Context, e *PendingEntry, job *runningJob) {
	defer s.sem.Release(1)

	promptFile := ""
	if e.Task.Prompt != "" {
		var err error
		promptFile, err = writePromptFile(s.Dirs.Prompts(), e.Task.ID, e.Task.Prompt)
		if err != nil {
			job.resultCh <- singleExitResult(e.Task.Attempt+1, task.ExitParseFailure, err.Error(), s.now())
			return
		}
	}

	cmd, err := s.Resolver.Resolve(e.Task, promptFile)
	if err != nil {
		var secErr *resolver.SecurityError
		if errors.As(err, &secErr) {
			job.resultCh <- singleExitResult(e.Task.Attempt+1, task.ExitSecurityRejected, secErr.Error(), s.now())
			return
		}
		job.resultCh <- singleExitResult(e.Task.Attempt+1, task.ExitParseFailure, err.Error(), s.now())
		return
	}

	repo := e.Task.Repo
	if repo == "" {
		repo = s.Dirs.Repo
	}

	res, _ := procrunner.Run(ctx, procrunner.Spec{
		Executable:      cmd.Executable,
		Args:            cmd.Arguments,
		LogPath:         s.Dirs.TaskLog(e.Task.ID),
		TimeoutSec:      e.Task.TimeoutSec,
		MaxRetries:      e.Task.MaxRetries,
		StartingAttempt: e.Task.Attempt,
		Dir:             repo,
		Retry: procrunner.RetryPolicy{
			BackoffStartSeconds: e.Task.BackoffSec,
			BackoffMaxSeconds:   e.Task.BackoffMax,
			JitterSeconds:       e.Task.JitterSec,
			RetryOnExitCodes:    toRetrySet(s.Policy.Retry.RetryOnExitCodes),
		},
	})

	job.resultCh <- res
}

func toRetrySet(codes []int) map[int]bool {
	m := make(map[int]bool, len(codes))
	for _, c := range codes {
		m[c] = true
	}
	return m
}
