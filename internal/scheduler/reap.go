package scheduler

import (
	"fmt"
	"path/filepath"

	"github.com/opsqueue/queueworker/internal/events"
	"github.com/opsqueue/queueworker/internal/ledger"
	"github.com/opsqueue/queueworker/internal/procrunner"
	"github.com/opsqueue/queueworker/internal/task"
)

// reapTerminated drains any finished running jobs: records ledger
// entries, updates the circuit breaker, records the task result, bumps
// file context counters, enqueues recurring successors, and moves the
// source file once its context is complete. Non-blocking: a job whose
// resultCh has nothing ready yet is left running.
func (s *Scheduler) reapTerminated() error {
	for id, job := range s.running {
		var res procrunner.Result
		select {
		case res = <-job.resultCh:
		default:
			continue
		}

		delete(s.running, id)
		delete(s.locks, job.tool)

		for _, a := range res.Attempts {
			if err := s.Ledger.Append(ledger.Record{
				Timestamp:  a.Timestamp,
				ID:         job.entry.Task.ID,
				Tool:       job.entry.Task.Tool,
				Attempt:    a.Attempt,
				Exit:       a.Exit,
				OK:         a.Exit == 0,
				Repo:       job.entry.Task.Repo,
				DurationMS: a.DurationMS,
				Note:       a.Note,
			}); err != nil {
				return fmt.Errorf("appending ledger record for %s: %w", id, err)
			}
		}

		wasBlocked, _ := s.Breaker.Blocked(job.tool)
		if err := s.Breaker.RecordResult(job.tool, res.Success, s.Policy.CircuitBreaker.WindowFailures, s.Policy.CircuitBreaker.OpenSeconds); err != nil {
			return fmt.Errorf("recording breaker result for %s: %w", job.tool, err)
		}
		blocked, _ := s.Breaker.Blocked(job.tool)
		if blocked != wasBlocked {
			s.publish(events.TopicBreaker, events.BreakerStateChangedEvent{Tool: job.tool, Open: blocked, Timestamp: s.now()})
		}
		if s.Metrics != nil {
			elapsed := res.Ended.Sub(res.Started).Seconds()
			if res.Success {
				s.Metrics.RecordCompleted(job.tool, elapsed)
			} else {
				s.Metrics.RecordFailed(job.tool, res.FinalExit, elapsed)
			}
			s.Metrics.SetCircuitOpen(job.tool, blocked)
		}

		s.results[id] = task.Result{Success: res.Success, Exit: res.FinalExit}
		job.entry.State = task.StateComplete
		job.entry.Task.Attempt += len(res.Attempts)

		if res.Success && job.entry.Task.RecurringMinutes > 0 {
			if err := s.enqueueRecurring(job.entry.Task); err != nil {
				return fmt.Errorf("enqueueing recurring copy of %s: %w", id, err)
			}
		}

		s.publish(events.TopicTask, events.TaskCompletedEvent{
			ID: id, Tool: job.tool, Success: res.Success, Exit: res.FinalExit,
			Attempts: len(res.Attempts), Timestamp: s.now(),
		})
		s.finishEntry(job.entry, res.Success)
	}

	s.writeRunningSnapshot()
	return nil
}

// sweepDependencyFailures completes any pending entry whose dependency
// has already failed, without ever dispatching it.
func (s *Scheduler) sweepDependencyFailures() {
	for _, e := range s.pending {
		if e.State != task.StatePending {
			continue
		}
		for _, dep := range e.Task.DependsOn {
			if res, ok := s.results[dep]; ok && !res.Success {
				e.State = task.StateComplete
				s.results[e.Task.ID] = task.Result{Success: false, Exit: task.ExitDependencyFailed, Reason: "dependency failed"}
				_ = s.Ledger.Append(ledger.Record{
					Timestamp: s.now(), ID: e.Task.ID, Tool: e.Task.Tool, Attempt: 1,
					Exit: task.ExitDependencyFailed, OK: false, Repo: e.Task.Repo, Note: "dependency failed",
				})
				s.publish(events.TopicTask, events.TaskCompletedEvent{
					ID: e.Task.ID, Tool: e.Task.Tool, Success: false, Exit: task.ExitDependencyFailed,
					Attempts: 1, Timestamp: s.now(),
				})
				s.finishEntry(e, false)
				break
			}
		}
	}
}

// finishEntry bumps its FileContext's counters and, once every task
// declared by the file has completed, moves the source file to done/ or
// failed/.
func (s *Scheduler) finishEntry(e *PendingEntry, success bool) {
	ctx := e.Context
	ctx.Completed++
	if !success {
		ctx.Failures++
	}
	if ctx.Completed < ctx.Total {
		return
	}

	destDir := s.Dirs.Done()
	if ctx.Failures > 0 {
		destDir = s.Dirs.Failed()
	}
	_ = moveFile(filepath.Join(s.Dirs.Processing(), ctx.SourceFile), destDir)
}

// writeRunningSnapshot rewrites .state/running_tasks.json from the
// current running map, on every dispatch and reap.
func (s *Scheduler) writeRunningSnapshot() {
	tasks := make([]ledger.RunningTask, 0, len(s.running))
	for id, job := range s.running {
		tasks = append(tasks, ledger.RunningTask{
			ID:       id,
			Tool:     job.tool,
			Repo:     job.entry.Task.Repo,
			Started:  job.started,
			File:     job.entry.Context.SourceFile,
			Priority: job.entry.Task.Priority.String(),
			Attempt:  job.entry.Task.Attempt,
		})
	}
	_ = ledger.WriteRunningTasks(s.Dirs.RunningTasks(), tasks)
}
