package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/opsqueue/queueworker/internal/ledger"
	"github.com/opsqueue/queueworker/internal/selfheal"
)

// Recover runs the startup self-heal pass: any processing/*.jsonl file
// older than staleAfter is moved back to inbox/ so the next Tick
// re-ingests it. Callers invoke this once, before the first Tick, since
// it assumes nothing is currently running.
func (s *Scheduler) Recover(staleAfter time.Duration) error {
	return selfheal.RecoverStaleProcessing(s.Dirs.Processing(), s.Dirs.Inbox(), staleAfter, s.now())
}

// Tick runs one pass of the main loop: heartbeat and periodic self-heal,
// the stop-sentinel check, reaping terminated jobs, the
// dependency-failure sweep, dispatch, single-file ingestion, and finally
// reporting whether the loop is idle.
func (s *Scheduler) Tick(ctx context.Context) (idle bool, err error) {
	if err := ledger.WriteHeartbeat(s.Dirs.Heartbeat(), s.runningCount(), s.Policy.Queue.MaxConcurrentTasks); err != nil {
		return false, fmt.Errorf("writing heartbeat: %w", err)
	}
	s.runPeriodicSelfHeal()

	if s.StopRequested() {
		return true, nil
	}

	if err := s.reapTerminated(); err != nil {
		return false, fmt.Errorf("reaping terminated jobs: %w", err)
	}

	s.sweepDependencyFailures()

	s.dispatch(ctx)

	inboxEmpty, err := s.ingestOneIfAny()
	if err != nil {
		return false, fmt.Errorf("ingesting: %w", err)
	}

	if s.Metrics != nil {
		s.Metrics.SetQueueDepth(s.runningCount(), s.pendingCount())
	}

	idle = s.runningCount() == 0 && s.pendingCount() == 0 && inboxEmpty
	return idle, nil
}

// ingestOneIfAny wraps ingestOne and also reports whether the inbox was
// already empty before this call, so Tick can fold that into its idle
// determination without scanning the directory twice.
func (s *Scheduler) ingestOneIfAny() (inboxEmpty bool, err error) {
	src, err := oldestInboxFile(s.Dirs.Inbox())
	if err != nil {
		return false, err
	}
	if src == "" {
		return true, nil
	}
	return false, s.ingestOne()
}

// runPeriodicSelfHeal cleans a stale .git/index.lock and prunes old
// ledger archives. Both are safe to call every tick: each is a no-op
// when nothing is actually stale.
func (s *Scheduler) runPeriodicSelfHeal() {
	staleLock := time.Duration(s.Policy.Git.IndexLockStaleMinutes) * time.Minute
	_ = selfheal.CleanStaleGitIndexLock(s.Dirs.Repo, staleLock, s.now())
	_ = selfheal.PruneArchive(s.Dirs.Archive(), s.Policy.Queue.LogKeepDays, s.now())
}

// Run drives Tick in a loop until ctx is cancelled or the stop sentinel
// appears, sleeping pollInterval only when a tick reports idle so a
// freshly-dropped inbox file is picked up on the very next iteration.
func (s *Scheduler) Run(ctx context.Context, pollInterval time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		idle, err := s.Tick(ctx)
		if err != nil {
			return err
		}
		if s.StopRequested() {
			return nil
		}
		if idle {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollInterval):
			}
		}
	}
}
