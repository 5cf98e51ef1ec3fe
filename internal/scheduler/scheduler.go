// Package scheduler implements the queue runner's state machine: a
// single cooperative loop that owns the pending-entry set, file
// contexts, tool locks, and task-results map, dispatching ready tasks to
// the Process Runner without ever blocking mid-decision. Dispatch uses
// golang.org/x/sync/semaphore.Weighted with TryAcquire rather than a
// blocking wave-based loop, and completions are reaped from a results
// channel rather than waited on.
package scheduler

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/opsqueue/queueworker/internal/breaker"
	"github.com/opsqueue/queueworker/internal/events"
	"github.com/opsqueue/queueworker/internal/ledger"
	"github.com/opsqueue/queueworker/internal/metrics"
	"github.com/opsqueue/queueworker/internal/policy"
	"github.com/opsqueue/queueworker/internal/procrunner"
	"github.com/opsqueue/queueworker/internal/resolver"
	"github.com/opsqueue/queueworker/internal/task"
)

// Publisher receives lifecycle events. *events.EventBus implements it; a
// nil Publisher (the zero value of Scheduler.Events) is a valid no-op.
type Publisher interface {
	Publish(topic string, event events.Event)
}

// PendingEntry wraps a Task with its scheduling bookkeeping.
type PendingEntry struct {
	Task    *task.Task
	State   task.State
	Added   time.Time
	Context *FileContext
}

// FileContext tracks one ingested inbox file's lifecycle.
type FileContext struct {
	SourceFile string
	Total      int
	Completed  int
	Failures   int
}

// runningJob is a dispatched task awaiting its Process Runner result.
type runningJob struct {
	entry    *PendingEntry
	tool     string
	started  time.Time
	resultCh chan procrunner.Result
}

// Dirs is the filesystem layout rooted at the repo.
type Dirs struct {
	Repo    string
	Tasks   string
	Logs    string
	State   string
	Plugins string
}

func (d Dirs) Inbox() string        { return filepath.Join(d.Tasks, "inbox") }
func (d Dirs) Processing() string   { return filepath.Join(d.Tasks, "processing") }
func (d Dirs) Done() string         { return filepath.Join(d.Tasks, "done") }
func (d Dirs) Failed() string       { return filepath.Join(d.Tasks, "failed") }
func (d Dirs) Quarantine() string   { return filepath.Join(d.Tasks, "quarantine") }
func (d Dirs) Prompts() string      { return filepath.Join(d.Logs, "prompts") }
func (d Dirs) Archive() string      { return filepath.Join(d.Logs, "archive") }
func (d Dirs) TaskLog(id string) string {
	return filepath.Join(d.Logs, fmt.Sprintf("task_%s.log", id))
}
func (d Dirs) Heartbeat() string     { return filepath.Join(d.State, "heartbeat.json") }
func (d Dirs) CircuitBreakers() string { return filepath.Join(d.State, "circuit_breakers.json") }
func (d Dirs) RunningTasks() string  { return filepath.Join(d.State, "running_tasks.json") }
func (d Dirs) StopSentinel() string  { return filepath.Join(d.Repo, "STOP.HEADLESS") }
func (d Dirs) Ledger() string        { return filepath.Join(d.Logs, "ledger.jsonl") }

// Scheduler is the single-threaded main loop's state. All mutation of
// pending (and the FileContexts its entries point to), running, locks,
// and results happens on the goroutine calling Tick; no external mutation
// is supported.
type Scheduler struct {
	Dirs     Dirs
	Policy   *policy.Policy
	Resolver *resolver.Registry
	Breaker  *breaker.Registry
	Ledger   *ledger.Ledger
	Metrics  *metrics.Collector
	Events   Publisher
	Clock    func() time.Time

	sem     *semaphore.Weighted
	pending []*PendingEntry
	running map[string]*runningJob
	locks   map[string]string // tool -> running task id
	results map[string]task.Result
}

// New wires a Scheduler from its dependencies. Callers build Resolver,
// Breaker, and Ledger first since they have their own I/O side effects
// (plugin loading, state-file reads).
func New(dirs Dirs, pol *policy.Policy, res *resolver.Registry, br *breaker.Registry, led *ledger.Ledger, mc *metrics.Collector) *Scheduler {
	return &Scheduler{
		Dirs:     dirs,
		Policy:   pol,
		Resolver: res,
		Breaker:  br,
		Ledger:   led,
		Metrics:  mc,
		Clock:    time.Now,
		sem:      semaphore.NewWeighted(int64(pol.Queue.MaxConcurrentTasks)),
		running:  make(map[string]*runningJob),
		locks:    make(map[string]string),
		results:  make(map[string]task.Result),
	}
}

// publish is a no-op when Events is unset.
func (s *Scheduler) publish(topic string, event events.Event) {
	if s.Events != nil {
		s.Events.Publish(topic, event)
	}
}

// StopRequested reports whether the stop sentinel file is present.
func (s *Scheduler) StopRequested() bool {
	return fileExists(s.Dirs.StopSentinel())
}

// runningCount returns the number of tasks currently in flight.
func (s *Scheduler) runningCount() int {
	return len(s.running)
}

// pendingCount returns the number of entries still awaiting dispatch or
// completion.
func (s *Scheduler) pendingCount() int {
	n := 0
	for _, e := range s.pending {
		if e.State == task.StatePending {
			n++
		}
	}
	return n
}

// sortReady orders candidates by priority descending, then by Added
// ascending (FIFO within a priority).
func sortReady(entries []*PendingEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		pi, pj := entries[i].Task.Priority, entries[j].Task.Priority
		if pi != pj {
			return pi > pj
		}
		return entries[i].Added.Before(entries[j].Added)
	})
}
