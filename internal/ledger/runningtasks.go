package ledger

import "time"

// RunningTask is one entry in the running-tasks snapshot array.
type RunningTask struct {
	ID       string    `json:"id"`
	Tool     string    `json:"tool"`
	Repo     string    `json:"repo"`
	Started  time.Time `json:"started"`
	File     string    `json:"file"`
	Priority string    `json:"priority"`
	Attempt  int       `json:"attempt"`
}

// WriteRunningTasks rewrites path atomically with the current set of
// running tasks, on every dispatch and reap.
func WriteRunningTasks(path string, tasks []RunningTask) error {
	if tasks == nil {
		tasks = []RunningTask{}
	}
	return writeJSONAtomic(path, tasks)
}
