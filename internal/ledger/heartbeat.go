package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Heartbeat is the on-disk {timestamp, pid, running, max} snapshot
// rewritten every scheduler tick.
type Heartbeat struct {
	Timestamp time.Time `json:"timestamp"`
	PID       int       `json:"pid"`
	Running   int       `json:"running"`
	Max       int       `json:"max"`
}

// WriteHeartbeat rewrites path atomically with the current process pid,
// running-task count, and configured concurrency cap.
func WriteHeartbeat(path string, running, max int) error {
	hb := Heartbeat{
		Timestamp: time.Now().UTC(),
		PID:       os.Getpid(),
		Running:   running,
		Max:       max,
	}
	return writeJSONAtomic(path, hb)
}

// ReadHeartbeat reads the heartbeat file, used by the supervisor to
// decide whether the worker has gone stale.
func ReadHeartbeat(path string) (*Heartbeat, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading heartbeat: %w", err)
	}
	var hb Heartbeat
	if err := json.Unmarshal(data, &hb); err != nil {
		return nil, fmt.Errorf("parsing heartbeat: %w", err)
	}
	return &hb, nil
}
