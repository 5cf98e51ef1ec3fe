package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_RecordDispatchIncrementsCounter(t *testing.T) {
	c := NewCollector()
	c.RecordDispatch("git")
	c.RecordDispatch("git")
	c.RecordDispatch("codex")

	got := testutil.ToFloat64(c.tasksDispatched.WithLabelValues("git"))
	if got != 2 {
		t.Errorf("expected 2 dispatches for git, got %v", got)
	}
}

func TestCollector_RecordFailedLabelsByExitCode(t *testing.T) {
	c := NewCollector()
	c.RecordFailed("aider", 1, 0.5)
	c.RecordFailed("aider", 127, 0.1)

	if got := testutil.ToFloat64(c.tasksFailed.WithLabelValues("aider", "1")); got != 1 {
		t.Errorf("expected 1 failure at exit 1, got %v", got)
	}
	if got := testutil.ToFloat64(c.tasksFailed.WithLabelValues("aider", "127")); got != 1 {
		t.Errorf("expected 1 failure at exit 127, got %v", got)
	}
}

func TestCollector_SetQueueDepth(t *testing.T) {
	c := NewCollector()
	c.SetQueueDepth(3, 7)

	if got := testutil.ToFloat64(c.tasksRunning); got != 3 {
		t.Errorf("expected 3 running, got %v", got)
	}
	if got := testutil.ToFloat64(c.tasksPending); got != 7 {
		t.Errorf("expected 7 pending, got %v", got)
	}
}

func TestCollector_SetCircuitOpen(t *testing.T) {
	c := NewCollector()
	c.SetCircuitOpen("git", true)
	if got := testutil.ToFloat64(c.circuitOpen.WithLabelValues("git")); got != 1 {
		t.Errorf("expected circuit_breaker_open=1 for git, got %v", got)
	}

	c.SetCircuitOpen("git", false)
	if got := testutil.ToFloat64(c.circuitOpen.WithLabelValues("git")); got != 0 {
		t.Errorf("expected circuit_breaker_open=0 for git after close, got %v", got)
	}
}

func TestNewCollector_RegistersExpectedMetricFamilies(t *testing.T) {
	c := NewCollector()
	// Labelled vectors only appear in Gather once they have a child, so
	// give each vector checked below one label value.
	c.RecordDispatch("git")
	c.SetCircuitOpen("git", false)

	families, err := c.registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	joined := strings.Join(names, ",")
	for _, want := range []string{"queue_tasks_dispatched_total", "queue_tasks_running", "queue_circuit_breaker_open"} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected metric family %q to be registered, got %s", want, joined)
		}
	}
}
