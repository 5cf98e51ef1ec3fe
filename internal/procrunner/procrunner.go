// Package procrunner implements the process runner: given a resolved
// command, it runs the attempt/retry loop against an external tool,
// draining its output to a per-task log and deciding whether to retry
// based on policy. It isolates each attempt in its own process group
// and drains stdout/stderr concurrently, generalized from a single
// command invocation into an arbitrary-exit-code retry loop.
package procrunner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ExitNotOnPath and ExitTimeout carry the same values as
// task.ExitNotOnPath and task.ExitTimeout; they are declared here so this
// package does not import internal/task, keeping each exit-code set next
// to the contract it belongs to.
const (
	ExitNotOnPath = 127
	ExitTimeout   = 998
)

// RetryPolicy is the subset of policy.RetryConfig the runner needs,
// passed in rather than importing internal/policy to keep this package
// usable without pulling in config/XDG concerns.
type RetryPolicy struct {
	BackoffStartSeconds int
	BackoffMaxSeconds   int
	JitterSeconds       int
	RetryOnExitCodes    map[int]bool
}

// Spec is everything one retry-loop invocation needs.
type Spec struct {
	Executable      string
	Args            []string
	LogPath         string
	TimeoutSec      int
	MaxRetries      int
	StartingAttempt int
	Retry           RetryPolicy
	Dir             string
	Clock           func() time.Time
	Sleep           func(time.Duration)
	Rand            *rand.Rand
}

// Attempt records one execution.
type Attempt struct {
	Attempt    int
	Exit       int
	DurationMS int64
	Timestamp  time.Time
	TimedOut   bool
	Note       string
}

// Result is the structured outcome of the whole retry loop.
type Result struct {
	Success   bool
	FinalExit int
	Attempts  []Attempt
	Started   time.Time
	Ended     time.Time
}

// Run executes the retry loop described by spec.Spec, draining output to
// spec.LogPath and sleeping between attempts per the backoff policy.
func Run(ctx context.Context, spec Spec) (Result, error) {
	clock := spec.Clock
	if clock == nil {
		clock = time.Now
	}
	sleep := spec.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	rng := spec.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(clock().UnixNano()))
	}

	result := Result{Started: clock()}

	if _, err := exec.LookPath(spec.Executable); err != nil {
		appendLog(spec.LogPath, clock(), 0, fmt.Sprintf("executable %q not found on PATH", spec.Executable))
		result.Attempts = append(result.Attempts, Attempt{Attempt: spec.StartingAttempt + 1, Exit: ExitNotOnPath, Timestamp: clock()})
		result.FinalExit = ExitNotOnPath
		result.Ended = clock()
		return result, nil
	}

	eb := newExponentialBackOff(spec.Retry)

	attempt := spec.StartingAttempt
	retriesUsed := 0
	for {
		attempt++
		exit, timedOut, duration := runOnce(ctx, spec, attempt, clock)

		result.Attempts = append(result.Attempts, Attempt{
			Attempt:    attempt,
			Exit:       exit,
			DurationMS: duration.Milliseconds(),
			Timestamp:  clock(),
			TimedOut:   timedOut,
		})
		result.FinalExit = exit

		if exit == 0 {
			result.Success = true
			break
		}

		if retriesUsed >= spec.MaxRetries || !spec.Retry.RetryOnExitCodes[exit] {
			break
		}

		retriesUsed++
		sleep(backoffDelay(eb, spec.Retry, rng))
	}

	result.Ended = clock()
	return result, nil
}

// runOnce launches one attempt, draining stdout/stderr concurrently into
// the per-task log, and returns its exit code.
func runOnce(ctx context.Context, spec Spec, attempt int, clock func() time.Time) (exit int, timedOut bool, duration time.Duration) {
	runCtx := ctx
	var cancel context.CancelFunc
	if spec.TimeoutSec > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(spec.TimeoutSec)*time.Second)
		defer cancel()
	}

	cmd := newCommand(runCtx, spec.Executable, spec.Args...)
	cmd.Dir = spec.Dir

	logFile, err := openAppend(spec.LogPath)
	if err != nil {
		return ExitNotOnPath, false, 0
	}
	defer logFile.Close()

	fmt.Fprintf(logFile, "=== Attempt %s ===\n", clock().UTC().Format(time.RFC3339))

	start := clock()
	code, err := executeCommand(runCtx, cmd, logFile)
	duration = clock().Sub(start)

	if runCtx.Err() == context.DeadlineExceeded {
		killProcessGroup(cmd)
		return ExitTimeout, true, duration
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), false, duration
		}
		return -1, false, duration
	}

	return code, false, duration
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
}

func appendLog(path string, ts time.Time, exit int, msg string) {
	f, err := openAppend(path)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "=== Attempt %s ===\n%s\n", ts.UTC().Format(time.RFC3339), msg)
}

// newExponentialBackOff configures a backoff.ExponentialBackOff from one
// task's backoff_sec/backoff_max: InitialInterval/MaxInterval growing by
// a doubling multiplier (backoffStart * 2^(attempt-1)), with its own
// randomization disabled since jitter_sec is applied separately in
// backoffDelay. The library's default Multiplier is 1.5, not 2, so it's
// set explicitly.
func newExponentialBackOff(r RetryPolicy) *backoff.ExponentialBackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = time.Duration(r.BackoffStartSeconds) * time.Second
	eb.Multiplier = 2
	if r.BackoffMaxSeconds > 0 {
		eb.MaxInterval = time.Duration(r.BackoffMaxSeconds) * time.Second
	}
	eb.MaxElapsedTime = 0
	eb.RandomizationFactor = 0
	eb.Reset()
	return eb
}

// backoffDelay advances eb by one attempt and adds a uniform
// [0, jitterSec) draw on top.
func backoffDelay(eb *backoff.ExponentialBackOff, r RetryPolicy, rng *rand.Rand) time.Duration {
	base := eb.NextBackOff()
	if base == backoff.Stop {
		base = eb.MaxInterval
	}

	jitter := time.Duration(0)
	if r.JitterSeconds > 0 {
		jitter = time.Duration(rng.Float64() * float64(r.JitterSeconds) * float64(time.Second))
	}
	return base + jitter
}

// newCommand creates an exec.Cmd in its own process group so the whole
// subprocess tree can be killed on timeout: when ctx expires, the whole
// group is sent SIGKILL, so a grandchild holding the output pipes open
// cannot keep the drain (and the attempt) running.
func newCommand(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	return cmd
}

// executeCommand runs cmd, draining stdout and stderr concurrently into
// out before calling cmd.Wait, so a chatty subprocess can never deadlock
// on a full pipe buffer.
func executeCommand(ctx context.Context, cmd *exec.Cmd, out io.Writer) (exitCode int, err error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("starting command: %w", err)
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(2)
	drain := func(r io.Reader) {
		defer wg.Done()
		buf := make([]byte, 4096)
		for {
			n, rerr := r.Read(buf)
			if n > 0 {
				mu.Lock()
				out.Write(buf[:n])
				mu.Unlock()
			}
			if rerr != nil {
				return
			}
		}
	}
	go drain(stdout)
	go drain(stderr)
	wg.Wait()

	waitErr := cmd.Wait()
	if waitErr == nil {
		return 0, nil
	}
	return -1, waitErr
}

// killProcessGroup sends SIGKILL to the whole process group of cmd.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
