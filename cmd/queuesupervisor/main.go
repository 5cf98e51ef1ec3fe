// Command queuesupervisor keeps a single queueworker process alive: it
// launches the worker, watches its heartbeat file, and restarts it if the
// process exits or stops writing a fresh heartbeat.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opsqueue/queueworker/internal/ledger"
)

var rootCmd = &cobra.Command{
	Use:   "queuesupervisor",
	Short: "Restart queueworker when it exits or its heartbeat goes stale",
}

func main() {
	var (
		workerPath       string
		repo             string
		pollSeconds      int
		heartbeatStaleSec int
		extraArgs        []string
	)

	rootCmd.Flags().StringVar(&workerPath, "worker", "queueworker", "path to the queueworker binary")
	rootCmd.Flags().StringVar(&repo, "repo", ".", "repo root passed to the worker")
	rootCmd.Flags().IntVar(&pollSeconds, "poll-seconds", 5, "how often to check the worker's health")
	rootCmd.Flags().IntVar(&heartbeatStaleSec, "heartbeat-stale-sec", 20, "restart the worker if its heartbeat is older than this")
	rootCmd.Flags().StringArrayVar(&extraArgs, "worker-arg", nil, "additional argument to pass through to queueworker run (repeatable)")

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sup := &supervisor{
			workerPath:    workerPath,
			repo:          repo,
			extraArgs:     extraArgs,
			heartbeatPath: repo + "/.state/heartbeat.json",
			staleAfter:    time.Duration(heartbeatStaleSec) * time.Second,
		}
		return sup.run(ctx, time.Duration(pollSeconds)*time.Second)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// supervisor owns the single worker process it spawns and restarts.
type supervisor struct {
	workerPath    string
	repo          string
	extraArgs     []string
	heartbeatPath string
	staleAfter    time.Duration

	mu   sync.Mutex
	cmd  *exec.Cmd
	exit chan error
}

func (s *supervisor) run(ctx context.Context, pollInterval time.Duration) error {
	if err := s.spawn(); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("shutdown signal received, stopping worker")
			s.kill()
			return nil

		case err := <-s.exit:
			log.Printf("worker exited (%v), restarting", err)
			if err := s.spawn(); err != nil {
				return fmt.Errorf("restarting worker: %w", err)
			}

		case <-ticker.C:
			if s.heartbeatStale() {
				log.Println("heartbeat stale, restarting worker")
				s.kill()
				if err := s.spawn(); err != nil {
					return fmt.Errorf("restarting worker: %w", err)
				}
			}
		}
	}
}

// spawn starts the worker as a new process group and begins watching for
// its exit on a fresh channel, so one stale goroutine from a prior
// incarnation can never be mistaken for the current one's exit.
func (s *supervisor) spawn() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	args := append([]string{"run", "--repo", s.repo}, s.extraArgs...)
	cmd := exec.Command(s.workerPath, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return err
	}

	s.cmd = cmd
	exit := make(chan error, 1)
	s.exit = exit
	go func() {
		exit <- cmd.Wait()
	}()

	log.Printf("worker started, pid=%d", cmd.Process.Pid)
	return nil
}

// kill sends SIGKILL to the worker's whole process group. Task processes
// the worker launched run in process groups of their own and are not
// signalled.
func (s *supervisor) kill() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-s.cmd.Process.Pid, syscall.SIGKILL); err != nil {
		log.Printf("killing worker process group: %v", err)
	}
}

func (s *supervisor) heartbeatStale() bool {
	hb, err := ledger.ReadHeartbeat(s.heartbeatPath)
	if err != nil {
		return false
	}
	return time.Since(hb.Timestamp) > s.staleAfter
}
