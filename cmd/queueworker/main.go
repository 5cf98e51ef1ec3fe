// Command queueworker runs the headless task-queue worker: it watches a
// repo's .tasks/inbox directory and drives each task through the
// Command Resolver and Process Runner until the queue drains or it's
// told to stop.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opsqueue/queueworker/internal/breaker"
	"github.com/opsqueue/queueworker/internal/events"
	"github.com/opsqueue/queueworker/internal/ledger"
	"github.com/opsqueue/queueworker/internal/metrics"
	"github.com/opsqueue/queueworker/internal/policy"
	"github.com/opsqueue/queueworker/internal/resolver"
	"github.com/opsqueue/queueworker/internal/scheduler"
)

var rootCmd = &cobra.Command{
	Use:   "queueworker",
	Short: "Headless CLI-tool task queue runner",
	Long: `queueworker drains .tasks/inbox one file at a time, resolving each line's
tool to a command, running it under a retry/backoff policy, and tripping a
per-tool circuit breaker on repeated failure. It's meant to run unattended,
supervised by queuesupervisor, and observed through the ledger, heartbeat,
and running-tasks files it writes under .state/ and logs/.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(statusCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("QUEUEWORKER")
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().String("repo", ".", "repo root the worker operates against")
	rootCmd.PersistentFlags().String("tasks-dir", "", "overrides <repo>/.tasks")
	rootCmd.PersistentFlags().String("logs-dir", "", "overrides <repo>/logs")
	rootCmd.PersistentFlags().String("state-dir", "", "overrides <repo>/.state")
	rootCmd.PersistentFlags().String("plugins-dir", "plugins", "directory of resolver plugin manifests")
	_ = viper.BindPFlag("repo", rootCmd.PersistentFlags().Lookup("repo"))
	_ = viper.BindPFlag("tasks-dir", rootCmd.PersistentFlags().Lookup("tasks-dir"))
	_ = viper.BindPFlag("logs-dir", rootCmd.PersistentFlags().Lookup("logs-dir"))
	_ = viper.BindPFlag("state-dir", rootCmd.PersistentFlags().Lookup("state-dir"))
	_ = viper.BindPFlag("plugins-dir", rootCmd.PersistentFlags().Lookup("plugins-dir"))
}

func runCmd() *cobra.Command {
	var pollSeconds int
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the main scheduling loop until stopped",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, mc, err := buildScheduler()
			if err != nil {
				return err
			}

			if mc != nil && metricsAddr != "" {
				go func() {
					if err := mc.Serve(cmd.Context(), metricsAddr); err != nil {
						fmt.Fprintln(os.Stderr, "metrics server:", err)
					}
				}()
			}

			if err := s.Recover(time.Duration(s.Policy.Queue.RecoveryProcessingStaleMinutes) * time.Minute); err != nil {
				return fmt.Errorf("startup recovery: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return s.Run(ctx, time.Duration(pollSeconds)*time.Second)
		},
	}
	cmd.Flags().IntVar(&pollSeconds, "poll-seconds", 3, "idle sleep between ticks when nothing is running or pending")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the worker's heartbeat, circuit breaker state, and recent ledger records",
		RunE: func(cmd *cobra.Command, args []string) error {
			dirs := resolveDirs()

			hb, err := ledger.ReadHeartbeat(dirs.Heartbeat())
			if err != nil {
				fmt.Println("heartbeat: unavailable (" + err.Error() + ")")
			} else {
				fmt.Printf("heartbeat: pid=%d running=%d/%d as of %s\n", hb.PID, hb.Running, hb.Max, hb.Timestamp.Format(time.RFC3339))
			}

			br, err := breaker.NewRegistry(dirs.CircuitBreakers())
			if err == nil {
				snap := br.Snapshot()
				if len(snap) > 0 {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"Tool", "State", "Fails", "Until"})
					for tool, st := range snap {
						tw.AppendRow(table.Row{tool, st.State, st.Fails, st.Until.Format(time.RFC3339)})
					}
					tw.Render()
				}
			}

			led, err := ledger.Open(dirs.Ledger(), 0)
			if err != nil {
				return fmt.Errorf("opening ledger: %w", err)
			}
			recs, err := led.ReadAll()
			if err != nil {
				return fmt.Errorf("reading ledger: %w", err)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Time", "ID", "Tool", "Attempt", "Exit", "OK"})
			start := 0
			if len(recs) > 20 {
				start = len(recs) - 20
			}
			for _, r := range recs[start:] {
				tw.AppendRow(table.Row{r.Timestamp.Format(time.RFC3339), r.ID, r.Tool, r.Attempt, r.Exit, r.OK})
			}
			tw.Render()
			return nil
		},
	}
	return cmd
}

func resolveDirs() scheduler.Dirs {
	repo := viper.GetString("repo")
	dirs := scheduler.Dirs{
		Repo:    repo,
		Tasks:   viper.GetString("tasks-dir"),
		Logs:    viper.GetString("logs-dir"),
		State:   viper.GetString("state-dir"),
		Plugins: viper.GetString("plugins-dir"),
	}
	if dirs.Tasks == "" {
		dirs.Tasks = repo + "/.tasks"
	}
	if dirs.Logs == "" {
		dirs.Logs = repo + "/logs"
	}
	if dirs.State == "" {
		dirs.State = repo + "/.state"
	}
	return dirs
}

func buildScheduler() (*scheduler.Scheduler, *metrics.Collector, error) {
	dirs := resolveDirs()
	repo := viper.GetString("repo")

	pol, err := policy.LoadDefault(repo)
	if err != nil {
		return nil, nil, fmt.Errorf("loading policy: %w", err)
	}

	res := resolver.NewRegistry()
	if errs := resolver.LoadPlugins(res, dirs.Plugins); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, "plugin load warning:", e)
		}
	}

	br, err := breaker.NewRegistry(dirs.CircuitBreakers())
	if err != nil {
		return nil, nil, fmt.Errorf("opening circuit breaker state: %w", err)
	}

	led, err := ledger.Open(dirs.Ledger(), pol.Queue.LogRotateMaxMB)
	if err != nil {
		return nil, nil, fmt.Errorf("opening ledger: %w", err)
	}

	mc := metrics.NewCollector()

	s := scheduler.New(dirs, pol, res, br, led, mc)
	s.Events = events.NewEventBus()

	return s, mc, nil
}
