// Package policy loads the immutable worker configuration: a global+
// project JSON merge grouped into Queue/Retry/CircuitBreaker/Git
// settings.
package policy

// QueueConfig groups the scheduler's own operational knobs.
type QueueConfig struct {
	MaxConcurrentTasks              int `json:"max_concurrent_tasks"`
	RecoveryProcessingStaleMinutes  int `json:"recovery_processing_stale_minutes"`
	HeartbeatEverySeconds           int `json:"heartbeat_every_seconds"`
	LogRotateMaxMB                  int `json:"log_rotate_max_mb"`
	LogKeepDays                     int `json:"log_keep_days"`
}

// RetryConfig groups the defaults applied to tasks that don't override
// their own retry/backoff fields.
type RetryConfig struct {
	DefaultMaxRetries   int   `json:"default_max_retries"`
	BackoffStartSeconds int   `json:"backoff_start_seconds"`
	BackoffMaxSeconds   int   `json:"backoff_max_seconds"`
	JitterSeconds       int   `json:"jitter_seconds"`
	RetryOnExitCodes    []int `json:"retry_on_exit_codes"`
}

// CircuitBreakerConfig groups the per-tool breaker thresholds.
type CircuitBreakerConfig struct {
	WindowFailures int `json:"window_failures"`
	OpenSeconds    int `json:"open_seconds"`
}

// GitConfig groups version-control-tool self-healing knobs.
type GitConfig struct {
	IndexLockStaleMinutes int  `json:"index_lock_stale_minutes"`
	AutoGC                bool `json:"auto_gc"`
	GcEveryMinutes        int  `json:"gc_every_minutes"`
}

// Policy is the top-level, immutable-after-load configuration.
type Policy struct {
	Queue           QueueConfig          `json:"queue"`
	Retry           RetryConfig          `json:"retry"`
	CircuitBreaker  CircuitBreakerConfig `json:"circuit_breaker"`
	Git             GitConfig            `json:"git"`
}

// RetryOnExitCode reports whether exit should be retried per the
// configured exit-code set.
func (p Policy) RetryOnExitCode(exit int) bool {
	for _, code := range p.Retry.RetryOnExitCodes {
		if code == exit {
			return true
		}
	}
	return false
}
