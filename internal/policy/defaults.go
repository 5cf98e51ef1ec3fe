package policy

// Default returns the built-in Policy, used as the base that global and
// project config files merge on top of.
func Default() *Policy {
	return &Policy{
		Queue: QueueConfig{
			MaxConcurrentTasks:             4,
			RecoveryProcessingStaleMinutes: 10,
			HeartbeatEverySeconds:          5,
			LogRotateMaxMB:                 50,
			LogKeepDays:                    14,
		},
		Retry: RetryConfig{
			DefaultMaxRetries:   2,
			BackoffStartSeconds: 5,
			BackoffMaxSeconds:   120,
			JitterSeconds:       3,
			RetryOnExitCodes:    []int{1, 998},
		},
		CircuitBreaker: CircuitBreakerConfig{
			WindowFailures: 3,
			OpenSeconds:    300,
		},
		Git: GitConfig{
			IndexLockStaleMinutes: 15,
			AutoGC:                false,
			GcEveryMinutes:        60,
		},
	}
}
