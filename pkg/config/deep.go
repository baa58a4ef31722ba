package config

import "time"

// DeepConfig controls the deep-search orchestrator.
type DeepConfig struct {
	// OverallTimeout is the maximum wall time for a deep-search job. The
	// sweeper terminalizes jobs that outlive it and cancels their sub-tasks.
	OverallTimeout time.Duration `yaml:"overall_timeout"`

	// PerSubTaskTimeout is how long a dispatched sub-task may stay
	// in_progress before the sweeper times it out.
	PerSubTaskTimeout time.Duration `yaml:"per_subtask_timeout"`

	// MaxSubTaskRetries is the redispatch budget for retryable failures.
	MaxSubTaskRetries int `yaml:"max_subtask_retries"`

	// DispatchTimeout bounds a single outbound task publish.
	DispatchTimeout time.Duration `yaml:"dispatch_timeout"`
}

// DefaultDeepConfig returns the built-in deep-search defaults.
func DefaultDeepConfig() *DeepConfig {
	return &DeepConfig{
		OverallTimeout:    10 * time.Minute,
		PerSubTaskTimeout: 3 * time.Minute,
		MaxSubTaskRetries: 2,
		DispatchTimeout:   10 * time.Second,
	}
}
