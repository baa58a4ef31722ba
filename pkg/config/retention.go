package config

import "time"

// RetentionConfig controls the sweeper loop and data retention.
type RetentionConfig struct {
	// RetentionWindow is how long terminal jobs (search and deep) are kept
	// before the sweeper purges them together with sub-tasks and evidence.
	RetentionWindow time.Duration `yaml:"retention_window"`

	// SweeperInterval is how often the sweeper loop runs.
	SweeperInterval time.Duration `yaml:"sweeper_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		RetentionWindow: 7 * 24 * time.Hour,
		SweeperInterval: 30 * time.Second,
	}
}
