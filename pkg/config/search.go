package config

import "time"

// SearchConfig controls the parallel search path: corpus search plus the
// external source fan-out.
type SearchConfig struct {
	// OverallTimeout is the maximum wall time for one search job. When it
	// expires the job is terminalized as timeout regardless of source state.
	OverallTimeout time.Duration `yaml:"overall_timeout"`

	// PerSourceTimeout bounds each individual source call (corpus included).
	// It is always capped by OverallTimeout.
	PerSourceTimeout time.Duration `yaml:"per_source_timeout"`

	// EventBufferSize is the per-job journal ring size. A subscriber that
	// falls further behind than this is dropped with an overflow event.
	EventBufferSize int `yaml:"event_buffer_size"`

	// DefaultPageSize is the corpus page size when the caller does not set one.
	DefaultPageSize int `yaml:"default_page_size"`

	// MaxPageSize caps caller-provided page sizes.
	MaxPageSize int `yaml:"max_page_size"`

	// CancelOnDetach cancels a running job when its last stream subscriber
	// disconnects.
	CancelOnDetach bool `yaml:"cancel_on_detach"`
}

// DefaultSearchConfig returns the built-in search defaults.
func DefaultSearchConfig() *SearchConfig {
	return &SearchConfig{
		OverallTimeout:   60 * time.Second,
		PerSourceTimeout: 20 * time.Second,
		EventBufferSize:  256,
		DefaultPageSize:  20,
		MaxPageSize:      100,
		CancelOnDetach:   false,
	}
}
