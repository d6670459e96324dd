package flow

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/davidhsmith/flowrun-go/flow/events"
)

// RetryConfig is accepted on workflow construction and carried in the
// engine's execution context. The engine does not actuate retries;
// the knobs are reserved.
type RetryConfig struct {
	// Attempts is the reserved maximum number of attempts per step.
	Attempts int `json:"attempts,omitempty"`

	// Delay is the reserved delay between attempts.
	Delay time.Duration `json:"delay,omitempty"`
}

// ForeachOptions configures a foreach entry.
type ForeachOptions struct {
	// Concurrency bounds how many elements execute at once. Values
	// below 1 are treated as 1.
	Concurrency int
}

// RunOptions configures CreateRun. Zero values are valid: a run id is
// generated, events are discarded, logging is disabled and no metrics
// are collected.
type RunOptions struct {
	// RunID identifies the run. Empty generates a UUID.
	RunID string

	// Emitter receives every store event for the run.
	Emitter events.Emitter

	// Logger receives internal diagnostics. Defaults to a no-op logger.
	Logger *zerolog.Logger

	// Metrics collects execution metrics when set.
	Metrics *Metrics
}
