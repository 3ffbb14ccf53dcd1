package orchestrator

import "time"

// Config sizes the orchestrator's concurrency bound and default
// timeouts/retry policy, mirroring platform/config's OrchestratorConfig
// fields (duration-ized here the way messaging.Config and eventbus.Config
// are).
type Config struct {
	MaxConcurrentTasks int
	SubmitTimeout      time.Duration
	DispatchTimeout    time.Duration
	StageTimeout       time.Duration
	MaxRetries         int
	BaseBackoff        time.Duration

	// DispatchPollInterval bounds how often pickAgent rechecks for a
	// Running instance while waiting out DispatchTimeout.
	DispatchPollInterval time.Duration
	// QueuePollInterval is the dispatcher loop's ticker cadence; actual
	// submissions also wake it immediately via a signal channel.
	QueuePollInterval time.Duration
}

// DefaultConfig returns this package's own defaults, which New also
// falls back to for zero fields. The submit, dispatch and stage timeouts
// here are longer than the ones platform/config sets by default.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentTasks:    10,
		SubmitTimeout:         30 * time.Second,
		DispatchTimeout:       5 * time.Second,
		StageTimeout:          30 * time.Second,
		MaxRetries:            3,
		BaseBackoff:           100 * time.Millisecond,
		DispatchPollInterval:  20 * time.Millisecond,
		QueuePollInterval:     10 * time.Millisecond,
	}
}
