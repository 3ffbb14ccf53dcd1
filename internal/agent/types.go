// Package agent implements the AgentInstance finite-state machine and
// the AgentRegistry fleet manager described by the orchestration core:
// a closed set of typed, long-running workers, each with its own
// health-checked lifecycle.
package agent

import "time"

// Type is the closed enumeration of worker kinds the core knows how to
// drive through the pipeline.
type Type string

const (
	TypeRequirementsParser Type = "RequirementsParser"
	TypeContractGenerator  Type = "ContractGenerator"
	TypeSecurityAuditor    Type = "SecurityAuditor"
	TypeCompiler           Type = "Compiler"
	TypeDeployment         Type = "Deployment"
)

// State is the finite-state machine value of an AgentInstance. Error
// carries the reason that caused the transition.
type State int

const (
	StateUninitialized State = iota
	StateStarting
	StateRunning
	StatePaused
	StateStopping
	StateStopped
	StateRestarting
	StateError
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StatePaused:
		return "Paused"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	case StateRestarting:
		return "Restarting"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// IsHealthy mirrors spec.md's invariant: a health-check task exists iff
// the instance is Running or Paused.
func (s State) IsHealthy() bool {
	return s == StateRunning || s == StatePaused
}

// Config is the hot-updatable per-agent configuration. Updating it
// never interrupts in-flight work or forces a restart; the next
// health-check tick observes the new interval.
type Config struct {
	Enabled             bool
	HealthCheckInterval time.Duration
	MaxRetries          int
	RestartDelay        time.Duration
	Timeout             time.Duration
	Custom              map[string]string
}

// DefaultConfig mirrors the defaults carried by the Rust original
// (health_check_interval_secs: 30, max_retries: 3, restart_delay_secs: 5,
// timeout_secs: 300).
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		HealthCheckInterval: 30 * time.Second,
		MaxRetries:          3,
		RestartDelay:        5 * time.Second,
		Timeout:             300 * time.Second,
		Custom:              map[string]string{},
	}
}

// ResourceUsage is a coarse resource snapshot attached to health
// reports. The core does not itself sample the OS; callers may fill it
// in via Instance.SetResourceUsage.
type ResourceUsage struct {
	CPUPercent  float64
	MemoryBytes uint64
}

// Health is the read-only snapshot returned by Instance.Health().
type Health struct {
	ID              string
	Type            Type
	State           State
	IsHealthy       bool
	LastCheck       time.Time
	StartedAt       *time.Time
	Uptime          time.Duration
	TasksProcessed  int64
	TasksFailed     int64
	AvgResponseTime time.Duration
	Error           string
	ResourceUsage   ResourceUsage
}

// maxResponseTimes bounds the rolling response-time window used to
// compute AvgResponseTime, matching the Rust original's default of 100.
const maxResponseTimes = 100
