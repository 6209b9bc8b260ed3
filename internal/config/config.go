// Package config provides configuration loading, validation, and hot-reload
// for the remediation agent.
//
// Configuration file: /etc/remediation-agent/config.yaml (default)
// Schema version: 1
//
// Hot-reload:
//   - Agent listens for SIGHUP.
//   - On SIGHUP: re-read and re-validate config.yaml, and log the result.
//   - The reloaded values are not applied to the running agent: every
//     change (thresholds, weights, cooldowns, log level, data dir,
//     transport URL, operator socket path) takes effect on restart.
//   - If the new config is invalid, the old config remains active and an
//     error is logged. The agent does NOT crash on invalid hot-reload config.
//
// Validation:
//   - All required fields must be present.
//   - Numeric ranges enforced (e.g. confidence thresholds in [0,100]).
//   - File paths must be absolute.
//   - Invalid config on startup: agent refuses to start (fatal error).
//   - Invalid config on hot-reload: logged, old config retained.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Version, GitCommit, BuildTime are injected by the Makefile via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Config is the root configuration structure for the remediation agent.
// All fields have defaults; see Defaults() for values.
type Config struct {
	// SchemaVersion must be "1". Future versions will trigger migration.
	SchemaVersion string `yaml:"schema_version"`

	// DeviceID is a unique identifier for this agent instance.
	// Used in transport registration and every escalation payload.
	// Default: hostname.
	DeviceID string `yaml:"device_id"`

	// TenantID identifies the tenant this device belongs to.
	TenantID string `yaml:"tenant_id"`

	Signal     SignalConfig     `yaml:"signal"`
	Profiler   ProfilerConfig   `yaml:"profiler"`
	State      StateConfig      `yaml:"state"`
	Memory     MemoryConfig     `yaml:"memory"`
	Decision   DecisionConfig   `yaml:"decision"`
	Escalation EscalationConfig `yaml:"escalation"`
	Queue      QueueConfig      `yaml:"queue"`
	Transport  TransportConfig  `yaml:"transport"`
	Storage    StorageConfig    `yaml:"storage"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Operator   OperatorConfig   `yaml:"operator"`
	Environment EnvironmentConfig `yaml:"environment"`
}

// EnvironmentConfig carries the device context tags attached to every
// escalation payload, used by the server to correlate incidents across
// a fleet of similar devices.
type EnvironmentConfig struct {
	OSBuild          string `yaml:"os_build"`
	OSVersion        string `yaml:"os_version"`
	DeviceModelClass string `yaml:"device_model_class"`
}

// SignalConfig holds signal-intake parameters (C1).
type SignalConfig struct {
	// QueueSize is the in-memory intake queue depth. If full, new signals
	// are dropped and the drop counter is incremented. Default: 2000.
	QueueSize int `yaml:"queue_size"`

	// SustainedBreachCycles is the number of consecutive cycles a
	// threshold-violating value must be observed before a signal is
	// emitted. Default: 3.
	SustainedBreachCycles int `yaml:"sustained_breach_cycles"`
}

// ProfilerConfig holds behavioral-profiler parameters (C2).
type ProfilerConfig struct {
	// MinBucketsForConfidence is the number of distinct hour-of-day
	// buckets that must be observed before the profiler stops returning
	// insufficient_data. Default: 24.
	MinBucketsForConfidence int `yaml:"min_buckets_for_confidence"`

	// StdDevThreshold is the number of standard deviations from a
	// bucket's running mean that marks a sample anomalous. Default: 3.0.
	StdDevThreshold float64 `yaml:"stddev_threshold"`

	// CPUCeiling, MemoryCeiling, DiskFreeFloor are absolute ceilings
	// that bypass the profiler entirely. Defaults: 98, 95, 3.
	CPUCeiling    float64 `yaml:"cpu_ceiling"`
	MemoryCeiling float64 `yaml:"memory_ceiling"`
	DiskFreeFloor float64 `yaml:"disk_free_floor"`
}

// StateConfig holds state-tracker parameters (C3).
type StateConfig struct {
	// FlapWindow is the sliding window over which transitions are counted.
	// Default: 10m.
	FlapWindow time.Duration `yaml:"flap_window"`

	// FlapThreshold is the number of transitions within FlapWindow that
	// triggers flap rewriting. Default: 5.
	FlapThreshold int `yaml:"flap_threshold"`

	// QuietPeriod is the duration of inactivity after which flap state is
	// cleared. Default: 20m.
	QuietPeriod time.Duration `yaml:"quiet_period"`

	// PersistenceEscalation is how long a resource may remain in a
	// non-OK state before its severity is raised one rank. Default: 30m.
	PersistenceEscalation time.Duration `yaml:"persistence_escalation"`

	// DependencyRefreshInterval is how often the service dependency DAG
	// is refreshed. Default: 5m.
	DependencyRefreshInterval time.Duration `yaml:"dependency_refresh_interval"`
}

// MemoryConfig holds remediation-memory parameters (C7).
type MemoryConfig struct {
	// MinAttempts (K_min) is the minimum total attempts before dampening
	// or problematic-playbook classification can apply. Default: 5.
	MinAttempts int `yaml:"min_attempts"`

	// DampenAfterConsecutiveFailures (K_dampen). Default: 5.
	DampenAfterConsecutiveFailures int `yaml:"dampen_after_consecutive_failures"`

	// ProblematicSuccessRate is the success-rate ceiling below which a
	// playbook with >= MinAttempts is "problematic". Default: 0.30.
	ProblematicSuccessRate float64 `yaml:"problematic_success_rate"`

	// CachedSolutionSignalSuccessRate, CachedSolutionPlaybookSuccessRate
	// are the thresholds for findCachedSolution. Defaults: 0.70, 0.50.
	CachedSolutionSignalSuccessRate   float64 `yaml:"cached_solution_signal_success_rate"`
	CachedSolutionPlaybookSuccessRate float64 `yaml:"cached_solution_playbook_success_rate"`

	// AttemptRetentionDays is the Attempts log prune horizon. Default: 90.
	AttemptRetentionDays int `yaml:"attempt_retention_days"`
}

// DecisionConfig holds decision-engine thresholds (C6/C8).
type DecisionConfig struct {
	// ClassAThreshold, ClassBThreshold, ClassCThreshold are the
	// confidence thresholds per risk class. Defaults: 85, 90, 95.
	ClassAThreshold float64 `yaml:"class_a_threshold"`
	ClassBThreshold float64 `yaml:"class_b_threshold"`
	ClassCThreshold float64 `yaml:"class_c_threshold"`

	// ReescalationConfidenceCeiling caps the confidence carried by a
	// failure-triggered re-escalation signature. Default: 60.
	ReescalationConfidenceCeiling float64 `yaml:"reescalation_confidence_ceiling"`
}

// EscalationConfig holds escalation-protocol timing (C9).
type EscalationConfig struct {
	// Cooldown is the minimum interval between two escalations of the
	// same signature. Default: 5m.
	Cooldown time.Duration `yaml:"cooldown"`

	// BatchWindow coalesces non-critical escalations. Default: 10s.
	BatchWindow time.Duration `yaml:"batch_window"`

	// DiagnosticsTimeout bounds pre-escalation diagnostics. Default: 15s.
	DiagnosticsTimeout time.Duration `yaml:"diagnostics_timeout"`

	// HMACSecret verifies inbound sensitive messages; outbound messages
	// are not signed.
	// When empty, HMAC verification is not enforced.
	HMACSecret string `yaml:"hmac_secret"`
}

// QueueConfig holds playbook-queue parameters (C10).
type QueueConfig struct {
	// Capacity is the maximum number of queued playbook tasks. Default: 50.
	Capacity int `yaml:"capacity"`

	// DefaultStepTimeout bounds each step's subprocess invocation. Default: 60s.
	DefaultStepTimeout time.Duration `yaml:"default_step_timeout"`

	// UserPromptTimeout bounds a user-prompt step's wait for a GUI
	// response. Default: 300s.
	UserPromptTimeout time.Duration `yaml:"user_prompt_timeout"`

	// ReinvestigationExecutionCount is the execution_count at which a
	// cached server runbook triggers reinvestigation. Default: 10.
	ReinvestigationExecutionCount int `yaml:"reinvestigation_execution_count"`
}

// TransportConfig holds the duplex server-channel parameters (C11).
type TransportConfig struct {
	// ServerURL is the websocket URL of the remote control plane.
	ServerURL string `yaml:"server_url"`

	// BearerToken authenticates the connection.
	BearerToken string `yaml:"bearer_token"`

	// HeartbeatInterval is the default heartbeat cadence, started
	// immediately on connect (may be replaced by a server welcome
	// message). Default: 30s.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// ReconnectBaseDelay, ReconnectMaxDelay bound the exponential
	// backoff. Defaults: 1s, 5m.
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`

	// ReconnectJitter is the +/- fractional jitter applied to each
	// backoff delay. Default: 0.30.
	ReconnectJitter float64 `yaml:"reconnect_jitter"`
}

// StorageConfig holds persistence parameters.
type StorageConfig struct {
	// DataDir is the directory holding the atomic JSON state files.
	// Default: /var/lib/remediation-agent.
	DataDir string `yaml:"data_dir"`

	// LedgerPath is the absolute path to the bbolt audit-ledger file.
	// Default: /var/lib/remediation-agent/ledger.db.
	LedgerPath string `yaml:"ledger_path"`

	// LedgerRetentionDays is the Attempts/audit ledger prune horizon.
	// Default: 90.
	LedgerRetentionDays int `yaml:"ledger_retention_days"`
}

// TelemetryConfig holds metrics and logging parameters.
type TelemetryConfig struct {
	// MetricsAddr is the Prometheus metrics HTTP bind address.
	// Default: 127.0.0.1:9092.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls the minimum log level (debug, info, warn, error).
	// Default: info.
	LogLevel string `yaml:"log_level"`

	// LogFormat controls the log output format (json, console).
	// Default: json.
	LogFormat string `yaml:"log_format"`
}

// OperatorConfig holds operator override parameters.
type OperatorConfig struct {
	// SocketPath is the Unix domain socket path for the operator CLI.
	// Permissions: 0600, owned by root.
	// Default: /run/remediation-agent/operator.sock.
	SocketPath string `yaml:"socket_path"`

	// Enabled controls whether the operator socket is active. Default: true.
	Enabled bool `yaml:"enabled"`
}

const defaultDataDir = "/var/lib/remediation-agent"

// Defaults returns a Config populated with all default values.
func Defaults() Config {
	hostname, _ := os.Hostname()
	return Config{
		SchemaVersion: "1",
		DeviceID:      hostname,
		Signal: SignalConfig{
			QueueSize:             2000,
			SustainedBreachCycles: 3,
		},
		Profiler: ProfilerConfig{
			MinBucketsForConfidence: 24,
			StdDevThreshold:         3.0,
			CPUCeiling:              98.0,
			MemoryCeiling:           95.0,
			DiskFreeFloor:           3.0,
		},
		State: StateConfig{
			FlapWindow:                10 * time.Minute,
			FlapThreshold:             5,
			QuietPeriod:               20 * time.Minute,
			PersistenceEscalation:     30 * time.Minute,
			DependencyRefreshInterval: 5 * time.Minute,
		},
		Memory: MemoryConfig{
			MinAttempts:                       5,
			DampenAfterConsecutiveFailures:    5,
			ProblematicSuccessRate:            0.30,
			CachedSolutionSignalSuccessRate:   0.70,
			CachedSolutionPlaybookSuccessRate: 0.50,
			AttemptRetentionDays:              90,
		},
		Decision: DecisionConfig{
			ClassAThreshold:               85,
			ClassBThreshold:               90,
			ClassCThreshold:               95,
			ReescalationConfidenceCeiling: 60,
		},
		Escalation: EscalationConfig{
			Cooldown:           5 * time.Minute,
			BatchWindow:        10 * time.Second,
			DiagnosticsTimeout: 15 * time.Second,
		},
		Queue: QueueConfig{
			Capacity:                      50,
			DefaultStepTimeout:            60 * time.Second,
			UserPromptTimeout:             300 * time.Second,
			ReinvestigationExecutionCount: 10,
		},
		Transport: TransportConfig{
			HeartbeatInterval:  30 * time.Second,
			ReconnectBaseDelay: 1 * time.Second,
			ReconnectMaxDelay:  5 * time.Minute,
			ReconnectJitter:    0.30,
		},
		Storage: StorageConfig{
			DataDir:             defaultDataDir,
			LedgerPath:          defaultDataDir + "/ledger.db",
			LedgerRetentionDays: 90,
		},
		Telemetry: TelemetryConfig{
			MetricsAddr: "127.0.0.1:9092",
			LogLevel:    "info",
			LogFormat:   "json",
		},
		Operator: OperatorConfig{
			Enabled:    true,
			SocketPath: "/run/remediation-agent/operator.sock",
		},
	}
}

// Load reads and validates a config file from the given path.
// Returns the merged config (defaults overridden by file values).
// Returns an error if the file cannot be read, parsed, or validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks all config fields for correctness.
// Returns a descriptive error listing all violations found.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.SchemaVersion != "1" {
		errs = append(errs, fmt.Sprintf("schema_version must be \"1\", got %q", cfg.SchemaVersion))
	}
	if cfg.DeviceID == "" {
		errs = append(errs, "device_id must not be empty")
	}
	if cfg.Signal.QueueSize < 10 {
		errs = append(errs, fmt.Sprintf("signal.queue_size must be >= 10, got %d", cfg.Signal.QueueSize))
	}
	if cfg.Signal.SustainedBreachCycles < 1 {
		errs = append(errs, fmt.Sprintf("signal.sustained_breach_cycles must be >= 1, got %d", cfg.Signal.SustainedBreachCycles))
	}
	if cfg.Profiler.MinBucketsForConfidence < 1 {
		errs = append(errs, fmt.Sprintf("profiler.min_buckets_for_confidence must be >= 1, got %d", cfg.Profiler.MinBucketsForConfidence))
	}
	if cfg.Profiler.StdDevThreshold <= 0 {
		errs = append(errs, fmt.Sprintf("profiler.stddev_threshold must be > 0, got %f", cfg.Profiler.StdDevThreshold))
	}
	if cfg.State.FlapThreshold < 2 {
		errs = append(errs, fmt.Sprintf("state.flap_threshold must be >= 2, got %d", cfg.State.FlapThreshold))
	}
	if cfg.State.FlapWindow <= 0 {
		errs = append(errs, "state.flap_window must be > 0")
	}
	if cfg.Memory.MinAttempts < 1 {
		errs = append(errs, fmt.Sprintf("memory.min_attempts must be >= 1, got %d", cfg.Memory.MinAttempts))
	}
	if cfg.Memory.DampenAfterConsecutiveFailures < 1 {
		errs = append(errs, fmt.Sprintf("memory.dampen_after_consecutive_failures must be >= 1, got %d", cfg.Memory.DampenAfterConsecutiveFailures))
	}
	if cfg.Memory.ProblematicSuccessRate < 0 || cfg.Memory.ProblematicSuccessRate > 1 {
		errs = append(errs, "memory.problematic_success_rate must be in [0,1]")
	}
	if cfg.Memory.AttemptRetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("memory.attempt_retention_days must be >= 1, got %d", cfg.Memory.AttemptRetentionDays))
	}
	if cfg.Decision.ClassAThreshold < 0 || cfg.Decision.ClassAThreshold > 100 {
		errs = append(errs, "decision.class_a_threshold must be in [0,100]")
	}
	if cfg.Decision.ClassBThreshold < 0 || cfg.Decision.ClassBThreshold > 100 {
		errs = append(errs, "decision.class_b_threshold must be in [0,100]")
	}
	if cfg.Decision.ClassCThreshold < 0 || cfg.Decision.ClassCThreshold > 100 {
		errs = append(errs, "decision.class_c_threshold must be in [0,100]")
	}
	if cfg.Escalation.Cooldown <= 0 {
		errs = append(errs, "escalation.cooldown must be > 0")
	}
	if cfg.Escalation.BatchWindow <= 0 {
		errs = append(errs, "escalation.batch_window must be > 0")
	}
	if cfg.Escalation.DiagnosticsTimeout <= 0 {
		errs = append(errs, "escalation.diagnostics_timeout must be > 0")
	}
	if cfg.Queue.Capacity < 1 {
		errs = append(errs, fmt.Sprintf("queue.capacity must be >= 1, got %d", cfg.Queue.Capacity))
	}
	if cfg.Queue.DefaultStepTimeout <= 0 {
		errs = append(errs, "queue.default_step_timeout must be > 0")
	}
	if cfg.Queue.ReinvestigationExecutionCount < 1 {
		errs = append(errs, "queue.reinvestigation_execution_count must be >= 1")
	}
	if cfg.Transport.ServerURL == "" {
		errs = append(errs, "transport.server_url must not be empty")
	}
	if cfg.Transport.ReconnectJitter < 0 || cfg.Transport.ReconnectJitter > 1 {
		errs = append(errs, "transport.reconnect_jitter must be in [0,1]")
	}
	if cfg.Transport.ReconnectBaseDelay <= 0 {
		errs = append(errs, "transport.reconnect_base_delay must be > 0")
	}
	if cfg.Transport.ReconnectMaxDelay < cfg.Transport.ReconnectBaseDelay {
		errs = append(errs, "transport.reconnect_max_delay must be >= reconnect_base_delay")
	}
	if cfg.Storage.DataDir == "" {
		errs = append(errs, "storage.data_dir must not be empty")
	} else if !filepath.IsAbs(cfg.Storage.DataDir) {
		errs = append(errs, fmt.Sprintf("storage.data_dir must be an absolute path, got %q", cfg.Storage.DataDir))
	}
	if !filepath.IsAbs(cfg.Storage.LedgerPath) {
		errs = append(errs, fmt.Sprintf("storage.ledger_path must be an absolute path, got %q", cfg.Storage.LedgerPath))
	}
	if cfg.Operator.Enabled && !filepath.IsAbs(cfg.Operator.SocketPath) {
		errs = append(errs, fmt.Sprintf("operator.socket_path must be an absolute path, got %q", cfg.Operator.SocketPath))
	}
	if cfg.Storage.LedgerRetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("storage.ledger_retention_days must be >= 1, got %d", cfg.Storage.LedgerRetentionDays))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s",
			joinStrings(errs, "\n  - "))
	}
	return nil
}

// joinStrings joins a slice of strings with a separator.
func joinStrings(ss []string, sep string) string {
	if len(ss) == 0 {
		return ""
	}
	result := ss[0]
	for _, s := range ss[1:] {
		result += sep + s
	}
	return result
}
