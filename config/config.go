// Package config holds the Crucible configuration, loaded from TOML via
// Viper with environment-variable overrides.
package config

// Config represents the core Crucible configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Router    RouterConfig    `mapstructure:"router"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Workflows []Workflow      `mapstructure:"workflows"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the Crucible status/event server
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// ExecutionConfig configures the execution channel limits
type ExecutionConfig struct {
	MaxOutputBytes      int64   `mapstructure:"max_output_bytes"`        // hard cap on accumulated stdout+stderr
	WarnOutputRatio     float64 `mapstructure:"warn_output_ratio"`       // soft warning threshold as fraction of the cap
	MaxCommandLength    int     `mapstructure:"max_command_length"`      // ceiling on the joined command string
	DefaultTimeoutSecs  int     `mapstructure:"default_timeout_seconds"` // used when a request carries no timeout
	ExitPollAttempts    int     `mapstructure:"exit_poll_attempts"`      // bounded exit-code confirmation polls
	ExitPollDelayMs     int     `mapstructure:"exit_poll_delay_ms"`      // fixed delay between confirmation polls
	RetryBaseDelayMs    int     `mapstructure:"retry_base_delay_ms"`     // linear backoff base for ExecuteWithRetry
	DefaultInvokingUser string  `mapstructure:"default_invoking_user"`
	DefaultWorkDir      string  `mapstructure:"default_work_dir"`
}

// RouterConfig configures the tool router cache
type RouterConfig struct {
	CacheTTLSeconds int `mapstructure:"cache_ttl_seconds"`
}

// ExecutionTarget identifies a container commands may run in.
// Static configuration, immutable at runtime.
type ExecutionTarget struct {
	ContainerName  string   `mapstructure:"container_name"`
	InvokingUser   string   `mapstructure:"invoking_user"`
	Category       string   `mapstructure:"category"`
	ToolCategories []string `mapstructure:"tool_categories"`
}

// DiscoveryConfig configures the tool discovery agent
type DiscoveryConfig struct {
	IntervalSeconds  int               `mapstructure:"interval_seconds"`
	Targets          []ExecutionTarget `mapstructure:"targets"`
	ProbeTimeoutSecs int               `mapstructure:"probe_timeout_seconds"`
	ProbesPerSecond  float64           `mapstructure:"probes_per_second"` // rate limit across a sweep
	HelpPrefixBytes  int               `mapstructure:"help_prefix_bytes"` // bounded help text capture
	MaxParamsPerTool int               `mapstructure:"max_params_per_tool"`
}

// PipelineConfig configures the automated scan cascade. Each flag gates one
// trigger in the cascade; disabling a flag only prevents future stage
// triggers, it does not abort a cascade already in flight.
type PipelineConfig struct {
	RequireScope       bool `mapstructure:"require_scope"`        // operations must have a non-empty scope to start
	AutoTargetCreation bool `mapstructure:"auto_target_creation"` // materialize targets from surface-scan assets
	NmapOnCreation     bool `mapstructure:"nmap_on_creation"`     // launch port scans for auto-created targets
	NucleiOnNmap       bool `mapstructure:"nuclei_on_nmap"`       // launch vuln scans against discovered web ports
	ReporterOnNuclei   bool `mapstructure:"reporter_on_nuclei"`   // poll the vulnerability reporter after vuln scans
	TargetBatchSize    int  `mapstructure:"target_batch_size"`    // targets per port-scan launch
}

// FallbackPolicy is the per-stage behavior applied when a workflow stage's
// preconditions are unmet or its tool is unavailable.
type FallbackPolicy string

const (
	FallbackSkip       FallbackPolicy = "skip"
	FallbackFail       FallbackPolicy = "fail"
	FallbackSubstitute FallbackPolicy = "substitute"
)

// Workflow is a typed workflow template: an ordered list of stages with
// explicit retry and fallback behavior. Templates are validated at load;
// unknown keys are rejected rather than carried as untyped maps.
type Workflow struct {
	Name   string          `mapstructure:"name"`
	Stages []WorkflowStage `mapstructure:"stages"`
}

// WorkflowStage configures a single stage of a workflow template.
type WorkflowStage struct {
	Name              string         `mapstructure:"name"`
	Tool              string         `mapstructure:"tool"`
	Args              []string       `mapstructure:"args"`
	Fallback          FallbackPolicy `mapstructure:"fallback"`
	SubstituteTool    string         `mapstructure:"substitute_tool"`
	MaxRetries        int            `mapstructure:"max_retries"`
	BackoffMultiplier float64        `mapstructure:"backoff_multiplier"`
}
