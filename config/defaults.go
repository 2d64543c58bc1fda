package config

import (
	"github.com/spf13/viper"
)

// Default server port for the status/event surface.
const DefaultServerPort = 8870

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "crucible.db")

	// Server defaults
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"http://127.0.0.1",
	})

	// Execution channel defaults
	v.SetDefault("execution.max_output_bytes", int64(100*1024*1024)) // 100MB
	v.SetDefault("execution.warn_output_ratio", 0.8)
	v.SetDefault("execution.max_command_length", 8192)
	v.SetDefault("execution.default_timeout_seconds", 300)
	v.SetDefault("execution.exit_poll_attempts", 5)
	v.SetDefault("execution.exit_poll_delay_ms", 100)
	v.SetDefault("execution.retry_base_delay_ms", 1000)
	v.SetDefault("execution.default_invoking_user", "root")
	v.SetDefault("execution.default_work_dir", "/")

	// Router defaults
	v.SetDefault("router.cache_ttl_seconds", 60)

	// Discovery defaults
	v.SetDefault("discovery.interval_seconds", 3600)
	v.SetDefault("discovery.probe_timeout_seconds", 15)
	v.SetDefault("discovery.probes_per_second", 4.0)
	v.SetDefault("discovery.help_prefix_bytes", 4096)
	v.SetDefault("discovery.max_params_per_tool", 20)

	// Pipeline automation defaults - the full cascade is on by default
	v.SetDefault("pipeline.require_scope", true)
	v.SetDefault("pipeline.auto_target_creation", true)
	v.SetDefault("pipeline.nmap_on_creation", true)
	v.SetDefault("pipeline.nuclei_on_nmap", true)
	v.SetDefault("pipeline.reporter_on_nuclei", true)
	v.SetDefault("pipeline.target_batch_size", 10)
}
