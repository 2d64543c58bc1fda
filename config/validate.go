package config

import "github.com/crucible-sec/crucible/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.Newf("server.port must be positive, got %d", c.Server.Port)
	}

	if c.Execution.MaxOutputBytes <= 0 {
		return errors.Newf("execution.max_output_bytes must be > 0, got %d", c.Execution.MaxOutputBytes)
	}
	if c.Execution.WarnOutputRatio <= 0 || c.Execution.WarnOutputRatio > 1 {
		return errors.Newf("execution.warn_output_ratio must be in (0, 1], got %f", c.Execution.WarnOutputRatio)
	}
	if c.Execution.MaxCommandLength <= 0 {
		return errors.Newf("execution.max_command_length must be > 0, got %d", c.Execution.MaxCommandLength)
	}
	if c.Execution.ExitPollAttempts <= 0 {
		return errors.Newf("execution.exit_poll_attempts must be > 0, got %d", c.Execution.ExitPollAttempts)
	}

	if c.Router.CacheTTLSeconds <= 0 {
		return errors.Newf("router.cache_ttl_seconds must be > 0, got %d", c.Router.CacheTTLSeconds)
	}

	if c.Discovery.IntervalSeconds <= 0 {
		return errors.Newf("discovery.interval_seconds must be > 0, got %d", c.Discovery.IntervalSeconds)
	}
	for i, target := range c.Discovery.Targets {
		if target.ContainerName == "" {
			return errors.Newf("discovery.targets[%d].container_name cannot be empty", i)
		}
	}

	if c.Pipeline.TargetBatchSize <= 0 {
		return errors.Newf("pipeline.target_batch_size must be > 0, got %d", c.Pipeline.TargetBatchSize)
	}

	for _, wf := range c.Workflows {
		if wf.Name == "" {
			return errors.New("workflow name cannot be empty")
		}
		for _, stage := range wf.Stages {
			switch stage.Fallback {
			case FallbackSkip, FallbackFail, FallbackSubstitute, "":
			default:
				return errors.Newf("workflow %q stage %q: unknown fallback policy %q (want skip, fail, or substitute)",
					wf.Name, stage.Name, stage.Fallback)
			}
			if stage.Fallback == FallbackSubstitute && stage.SubstituteTool == "" {
				return errors.Newf("workflow %q stage %q: fallback=substitute requires substitute_tool", wf.Name, stage.Name)
			}
			if stage.MaxRetries < 0 {
				return errors.Newf("workflow %q stage %q: max_retries must be >= 0, got %d", wf.Name, stage.Name, stage.MaxRetries)
			}
		}
	}

	return nil
}
