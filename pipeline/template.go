package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/crucible-sec/crucible/channel"
	"github.com/crucible-sec/crucible/config"
	"github.com/crucible-sec/crucible/errors"
	"github.com/crucible-sec/crucible/registry"
)

// ToolRunner resolves and executes a registry tool. Satisfied by
// registry.Router.
type ToolRunner interface {
	Run(ctx context.Context, toolName string, args []string, opts registry.RunOptions) (*channel.Result, error)
}

// TemplateRunner executes workflow templates stage by stage, applying each
// stage's retry budget and fallback policy. Retry policy lives here only;
// the direct cascade path never retries.
type TemplateRunner struct {
	runner    ToolRunner
	baseDelay time.Duration
	log       *zap.SugaredLogger
}

// NewTemplateRunner creates a template runner.
func NewTemplateRunner(runner ToolRunner, log *zap.SugaredLogger) *TemplateRunner {
	return &TemplateRunner{
		runner:    runner,
		baseDelay: time.Second,
		log:       log.Named("template"),
	}
}

// Execute runs every stage of the workflow in order. A stage that exhausts
// its retries is resolved through its fallback policy: skip moves on, fail
// aborts the workflow, substitute runs the configured substitute tool with
// the same retry budget.
func (t *TemplateRunner) Execute(ctx context.Context, wf config.Workflow) error {
	for _, stage := range wf.Stages {
		if err := t.runStage(ctx, wf.Name, stage); err != nil {
			return err
		}
	}
	return nil
}

func (t *TemplateRunner) runStage(ctx context.Context, workflow string, stage config.WorkflowStage) error {
	err := t.runWithRetries(ctx, stage, stage.Tool)
	if err == nil {
		return nil
	}

	switch stage.Fallback {
	case config.FallbackSkip:
		t.log.Warnw("Workflow stage skipped",
			"workflow", workflow, "stage", stage.Name, "error", err)
		return nil

	case config.FallbackSubstitute:
		t.log.Warnw("Workflow stage falling back to substitute tool",
			"workflow", workflow, "stage", stage.Name,
			"substitute", stage.SubstituteTool, "error", err)
		if subErr := t.runWithRetries(ctx, stage, stage.SubstituteTool); subErr != nil {
			return errors.Wrapf(errors.ErrPipelineStage,
				"stage %q failed with substitute %q: %v", stage.Name, stage.SubstituteTool, subErr)
		}
		return nil

	default: // fail
		return errors.Wrapf(errors.ErrPipelineStage,
			"stage %q failed: %v", stage.Name, err)
	}
}

// runWithRetries executes one tool up to maxRetries+1 times. The delay
// before retry n is base×multiplier^(n-1). Non-retryable errors surface
// immediately.
func (t *TemplateRunner) runWithRetries(ctx context.Context, stage config.WorkflowStage, tool string) error {
	multiplier := stage.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}

	delay := t.baseDelay
	var lastErr error
	for attempt := 1; attempt <= stage.MaxRetries+1; attempt++ {
		res, err := t.runner.Run(ctx, tool, stage.Args, registry.RunOptions{})
		if err == nil && res.ExitCode == 0 {
			return nil
		}
		if err == nil {
			err = errors.Newf("tool %q exited with code %d", tool, res.ExitCode)
		}
		lastErr = err

		if !errors.IsRetryable(err) {
			return err
		}
		if attempt > stage.MaxRetries {
			break
		}

		t.log.Infow("Retrying workflow stage",
			"stage", stage.Name, "tool", tool, "attempt", attempt, "delay", delay.String())
		select {
		case <-ctx.Done():
			return errors.Wrap(errors.ErrTimeout, "context cancelled during stage backoff")
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * multiplier)
	}
	return lastErr
}
