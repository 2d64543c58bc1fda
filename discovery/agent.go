package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/crucible-sec/crucible/channel"
	"github.com/crucible-sec/crucible/config"
	"github.com/crucible-sec/crucible/errors"
	"github.com/crucible-sec/crucible/registry"
	"github.com/crucible-sec/crucible/runtime"
)

// CommandRunner is the slice of the execution channel the agent needs.
type CommandRunner interface {
	Execute(ctx context.Context, req channel.Request) (*channel.Result, error)
	ContainerStatus(ctx context.Context, containerName string) (*runtime.ContainerInfo, error)
}

// SweepStats summarizes one discovery pass.
type SweepStats struct {
	Targets    int
	Skipped    int
	Discovered int
	Synced     int
	Failed     int
	Duration   time.Duration
}

// Agent periodically sweeps the configured execution containers for
// installed tools and syncs what it finds into the registry. One sweep runs
// at a time; probes inside a sweep are rate limited.
type Agent struct {
	runner  CommandRunner
	store   *registry.Store
	cfg     config.DiscoveryConfig
	limiter *rate.Limiter
	log     *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	running   bool
	lastErr   error
	lastSweep time.Time
	lastStats SweepStats
}

// NewAgent creates a discovery agent. It does not start sweeping until
// Start is called.
func NewAgent(runner CommandRunner, store *registry.Store, cfg config.DiscoveryConfig, log *zap.SugaredLogger) *Agent {
	perSecond := cfg.ProbesPerSecond
	if perSecond <= 0 {
		perSecond = 1
	}
	return &Agent{
		runner:  runner,
		store:   store,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		log:     log.Named("discovery"),
	}
}

// Start launches the sweep loop: one immediate sweep, then one per
// configured interval.
func (a *Agent) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return errors.New("discovery agent already running")
	}

	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.running = true
	a.wg.Add(1)
	go a.run()

	a.log.Infow("Discovery agent started",
		"interval_seconds", a.cfg.IntervalSeconds,
		"targets", len(a.cfg.Targets),
	)
	return nil
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
func (a *Agent) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	a.cancel()
	a.mu.Unlock()

	a.wg.Wait()
	a.log.Infow("Discovery agent stopped")
}

// LastError reports the structural error of the most recent sweep, nil when
// it completed. Per-tool sync failures do not surface here.
func (a *Agent) LastError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

// LastSweep reports when the most recent sweep completed and its stats.
func (a *Agent) LastSweep() (time.Time, SweepStats) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastSweep, a.lastStats
}

func (a *Agent) run() {
	defer a.wg.Done()

	a.sweepAndRecord(a.ctx)

	interval := time.Duration(a.cfg.IntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.sweepAndRecord(a.ctx)
		}
	}
}

func (a *Agent) sweepAndRecord(ctx context.Context) {
	stats, err := a.Sweep(ctx)
	a.mu.Lock()
	a.lastErr = err
	a.lastSweep = time.Now()
	if stats != nil {
		a.lastStats = *stats
	}
	a.mu.Unlock()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.log.Errorw("Discovery sweep failed", "error", err)
	}
}

// Sweep runs one full discovery pass over all configured targets. A failure
// resolving a container or persisting the batch is structural and aborts
// the pass; a single tool failing to probe or sync is logged and skipped.
func (a *Agent) Sweep(ctx context.Context) (*SweepStats, error) {
	start := time.Now()
	stats := &SweepStats{Targets: len(a.cfg.Targets)}

	for _, target := range a.cfg.Targets {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		info, err := a.runner.ContainerStatus(ctx, target.ContainerName)
		if err != nil {
			if errors.IsNotFound(err) {
				a.log.Warnw("Discovery target missing, skipping",
					"container", target.ContainerName)
				stats.Skipped++
				continue
			}
			return stats, errors.Wrapf(errors.ErrStructuralDiscovery,
				"resolving container %q: %v", target.ContainerName, err)
		}
		if !info.Running() {
			a.log.Debugw("Discovery target not running, skipping",
				"container", target.ContainerName, "state", info.State)
			stats.Skipped++
			continue
		}

		tools, err := a.sweepContainer(ctx, target)
		if err != nil {
			return stats, err
		}
		stats.Discovered += len(tools)

		synced, failed := a.syncTools(tools)
		stats.Synced += synced
		stats.Failed += failed
	}

	stats.Duration = time.Since(start)
	a.logSweepSummary(stats)
	return stats, nil
}

// sweepContainer probes one container for every tool in the target's
// enabled categories.
func (a *Agent) sweepContainer(ctx context.Context, target config.ExecutionTarget) ([]*discoveredTool, error) {
	categories := target.ToolCategories
	if len(categories) == 0 {
		categories = Categories()
	}

	var tools []*discoveredTool
	for _, category := range categories {
		for _, probe := range Battery(category) {
			if err := a.limiter.Wait(ctx); err != nil {
				return tools, err
			}
			tool, ok := a.probeTool(ctx, target, category, probe)
			if ok {
				tools = append(tools, tool)
			}
		}
	}
	return tools, nil
}

type discoveredTool struct {
	tool   *registry.Tool
	params []registry.Parameter
}

// probeTool checks one tool for presence and, when found, captures its
// version, binary path, and help text. Absence is the common case and not
// an error.
func (a *Agent) probeTool(ctx context.Context, target config.ExecutionTarget, category string, probe Probe) (*discoveredTool, bool) {
	timeout := time.Duration(a.cfg.ProbeTimeoutSecs) * time.Second

	res, err := a.execute(ctx, target, presenceCommand(probe), timeout)
	if err != nil || res.ExitCode != 0 {
		return nil, false
	}
	version := ParseVersion(res.Stdout)

	binaryPath := ""
	if res, err := a.execute(ctx, target, pathCommand(probe.ToolID), timeout); err == nil && res.ExitCode == 0 {
		binaryPath = firstLine(res.Stdout)
	}

	description := ""
	var params []registry.Parameter
	if res, err := a.execute(ctx, target, helpCommand(probe.ToolID), timeout); err == nil {
		help := res.Stdout
		if a.cfg.HelpPrefixBytes > 0 && len(help) > a.cfg.HelpPrefixBytes {
			help = help[:a.cfg.HelpPrefixBytes]
		}
		description = ParseDescription(help)
		params = ParseParameters(probe.ToolID, help, a.cfg.MaxParamsPerTool)
	}

	return &discoveredTool{
		tool: &registry.Tool{
			ToolID:        probe.ToolID,
			DisplayName:   probe.DisplayName,
			Category:      category,
			Version:       version,
			Description:   description,
			BinaryPath:    binaryPath,
			ContainerName: target.ContainerName,
			ContainerUser: target.InvokingUser,
			InstallStatus: "installed",
		},
		params: params,
	}, true
}

func (a *Agent) execute(ctx context.Context, target config.ExecutionTarget, argv []string, timeout time.Duration) (*channel.Result, error) {
	return a.runner.Execute(ctx, channel.Request{
		ContainerName: target.ContainerName,
		Argv:          argv,
		User:          target.InvokingUser,
		Timeout:       timeout,
	})
}

// syncTools upserts each discovered tool and replaces its parameter set.
// Failures are logged and the batch continues; the registry keeps whatever
// subset landed.
func (a *Agent) syncTools(tools []*discoveredTool) (synced, failed int) {
	for _, dt := range tools {
		if existing, err := a.store.Get(dt.tool.ToolID); err == nil &&
			existing.ContainerName != dt.tool.ContainerName {
			a.log.Debugw("Tool container binding changed",
				"tool", dt.tool.ToolID,
				"previous", existing.ContainerName,
				"current", dt.tool.ContainerName,
			)
		}

		if err := a.store.Upsert(dt.tool); err != nil {
			a.log.Warnw("Failed to sync tool", "tool", dt.tool.ToolID, "error", err)
			failed++
			continue
		}
		if err := a.store.ReplaceParameters(dt.tool.ToolID, dt.params); err != nil {
			a.log.Warnw("Failed to sync tool parameters", "tool", dt.tool.ToolID, "error", err)
			failed++
			continue
		}
		synced++
	}
	return synced, failed
}

func (a *Agent) logSweepSummary(stats *SweepStats) {
	fields := []interface{}{
		"targets", stats.Targets,
		"skipped", stats.Skipped,
		"discovered", stats.Discovered,
		"synced", stats.Synced,
		"failed", stats.Failed,
		"duration", stats.Duration.Round(time.Millisecond).String(),
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		fields = append(fields, "host_mem_used_pct", vm.UsedPercent)
	}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		fields = append(fields, "host_cpu_pct", pct[0])
	}
	a.log.Infow("Discovery sweep complete", fields...)
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' || s[i] == '\r' {
			return s[:i]
		}
	}
	return s
}
