package discovery

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crucible-sec/crucible/channel"
	"github.com/crucible-sec/crucible/config"
	"github.com/crucible-sec/crucible/errors"
	crucibletest "github.com/crucible-sec/crucible/internal/testing"
	"github.com/crucible-sec/crucible/registry"
	"github.com/crucible-sec/crucible/runtime"
)

type fakeResponse struct {
	stdout   string
	exitCode int
}

// fakeRunner scripts command output by substring match against the probe
// shell script. Unmatched probes exit 1, mimicking an absent tool.
type fakeRunner struct {
	mu         sync.Mutex
	containers map[string]*runtime.ContainerInfo
	responses  []struct {
		substr string
		resp   fakeResponse
	}
	statusErr error
	execCalls int
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		containers: map[string]*runtime.ContainerInfo{
			"pentest-tools": {ID: "abc123", Name: "pentest-tools", State: runtime.StateRunning},
		},
	}
}

func (f *fakeRunner) respond(substr, stdout string) {
	f.responses = append(f.responses, struct {
		substr string
		resp   fakeResponse
	}{substr, fakeResponse{stdout: stdout}})
}

func (f *fakeRunner) Execute(ctx context.Context, req channel.Request) (*channel.Result, error) {
	f.mu.Lock()
	f.execCalls++
	f.mu.Unlock()

	script := req.Argv[len(req.Argv)-1]
	for _, r := range f.responses {
		if strings.Contains(script, r.substr) {
			return &channel.Result{Stdout: r.resp.stdout, ExitCode: r.resp.exitCode}, nil
		}
	}
	return &channel.Result{ExitCode: 1}, nil
}

func (f *fakeRunner) ContainerStatus(ctx context.Context, containerName string) (*runtime.ContainerInfo, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	info, ok := f.containers[containerName]
	if !ok {
		return nil, errors.NewNotFoundError("container %q not found", containerName)
	}
	return info, nil
}

func testDiscoveryConfig() config.DiscoveryConfig {
	return config.DiscoveryConfig{
		IntervalSeconds:  3600,
		ProbeTimeoutSecs: 5,
		ProbesPerSecond:  1000, // tests should not wait on the limiter
		HelpPrefixBytes:  4096,
		MaxParamsPerTool: 20,
		Targets: []config.ExecutionTarget{
			{ContainerName: "pentest-tools", InvokingUser: "root", ToolCategories: []string{"network"}},
		},
	}
}

func testAgent(t *testing.T, runner *fakeRunner, cfg config.DiscoveryConfig) (*Agent, *registry.Store) {
	t.Helper()
	store := registry.NewStore(crucibletest.CreateTestDB(t))
	return NewAgent(runner, store, cfg, zap.NewNop().Sugar()), store
}

func TestSweepDiscoversAndSyncsTool(t *testing.T) {
	runner := newFakeRunner()
	// Rules match in order: the presence script contains the redirect, the
	// bare path script does not.
	runner.respond("command -v nmap >", "Nmap version 7.94SVN ( https://nmap.org )\n")
	runner.respond("command -v nmap", "/usr/bin/nmap\n")
	runner.respond("nmap --help", `Nmap 7.94SVN ( https://nmap.org )
Usage: nmap [Scan Type(s)] [Options] {target specification}
  -sV: Probe open ports to determine service/version info
  -p <port ranges>: Only scan specified ports
`)

	agent, store := testAgent(t, runner, testDiscoveryConfig())

	stats, err := agent.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Discovered)
	assert.Equal(t, 1, stats.Synced)
	assert.Equal(t, 0, stats.Failed)

	tool, err := store.Get("nmap")
	require.NoError(t, err)
	assert.Equal(t, "Nmap", tool.DisplayName)
	assert.Equal(t, "network", tool.Category)
	assert.Equal(t, "7.94.0", tool.Version)
	assert.Equal(t, "/usr/bin/nmap", tool.BinaryPath)
	assert.Equal(t, "pentest-tools", tool.ContainerName)
	assert.Equal(t, "root", tool.ContainerUser)
	assert.NotEmpty(t, tool.Parameters)
}

func TestSweepSkipsMissingContainer(t *testing.T) {
	runner := newFakeRunner()
	cfg := testDiscoveryConfig()
	cfg.Targets = append(cfg.Targets, config.ExecutionTarget{
		ContainerName: "ghost", ToolCategories: []string{"network"},
	})

	agent, _ := testAgent(t, runner, cfg)

	stats, err := agent.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
}

func TestSweepSkipsStoppedContainer(t *testing.T) {
	runner := newFakeRunner()
	runner.containers["pentest-tools"].State = runtime.StateExited

	agent, _ := testAgent(t, runner, testDiscoveryConfig())

	stats, err := agent.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Zero(t, runner.execCalls)
}

func TestSweepStructuralErrorAborts(t *testing.T) {
	runner := newFakeRunner()
	runner.statusErr = errors.New("daemon unreachable")

	agent, _ := testAgent(t, runner, testDiscoveryConfig())

	_, err := agent.Sweep(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStructuralDiscovery))
}

func TestSweepPerToolSyncFailureContinues(t *testing.T) {
	runner := newFakeRunner()
	runner.respond("command -v nmap >", "Nmap version 7.94SVN\n")
	runner.respond("command -v masscan >", "masscan 1.3.2\n")

	db := crucibletest.CreateTestDB(t)
	store := registry.NewStore(db)
	agent := NewAgent(runner, store, testDiscoveryConfig(), zap.NewNop().Sugar())

	require.NoError(t, db.Close())

	stats, err := agent.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Discovered)
	assert.Equal(t, 0, stats.Synced)
	assert.Equal(t, 2, stats.Failed)
}

func TestAgentStartStop(t *testing.T) {
	runner := newFakeRunner()
	runner.respond("command -v nmap >", "Nmap version 7.94SVN\n")

	agent, store := testAgent(t, runner, testDiscoveryConfig())

	require.NoError(t, agent.Start())
	require.Error(t, agent.Start(), "second start must be rejected")

	require.Eventually(t, func() bool {
		when, _ := agent.LastSweep()
		return !when.IsZero()
	}, 2*time.Second, 10*time.Millisecond)

	agent.Stop()
	agent.Stop() // idempotent

	require.NoError(t, agent.LastError())
	_, stats := agent.LastSweep()
	assert.Equal(t, 1, stats.Synced)

	_, err := store.Get("nmap")
	require.NoError(t, err)
}
