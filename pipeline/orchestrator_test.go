package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crucible-sec/crucible/config"
	"github.com/crucible-sec/crucible/errors"
	crucibletest "github.com/crucible-sec/crucible/internal/testing"
)

type fakeEngine struct {
	mu      sync.Mutex
	started []string
	err     error
}

func (f *fakeEngine) StartWorkflow(ctx context.Context, operationID, workflowName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.started = append(f.started, workflowName)
	return nil
}

type fakePortScans struct {
	mu      sync.Mutex
	batches [][]string
}

func (f *fakePortScans) LaunchPortScan(ctx context.Context, operationID string, targets []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, targets)
	return "nmap-1", nil
}

type fakeVulnScans struct {
	mu   sync.Mutex
	urls [][]string
}

func (f *fakeVulnScans) LaunchVulnScan(ctx context.Context, operationID string, urls []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, urls)
	return "nuclei-1", nil
}

type fakeReporter struct {
	mu     sync.Mutex
	polled int
}

func (f *fakeReporter) PollNow(ctx context.Context, operationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polled++
	return nil
}

type cascade struct {
	bus      *Bus
	store    *Store
	orch     *Orchestrator
	engine   *fakeEngine
	ports    *fakePortScans
	vulns    *fakeVulnScans
	reporter *fakeReporter
}

func newCascade(t *testing.T, cfg config.PipelineConfig) *cascade {
	t.Helper()
	c := &cascade{
		bus:      NewBus(zap.NewNop().Sugar()),
		store:    NewStore(crucibletest.CreateTestDB(t)),
		engine:   &fakeEngine{},
		ports:    &fakePortScans{},
		vulns:    &fakeVulnScans{},
		reporter: &fakeReporter{},
	}
	c.orch = NewOrchestrator(c.bus, c.store, cfg, c.engine, c.ports, c.vulns, c.reporter,
		zap.NewNop().Sugar())
	c.orch.Register()
	return c
}

func allEnabled() config.PipelineConfig {
	return config.PipelineConfig{
		RequireScope:       true,
		AutoTargetCreation: true,
		NmapOnCreation:     true,
		NucleiOnNmap:       true,
		ReporterOnNuclei:   true,
		TargetBatchSize:    10,
	}
}

// Walks the whole cascade: surface scan assets become targets, targets
// become one port-scan batch, the open web port becomes the single nuclei
// URL, and nuclei completion polls the reporter and closes the pipeline.
func TestCascadeEndToEnd(t *testing.T) {
	ctx := context.Background()
	c := newCascade(t, allEnabled())

	op, err := c.orch.StartOperation(ctx, "acme-external", []string{"10.0.0.0/24"})
	require.NoError(t, err)
	c.bus.Drain()

	assert.Equal(t, []string{SurfaceWorkflow}, c.engine.started)

	require.NoError(t, c.store.InsertAsset(op.ID, "bbot-1", "10.0.0.5", "ip"))
	require.NoError(t, c.store.InsertAsset(op.ID, "bbot-1", "app.example.com", "domain"))
	require.NoError(t, c.store.InsertAsset(op.ID, "bbot-1", "https://app.example.com/login", "url"))

	c.orch.ReportScanCompleted(ctx, op.ID, "bbot-1", "bbot")
	c.bus.Drain()

	targets, err := c.store.TargetsByOperation(op.ID)
	require.NoError(t, err)
	require.Len(t, targets, 2, "url-type assets must not become targets")
	for _, target := range targets {
		assert.True(t, target.AutoCreated)
	}

	require.Len(t, c.ports.batches, 1, "two targets fit one batch")
	assert.ElementsMatch(t, []string{"10.0.0.5", "app.example.com"}, c.ports.batches[0])

	require.NoError(t, c.store.InsertService(op.ID, "nmap-1", "10.0.0.5", 80, "tcp", "http"))
	require.NoError(t, c.store.InsertService(op.ID, "nmap-1", "10.0.0.5", 22, "tcp", "ssh"))

	c.orch.ReportScanCompleted(ctx, op.ID, "nmap-1", "nmap")
	c.bus.Drain()

	require.Len(t, c.vulns.urls, 1)
	assert.Equal(t, []string{"http://10.0.0.5"}, c.vulns.urls[0],
		"port 22 excluded, port 80 carries no suffix")

	c.orch.ReportScanCompleted(ctx, op.ID, "nuclei-1", "nuclei")
	c.bus.Drain()

	assert.Equal(t, 1, c.reporter.polled)

	final, err := c.store.GetOperation(op.ID)
	require.NoError(t, err)
	assert.Equal(t, PhaseCompleted, final.Pipeline.Phase(PhaseTargetCreation).Status)
	assert.Equal(t, PhaseCompleted, final.Pipeline.Phase(PhaseNmap).Status)
	assert.Equal(t, PhaseCompleted, final.Pipeline.Phase(PhaseNuclei).Status)
	assert.Equal(t, PhaseCompleted, final.Pipeline.Phase(PhaseFinal).Status)
}

func TestCascadeNoWebPortsSkipsNuclei(t *testing.T) {
	ctx := context.Background()
	c := newCascade(t, allEnabled())

	op, err := c.orch.StartOperation(ctx, "acme-internal", []string{"10.0.1.0/24"})
	require.NoError(t, err)
	c.bus.Drain()

	require.NoError(t, c.store.InsertService(op.ID, "nmap-2", "10.0.1.9", 22, "tcp", "ssh"))
	c.orch.ReportScanCompleted(ctx, op.ID, "nmap-2", "nmap")
	c.bus.Drain()

	assert.Empty(t, c.vulns.urls)

	final, err := c.store.GetOperation(op.ID)
	require.NoError(t, err)
	assert.Equal(t, PhaseSkipped, final.Pipeline.Phase(PhaseNuclei).Status)
}

func TestCascadeScopeRequired(t *testing.T) {
	ctx := context.Background()
	c := newCascade(t, allEnabled())

	op, err := c.orch.StartOperation(ctx, "scopeless", nil)
	require.NoError(t, err)
	c.bus.Drain()

	assert.Empty(t, c.engine.started, "workflow must not start without scope")

	final, err := c.store.GetOperation(op.ID)
	require.NoError(t, err)
	assert.Equal(t, PhaseSkipped, final.Pipeline.Phase(PhaseTargetCreation).Status)
}

func TestCascadeBatchesTargets(t *testing.T) {
	ctx := context.Background()
	cfg := allEnabled()
	cfg.TargetBatchSize = 10
	c := newCascade(t, cfg)

	op, err := c.orch.StartOperation(ctx, "wide", []string{"10.0.0.0/16"})
	require.NoError(t, err)
	c.bus.Drain()

	for i := 0; i < 23; i++ {
		value := fmt.Sprintf("10.0.0.%d", i+1)
		require.NoError(t, c.store.InsertAsset(op.ID, "bbot-2", value, "ip"))
	}
	c.orch.ReportScanCompleted(ctx, op.ID, "bbot-2", "bbot")
	c.bus.Drain()

	require.Len(t, c.ports.batches, 3)
	total := 0
	for _, batch := range c.ports.batches {
		assert.LessOrEqual(t, len(batch), 10)
		total += len(batch)
	}
	assert.Equal(t, 23, total)
}

func TestCascadeDisabledFlagsStopTriggers(t *testing.T) {
	ctx := context.Background()
	cfg := allEnabled()
	cfg.AutoTargetCreation = false
	c := newCascade(t, cfg)

	op, err := c.orch.StartOperation(ctx, "manual", []string{"10.0.0.0/24"})
	require.NoError(t, err)
	c.bus.Drain()

	require.NoError(t, c.store.InsertAsset(op.ID, "bbot-3", "10.0.0.5", "ip"))
	c.orch.ReportScanCompleted(ctx, op.ID, "bbot-3", "bbot")
	c.bus.Drain()

	targets, err := c.store.TargetsByOperation(op.ID)
	require.NoError(t, err)
	assert.Empty(t, targets)
	assert.Empty(t, c.ports.batches)
}

func TestCascadeWorkflowStartFailureMarksPhase(t *testing.T) {
	ctx := context.Background()
	c := newCascade(t, allEnabled())
	c.engine.err = errors.New("orchestrator unreachable")

	op, err := c.orch.StartOperation(ctx, "doomed", []string{"10.0.0.0/24"})
	require.NoError(t, err, "cascade failures never surface to the caller")
	c.bus.Drain()

	final, err := c.store.GetOperation(op.ID)
	require.NoError(t, err)
	assert.Equal(t, PhaseFailed, final.Pipeline.Phase(PhaseTargetCreation).Status)
}
