package pipeline

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crucible-sec/crucible/config"
	"github.com/crucible-sec/crucible/errors"
	"github.com/crucible-sec/crucible/registry"
)

// TemplateEngine implements WorkflowEngine over the configured workflow
// templates: starting a workflow runs its stages asynchronously through the
// template runner.
type TemplateEngine struct {
	workflows map[string]config.Workflow
	runner    *TemplateRunner
	log       *zap.SugaredLogger
}

// NewTemplateEngine indexes the configured workflow templates.
func NewTemplateEngine(workflows []config.Workflow, runner *TemplateRunner, log *zap.SugaredLogger) *TemplateEngine {
	byName := make(map[string]config.Workflow, len(workflows))
	for _, wf := range workflows {
		byName[wf.Name] = wf
	}
	return &TemplateEngine{
		workflows: byName,
		runner:    runner,
		log:       log.Named("workflows"),
	}
}

// StartWorkflow launches the named template on its own goroutine. An
// unknown template name fails synchronously; stage failures are logged.
func (e *TemplateEngine) StartWorkflow(ctx context.Context, operationID, workflowName string) error {
	wf, ok := e.workflows[workflowName]
	if !ok {
		return errors.NewNotFoundError("workflow template %q is not configured", workflowName)
	}

	go func() {
		if err := e.runner.Execute(context.Background(), wf); err != nil {
			e.log.Errorw("Workflow execution failed",
				"workflow", workflowName, "operation_id", operationID, "error", err)
			return
		}
		e.log.Infow("Workflow completed",
			"workflow", workflowName, "operation_id", operationID)
	}()
	return nil
}

// ScanLauncher launches port and vulnerability scans through the tool
// router and feeds their results back into the cascade. Implements
// PortScanLauncher and VulnScanLauncher.
type ScanLauncher struct {
	store  *Store
	bus    *Bus
	runner ToolRunner
	log    *zap.SugaredLogger
}

// NewScanLauncher creates a scan launcher.
func NewScanLauncher(store *Store, bus *Bus, runner ToolRunner, log *zap.SugaredLogger) *ScanLauncher {
	return &ScanLauncher{
		store:  store,
		bus:    bus,
		runner: runner,
		log:    log.Named("scans"),
	}
}

// LaunchPortScan starts one nmap execution against the batch and returns
// its scan ID immediately. Open services land in the store before the
// completion event is published.
func (l *ScanLauncher) LaunchPortScan(ctx context.Context, operationID string, targets []string) (string, error) {
	scanID := "nmap-" + uuid.NewString()

	go func() {
		args := append([]string{"-sV", "-oG", "-"}, targets...)
		res, err := l.runner.Run(context.Background(), "nmap", args, registry.RunOptions{})
		if err != nil {
			l.log.Errorw("Port scan failed",
				"operation_id", operationID, "scan_id", scanID, "error", err)
			return
		}

		services := ParseGreppableServices(res.Stdout)
		for _, svc := range services {
			if err := l.store.InsertService(operationID, scanID,
				svc.AssetValue, svc.Port, svc.Protocol, svc.ServiceName); err != nil {
				l.log.Errorw("Failed to record service",
					"scan_id", scanID, "host", svc.AssetValue, "port", svc.Port, "error", err)
			}
		}

		l.log.Infow("Port scan completed",
			"operation_id", operationID, "scan_id", scanID, "services", len(services))
		l.bus.Publish(context.Background(), Event{
			Name:        EventScanCompleted,
			OperationID: operationID,
			ScanID:      scanID,
			Payload:     map[string]interface{}{"scan_type": "nmap"},
		})
	}()
	return scanID, nil
}

// LaunchVulnScan starts one nuclei execution against the URL set and
// returns its scan ID immediately.
func (l *ScanLauncher) LaunchVulnScan(ctx context.Context, operationID string, urls []string) (string, error) {
	scanID := "nuclei-" + uuid.NewString()

	go func() {
		args := []string{"-silent", "-jsonl"}
		for _, url := range urls {
			args = append(args, "-u", url)
		}
		res, err := l.runner.Run(context.Background(), "nuclei", args, registry.RunOptions{})
		if err != nil {
			l.log.Errorw("Vulnerability scan failed",
				"operation_id", operationID, "scan_id", scanID, "error", err)
			return
		}

		findings := 0
		for _, line := range strings.Split(res.Stdout, "\n") {
			if strings.TrimSpace(line) != "" {
				findings++
			}
		}
		l.log.Infow("Vulnerability scan completed",
			"operation_id", operationID, "scan_id", scanID, "findings", findings)
		l.bus.Publish(context.Background(), Event{
			Name:        EventNucleiScanCompleted,
			OperationID: operationID,
			ScanID:      scanID,
			Payload:     map[string]interface{}{"scan_type": "nuclei", "findings": findings},
		})
	}()
	return scanID, nil
}

// ReporterFunc adapts a function to the VulnReportPoller interface.
type ReporterFunc func(ctx context.Context, operationID string) error

// PollNow calls the wrapped function.
func (f ReporterFunc) PollNow(ctx context.Context, operationID string) error {
	return f(ctx, operationID)
}
