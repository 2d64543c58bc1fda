package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/crucible-sec/crucible/config"
	"github.com/crucible-sec/crucible/errors"
)

// SurfaceWorkflow is the workflow template name started when an operation
// is created.
const SurfaceWorkflow = "surface-assessment"

// WorkflowEngine starts named workflow templates on an external
// orchestrator.
type WorkflowEngine interface {
	StartWorkflow(ctx context.Context, operationID, workflowName string) error
}

// PortScanLauncher launches one port-scan execution against a target batch
// and returns its scan ID.
type PortScanLauncher interface {
	LaunchPortScan(ctx context.Context, operationID string, targets []string) (string, error)
}

// VulnScanLauncher launches one vulnerability-scan execution against a URL
// set and returns its scan ID.
type VulnScanLauncher interface {
	LaunchVulnScan(ctx context.Context, operationID string, urls []string) (string, error)
}

// VulnReportPoller exposes the vulnerability reporter's immediate-poll
// entry point.
type VulnReportPoller interface {
	PollNow(ctx context.Context, operationID string) error
}

// Orchestrator wires the cascade trigger table onto the event bus. Each
// config flag gates one trigger; disabling a flag only prevents future
// stage triggers, it never aborts a cascade already in flight.
type Orchestrator struct {
	bus       *Bus
	store     *Store
	cfg       config.PipelineConfig
	engine    WorkflowEngine
	portScans PortScanLauncher
	vulnScans VulnScanLauncher
	reporter  VulnReportPoller
	log       *zap.SugaredLogger
}

// NewOrchestrator creates the cascade orchestrator. Call Register to attach
// it to the bus.
func NewOrchestrator(
	bus *Bus,
	store *Store,
	cfg config.PipelineConfig,
	engine WorkflowEngine,
	portScans PortScanLauncher,
	vulnScans VulnScanLauncher,
	reporter VulnReportPoller,
	log *zap.SugaredLogger,
) *Orchestrator {
	return &Orchestrator{
		bus:       bus,
		store:     store,
		cfg:       cfg,
		engine:    engine,
		portScans: portScans,
		vulnScans: vulnScans,
		reporter:  reporter,
		log:       log.Named("pipeline"),
	}
}

// Register subscribes the trigger-table handlers.
func (o *Orchestrator) Register() {
	o.bus.Subscribe(EventOperationCreated, o.handleOperationCreated)
	o.bus.Subscribe(EventScanCompleted, o.handleScanCompleted)
	o.bus.Subscribe(EventTargetsAutoCreated, o.handleTargetsAutoCreated)
	o.bus.Subscribe(EventNucleiScanCompleted, o.handleNucleiCompleted)
}

// StartOperation creates an operation and publishes the event that kicks
// off its cascade.
func (o *Orchestrator) StartOperation(ctx context.Context, name string, scope []string) (*Operation, error) {
	op, err := o.store.CreateOperation(name, scope)
	if err != nil {
		return nil, err
	}
	o.bus.Publish(ctx, Event{Name: EventOperationCreated, OperationID: op.ID})
	return op, nil
}

// ReportScanCompleted publishes a scan completion into the cascade. Scan
// results must already be persisted under scanID.
func (o *Orchestrator) ReportScanCompleted(ctx context.Context, operationID, scanID, scanType string) {
	name := EventScanCompleted
	if scanType == "nuclei" {
		name = EventNucleiScanCompleted
	}
	o.bus.Publish(ctx, Event{
		Name:        name,
		OperationID: operationID,
		ScanID:      scanID,
		Payload:     map[string]interface{}{"scan_type": scanType},
	})
}

// handleOperationCreated starts the surface assessment workflow for a new
// operation, provided its scope passes the configured gate.
func (o *Orchestrator) handleOperationCreated(ctx context.Context, ev Event) error {
	op, err := o.store.GetOperation(ev.OperationID)
	if err != nil {
		return err
	}

	if o.cfg.RequireScope && len(op.Scope) == 0 {
		o.log.Warnw("Operation has no scope, cascade not started",
			"operation_id", op.ID)
		return o.store.UpdatePipelineStatus(op.ID, func(st *Status) {
			st.UpsertPhase(PhaseTargetCreation, PhaseSkipped, "operation has no scope")
		})
	}

	if err := o.engine.StartWorkflow(ctx, op.ID, SurfaceWorkflow); err != nil {
		o.log.Errorw("Failed to start surface assessment workflow",
			"operation_id", op.ID, "error", err)
		return o.store.UpdatePipelineStatus(op.ID, func(st *Status) {
			st.UpsertPhase(PhaseTargetCreation, PhaseFailed, "workflow start failed")
		})
	}

	o.bus.Publish(ctx, Event{
		Name:        EventWorkflowStarted,
		OperationID: op.ID,
		Payload:     map[string]interface{}{"workflow": SurfaceWorkflow},
	})
	return o.store.UpdatePipelineStatus(op.ID, func(st *Status) {
		st.UpsertPhase(PhaseTargetCreation, PhaseRunning, "")
	})
}

// handleScanCompleted dispatches on the completed scan's type: surface
// assessment results materialize targets, port scan results select web
// services for vulnerability scanning.
func (o *Orchestrator) handleScanCompleted(ctx context.Context, ev Event) error {
	scanType, _ := ev.Payload["scan_type"].(string)
	switch scanType {
	case "bbot", "surface":
		return o.materializeTargets(ctx, ev)
	case "nmap":
		return o.launchVulnScan(ctx, ev)
	default:
		o.log.Debugw("Ignoring scan completion of unhandled type",
			"scan_type", scanType, "scan_id", ev.ScanID)
		return nil
	}
}

// materializeTargets turns a surface scan's ip/domain assets into targets
// and announces them for the port-scan trigger.
func (o *Orchestrator) materializeTargets(ctx context.Context, ev Event) error {
	if !o.cfg.AutoTargetCreation {
		o.log.Debugw("Auto target creation disabled, skipping",
			"operation_id", ev.OperationID)
		return nil
	}

	assets, err := o.store.AssetsByScan(ev.ScanID)
	if err != nil {
		return err
	}

	var created []string
	for _, asset := range assets {
		if asset.AssetType != "ip" && asset.AssetType != "domain" {
			continue
		}
		isNew, err := o.store.CreateTarget(ev.OperationID, asset.Value, asset.AssetType, true)
		if err != nil {
			o.log.Errorw("Failed to create target",
				"operation_id", ev.OperationID, "value", asset.Value, "error", err)
			continue
		}
		if isNew {
			created = append(created, asset.Value)
		}
	}

	if err := o.store.UpdatePipelineStatus(ev.OperationID, func(st *Status) {
		st.UpsertPhase(PhaseTargetCreation, PhaseCompleted,
			fmt.Sprintf("%d targets auto-created", len(created)))
	}); err != nil {
		return err
	}

	o.log.Infow("Targets auto-created",
		"operation_id", ev.OperationID, "count", len(created))
	o.bus.Publish(ctx, Event{
		Name:        EventTargetsAutoCreated,
		OperationID: ev.OperationID,
		Payload:     map[string]interface{}{"targets": created},
	})
	return nil
}

// handleTargetsAutoCreated batches freshly created targets and launches one
// port scan per batch. Launch failures are logged per batch; surviving
// batches still run.
func (o *Orchestrator) handleTargetsAutoCreated(ctx context.Context, ev Event) error {
	if !o.cfg.NmapOnCreation {
		o.log.Debugw("Port scan on target creation disabled, skipping",
			"operation_id", ev.OperationID)
		return nil
	}

	targets := payloadStrings(ev.Payload["targets"])
	if len(targets) == 0 {
		return nil
	}

	batchSize := o.cfg.TargetBatchSize
	if batchSize <= 0 {
		batchSize = 10
	}

	launched := 0
	for start := 0; start < len(targets); start += batchSize {
		end := start + batchSize
		if end > len(targets) {
			end = len(targets)
		}
		batch := targets[start:end]

		scanID, err := o.portScans.LaunchPortScan(ctx, ev.OperationID, batch)
		if err != nil {
			o.log.Errorw("Failed to launch port scan batch",
				"operation_id", ev.OperationID, "batch_size", len(batch), "error", err)
			continue
		}
		launched++
		o.log.Infow("Port scan launched",
			"operation_id", ev.OperationID, "scan_id", scanID, "targets", len(batch))
	}

	return o.store.UpdatePipelineStatus(ev.OperationID, func(st *Status) {
		if launched == 0 {
			st.UpsertPhase(PhaseNmap, PhaseFailed, "no port scan batches launched")
			return
		}
		st.UpsertPhase(PhaseNmap, PhaseRunning,
			fmt.Sprintf("%d port scan batches launched", launched))
	})
}

// launchVulnScan reacts to a finished port scan: select open web services,
// build the URL set, and launch one vulnerability scan against it. No
// qualifying services marks the phase skipped, not failed.
func (o *Orchestrator) launchVulnScan(ctx context.Context, ev Event) error {
	if err := o.store.UpdatePipelineStatus(ev.OperationID, func(st *Status) {
		st.UpsertPhase(PhaseNmap, PhaseCompleted, "")
	}); err != nil {
		return err
	}

	if !o.cfg.NucleiOnNmap {
		o.log.Debugw("Vulnerability scan on port scan completion disabled, skipping",
			"operation_id", ev.OperationID)
		return nil
	}

	services, err := o.store.ServicesByScan(ev.ScanID)
	if err != nil {
		return err
	}

	urls := ScanURLs(services)
	if len(urls) == 0 {
		o.log.Infow("No web services found, vulnerability scan skipped",
			"operation_id", ev.OperationID, "scan_id", ev.ScanID)
		return o.store.UpdatePipelineStatus(ev.OperationID, func(st *Status) {
			st.UpsertPhase(PhaseNuclei, PhaseSkipped, "no web services discovered")
		})
	}

	scanID, err := o.vulnScans.LaunchVulnScan(ctx, ev.OperationID, urls)
	if err != nil {
		o.log.Errorw("Failed to launch vulnerability scan",
			"operation_id", ev.OperationID, "error", err)
		return o.store.UpdatePipelineStatus(ev.OperationID, func(st *Status) {
			st.UpsertPhase(PhaseNuclei, PhaseFailed, "vulnerability scan launch failed")
		})
	}

	o.log.Infow("Vulnerability scan launched",
		"operation_id", ev.OperationID, "scan_id", scanID, "urls", len(urls))
	return o.store.UpdatePipelineStatus(ev.OperationID, func(st *Status) {
		st.UpsertPhase(PhaseNuclei, PhaseRunning,
			fmt.Sprintf("scanning %d urls", len(urls)))
	})
}

// handleNucleiCompleted closes the cascade: poll the vulnerability reporter
// once and mark the final phase.
func (o *Orchestrator) handleNucleiCompleted(ctx context.Context, ev Event) error {
	if err := o.store.UpdatePipelineStatus(ev.OperationID, func(st *Status) {
		st.UpsertPhase(PhaseNuclei, PhaseCompleted, "")
	}); err != nil {
		return err
	}

	if !o.cfg.ReporterOnNuclei {
		o.log.Debugw("Reporter poll on vulnerability scan completion disabled, skipping",
			"operation_id", ev.OperationID)
		return nil
	}

	if err := o.reporter.PollNow(ctx, ev.OperationID); err != nil {
		o.log.Errorw("Vulnerability reporter poll failed",
			"operation_id", ev.OperationID, "error", err)
		return errors.Wrapf(errors.ErrPipelineStage, "reporter poll: %v", err)
	}

	return o.store.UpdatePipelineStatus(ev.OperationID, func(st *Status) {
		st.UpsertPhase(PhaseFinal, PhaseCompleted, "")
	})
}

func payloadStrings(v interface{}) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []interface{}:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
