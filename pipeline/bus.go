// Package pipeline implements the cascading scan orchestrator: an
// in-process event bus, the per-operation pipeline phase document, and the
// trigger table that advances an operation from surface assessment through
// port scanning to vulnerability scanning.
package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/crucible-sec/crucible/errors"
)

// Bus event names.
const (
	EventOperationCreated    = "operation_created"
	EventWorkflowStarted     = "workflow_started"
	EventScanCompleted       = "scan_completed"
	EventTargetsAutoCreated  = "targets_auto_created"
	EventNucleiScanCompleted = "nuclei_scan_completed"
	EventSystemInitialized   = "agent_system_initialized"
	EventSystemShutdown      = "agent_system_shutdown"
)

// Event is one bus message. Payload keys are event-specific; see the
// publishing site for each event's contract.
type Event struct {
	Name        string                 `json:"name"`
	OperationID string                 `json:"operation_id,omitempty"`
	ScanID      string                 `json:"scan_id,omitempty"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	At          time.Time              `json:"at"`
}

// Handler processes one event. A returned error is logged by the dispatcher
// and never propagated back to the publisher.
type Handler func(ctx context.Context, ev Event) error

// Bus is an in-process pub/sub dispatcher. Handlers run on their own
// goroutines; a handler panic or error is caught and logged, never crashes
// the dispatch loop or the publisher.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	all      []Handler
	wg       sync.WaitGroup
	log      *zap.SugaredLogger
}

// NewBus creates an event bus.
func NewBus(log *zap.SugaredLogger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		log:      log.Named("bus"),
	}
}

// Subscribe registers a handler for one event name.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

// SubscribeAll registers a handler for every event. Used by mirrors such as
// the websocket hub.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Publish dispatches the event to all matching handlers asynchronously and
// returns immediately.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[ev.Name])+len(b.all))
	handlers = append(handlers, b.handlers[ev.Name]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	for _, h := range handlers {
		h := h
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.log.Errorw("Event handler panicked",
						"event", ev.Name,
						"operation_id", ev.OperationID,
						"panic", r,
					)
				}
			}()
			if err := h(ctx, ev); err != nil {
				b.log.Errorw("Event handler failed",
					"event", ev.Name,
					"operation_id", ev.OperationID,
					"error", errors.Wrap(errors.ErrPipelineStage, err.Error()),
				)
			}
		}()
	}
}

// Drain blocks until all in-flight handlers return. Used at shutdown and in
// tests to wait out asynchronous dispatch.
func (b *Bus) Drain() {
	b.wg.Wait()
}
