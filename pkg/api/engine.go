package api

import "context"

// Engine is the workflow orchestration API. It is the single entry point for
// creating instances, feeding them events, and sweeping elapsed timers.
//
// An Engine is constructed once at the application's composition root with a
// frozen Registry and passed by reference to every consumer. It ships with
// zero built-in handlers; all business logic lives in registered handlers.
type Engine interface {
	// CreateWorkflow creates a new active instance of the given type.
	// The initial SLA is resolved in order: opts.Timeout, the initial
	// step's catalog Timeout, DefaultTimeout.
	CreateWorkflow(ctx context.Context, workflowType string, wfContext map[string]any, opts CreateOptions) (*Instance, error)

	// HandleEvent dispatches an event to the handler registered for the
	// instance's (type, current step, event) triple and persists any
	// returned transition, then evaluates auto-chaining for the new step.
	//
	// An unknown id returns ErrInstanceNotFound. An inactive instance or
	// an event with no registered handler returns a structured non-fatal
	// result and mutates nothing, so retried deliveries are safe no-ops.
	// A handler error is propagated with no step or timer mutation
	// persisted.
	HandleEvent(ctx context.Context, id, event string, payload map[string]any) (*EventResult, error)

	// GetWorkflow looks up an instance by id.
	GetWorkflow(ctx context.Context, id string) (*Instance, error)

	// FindByContext returns the most recently created active instance
	// whose context value under key equals value, or ErrInstanceNotFound.
	// Used to correlate an inbound provider callback to the workflow
	// that started it.
	FindByContext(ctx context.Context, key, value string) (*Instance, error)

	// UpdateContext merges partial into the instance's context at the
	// top level. New and overlapping keys overwrite; nothing is deleted.
	UpdateContext(ctx context.Context, id string, partial map[string]any) (*Instance, error)

	// ListActive returns active instances, newest first, bounded.
	ListActive(ctx context.Context) ([]*Instance, error)

	// ListAll returns instances of any status, newest first, bounded.
	// Full enumeration is the caller's responsibility.
	ListAll(ctx context.Context) ([]*Instance, error)

	// Tick scans a bounded batch of elapsed timers, oldest first.
	// Elapsed auto timers are cleared and reported for the caller to
	// re-dispatch; elapsed SLA timers are counted but never mutated.
	Tick(ctx context.Context) (*TickSummary, error)

	// GetCounts reports active and stuck totals.
	GetCounts(ctx context.Context) (*Counts, error)
}
