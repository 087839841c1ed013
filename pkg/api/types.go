package api

import (
	"context"
	"errors"
	"time"
)

// ErrInstanceNotFound is returned when a workflow instance id does not
// exist. It is the only condition the engine surfaces as a hard error to
// callers of GetWorkflow / HandleEvent / UpdateContext; everything else
// comes back as a structured result.
var ErrInstanceNotFound = errors.New("workflow instance not found")

// ErrCascadeLimit is returned when synchronous auto-chaining exceeds the
// maximum number of hops, which almost always means two steps auto-trigger
// each other in a cycle.
var ErrCascadeLimit = errors.New("auto-chain cascade limit exceeded")

// Status represents the lifecycle state of a workflow instance.
//
// Transitions are monotone: an instance moves from StatusActive to
// StatusCompleted exactly once and never back.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// ActionType classifies a pending timer on an instance.
type ActionType string

const (
	// ActionNone means no timer is pending.
	ActionNone ActionType = ""

	// ActionTimeout is an SLA deadline. When it elapses the instance is
	// reported as stuck; the engine never resolves it on its own.
	ActionTimeout ActionType = "timeout"

	// ActionAuto is a deferred auto-trigger. When it elapses the sweep
	// reports the instance so the caller can re-dispatch EventAuto.
	ActionAuto ActionType = "auto"
)

// EventAuto is the reserved event name dispatched for a step's auto handler,
// either synchronously after a transition or after a configured delay.
const EventAuto = "auto"

// DefaultInitialStep is the step a workflow starts in when CreateOptions
// does not name one.
const DefaultInitialStep = "in_progress"

// DefaultTimeout is the SLA applied to a new workflow when neither the
// caller nor the step catalog provides one.
const DefaultTimeout = 4 * time.Hour

// Instance is a single tracked long-running business process. It is the
// engine's sole persisted entity.
type Instance struct {
	ID   string
	Type string

	// Step is the name of the currently active state.
	Step   string
	Status Status

	// Context is an open key/value document holding business facts
	// (correlation ids, names, scores). It is merged at the top level
	// only; updates never implicitly drop existing keys.
	Context map[string]any

	// NextActionAt and NextActionType describe the pending timer.
	// Either both are set or both are empty; completed instances never
	// carry a timer.
	NextActionAt   *time.Time
	NextActionType ActionType

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Active reports whether the instance can still accept events.
func (i *Instance) Active() bool {
	return i.Status == StatusActive
}

// Stuck reports whether the instance's timer deadline has passed while the
// instance is still active.
func (i *Instance) Stuck(now time.Time) bool {
	return i.Status == StatusActive && i.NextActionAt != nil && !i.NextActionAt.After(now)
}

// Clone returns a copy of the instance with its own context map, so callers
// can hold onto the result without aliasing store-internal state.
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	out := *i
	if i.NextActionAt != nil {
		t := *i.NextActionAt
		out.NextActionAt = &t
	}
	out.Context = make(map[string]any, len(i.Context))
	for k, v := range i.Context {
		out.Context[k] = v
	}
	return &out
}

// StepConfig holds the timer parameters for one (workflow type, step) pair.
// It is code-defined at startup, never persisted.
type StepConfig struct {
	// Timeout is the SLA applied when a transition lands on this step.
	// Zero means the step sets no timer of its own.
	Timeout time.Duration

	// AutoDelay defers the step's auto handler by this much. Zero means
	// a registered auto handler runs synchronously during the triggering
	// transition.
	AutoDelay time.Duration

	// StuckThreshold is a display fallback for consumers that render
	// "stuck" when no explicit Timeout exists. The engine itself does
	// not act on it.
	StuckThreshold time.Duration
}

// CreateOptions controls CreateWorkflow.
type CreateOptions struct {
	// InitialStep defaults to DefaultInitialStep when empty.
	InitialStep string

	// Timeout is the explicit SLA for the initial step. Zero means
	// resolve from the step catalog, falling back to DefaultTimeout.
	Timeout time.Duration
}

// Outcome classifies what HandleEvent did with an event.
type Outcome string

const (
	// OutcomeApplied means a handler ran for the event.
	OutcomeApplied Outcome = "applied"

	// OutcomeNoHandler means no handler is registered for the current
	// step and event. This is the normal result for events irrelevant
	// to the current step, not an error; nothing was mutated.
	OutcomeNoHandler Outcome = "no_handler"

	// OutcomeInactive means the instance exists but is no longer active.
	// Expected for retried or duplicate external callbacks; nothing was
	// mutated.
	OutcomeInactive Outcome = "inactive"
)

// EventResult is the structured outcome of one HandleEvent call.
type EventResult struct {
	Outcome Outcome

	// Handled is true when a handler was invoked.
	Handled bool

	// Transitioned is true when the handler returned a transition that
	// was persisted.
	Transitioned bool

	// NextStep and NewStatus echo the persisted transition, when any.
	NextStep  string
	NewStatus Status
}

// HandlerResult is what a domain handler returns. The zero value means
// "no transition": the handler did its work and the instance stays put.
type HandlerResult struct {
	// NextStep is the step to transition to. Empty means no transition.
	NextStep string

	// Status optionally makes the transition terminal. Only
	// StatusCompleted is meaningful here.
	Status Status
}

// Transition reports whether the result asks for a step change.
func (r HandlerResult) Transition() bool {
	return r.NextStep != ""
}

// HandlerFunc is a domain handler bound to one (workflow type, step, event)
// triple. It may perform arbitrary domain I/O through its own dependencies
// and may use eng to correlate or annotate other workflows.
//
// A returned error aborts the transition: no step or timer mutation is
// persisted. Side effects the handler already performed are its own
// responsibility to make idempotent.
type HandlerFunc func(ctx context.Context, eng Engine, inst *Instance, payload map[string]any) (HandlerResult, error)

// TickSummary reports one sweep of elapsed timers.
type TickSummary struct {
	// Processed counts the elapsed timers examined.
	Processed int

	// AutoTriggers lists instance ids whose auto timer elapsed. The
	// sweep has already cleared their timer fields; the caller must
	// re-dispatch each with HandleEvent(id, EventAuto, nil).
	AutoTriggers []string

	// TimeoutsDetected counts elapsed SLA timers. Those instances are
	// not mutated; they remain observable as stuck until a real event
	// or a human resolves them.
	TimeoutsDetected int
}

// Counts summarizes the instance table for dashboards.
type Counts struct {
	Active int

	// Stuck counts active instances whose timer deadline has passed.
	Stuck int
}
