package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the workflow engine for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay event dispatch.
type Observer interface {
	// OnWorkflowCreated is called once when a new instance is created,
	// after it has been persisted.
	OnWorkflowCreated(ctx context.Context, inst *Instance)

	// OnEventDispatched is called after every HandleEvent attempt that
	// reached dispatch, for all outcomes. err is non-nil when the
	// handler failed; res may be nil in that case.
	OnEventDispatched(ctx context.Context, inst *Instance, event string, res *EventResult, err error, duration time.Duration)

	// OnTransition is called after a step transition has been persisted.
	OnTransition(ctx context.Context, inst *Instance, fromStep, toStep string)

	// OnWorkflowCompleted is called when an instance reaches
	// StatusCompleted.
	OnWorkflowCompleted(ctx context.Context, inst *Instance)

	// OnAutoScheduled is called when a deferred auto-trigger has been
	// written for the instance's current step.
	OnAutoScheduled(ctx context.Context, inst *Instance, step string, fireAt time.Time)

	// OnTick is called after each sweep of elapsed timers.
	OnTick(ctx context.Context, sum *TickSummary)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnWorkflowCreated(ctx context.Context, inst *Instance) {}
func (NoopObserver) OnEventDispatched(ctx context.Context, inst *Instance, event string, res *EventResult, err error, d time.Duration) {
}
func (NoopObserver) OnTransition(ctx context.Context, inst *Instance, fromStep, toStep string) {}
func (NoopObserver) OnWorkflowCompleted(ctx context.Context, inst *Instance)                   {}
func (NoopObserver) OnAutoScheduled(ctx context.Context, inst *Instance, step string, fireAt time.Time) {
}
func (NoopObserver) OnTick(ctx context.Context, sum *TickSummary) {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnWorkflowCreated(ctx context.Context, inst *Instance) {
	for _, o := range c.observers {
		o.OnWorkflowCreated(ctx, inst)
	}
}

func (c *CompositeObserver) OnEventDispatched(ctx context.Context, inst *Instance, event string, res *EventResult, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnEventDispatched(ctx, inst, event, res, err, d)
	}
}

func (c *CompositeObserver) OnTransition(ctx context.Context, inst *Instance, fromStep, toStep string) {
	for _, o := range c.observers {
		o.OnTransition(ctx, inst, fromStep, toStep)
	}
}

func (c *CompositeObserver) OnWorkflowCompleted(ctx context.Context, inst *Instance) {
	for _, o := range c.observers {
		o.OnWorkflowCompleted(ctx, inst)
	}
}

func (c *CompositeObserver) OnAutoScheduled(ctx context.Context, inst *Instance, step string, fireAt time.Time) {
	for _, o := range c.observers {
		o.OnAutoScheduled(ctx, inst, step, fireAt)
	}
}

func (c *CompositeObserver) OnTick(ctx context.Context, sum *TickSummary) {
	for _, o := range c.observers {
		o.OnTick(ctx, sum)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs workflow lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnWorkflowCreated(ctx context.Context, inst *Instance) {
	o.Logger.InfoContext(ctx, "workflow_created",
		slog.String("workflow_type", inst.Type),
		slog.String("instance_id", inst.ID),
		slog.String("step", inst.Step),
	)
}

func (o *LoggingObserver) OnEventDispatched(ctx context.Context, inst *Instance, event string, res *EventResult, err error, d time.Duration) {
	if err != nil {
		o.Logger.ErrorContext(ctx, "event_failed",
			slog.String("workflow_type", inst.Type),
			slog.String("instance_id", inst.ID),
			slog.String("event", event),
			slog.Duration("duration", d),
			slog.Any("error", err),
		)
		return
	}
	level := slog.LevelInfo
	if res.Outcome != OutcomeApplied {
		// Retried callbacks and irrelevant events are routine.
		level = slog.LevelDebug
	}
	o.Logger.Log(ctx, level, "event_dispatched",
		slog.String("workflow_type", inst.Type),
		slog.String("instance_id", inst.ID),
		slog.String("event", event),
		slog.String("outcome", string(res.Outcome)),
		slog.Bool("transitioned", res.Transitioned),
		slog.Duration("duration", d),
	)
}

func (o *LoggingObserver) OnTransition(ctx context.Context, inst *Instance, fromStep, toStep string) {
	o.Logger.InfoContext(ctx, "workflow_transition",
		slog.String("workflow_type", inst.Type),
		slog.String("instance_id", inst.ID),
		slog.String("from_step", fromStep),
		slog.String("to_step", toStep),
	)
}

func (o *LoggingObserver) OnWorkflowCompleted(ctx context.Context, inst *Instance) {
	o.Logger.InfoContext(ctx, "workflow_completed",
		slog.String("workflow_type", inst.Type),
		slog.String("instance_id", inst.ID),
	)
}

func (o *LoggingObserver) OnAutoScheduled(ctx context.Context, inst *Instance, step string, fireAt time.Time) {
	o.Logger.InfoContext(ctx, "auto_scheduled",
		slog.String("workflow_type", inst.Type),
		slog.String("instance_id", inst.ID),
		slog.String("step", step),
		slog.Time("fire_at", fireAt),
	)
}

func (o *LoggingObserver) OnTick(ctx context.Context, sum *TickSummary) {
	level := slog.LevelDebug
	if sum.Processed > 0 {
		level = slog.LevelInfo
	}
	o.Logger.Log(ctx, level, "tick_completed",
		slog.Int("processed", sum.Processed),
		slog.Int("auto_triggers", len(sum.AutoTriggers)),
		slog.Int("timeouts_detected", sum.TimeoutsDetected),
	)
}

// BasicMetrics collects simple counters for engine activity.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	workflowsCreated   atomic.Int64
	workflowsCompleted atomic.Int64
	eventsDispatched   atomic.Int64
	transitions        atomic.Int64
	handlerFailures    atomic.Int64
	autoScheduled      atomic.Int64
	ticks              atomic.Int64
	timeoutsDetected   atomic.Int64
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	WorkflowsCreated   int64
	WorkflowsCompleted int64
	EventsDispatched   int64
	Transitions        int64
	HandlerFailures    int64
	AutoScheduled      int64
	Ticks              int64
	TimeoutsDetected   int64
}

func (m *BasicMetrics) OnWorkflowCreated(ctx context.Context, inst *Instance) {
	m.workflowsCreated.Add(1)
}

func (m *BasicMetrics) OnEventDispatched(ctx context.Context, inst *Instance, event string, res *EventResult, err error, d time.Duration) {
	m.eventsDispatched.Add(1)
	if err != nil {
		m.handlerFailures.Add(1)
	}
}

func (m *BasicMetrics) OnTransition(ctx context.Context, inst *Instance, fromStep, toStep string) {
	m.transitions.Add(1)
}

func (m *BasicMetrics) OnWorkflowCompleted(ctx context.Context, inst *Instance) {
	m.workflowsCompleted.Add(1)
}

func (m *BasicMetrics) OnAutoScheduled(ctx context.Context, inst *Instance, step string, fireAt time.Time) {
	m.autoScheduled.Add(1)
}

func (m *BasicMetrics) OnTick(ctx context.Context, sum *TickSummary) {
	m.ticks.Add(1)
	m.timeoutsDetected.Add(int64(sum.TimeoutsDetected))
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	return BasicMetricsSnapshot{
		WorkflowsCreated:   m.workflowsCreated.Load(),
		WorkflowsCompleted: m.workflowsCompleted.Load(),
		EventsDispatched:   m.eventsDispatched.Load(),
		Transitions:        m.transitions.Load(),
		HandlerFailures:    m.handlerFailures.Load(),
		AutoScheduled:      m.autoScheduled.Load(),
		Ticks:              m.ticks.Load(),
		TimeoutsDetected:   m.timeoutsDetected.Load(),
	}
}
