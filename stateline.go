package stateline

import (
	"context"
	"database/sql"

	"github.com/petrijr/stateline/internal/engine"
	"github.com/petrijr/stateline/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	Instance             = api.Instance
	Status               = api.Status
	ActionType           = api.ActionType
	StepConfig           = api.StepConfig
	CreateOptions        = api.CreateOptions
	Outcome              = api.Outcome
	EventResult          = api.EventResult
	HandlerFunc          = api.HandlerFunc
	HandlerResult        = api.HandlerResult
	TickSummary          = api.TickSummary
	Counts               = api.Counts
	Registry             = api.Registry
	RegistryBuilder      = api.RegistryBuilder
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
)

// Re-export common helpers.

var (
	NewRegistryBuilder   = api.NewRegistryBuilder
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
)

// Re-export the error taxonomy.

var (
	ErrInstanceNotFound = api.ErrInstanceNotFound
	ErrCascadeLimit     = api.ErrCascadeLimit
)

// Re-export status, action and outcome values for convenience.

const (
	StatusActive    = api.StatusActive
	StatusCompleted = api.StatusCompleted

	ActionTimeout = api.ActionTimeout
	ActionAuto    = api.ActionAuto

	OutcomeApplied   = api.OutcomeApplied
	OutcomeNoHandler = api.OutcomeNoHandler
	OutcomeInactive  = api.OutcomeInactive

	EventAuto          = api.EventAuto
	DefaultInitialStep = api.DefaultInitialStep
	DefaultTimeout     = api.DefaultTimeout
)

// Engine constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.

// NewInMemoryEngine returns an Engine backed by an in-memory store.
// It is not crash-durable; use it for tests and local development.
func NewInMemoryEngine(reg *Registry) Engine {
	return engine.NewInMemoryEngine(reg)
}

// NewInMemoryEngineWithObserver returns an in-memory Engine with the given Observer.
func NewInMemoryEngineWithObserver(reg *Registry, obs Observer) Engine {
	return engine.NewInMemoryEngineWithObserver(reg, obs)
}

// NewSQLiteEngine returns an Engine that persists workflow instances
// in a SQLite database.
func NewSQLiteEngine(db *sql.DB, reg *Registry) (Engine, error) {
	return engine.NewSQLiteEngine(db, reg)
}

// NewSQLiteEngineWithObserver returns a SQLite-backed Engine with the given Observer.
func NewSQLiteEngineWithObserver(db *sql.DB, reg *Registry, obs Observer) (Engine, error) {
	return engine.NewSQLiteEngineWithObserver(db, reg, obs)
}

// Convenience helpers that just forward to the underlying Engine.

// CreateWorkflow creates a new workflow instance.
func CreateWorkflow(ctx context.Context, eng Engine, workflowType string, wfContext map[string]any, opts CreateOptions) (*Instance, error) {
	return eng.CreateWorkflow(ctx, workflowType, wfContext, opts)
}

// HandleEvent dispatches an event to a workflow instance.
func HandleEvent(ctx context.Context, eng Engine, id, event string, payload map[string]any) (*EventResult, error) {
	return eng.HandleEvent(ctx, id, event, payload)
}

// GetWorkflow fetches an instance by ID.
func GetWorkflow(ctx context.Context, eng Engine, id string) (*Instance, error) {
	return eng.GetWorkflow(ctx, id)
}

// Tick runs one sweep of elapsed timers.
//
// Note that Tick only reports elapsed auto triggers; re-dispatching them is
// the caller's job. SweepRunner does both:
//
//	runner, _ := stateline.NewSweepRunner(eng, stateline.SweepRunnerOptions{})
//	_ = runner.Start()
func Tick(ctx context.Context, eng Engine) (*TickSummary, error) {
	return eng.Tick(ctx)
}
