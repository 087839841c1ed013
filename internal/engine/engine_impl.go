package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/stateline/internal/persistence"
	"github.com/petrijr/stateline/pkg/api"
)

// sweepBatchSize bounds how many elapsed timers one Tick examines.
const sweepBatchSize = 100

// maxCascadeDepth bounds synchronous auto-chaining within one HandleEvent
// call. Hitting it means two steps auto-trigger each other in a cycle.
const maxCascadeDepth = 25

// engineImpl is a single-writer, synchronous orchestrator over one Store.
type engineImpl struct {
	store    persistence.Store
	registry *api.Registry
	observer api.Observer

	defaultTimeout time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// Config describes how to construct an engineImpl.
// Only used inside this package; external callers use the helper functions.
type Config struct {
	Store    persistence.Store
	Registry *api.Registry
	Observer api.Observer

	// DefaultTimeout overrides api.DefaultTimeout when positive.
	DefaultTimeout time.Duration
}

// NewEngineWithConfig creates a new Engine using the given configuration.
func NewEngineWithConfig(cfg Config) api.Engine {
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	reg := cfg.Registry
	if reg == nil {
		reg = api.NewRegistryBuilder().Build()
	}
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = api.DefaultTimeout
	}
	return &engineImpl{
		store:          cfg.Store,
		registry:       reg,
		observer:       obs,
		defaultTimeout: timeout,
		now:            time.Now,
	}
}

// NewInMemoryEngine returns an Engine backed entirely by an in-memory store.
func NewInMemoryEngine(reg *api.Registry) api.Engine {
	return NewInMemoryEngineWithObserver(reg, nil)
}

// NewInMemoryEngineWithObserver returns an in-memory Engine with the given
// Observer.
func NewInMemoryEngineWithObserver(reg *api.Registry, obs api.Observer) api.Engine {
	return NewEngineWithConfig(Config{
		Store:    persistence.NewInMemoryStore(),
		Registry: reg,
		Observer: obs,
	})
}

// NewSQLiteEngine returns an Engine that persists workflow instances in a
// SQLite database.
func NewSQLiteEngine(db *sql.DB, reg *api.Registry) (api.Engine, error) {
	return NewSQLiteEngineWithObserver(db, reg, nil)
}

// NewSQLiteEngineWithObserver returns a SQLite-backed Engine with the given
// Observer.
func NewSQLiteEngineWithObserver(db *sql.DB, reg *api.Registry, obs api.Observer) (api.Engine, error) {
	store, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	return NewEngineWithConfig(Config{
		Store:    store,
		Registry: reg,
		Observer: obs,
	}), nil
}

func (e *engineImpl) CreateWorkflow(ctx context.Context, workflowType string, wfContext map[string]any, opts api.CreateOptions) (*api.Instance, error) {
	if workflowType == "" {
		return nil, errors.New("workflow type is required")
	}

	step := opts.InitialStep
	if step == "" {
		step = api.DefaultInitialStep
	}

	timeout := opts.Timeout
	if timeout == 0 {
		if cfg, ok := e.registry.StepConfig(workflowType, step); ok && cfg.Timeout != 0 {
			timeout = cfg.Timeout
		} else {
			timeout = e.defaultTimeout
		}
	}

	now := e.now()
	deadline := now.Add(timeout)

	inst := &api.Instance{
		ID:             uuid.NewString(),
		Type:           workflowType,
		Step:           step,
		Status:         api.StatusActive,
		Context:        copyContext(wfContext),
		NextActionAt:   &deadline,
		NextActionType: api.ActionTimeout,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := e.store.Create(ctx, inst); err != nil {
		return nil, fmt.Errorf("create workflow %s: %w", workflowType, err)
	}

	e.observer.OnWorkflowCreated(ctx, inst)
	return inst, nil
}

func (e *engineImpl) HandleEvent(ctx context.Context, id, event string, payload map[string]any) (*api.EventResult, error) {
	return e.handleEvent(ctx, id, event, payload, 0)
}

func (e *engineImpl) handleEvent(ctx context.Context, id, event string, payload map[string]any, depth int) (*api.EventResult, error) {
	if depth > maxCascadeDepth {
		return nil, fmt.Errorf("instance %s event %s: %w", id, event, api.ErrCascadeLimit)
	}

	inst, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	// Retried and duplicate deliveries land here; a silent no-op is the
	// contract, not an error.
	if !inst.Active() {
		res := &api.EventResult{Outcome: api.OutcomeInactive}
		e.observer.OnEventDispatched(ctx, inst, event, res, nil, 0)
		return res, nil
	}

	handler, ok := e.registry.Handler(inst.Type, inst.Step, event)
	if !ok {
		// The normal result for events irrelevant to the current step.
		res := &api.EventResult{Outcome: api.OutcomeNoHandler}
		e.observer.OnEventDispatched(ctx, inst, event, res, nil, 0)
		return res, nil
	}

	start := e.now()
	hres, err := handler(ctx, e, inst, payload)
	if err != nil {
		// The transition is aborted with nothing persisted; side
		// effects inside the handler are its own idempotence problem.
		err = fmt.Errorf("handler %s/%s/%s: %w", inst.Type, inst.Step, event, err)
		e.observer.OnEventDispatched(ctx, inst, event, nil, err, e.now().Sub(start))
		return nil, err
	}

	res := &api.EventResult{Outcome: api.OutcomeApplied, Handled: true}
	if !hres.Transition() {
		e.observer.OnEventDispatched(ctx, inst, event, res, nil, e.now().Sub(start))
		return res, nil
	}

	var timeout *time.Duration
	if hres.Status == "" {
		if cfg, ok := e.registry.StepConfig(inst.Type, hres.NextStep); ok && cfg.Timeout != 0 {
			t := cfg.Timeout
			timeout = &t
		}
	}

	updated, err := e.store.UpdateStep(ctx, id, hres.NextStep, hres.Status, timeout)
	if err != nil {
		return nil, fmt.Errorf("persist transition %s -> %s: %w", inst.Step, hres.NextStep, err)
	}

	res.Transitioned = true
	res.NextStep = hres.NextStep
	res.NewStatus = hres.Status

	e.observer.OnEventDispatched(ctx, updated, event, res, nil, e.now().Sub(start))
	e.observer.OnTransition(ctx, updated, inst.Step, hres.NextStep)
	if updated.Status == api.StatusCompleted {
		e.observer.OnWorkflowCompleted(ctx, updated)
	}

	if err := e.chainAuto(ctx, updated, depth); err != nil {
		return res, err
	}
	return res, nil
}

// chainAuto evaluates the auto handler of the step an instance just landed
// on. A configured delay schedules a deferred trigger so the triggering
// transition becomes visible before the side effect fires; no delay means
// the auto handler runs synchronously and may cascade further.
func (e *engineImpl) chainAuto(ctx context.Context, inst *api.Instance, depth int) error {
	if inst.Status != api.StatusActive {
		return nil
	}
	if !e.registry.HasAutoHandler(inst.Type, inst.Step) {
		return nil
	}

	cfg, _ := e.registry.StepConfig(inst.Type, inst.Step)
	if cfg.AutoDelay > 0 {
		if err := e.store.SetTimer(ctx, inst.ID, cfg.AutoDelay, api.ActionAuto); err != nil {
			return fmt.Errorf("schedule auto trigger for %s: %w", inst.ID, err)
		}
		e.observer.OnAutoScheduled(ctx, inst, inst.Step, e.now().Add(cfg.AutoDelay))
		return nil
	}

	_, err := e.handleEvent(ctx, inst.ID, api.EventAuto, map[string]any{}, depth+1)
	return err
}

func (e *engineImpl) GetWorkflow(ctx context.Context, id string) (*api.Instance, error) {
	return e.store.Get(ctx, id)
}

func (e *engineImpl) FindByContext(ctx context.Context, key, value string) (*api.Instance, error) {
	return e.store.FindByContext(ctx, key, value)
}

func (e *engineImpl) UpdateContext(ctx context.Context, id string, partial map[string]any) (*api.Instance, error) {
	return e.store.UpdateContext(ctx, id, partial)
}

func (e *engineImpl) ListActive(ctx context.Context) ([]*api.Instance, error) {
	return e.store.List(ctx, persistence.ListFilter{Status: api.StatusActive})
}

func (e *engineImpl) ListAll(ctx context.Context) ([]*api.Instance, error) {
	return e.store.List(ctx, persistence.ListFilter{})
}

func (e *engineImpl) Tick(ctx context.Context) (*api.TickSummary, error) {
	due, err := e.store.DueTimers(ctx, e.now(), sweepBatchSize)
	if err != nil {
		return nil, fmt.Errorf("scan due timers: %w", err)
	}

	sum := &api.TickSummary{}
	for _, inst := range due {
		sum.Processed++
		switch inst.NextActionType {
		case api.ActionAuto:
			// The scan only clears the timer and reports the id;
			// dispatching the auto event is the caller's job, so a
			// failing side effect cannot corrupt the scan.
			if err := e.store.ClearTimer(ctx, inst.ID); err != nil {
				return nil, fmt.Errorf("clear auto timer for %s: %w", inst.ID, err)
			}
			sum.AutoTriggers = append(sum.AutoTriggers, inst.ID)
		case api.ActionTimeout:
			// SLA timeouts are deliberately not auto-resolved. The
			// instance stays observable as stuck until a real event
			// or a human moves it.
			sum.TimeoutsDetected++
		}
	}

	e.observer.OnTick(ctx, sum)
	return sum, nil
}

func (e *engineImpl) GetCounts(ctx context.Context) (*api.Counts, error) {
	counts, err := e.store.Counts(ctx, e.now())
	if err != nil {
		return nil, err
	}
	return &counts, nil
}

func copyContext(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
