package stateline

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/petrijr/stateline/pkg/api"
)

// DefaultSweepSchedule runs the sweep once per minute, matching the
// granularity of SLA timers.
const DefaultSweepSchedule = "* * * * *"

// SweepRunner periodically sweeps elapsed timers and re-dispatches the auto
// triggers the sweep reports. It is the library-provided "external
// scheduler" collaborator: Tick itself never invokes handlers, so something
// has to, and SweepRunner is that something.
//
// Typical usage:
//
//	runner, err := stateline.NewSweepRunner(eng, stateline.SweepRunnerOptions{})
//	if err != nil { ... }
//	if err := runner.Start(); err != nil { ... }
//	defer runner.Stop()
//
// Deployments with their own scheduler (a cron daemon, a cloud scheduler
// hitting an endpoint) can skip Start entirely and call RunOnce per
// delivery; delivery is assumed at-least-once, and RunOnce is safe to
// re-run.
type SweepRunner struct {
	// Engine is the engine being swept.
	Engine Engine

	log  *slog.Logger
	cron *cron.Cron

	mu      sync.Mutex
	running bool
}

// SweepRunnerOptions configures a SweepRunner.
type SweepRunnerOptions struct {
	// Schedule is a standard five-field cron spec. Defaults to
	// DefaultSweepSchedule (every minute).
	Schedule string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// NewSweepRunner constructs a SweepRunner. Call Start to begin sweeping on
// the configured schedule, or RunOnce to drive it externally.
func NewSweepRunner(eng Engine, opts SweepRunnerOptions) (*SweepRunner, error) {
	schedule := opts.Schedule
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &SweepRunner{
		Engine: eng,
		log:    logger,
		cron:   cron.New(),
	}

	if _, err := r.cron.AddFunc(schedule, func() {
		if _, err := r.RunOnce(context.Background()); err != nil {
			r.log.Error("sweep_failed", slog.Any("error", err))
		}
	}); err != nil {
		return nil, err
	}

	return r, nil
}

// Start begins sweeping on the configured schedule. It returns an error if
// the runner is already started.
func (r *SweepRunner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("stateline: SweepRunner already started")
	}
	r.running = true
	r.cron.Start()
	return nil
}

// Stop halts the schedule and waits for any in-flight sweep to finish.
// It is safe to call on a runner that was never started.
func (r *SweepRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	<-r.cron.Stop().Done()
}

// RunOnce performs one sweep: Tick, then HandleEvent(id, EventAuto, nil)
// for every auto trigger the tick reported. A failing dispatch is logged
// and does not stop the remaining triggers; its workflow simply stays on
// its current step for a human or a later event to resolve.
func (r *SweepRunner) RunOnce(ctx context.Context) (*TickSummary, error) {
	sum, err := r.Engine.Tick(ctx)
	if err != nil {
		return nil, err
	}

	for _, id := range sum.AutoTriggers {
		if _, err := r.Engine.HandleEvent(ctx, id, api.EventAuto, nil); err != nil {
			r.log.Error("auto_dispatch_failed",
				slog.String("instance_id", id),
				slog.Any("error", err),
			)
		}
	}

	return sum, nil
}
