package persistence

import (
	"context"
	"time"

	"github.com/petrijr/stateline/pkg/api"
)

// DefaultListLimit is the hard cap applied to List results. Full
// enumeration is the caller's responsibility.
const DefaultListLimit = 100

// ListFilter selects instances from the store. A zero Status means "any";
// a zero or negative Limit means DefaultListLimit. Limits above
// DefaultListLimit are clamped.
type ListFilter struct {
	Status api.Status
	Limit  int
}

func (f ListFilter) limit() int {
	if f.Limit <= 0 || f.Limit > DefaultListLimit {
		return DefaultListLimit
	}
	return f.Limit
}

// Store is durable CRUD over the workflow instance table. It holds no
// policy: timer resolution, handler dispatch and auto-chaining all live in
// the engine.
//
// Absence is always the typed api.ErrInstanceNotFound, never an error used
// for control flow elsewhere.
type Store interface {
	// Create persists a new instance exactly as given. The caller is
	// responsible for id, timestamps and the optional initial timer.
	Create(ctx context.Context, inst *api.Instance) error

	// Get returns the instance by id.
	Get(ctx context.Context, id string) (*api.Instance, error)

	// FindByContext returns the most recently created active instance
	// whose context value under key equals value.
	FindByContext(ctx context.Context, key, value string) (*api.Instance, error)

	// UpdateStep changes the current step with one of three mutually
	// exclusive timer behaviors:
	//
	//   - status non-empty: terminal transition, both timer fields are
	//     cleared unconditionally;
	//   - status empty, timeout non-nil: a fresh SLA timer of now+timeout
	//     is set and the instance stays active;
	//   - neither: the step changes and any existing timer is left
	//     untouched. Callers that need the timer cleared must pass a
	//     terminal status explicitly.
	UpdateStep(ctx context.Context, id, step string, status api.Status, timeout *time.Duration) (*api.Instance, error)

	// UpdateContext merges partial into the stored context at the top
	// level. New and overlapping keys overwrite; nothing is deleted and
	// nothing is merged deeply.
	UpdateContext(ctx context.Context, id string, partial map[string]any) (*api.Instance, error)

	// SetTimer sets next_action_at to now+delay with the given action
	// type, independent of any step change.
	SetTimer(ctx context.Context, id string, delay time.Duration, action api.ActionType) error

	// ClearTimer clears both timer fields.
	ClearTimer(ctx context.Context, id string) error

	// List returns instances matching the filter, newest first, capped
	// at DefaultListLimit.
	List(ctx context.Context, filter ListFilter) ([]*api.Instance, error)

	// DueTimers returns up to limit active instances whose timer
	// deadline is at or before now, oldest deadline first.
	DueTimers(ctx context.Context, now time.Time, limit int) ([]*api.Instance, error)

	// Counts returns the number of active instances and, of those, how
	// many have an elapsed timer deadline.
	Counts(ctx context.Context, now time.Time) (api.Counts, error)
}
