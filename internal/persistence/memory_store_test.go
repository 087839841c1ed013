package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/petrijr/stateline/pkg/api"
)

func newActiveInstance(id, workflowType, step string) *api.Instance {
	now := time.Now()
	return &api.Instance{
		ID:        id,
		Type:      workflowType,
		Step:      step,
		Status:    api.StatusActive,
		Context:   map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func withTimer(inst *api.Instance, at time.Time, action api.ActionType) *api.Instance {
	inst.NextActionAt = &at
	inst.NextActionType = action
	return inst
}

func ids(instances []*api.Instance) []string {
	out := make([]string, len(instances))
	for i, inst := range instances {
		out[i] = inst.ID
	}
	return out
}

func TestInMemoryStore_CreateGet(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	deadline := time.Now().Add(time.Hour)
	inst := withTimer(newActiveInstance("wf-1", "pre_screening", "in_progress"), deadline, api.ActionTimeout)
	inst.Context["conversation_id"] = "abc"

	if err := store.Create(ctx, inst); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.Get(ctx, "wf-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Type != "pre_screening" || got.Step != "in_progress" || got.Status != api.StatusActive {
		t.Fatalf("unexpected instance: %+v", got)
	}
	if got.Context["conversation_id"] != "abc" {
		t.Fatalf("expected context to round-trip, got %v", got.Context)
	}
	if got.NextActionAt == nil || got.NextActionType != api.ActionTimeout {
		t.Fatalf("expected a pending timeout timer, got %v/%q", got.NextActionAt, got.NextActionType)
	}

	if _, err := store.Get(ctx, "nope"); err != api.ErrInstanceNotFound {
		t.Fatalf("expected ErrInstanceNotFound, got %v", err)
	}
}

func TestInMemoryStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	if err := store.Create(ctx, newActiveInstance("wf-1", "pre_screening", "in_progress")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.Get(ctx, "wf-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	got.Context["mutated"] = true
	got.Step = "mutated"

	again, err := store.Get(ctx, "wf-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if _, leaked := again.Context["mutated"]; leaked || again.Step == "mutated" {
		t.Fatalf("caller mutation leaked into store: %+v", again)
	}
}

func TestInMemoryStore_FindByContext(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	older := newActiveInstance("wf-old", "pre_screening", "in_progress")
	older.Context["conversation_id"] = "abc"
	newer := newActiveInstance("wf-new", "pre_screening", "in_progress")
	newer.Context["conversation_id"] = "abc"
	completed := newActiveInstance("wf-done", "pre_screening", "complete")
	completed.Context["conversation_id"] = "abc"
	completed.Status = api.StatusCompleted

	for _, inst := range []*api.Instance{older, newer, completed} {
		if err := store.Create(ctx, inst); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	got, err := store.FindByContext(ctx, "conversation_id", "abc")
	if err != nil {
		t.Fatalf("FindByContext failed: %v", err)
	}
	if got.ID != "wf-new" {
		t.Fatalf("expected most recently created active match wf-new, got %s", got.ID)
	}

	if _, err := store.FindByContext(ctx, "conversation_id", "missing"); err != api.ErrInstanceNotFound {
		t.Fatalf("expected ErrInstanceNotFound for no match, got %v", err)
	}
}

func TestInMemoryStore_UpdateStepTerminalClearsTimer(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	inst := withTimer(newActiveInstance("wf-1", "pre_screening", "in_progress"), time.Now().Add(time.Hour), api.ActionTimeout)
	if err := store.Create(ctx, inst); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.UpdateStep(ctx, "wf-1", "complete", api.StatusCompleted, nil)
	if err != nil {
		t.Fatalf("UpdateStep failed: %v", err)
	}
	if got.Status != api.StatusCompleted || got.Step != "complete" {
		t.Fatalf("unexpected instance after terminal transition: %+v", got)
	}
	if got.NextActionAt != nil || got.NextActionType != api.ActionNone {
		t.Fatalf("terminal transition must clear timer fields, got %v/%q", got.NextActionAt, got.NextActionType)
	}
}

func TestInMemoryStore_UpdateStepFreshTimer(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	if err := store.Create(ctx, newActiveInstance("wf-1", "pre_screening", "in_progress")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	timeout := 90 * time.Minute
	got, err := store.UpdateStep(ctx, "wf-1", "processed", "", &timeout)
	if err != nil {
		t.Fatalf("UpdateStep failed: %v", err)
	}
	if got.Status != api.StatusActive {
		t.Fatalf("expected instance to stay active, got %q", got.Status)
	}
	if got.NextActionAt == nil || got.NextActionType != api.ActionTimeout {
		t.Fatalf("expected a fresh timeout timer, got %v/%q", got.NextActionAt, got.NextActionType)
	}
	remaining := time.Until(*got.NextActionAt)
	if remaining < 89*time.Minute || remaining > 91*time.Minute {
		t.Fatalf("expected deadline ~90m out, got %v", remaining)
	}
}

func TestInMemoryStore_UpdateStepLeavesTimerUntouched(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	deadline := time.Now().Add(time.Hour)
	inst := withTimer(newActiveInstance("wf-1", "pre_screening", "in_progress"), deadline, api.ActionTimeout)
	if err := store.Create(ctx, inst); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.UpdateStep(ctx, "wf-1", "reviewing", "", nil)
	if err != nil {
		t.Fatalf("UpdateStep failed: %v", err)
	}
	if got.Step != "reviewing" {
		t.Fatalf("expected step change, got %q", got.Step)
	}
	if got.NextActionAt == nil || !got.NextActionAt.Equal(deadline) {
		t.Fatalf("step change alone must not touch the running timer, got %v", got.NextActionAt)
	}

	if _, err := store.UpdateStep(ctx, "nope", "x", "", nil); err != api.ErrInstanceNotFound {
		t.Fatalf("expected ErrInstanceNotFound, got %v", err)
	}
}

func TestInMemoryStore_UpdateContextMerges(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	inst := newActiveInstance("wf-1", "pre_screening", "in_progress")
	inst.Context["a"] = float64(1)
	if err := store.Create(ctx, inst); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.UpdateContext(ctx, "wf-1", map[string]any{"b": float64(2)})
	if err != nil {
		t.Fatalf("UpdateContext failed: %v", err)
	}
	if got.Context["a"] != float64(1) || got.Context["b"] != float64(2) {
		t.Fatalf("expected merged context {a:1,b:2}, got %v", got.Context)
	}

	// Overlapping keys overwrite; nothing is deleted.
	got, err = store.UpdateContext(ctx, "wf-1", map[string]any{"a": float64(9)})
	if err != nil {
		t.Fatalf("UpdateContext failed: %v", err)
	}
	if got.Context["a"] != float64(9) || got.Context["b"] != float64(2) {
		t.Fatalf("expected context {a:9,b:2}, got %v", got.Context)
	}
}

func TestInMemoryStore_SetAndClearTimer(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	if err := store.Create(ctx, newActiveInstance("wf-1", "pre_screening", "processed")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := store.SetTimer(ctx, "wf-1", 10*time.Minute, api.ActionAuto); err != nil {
		t.Fatalf("SetTimer failed: %v", err)
	}
	got, err := store.Get(ctx, "wf-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.NextActionType != api.ActionAuto || got.NextActionAt == nil {
		t.Fatalf("expected pending auto timer, got %v/%q", got.NextActionAt, got.NextActionType)
	}

	if err := store.ClearTimer(ctx, "wf-1"); err != nil {
		t.Fatalf("ClearTimer failed: %v", err)
	}
	got, err = store.Get(ctx, "wf-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.NextActionAt != nil || got.NextActionType != api.ActionNone {
		t.Fatalf("expected cleared timer, got %v/%q", got.NextActionAt, got.NextActionType)
	}
}

func TestInMemoryStore_ListFiltersAndCaps(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	a := newActiveInstance("wf-a", "pre_screening", "in_progress")
	b := newActiveInstance("wf-b", "pre_screening", "complete")
	b.Status = api.StatusCompleted
	c := newActiveInstance("wf-c", "pre_screening", "in_progress")

	for _, inst := range []*api.Instance{a, b, c} {
		if err := store.Create(ctx, inst); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	active, err := store.List(ctx, ListFilter{Status: api.StatusActive})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(active) != 2 || active[0].ID != "wf-c" || active[1].ID != "wf-a" {
		t.Fatalf("expected [wf-c wf-a] newest first, got %v", ids(active))
	}

	capped, err := store.List(ctx, ListFilter{Limit: 2})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(capped) != 2 {
		t.Fatalf("expected limit 2 applied, got %d", len(capped))
	}
}

func TestInMemoryStore_DueTimersOldestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Now()

	late := withTimer(newActiveInstance("wf-late", "pre_screening", "in_progress"), now.Add(-time.Minute), api.ActionTimeout)
	later := withTimer(newActiveInstance("wf-later", "pre_screening", "processed"), now.Add(-time.Hour), api.ActionAuto)
	future := withTimer(newActiveInstance("wf-future", "pre_screening", "in_progress"), now.Add(time.Hour), api.ActionTimeout)
	done := withTimer(newActiveInstance("wf-done", "pre_screening", "complete"), now.Add(-time.Hour), api.ActionTimeout)
	done.Status = api.StatusCompleted

	for _, inst := range []*api.Instance{late, later, future, done} {
		if err := store.Create(ctx, inst); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	due, err := store.DueTimers(ctx, now, 100)
	if err != nil {
		t.Fatalf("DueTimers failed: %v", err)
	}
	if len(due) != 2 || due[0].ID != "wf-later" || due[1].ID != "wf-late" {
		t.Fatalf("expected [wf-later wf-late] oldest deadline first, got %v", ids(due))
	}
}

func TestInMemoryStore_Counts(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Now()

	stuck := withTimer(newActiveInstance("wf-stuck", "pre_screening", "in_progress"), now.Add(-time.Minute), api.ActionTimeout)
	healthy := withTimer(newActiveInstance("wf-ok", "pre_screening", "in_progress"), now.Add(time.Hour), api.ActionTimeout)
	done := newActiveInstance("wf-done", "pre_screening", "complete")
	done.Status = api.StatusCompleted

	for _, inst := range []*api.Instance{stuck, healthy, done} {
		if err := store.Create(ctx, inst); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	counts, err := store.Counts(ctx, now)
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}
	if counts.Active != 2 || counts.Stuck != 1 {
		t.Fatalf("expected active=2 stuck=1, got %+v", counts)
	}
}
