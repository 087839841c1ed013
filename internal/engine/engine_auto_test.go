package engine

import (
	"context"
	"testing"
	"time"

	"github.com/petrijr/stateline/pkg/api"
)

func TestAutoChain_ZeroDelayCascadesSynchronously(t *testing.T) {
	ctx := context.Background()
	eng := NewInMemoryEngine(screeningRegistry())

	inst, err := eng.CreateWorkflow(ctx, "pre_screening", nil, api.CreateOptions{})
	if err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}

	res, err := eng.HandleEvent(ctx, inst.ID, "screening_completed", map[string]any{"qualified": true})
	if err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	// The caller's result reflects its own transition; the chained auto
	// transition is visible in storage by the time the call returns.
	if !res.Transitioned || res.NextStep != "processed" {
		t.Fatalf("unexpected result: %+v", res)
	}

	after, err := eng.GetWorkflow(ctx, inst.ID)
	if err != nil {
		t.Fatalf("GetWorkflow failed: %v", err)
	}
	if after.Status != api.StatusCompleted || after.Step != "complete" {
		t.Fatalf("expected cascade to finish within one call, got %+v", after)
	}
	if after.NextActionAt != nil || after.NextActionType != api.ActionNone {
		t.Fatalf("completed instance must carry no timer, got %+v", after)
	}
}

func TestAutoChain_MultiHopCascade(t *testing.T) {
	ctx := context.Background()
	reg := api.NewRegistryBuilder().
		MustRegister("pipeline", "in_progress", "start", transitionTo("stage_one", "")).
		MustRegister("pipeline", "stage_one", api.EventAuto, transitionTo("stage_two", "")).
		MustRegister("pipeline", "stage_two", api.EventAuto, transitionTo("stage_three", "")).
		MustRegister("pipeline", "stage_three", api.EventAuto, transitionTo("done", api.StatusCompleted)).
		Build()
	eng := NewInMemoryEngine(reg)

	inst, err := eng.CreateWorkflow(ctx, "pipeline", nil, api.CreateOptions{})
	if err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}

	if _, err := eng.HandleEvent(ctx, inst.ID, "start", nil); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}

	after, err := eng.GetWorkflow(ctx, inst.ID)
	if err != nil {
		t.Fatalf("GetWorkflow failed: %v", err)
	}
	if after.Status != api.StatusCompleted || after.Step != "done" {
		t.Fatalf("expected three auto hops in one call, got %+v", after)
	}
}

func TestAutoChain_ConfiguredDelayDefersTrigger(t *testing.T) {
	ctx := context.Background()
	reg := api.NewRegistryBuilder().
		MustRegister("pre_screening", "in_progress", "screening_completed", transitionTo("processed", "")).
		MustRegister("pre_screening", "processed", api.EventAuto, transitionTo("complete", api.StatusCompleted)).
		MustConfigureStep("pre_screening", "processed", api.StepConfig{AutoDelay: 5 * time.Minute}).
		Build()
	eng := NewInMemoryEngine(reg)

	inst, err := eng.CreateWorkflow(ctx, "pre_screening", nil, api.CreateOptions{})
	if err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}

	if _, err := eng.HandleEvent(ctx, inst.ID, "screening_completed", nil); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}

	// The triggering transition is visible; the auto side effect is not.
	after, err := eng.GetWorkflow(ctx, inst.ID)
	if err != nil {
		t.Fatalf("GetWorkflow failed: %v", err)
	}
	if after.Step != "processed" || after.Status != api.StatusActive {
		t.Fatalf("expected deferred auto to leave the step visible, got %+v", after)
	}
	if after.NextActionType != api.ActionAuto || after.NextActionAt == nil {
		t.Fatalf("expected pending auto timer, got %v/%q", after.NextActionAt, after.NextActionType)
	}
	remaining := time.Until(*after.NextActionAt)
	if remaining < 4*time.Minute || remaining > 6*time.Minute {
		t.Fatalf("expected auto trigger ~5m out, got %v", remaining)
	}

	// The auto handler's own transition only lands once the caller
	// re-dispatches after the sweep reports the elapsed trigger.
	res, err := eng.HandleEvent(ctx, inst.ID, api.EventAuto, nil)
	if err != nil {
		t.Fatalf("HandleEvent(auto) failed: %v", err)
	}
	if !res.Transitioned || res.NewStatus != api.StatusCompleted {
		t.Fatalf("unexpected auto result: %+v", res)
	}
}
