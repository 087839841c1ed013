// Package stateline provides a lightweight, embeddable engine for tracking
// long-running, asynchronous business processes.
//
// Stateline is designed for backend services that supervise multi-day
// processes (a candidate screening, an approval chain, an onboarding) as
// durable, named workflow instances that advance through named steps in
// response to external events, and that must be flagged (or advanced) when
// nothing happens for too long. It runs fully in Go with an embedded SQLite
// backend and integrates cleanly into existing codebases.
//
// # Core Concepts
//
// The programming model is intentionally small:
//
//  1. Engine
//  2. Registry
//  3. HandlerFunc
//  4. Timers and the sweep
//  5. SweepRunner
//
// # Engine
//
// The Engine is the single entry point. A collaborator creates a workflow
// (CreateWorkflow), later feeds it events (HandleEvent); the engine looks up
// the handler registered for the instance's (type, step, event) triple, runs
// it, persists the returned transition together with a fresh SLA timer from
// the step catalog, and chains the new step's auto handler, immediately or
// after a configured delay.
//
// Engines can be backed by different storage:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//
// Instances are durable audit records; the engine updates them but never
// deletes them.
//
// # Registry
//
// All business logic lives in handlers registered at startup on a
// RegistryBuilder and frozen with Build before the engine exists. The engine
// ships with zero built-in handlers; domain modules register handlers and
// step timer configs, and are swappable without touching the engine.
//
// Dispatch outcomes are structured, never exceptions used for control flow:
// an inactive instance or an event with no handler at the current step is a
// silent, side-effect-free no-op, so retried webhook deliveries are safe.
// Only an unknown workflow id is a hard error.
//
// # HandlerFunc
//
// A handler receives the engine, the instance, and the event payload, does
// its domain I/O, and returns either "no transition" or the next step
// (optionally terminal). A handler error aborts the transition with nothing
// persisted. The engine applies no retry policy; handlers own their retries
// and their idempotence.
//
// # Timers and the sweep
//
// Timers are timestamps in storage, so pending deadlines survive restarts.
// An SLA timer marks the instance as stuck once elapsed; the engine never
// resolves it on its own. An auto timer defers a step's auto handler.
// Tick sweeps a bounded batch of elapsed timers: it clears and reports auto
// triggers for the caller to re-dispatch, and counts (but never mutates)
// elapsed SLAs.
//
// # SweepRunner
//
// SweepRunner bundles a cron schedule with the Tick-then-re-dispatch loop,
// playing the external scheduler role for single-process deployments. The
// engine assumes one writer process and at-least-once sweep delivery.
//
// For examples, see the /examples directory or the project README.
package stateline
