// Package api contains the core building blocks of the stateline workflow
// tracking engine: the instance model, the engine contract, handler and
// registry types, and observability hooks.
//
// Most users interact with the higher-level stateline package, which
// re-exports selected types and helpers from this package. The api package is
// intended for custom integrations or contributors extending the engine
// itself.
//
// # Instances
//
// An Instance is one tracked, long-running business process. It carries the
// workflow type, the name of its current step, a status that only ever moves
// from active to completed, an open key/value context document, and an
// optional pending timer (either an SLA deadline or a deferred auto-trigger).
// Instances are durable audit records: the engine updates them but never
// deletes them.
//
// # Handlers and the Registry
//
// All business logic lives in HandlerFunc values registered for
// (workflow type, step, event) triples. The engine ships with zero built-in
// handlers. Registrations are collected on a RegistryBuilder at startup and
// frozen with Build before the engine is constructed; a blank name or a
// duplicate triple fails registration immediately rather than degrading to a
// silent "no handler" at dispatch time.
//
// A handler returns either the zero HandlerResult (no transition) or the next
// step, optionally with a terminal status. A returned error aborts the
// transition with nothing persisted.
//
// # Timers
//
// StepConfig attaches timer parameters to a (workflow type, step) pair: an
// SLA Timeout after which an untouched instance counts as stuck, and an
// optional AutoDelay deferring the step's auto handler. Timers live in
// storage as timestamps, so pending deadlines survive process restarts; the
// periodic Tick sweep discovers the elapsed ones.
//
// # Observability
//
// The Observer interface reports engine lifecycle events. Ready-made
// implementations cover structured logging (LoggingObserver, on log/slog),
// in-memory counters (BasicMetrics), fan-out (CompositeObserver), and a
// default no-op.
//
// See the stateline package documentation and the examples directory for
// end-to-end usage.
package api
