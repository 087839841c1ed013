package api

import "fmt"

type handlerKey struct {
	workflowType string
	step         string
	event        string
}

type stepKey struct {
	workflowType string
	step         string
}

// RegistryBuilder collects handler registrations and step configs at
// startup. Registration mistakes (blank names, duplicate triples) fail
// immediately instead of silently degrading to "no handler" at runtime.
//
// Build the registry once, freeze it with Build, and hand the result to the
// engine constructor. The builder is not safe for concurrent use; it is
// meant to be populated from the composition root before the engine exists.
type RegistryBuilder struct {
	handlers map[handlerKey]HandlerFunc
	configs  map[stepKey]StepConfig
}

// NewRegistryBuilder returns an empty builder.
func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{
		handlers: make(map[handlerKey]HandlerFunc),
		configs:  make(map[stepKey]StepConfig),
	}
}

// Register binds fn to the (workflowType, step, event) triple. Exactly one
// handler may exist per triple, so dispatch stays deterministic.
func (b *RegistryBuilder) Register(workflowType, step, event string, fn HandlerFunc) error {
	if workflowType == "" || step == "" || event == "" {
		return fmt.Errorf("register %q/%q/%q: workflow type, step and event must be non-empty", workflowType, step, event)
	}
	if fn == nil {
		return fmt.Errorf("register %s/%s/%s: handler is nil", workflowType, step, event)
	}
	k := handlerKey{workflowType, step, event}
	if _, dup := b.handlers[k]; dup {
		return fmt.Errorf("register %s/%s/%s: handler already registered", workflowType, step, event)
	}
	b.handlers[k] = fn
	return nil
}

// MustRegister is Register that panics on error, for static startup wiring.
// It returns the builder so registrations can be chained.
func (b *RegistryBuilder) MustRegister(workflowType, step, event string, fn HandlerFunc) *RegistryBuilder {
	if err := b.Register(workflowType, step, event, fn); err != nil {
		panic(err)
	}
	return b
}

// ConfigureStep sets the timer parameters for a (workflowType, step) pair.
// A step missing from the catalog simply gets no timer; it is never an
// error at dispatch time.
func (b *RegistryBuilder) ConfigureStep(workflowType, step string, cfg StepConfig) error {
	if workflowType == "" || step == "" {
		return fmt.Errorf("configure step %q/%q: workflow type and step must be non-empty", workflowType, step)
	}
	k := stepKey{workflowType, step}
	if _, dup := b.configs[k]; dup {
		return fmt.Errorf("configure step %s/%s: already configured", workflowType, step)
	}
	b.configs[k] = cfg
	return nil
}

// MustConfigureStep is ConfigureStep that panics on error and returns the
// builder for chaining.
func (b *RegistryBuilder) MustConfigureStep(workflowType, step string, cfg StepConfig) *RegistryBuilder {
	if err := b.ConfigureStep(workflowType, step, cfg); err != nil {
		panic(err)
	}
	return b
}

// Build freezes the collected registrations into an immutable Registry.
// The builder may keep accumulating entries for a later Build; the returned
// Registry never changes.
func (b *RegistryBuilder) Build() *Registry {
	handlers := make(map[handlerKey]HandlerFunc, len(b.handlers))
	for k, v := range b.handlers {
		handlers[k] = v
	}
	configs := make(map[stepKey]StepConfig, len(b.configs))
	for k, v := range b.configs {
		configs[k] = v
	}
	return &Registry{handlers: handlers, configs: configs}
}

// Registry is the frozen handler table and step-config catalog. It is
// read-only after Build and safe to share across goroutines.
type Registry struct {
	handlers map[handlerKey]HandlerFunc
	configs  map[stepKey]StepConfig
}

// Handler returns the handler for the triple, if one is registered.
func (r *Registry) Handler(workflowType, step, event string) (HandlerFunc, bool) {
	fn, ok := r.handlers[handlerKey{workflowType, step, event}]
	return fn, ok
}

// HasAutoHandler reports whether the step has a handler for EventAuto.
func (r *Registry) HasAutoHandler(workflowType, step string) bool {
	_, ok := r.handlers[handlerKey{workflowType, step, EventAuto}]
	return ok
}

// StepConfig returns the timer parameters for the pair. ok is false when
// the catalog has no entry, which callers treat as "no timer".
func (r *Registry) StepConfig(workflowType, step string) (StepConfig, bool) {
	cfg, ok := r.configs[stepKey{workflowType, step}]
	return cfg, ok
}
