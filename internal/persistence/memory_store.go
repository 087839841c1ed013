package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/petrijr/stateline/pkg/api"
)

// InMemoryStore is a simple, goroutine-safe Store backed by maps. It is
// intended for tests and local development; it is not crash-durable.
type InMemoryStore struct {
	mu        sync.RWMutex
	instances map[string]*api.Instance

	// seq disambiguates creation order when CreatedAt collides, which
	// happens routinely in fast tests.
	seq     map[string]int64
	nextSeq int64
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		instances: make(map[string]*api.Instance),
		seq:       make(map[string]int64),
	}
}

// Ensure InMemoryStore implements the interface.
var _ Store = (*InMemoryStore)(nil)

func (s *InMemoryStore) Create(ctx context.Context, inst *api.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSeq++
	s.seq[inst.ID] = s.nextSeq
	s.instances[inst.ID] = inst.Clone()
	return nil
}

func (s *InMemoryStore) Get(ctx context.Context, id string) (*api.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[id]
	if !ok {
		return nil, api.ErrInstanceNotFound
	}
	return inst.Clone(), nil
}

func (s *InMemoryStore) FindByContext(ctx context.Context, key, value string) (*api.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		best    *api.Instance
		bestSeq int64
	)
	for id, inst := range s.instances {
		if inst.Status != api.StatusActive {
			continue
		}
		v, ok := inst.Context[key]
		if !ok {
			continue
		}
		str, ok := v.(string)
		if !ok || str != value {
			continue
		}
		if best == nil || s.seq[id] > bestSeq {
			best = inst
			bestSeq = s.seq[id]
		}
	}
	if best == nil {
		return nil, api.ErrInstanceNotFound
	}
	return best.Clone(), nil
}

func (s *InMemoryStore) UpdateStep(ctx context.Context, id, step string, status api.Status, timeout *time.Duration) (*api.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[id]
	if !ok {
		return nil, api.ErrInstanceNotFound
	}

	now := time.Now()
	inst.Step = step
	inst.UpdatedAt = now

	switch {
	case status != "":
		inst.Status = status
		inst.NextActionAt = nil
		inst.NextActionType = api.ActionNone
	case timeout != nil:
		at := now.Add(*timeout)
		inst.NextActionAt = &at
		inst.NextActionType = api.ActionTimeout
	}
	// Otherwise any existing timer is deliberately left untouched.

	return inst.Clone(), nil
}

func (s *InMemoryStore) UpdateContext(ctx context.Context, id string, partial map[string]any) (*api.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[id]
	if !ok {
		return nil, api.ErrInstanceNotFound
	}

	if inst.Context == nil {
		inst.Context = make(map[string]any, len(partial))
	}
	for k, v := range partial {
		inst.Context[k] = v
	}
	inst.UpdatedAt = time.Now()

	return inst.Clone(), nil
}

func (s *InMemoryStore) SetTimer(ctx context.Context, id string, delay time.Duration, action api.ActionType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[id]
	if !ok {
		return api.ErrInstanceNotFound
	}

	now := time.Now()
	at := now.Add(delay)
	inst.NextActionAt = &at
	inst.NextActionType = action
	inst.UpdatedAt = now
	return nil
}

func (s *InMemoryStore) ClearTimer(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[id]
	if !ok {
		return api.ErrInstanceNotFound
	}

	inst.NextActionAt = nil
	inst.NextActionType = api.ActionNone
	inst.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) List(ctx context.Context, filter ListFilter) ([]*api.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*api.Instance
	for _, inst := range s.instances {
		if filter.Status != "" && inst.Status != filter.Status {
			continue
		}
		matched = append(matched, inst)
	}

	// Newest first.
	sort.Slice(matched, func(i, j int) bool {
		return s.seq[matched[i].ID] > s.seq[matched[j].ID]
	})

	limit := filter.limit()
	if len(matched) > limit {
		matched = matched[:limit]
	}

	result := make([]*api.Instance, len(matched))
	for i, inst := range matched {
		result[i] = inst.Clone()
	}
	return result, nil
}

func (s *InMemoryStore) DueTimers(ctx context.Context, now time.Time, limit int) ([]*api.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*api.Instance
	for _, inst := range s.instances {
		if inst.Status != api.StatusActive || inst.NextActionAt == nil {
			continue
		}
		if inst.NextActionAt.After(now) {
			continue
		}
		due = append(due, inst)
	}

	// Oldest deadline first.
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextActionAt.Before(*due[j].NextActionAt)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	result := make([]*api.Instance, len(due))
	for i, inst := range due {
		result[i] = inst.Clone()
	}
	return result, nil
}

func (s *InMemoryStore) Counts(ctx context.Context, now time.Time) (api.Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var counts api.Counts
	for _, inst := range s.instances {
		if inst.Status != api.StatusActive {
			continue
		}
		counts.Active++
		if inst.NextActionAt != nil && !inst.NextActionAt.After(now) {
			counts.Stuck++
		}
	}
	return counts, nil
}
