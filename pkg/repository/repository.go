// Package repository defines the abstract persistence operations the core
// consumes (spec §4.D) plus an in-memory implementation that is
// snapshot-isolated for a single FindAll. It is grounded structurally on
// the teacher's ollama-distributed/pkg/database.Manager (context-scoped
// CRUD over a single connection), generalized to a generic repository
// since the core needs the same shape for tasks, agents, and pools.
package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/hivemesh/swarmcore/internal/errs"
)

// Filter is an opaque predicate evaluated against a stored entity.
type Filter[T any] func(T) bool

// Repository is the abstract persistence surface of spec §4.D.
type Repository[T any] interface {
	Save(ctx context.Context, entity T) error
	FindByID(ctx context.Context, id string) (T, bool, error)
	FindAll(ctx context.Context, filter Filter[T]) ([]T, error)
	Delete(ctx context.Context, id string) (bool, error)
	Exists(ctx context.Context, id string) (bool, error)
}

// Identifiable lets the in-memory repository key entities generically.
type Identifiable interface {
	EntityID() string
}

// InMemory is a Repository backed by a guarded map. FindAll takes a
// point-in-time copy of the entity slice under a single read lock, so
// concurrent Save calls never produce a torn read within one FindAll.
type InMemory[T Identifiable] struct {
	mu      sync.RWMutex
	entries map[string]T
}

// NewInMemory creates an empty in-memory repository.
func NewInMemory[T Identifiable]() *InMemory[T] {
	return &InMemory[T]{entries: make(map[string]T)}
}

// Save upserts entity by its EntityID.
func (r *InMemory[T]) Save(_ context.Context, entity T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[entity.EntityID()] = entity
	return nil
}

// FindByID returns the entity for id, if present.
func (r *InMemory[T]) FindByID(_ context.Context, id string) (T, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.entries[id]
	return v, ok, nil
}

// FindAll returns every entity matching filter (nil matches all) as a
// snapshot copy.
func (r *InMemory[T]) FindAll(_ context.Context, filter Filter[T]) ([]T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, 0, len(r.entries))
	for _, v := range r.entries {
		if filter == nil || filter(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

// Delete removes id, reporting whether it was present.
func (r *InMemory[T]) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return false, nil
	}
	delete(r.entries, id)
	return true, nil
}

// Exists reports whether id is present.
func (r *InMemory[T]) Exists(_ context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok, nil
}

// MustFindByID is a convenience wrapper returning ErrNotFound.
func MustFindByID[T Identifiable](ctx context.Context, repo Repository[T], id string) (T, error) {
	v, ok, err := repo.FindByID(ctx, id)
	if err != nil {
		var zero T
		return zero, err
	}
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s", errs.ErrNotFound, id)
	}
	return v, nil
}
