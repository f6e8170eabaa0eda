package core

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"
)

type MutationStatus string

const (
	StatusIdle    MutationStatus = "idle"
	StatusLoading MutationStatus = "loading"
	StatusSuccess MutationStatus = "success"
	StatusError   MutationStatus = "error"
)

// MutationState is a snapshot of the most recent mutation attempt.
type MutationState[V, R any] struct {
	Status    MutationStatus
	Data      R
	Err       error
	Variables *V
}

func (s MutationState[V, R]) IsIdle() bool    { return s.Status == StatusIdle }
func (s MutationState[V, R]) IsLoading() bool { return s.Status == StatusLoading }
func (s MutationState[V, R]) IsSuccess() bool { return s.Status == StatusSuccess }
func (s MutationState[V, R]) IsError() bool   { return s.Status == StatusError }

type MutationFunc[V, R any] func(ctx context.Context, variables V) (R, error)

// MutationCallbacks are lifecycle hooks of a mutation. All of them are
// optional. OnSettled runs after OnSuccess or OnError.
type MutationCallbacks[V, R any] struct {
	OnMutate  func(variables V)
	OnSuccess func(data R, variables V)
	OnError   func(err error, variables V)
	OnSettled func(data R, err error, variables V)
}

// Mutation runs a side-effecting function and tracks the outcome of the latest
// call. Calls are never retried.
//
// Reset does not cancel a call in flight, so a call that finishes after Reset
// overwrites the idle state. The same holds for overlapping calls: whichever
// finishes last defines the state.
type Mutation[V, R any] struct {
	key       string
	fn        MutationFunc[V, R]
	callbacks MutationCallbacks[V, R]
	cache     *MutationCache

	mu        sync.RWMutex
	state     MutationState[V, R]
	listeners map[uint64]func(MutationState[V, R])
	nextID    uint64
}

type MutationOption[V, R any] func(m *Mutation[V, R])

// WithSharedCache records the mutation's bookkeeping in cache. Mutations
// sharing a cache and a key share their records.
func WithSharedCache[V, R any](cache *MutationCache) MutationOption[V, R] {
	return func(m *Mutation[V, R]) {
		m.cache = cache
	}
}

func NewMutation[V, R any](
	key string,
	fn MutationFunc[V, R],
	callbacks MutationCallbacks[V, R],
	opts ...MutationOption[V, R],
) *Mutation[V, R] {
	m := &Mutation[V, R]{
		key:       key,
		fn:        fn,
		callbacks: callbacks,
		state:     MutationState[V, R]{Status: StatusIdle},
		listeners: make(map[uint64]func(MutationState[V, R])),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cache == nil {
		m.cache = NewMutationCache()
	}
	return m
}

func (m *Mutation[V, R]) Key() string {
	return m.key
}

// State returns the current snapshot.
func (m *Mutation[V, R]) State() MutationState[V, R] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Mutate starts the call in the background. The outcome is only visible
// through the state and the callbacks.
func (m *Mutation[V, R]) Mutate(ctx context.Context, variables V) {
	go func() {
		_, _ = m.execute(ctx, variables)
	}()
}

// MutateAsync runs the call and returns its outcome.
func (m *Mutation[V, R]) MutateAsync(ctx context.Context, variables V) (R, error) {
	return m.execute(ctx, variables)
}

// Reset returns the state to idle. A call in flight is not cancelled.
func (m *Mutation[V, R]) Reset() {
	m.setState(MutationState[V, R]{Status: StatusIdle})
}

// Subscribe registers fn to be called with every new state.
func (m *Mutation[V, R]) Subscribe(fn func(MutationState[V, R])) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

func (m *Mutation[V, R]) setState(state MutationState[V, R]) {
	m.mu.Lock()
	m.state = state
	listeners := make([]func(MutationState[V, R]), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(state)
	}
}

func (m *Mutation[V, R]) execute(ctx context.Context, variables V) (R, error) {
	attempt := uuid.NewString()
	log := logger.
		WithField("key", m.key).
		WithField("attempt", attempt)

	m.cache.started(m.key)
	m.setState(MutationState[V, R]{Status: StatusLoading, Variables: &variables})
	if m.callbacks.OnMutate != nil {
		m.callbacks.OnMutate(variables)
	}
	log.Debugf("mutation started")

	data, err := m.fn(ctx, variables)
	if err != nil {
		log.Warnf("mutation failed: %v", err)
		m.cache.settled(m.key, StatusError)
		MutationCounter.WithLabelValues(keyKind(m.key), string(StatusError)).Inc()
		m.setState(MutationState[V, R]{Status: StatusError, Err: err, Variables: &variables})
		if m.callbacks.OnError != nil {
			m.callbacks.OnError(err, variables)
		}
		if m.callbacks.OnSettled != nil {
			var zero R
			m.callbacks.OnSettled(zero, err, variables)
		}
		var zero R
		return zero, err
	}

	log.Debugf("mutation succeeded")
	m.cache.settled(m.key, StatusSuccess)
	MutationCounter.WithLabelValues(keyKind(m.key), string(StatusSuccess)).Inc()
	m.setState(MutationState[V, R]{Status: StatusSuccess, Data: data, Variables: &variables})
	if m.callbacks.OnSuccess != nil {
		m.callbacks.OnSuccess(data, variables)
	}
	if m.callbacks.OnSettled != nil {
		m.callbacks.OnSettled(data, nil, variables)
	}
	return data, nil
}

// keyKind returns the entity part of a key of the form "entity:hash".
func keyKind(key string) string {
	kind, _, found := strings.Cut(key, ":")
	if !found {
		return "unknown"
	}
	return kind
}
