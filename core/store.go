package core

import (
	"sync"

	"github.com/defiweb/go-eth/types"
)

// Store holds the WatchedContext and notifies subscribers on every update.
//
// Updates are serialized and listeners are called synchronously, in the order
// they subscribed, so every listener sees changes in the order they happened.
// A listener must not call Set on the same store.
type Store struct {
	// setMu serializes updates together with their notifications.
	setMu sync.Mutex

	mu        sync.RWMutex
	state     WatchedContext
	listeners []*storeListener
}

type storeListener struct {
	notify func(cur WatchedContext)
	closed bool
}

func NewStore(initial WatchedContext) *Store {
	return &Store{state: initial}
}

// Get returns the current context.
func (s *Store) Get() WatchedContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Set replaces the context with the result of fn and notifies listeners.
func (s *Store) Set(fn func(prev WatchedContext) WatchedContext) {
	s.setMu.Lock()
	defer s.setMu.Unlock()

	s.mu.Lock()
	s.state = fn(s.state)
	cur := s.state
	// Copy listeners so they can (un)subscribe while being notified.
	listeners := make([]*storeListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, l := range listeners {
		s.mu.RLock()
		closed := l.closed
		s.mu.RUnlock()
		if closed {
			continue
		}
		l.notify(cur)
	}
}

func (s *Store) SetAccount(account *types.Address) {
	s.Set(func(prev WatchedContext) WatchedContext {
		prev.Account = account
		return prev
	})
}

func (s *Store) SetChain(chain *Chain) {
	s.Set(func(prev WatchedContext) WatchedContext {
		prev.Chain = chain
		return prev
	})
}

// listen registers notify. init observes the state the listener starts from,
// under the same lock that orders updates.
func (s *Store) listen(init func(cur WatchedContext), notify func(cur WatchedContext)) (unsubscribe func()) {
	l := &storeListener{notify: notify}

	s.mu.Lock()
	init(s.state)
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if l.closed {
			return
		}
		l.closed = true
		for i, other := range s.listeners {
			if other == l {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				break
			}
		}
	}
}

// Subscribe calls onChange whenever the value picked by selector differs from
// the previously observed one. The first observation is taken at subscribe
// time and is not reported. The returned function is safe to call many times.
func Subscribe[K comparable](
	s *Store,
	selector func(WatchedContext) K,
	onChange func(selected, prev K),
) (unsubscribe func()) {
	var prev K
	return s.listen(func(cur WatchedContext) {
		prev = selector(cur)
	}, func(cur WatchedContext) {
		selected := selector(cur)
		if selected == prev {
			return
		}
		old := prev
		prev = selected
		onChange(selected, old)
	})
}
