//  Copyright (C) 2021-2023 Chronicle Labs, Inc.
//
//  This program is free software: you can redistribute it and/or modify
//  it under the terms of the GNU Affero General Public License as
//  published by the Free Software Foundation, either version 3 of the
//  License, or (at your option) any later version.
//
//  This program is distributed in the hope that it will be useful,
//  but WITHOUT ANY WARRANTY; without even the implied warranty of
//  MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
//  GNU Affero General Public License for more details.
//
//  You should have received a copy of the GNU Affero General Public License
//  along with this program.  If not, see <http://www.gnu.org/licenses/>.

package core

import (
	"context"
	"sync"

	"github.com/defiweb/go-eth/types"
	logger "github.com/sirupsen/logrus"
)

// FetchFunc recomputes a value after a watched change.
type FetchFunc[R any] func(ctx context.Context) (R, error)

// Callback receives the result of a recompute. A failed recompute is
// delivered as err and is never retried.
type Callback[R any] func(result R, err error)

type watchOptions struct {
	name       string
	latestOnly bool
}

type WatchOption func(o *watchOptions)

// WithLatestOnly drops results of recomputes that were superseded by a newer
// change before they finished. Without it results are delivered in the order
// the recomputes complete, which may differ from the order of the changes.
func WithLatestOnly() WatchOption {
	return func(o *watchOptions) {
		o.latestOnly = true
	}
}

// WithWatchName sets the name used in logs and metrics.
func WithWatchName(name string) WatchOption {
	return func(o *watchOptions) {
		o.name = name
	}
}

type watcher[R any] struct {
	opts     watchOptions
	callback Callback[R]

	mu         sync.Mutex
	closed     bool
	generation uint64

	// deliverMu serializes callback invocations.
	deliverMu sync.Mutex
}

// Watch starts a recompute with fetch every time the key picked by selector
// changes, and hands the result to callback.
//
// The returned unsubscribe function may be called any number of times. After
// it returns no new recompute starts and no callback is invoked, although a
// fetch already in flight keeps running until ctx is done. Cancelling ctx
// unsubscribes as well.
func Watch[K comparable, R any](
	ctx context.Context,
	store *Store,
	selector func(WatchedContext) K,
	fetch FetchFunc[R],
	callback Callback[R],
	opts ...WatchOption,
) (unsubscribe func()) {
	w := &watcher[R]{
		opts:     watchOptions{name: "custom"},
		callback: callback,
	}
	for _, opt := range opts {
		opt(&w.opts)
	}

	stop := Subscribe(store, selector, func(selected, prev K) {
		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return
		}
		w.generation++
		gen := w.generation
		w.mu.Unlock()

		logger.
			WithField("watch", w.opts.name).
			Debugf("watched context changed from %v to %v, recomputing", prev, selected)

		go w.recompute(ctx, gen, fetch)
	})
	ActiveSubscriptionsGauge.Inc()

	return unsubscribeOnDone(ctx, func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()

		stop()
		ActiveSubscriptionsGauge.Dec()
		logger.WithField("watch", w.opts.name).Debugf("unsubscribed")
	})
}

// unsubscribeOnDone makes stop idempotent and calls it once ctx is done.
func unsubscribeOnDone(ctx context.Context, stop func()) (unsubscribe func()) {
	var once sync.Once
	done := make(chan struct{})
	unsubscribe = func() {
		once.Do(func() {
			close(done)
			stop()
		})
	}
	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				unsubscribe()
			case <-done:
			}
		}()
	}
	return unsubscribe
}

func (w *watcher[R]) recompute(ctx context.Context, gen uint64, fetch FetchFunc[R]) {
	result, err := fetch(ctx)

	status := "success"
	if err != nil {
		status = "error"
		logger.
			WithField("watch", w.opts.name).
			Warnf("recompute failed: %v", err)
	}
	RecomputeCounter.WithLabelValues(w.opts.name, status).Inc()

	w.deliverMu.Lock()
	defer w.deliverMu.Unlock()

	w.mu.Lock()
	closed := w.closed
	stale := w.opts.latestOnly && gen != w.generation
	w.mu.Unlock()

	if closed {
		logger.WithField("watch", w.opts.name).Tracef("dropping result delivered after unsubscribe")
		return
	}
	if stale {
		logger.WithField("watch", w.opts.name).Tracef("dropping result of superseded recompute %d", gen)
		return
	}
	w.callback(result, err)
}

// accountChainKey is the comparable form of the (account, chain) tuple.
type accountChainKey struct {
	connected bool
	account   types.Address
	chainID   uint64
}

func selectAccountChain(c WatchedContext) accountChainKey {
	var key accountChainKey
	if c.Account != nil {
		key.connected = true
		key.account = *c.Account
	}
	if c.Chain != nil {
		key.chainID = c.Chain.ID
	}
	return key
}

// WatchBalance fetches the balance described by args every time the active
// account or chain changes.
func WatchBalance(
	ctx context.Context,
	client *Client,
	args FetchBalanceArgs,
	callback Callback[*FetchBalanceResult],
	opts ...WatchOption,
) (unsubscribe func()) {
	fetch := func(ctx context.Context) (*FetchBalanceResult, error) {
		return FetchBalance(ctx, client, args)
	}
	opts = append([]WatchOption{WithWatchName("balance")}, opts...)
	return Watch(ctx, client.Store(), selectAccountChain, fetch, callback, opts...)
}

// WatchAccount reports the active account whenever it changes. A nil account
// means the client disconnected.
func WatchAccount(ctx context.Context, store *Store, callback func(account *types.Address)) (unsubscribe func()) {
	type accountKey struct {
		connected bool
		account   types.Address
	}
	selector := func(c WatchedContext) accountKey {
		if c.Account == nil {
			return accountKey{}
		}
		return accountKey{connected: true, account: *c.Account}
	}
	return watchDirect(ctx, store, selector, func(key accountKey) {
		if !key.connected {
			callback(nil)
			return
		}
		account := key.account
		callback(&account)
	})
}

// WatchNetwork reports the active chain whenever it changes.
func WatchNetwork(ctx context.Context, store *Store, callback func(chain *Chain)) (unsubscribe func()) {
	type chainKey struct {
		connected bool
		chain     Chain
	}
	selector := func(c WatchedContext) chainKey {
		if c.Chain == nil {
			return chainKey{}
		}
		return chainKey{connected: true, chain: *c.Chain}
	}
	return watchDirect(ctx, store, selector, func(key chainKey) {
		if !key.connected {
			callback(nil)
			return
		}
		chain := key.chain
		callback(&chain)
	})
}

// watchDirect delivers selector changes synchronously, without a recompute.
func watchDirect[K comparable](
	ctx context.Context,
	store *Store,
	selector func(WatchedContext) K,
	callback func(K),
) (unsubscribe func()) {
	stop := Subscribe(store, selector, func(selected, _ K) {
		callback(selected)
	})
	return unsubscribeOnDone(ctx, stop)
}
