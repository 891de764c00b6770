/*
 * Copyright 2024 Plume Design Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

// Package notify implements the observer/notification bus shared by the
// station-assoc tracker and the capability store's MBO observers
// (spec §4.I); the RRM beacon-report cache has no observers. Callbacks are invoked synchronously, in registration
// order, from whichever goroutine calls Publish — which in this engine
// is always the single dispatcher loop. Re-entrant Register/Unregister
// from inside a callback is supported.
package notify

import "sync"

// Handle identifies a registered observer so it can later be unregistered.
type Handle uint64

// Bus is a generic, filtered pub/sub channel for events of type E. The
// zero value is not usable; construct with New.
type Bus[E any] struct {
	mu       sync.Mutex
	nextID   Handle
	watchers map[Handle]*watcher[E]
	order    []Handle
}

type watcher[E any] struct {
	filter   func(E) bool
	callback func(E)
}

// New constructs an empty Bus.
func New[E any]() *Bus[E] {
	return &Bus[E]{watchers: make(map[Handle]*watcher[E])}
}

// Register adds an observer. filter may be nil, in which case every
// published event is delivered. The returned Handle is used with
// Unregister. Registration does not by itself invoke callback; callers
// that need the "replay current state" semantics from spec §4.I do so
// explicitly after Register returns, since only the owning component
// knows what the current state is.
func (b *Bus[E]) Register(filter func(E) bool, callback func(E)) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.watchers[id] = &watcher[E]{filter: filter, callback: callback}
	b.order = append(b.order, id)
	return id
}

// Unregister removes an observer. After it returns, that observer is
// guaranteed to receive no further callbacks, even if Unregister is
// called from within a callback triggered by the same Publish.
func (b *Bus[E]) Unregister(h Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.watchers, h)
	for i, id := range b.order {
		if id == h {
			b.order = append(b.order[:i:i], b.order[i+1:]...)
			break
		}
	}
}

// Publish delivers ev, in registration order, to every currently
// registered observer whose filter matches (or has no filter). It
// snapshots the observer list before delivery so a callback that
// registers or unregisters another observer can't corrupt iteration or
// see half-published state.
func (b *Bus[E]) Publish(ev E) {
	b.mu.Lock()
	order := make([]Handle, len(b.order))
	copy(order, b.order)
	watchers := make(map[Handle]*watcher[E], len(b.watchers))
	for id, w := range b.watchers {
		watchers[id] = w
	}
	b.mu.Unlock()

	for _, id := range order {
		w, ok := watchers[id]
		if !ok {
			continue
		}
		// Skip observers unregistered by an earlier callback in this
		// same Publish call.
		b.mu.Lock()
		_, stillRegistered := b.watchers[id]
		b.mu.Unlock()
		if !stillRegistered {
			continue
		}
		if w.filter == nil || w.filter(ev) {
			w.callback(ev)
		}
	}
}

// Len reports the number of currently registered observers.
func (b *Bus[E]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.watchers)
}
