package memstore

import (
	"sync"

	"github.com/klipach/contractmatch/store"
)

type live struct {
	store *Store
	query store.Query
}

// subscription delivers from whichever goroutine wrote last. A write that
// lands while a callback is running (possibly issued by that callback)
// marks the subscription dirty and the running deliverer re-runs the query
// once the callback returns.
type subscription struct {
	store      *Store
	query      store.Query
	onSnapshot func([]store.Document)
	onError    func(error)

	mu      sync.Mutex
	idle    *sync.Cond
	closed  bool
	running bool
	dirty   bool
}

func (l *live) Subscribe(onSnapshot func([]store.Document), onError func(error)) store.Unsubscribe {
	sub := &subscription{
		store:      l.store,
		query:      l.query,
		onSnapshot: onSnapshot,
		onError:    onError,
	}
	sub.idle = sync.NewCond(&sub.mu)

	l.store.subMu.Lock()
	l.store.subs[sub] = struct{}{}
	l.store.subMu.Unlock()

	sub.deliver()

	return func() {
		sub.close()
		l.store.remove(sub)
	}
}

// Subscriptions returns the number of open subscriptions on collection.
func (s *Store) Subscriptions(collection string) int {
	return len(s.subscribers(collection))
}

func (sub *subscription) deliver() {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	if sub.running {
		sub.dirty = true
		sub.mu.Unlock()
		return
	}
	sub.running = true
	for {
		sub.dirty = false
		sub.mu.Unlock()
		sub.onSnapshot(sub.store.run(sub.query))
		sub.mu.Lock()
		if !sub.dirty || sub.closed {
			break
		}
	}
	sub.running = false
	sub.idle.Broadcast()
	sub.mu.Unlock()
}

// close waits for a running callback, so nothing is delivered once it
// returns. It must not be called from the subscription's own callback.
func (sub *subscription) close() bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	wasOpen := !sub.closed
	sub.closed = true
	for sub.running {
		sub.idle.Wait()
	}
	return wasOpen
}

func (sub *subscription) fail(err error) {
	if !sub.close() {
		return
	}
	sub.store.remove(sub)
	if sub.onError != nil {
		sub.onError(err)
	}
}

func (s *Store) notify(collection string) {
	for _, sub := range s.subscribers(collection) {
		sub.deliver()
	}
}

func (s *Store) subscribers(collection string) []*subscription {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	var subs []*subscription
	for sub := range s.subs {
		if sub.query.Collection == collection {
			subs = append(subs, sub)
		}
	}
	return subs
}

func (s *Store) remove(sub *subscription) {
	s.subMu.Lock()
	delete(s.subs, sub)
	s.subMu.Unlock()
}
