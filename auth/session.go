package auth

import (
	"slices"
	"sync"
)

// Session tracks the signed-in identity of one client session and tells
// listeners about every sign-in and sign-out transition.
type Session struct {
	mu        sync.Mutex
	current   *Principal
	nextID    int
	listeners map[int]func(*Principal)
	order     []int
}

func NewSession() *Session {
	return &Session{listeners: make(map[int]func(*Principal))}
}

// OnIdentityChange registers fn and immediately calls it with the current
// identity (nil when signed out). The returned func unregisters fn.
func (s *Session) OnIdentityChange(fn func(*Principal)) (dispose func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.order = append(s.order, id)
	current := s.current
	s.mu.Unlock()

	fn(current)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
		s.order = slices.DeleteFunc(s.order, func(o int) bool { return o == id })
	}
}

func (s *Session) Current() *Principal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	p := *s.current
	return &p
}

func (s *Session) SignIn(p Principal) {
	s.transition(&p)
}

func (s *Session) SignOut() {
	s.transition(nil)
}

func (s *Session) transition(p *Principal) {
	s.mu.Lock()
	if s.current == nil && p == nil {
		s.mu.Unlock()
		return
	}
	if s.current != nil && p != nil && *s.current == *p {
		s.mu.Unlock()
		return
	}
	s.current = p
	var fns []func(*Principal)
	for _, id := range s.order {
		if fn, ok := s.listeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range fns {
		if p == nil {
			fn(nil)
			continue
		}
		cp := *p
		fn(&cp)
	}
}
