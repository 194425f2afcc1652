// Package policy implements credential acceptance for the deception service.
//
// A password is accepted if it has ever been accepted before (on any
// connection), or otherwise at random with a configured probability. The
// replay guarantee is what sells the illusion: an attacker who gets in once
// with a password will always get in with that password again.
package policy

import (
	"math/rand"
	"sync"
)

// Store is the set of passwords accepted so far. It is shared by every
// connection for the life of the process and only ever grows.
type Store struct {
	mu        sync.Mutex
	passwords map[string]struct{}
}

func NewStore() *Store {
	return &Store{passwords: make(map[string]struct{})}
}

// Seen reports whether password has been accepted before.
func (s *Store) Seen(password string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.passwords[password]
	return ok
}

// Add inserts password into the store. Inserting an existing password is a
// no-op.
func (s *Store) Add(password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passwords[password] = struct{}{}
}

// Len returns the number of distinct accepted passwords.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.passwords)
}

// seenOrMaybeAdd checks membership and, for an unseen password, consults
// sample and inserts on acceptance. The whole sequence runs under the store
// lock so two connections racing on the same fresh password cannot disagree
// about whether it was already present when they sampled.
func (s *Store) seenOrMaybeAdd(password string, sample func() bool) (accepted, seen bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.passwords[password]; ok {
		return true, true
	}
	if sample() {
		s.passwords[password] = struct{}{}
		return true, false
	}
	return false, false
}

// Policy decides password acceptance. Safe for concurrent use from any
// number of connections.
type Policy struct {
	store       *Store
	probability float64
	randFloat   func() float64
}

// New returns a Policy backed by store. probability is the per-attempt
// chance of accepting a never-before-seen password and must already be
// validated to lie in [0, 1].
func New(store *Store, probability float64) *Policy {
	return &Policy{
		store:       store,
		probability: probability,
		randFloat:   rand.Float64,
	}
}

// Decide reports whether the submitted password should be accepted. A
// replayed password is always accepted; a fresh one is accepted with the
// configured probability and, if accepted, stored before returning.
func (p *Policy) Decide(password string) bool {
	accepted, _ := p.store.seenOrMaybeAdd(password, func() bool {
		return p.randFloat() < p.probability
	})
	return accepted
}

// DecideDetail is Decide plus whether acceptance came from replay. Used for
// logging the distinction between "seen before" and "accepted randomly".
func (p *Policy) DecideDetail(password string) (accepted, replayed bool) {
	return p.store.seenOrMaybeAdd(password, func() bool {
		return p.randFloat() < p.probability
	})
}
