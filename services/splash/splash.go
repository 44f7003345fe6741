// Package splash holds the splash image shown to every connected client.
package splash

import "sync"

// RootField is the query field returning the splash image.
const RootField = "Query.splashImage"

// Invalidator is told which live query identifiers changed.
type Invalidator interface {
	Invalidate(ids ...string) int
}

// State is a single shared value.
type State struct {
	mu          sync.RWMutex
	url         string
	invalidator Invalidator
}

func New(invalidator Invalidator) *State {
	return &State{invalidator: invalidator}
}

func (s *State) Get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.url
}

// Set replaces the image. Setting the current value changes nothing.
func (s *State) Set(url string) {
	s.mu.Lock()
	changed := s.url != url
	s.url = url
	s.mu.Unlock()
	if changed && s.invalidator != nil {
		s.invalidator.Invalidate(RootField)
	}
}
