// Package session maps connections to the session records resolved when
// they were opened.
package session

import (
	"sync"
	"time"
)

// Record is an authenticated session.
type Record struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Role      string    `json:"role,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store resolves the session of a connection.
type Store interface {
	Get(connID string) (*Record, bool)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Bind attaches rec to connID, replacing any previous record.
func (s *MemoryStore) Bind(connID string, rec *Record) {
	s.mu.Lock()
	s.records[connID] = rec
	s.mu.Unlock()
}

// Unbind forgets connID.
func (s *MemoryStore) Unbind(connID string) {
	s.mu.Lock()
	delete(s.records, connID)
	s.mu.Unlock()
}

func (s *MemoryStore) Get(connID string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[connID]
	return rec, ok
}

// Len returns the number of bound connections.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
