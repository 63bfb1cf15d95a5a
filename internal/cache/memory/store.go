// Package memory provides an in-process cache store for development and tests.
package memory

import (
	"context"
	"sync"
)

// Store keeps cache entries in a map keyed by scope and field.
type Store struct {
	mu      sync.RWMutex
	entries map[string]map[string]string
}

// New creates an empty Store.
func New() *Store {
	return &Store{entries: make(map[string]map[string]string)}
}

// Get returns the value for (scope, field) if present.
func (s *Store) Get(_ context.Context, scope, field string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[scope][field]
	return v, ok, nil
}

// Set overwrites the value for (scope, field).
func (s *Store) Set(_ context.Context, scope, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fields, ok := s.entries[scope]
	if !ok {
		fields = make(map[string]string)
		s.entries[scope] = fields
	}
	fields[field] = value
	return nil
}

// Len returns the number of stored entries across all scopes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, fields := range s.entries {
		n += len(fields)
	}
	return n
}

// Fields returns a copy of the entries stored under scope.
func (s *Store) Fields(scope string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.entries[scope]))
	for k, v := range s.entries[scope] {
		out[k] = v
	}
	return out
}
