// Package memstore provides an in-memory session.Store. It is the tab-session
// analogue: tokens live only as long as the process and are never persisted.
package memstore

import (
	"sync"

	"github.com/forte001/gracecoop-go/session"
)

var _ session.Store = (*Store)(nil)

type Store struct {
	mu     sync.RWMutex
	tokens map[string]string
}

func New() *Store {
	return &Store{
		tokens: make(map[string]string),
	}
}

func (s *Store) Get(namespace session.Namespace, kind session.Kind) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens[session.StorageKey(namespace, kind)], nil
}

func (s *Store) Set(namespace session.Namespace, kind session.Kind, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[session.StorageKey(namespace, kind)] = value
	return nil
}

func (s *Store) Clear(namespace session.Namespace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, session.StorageKey(namespace, session.KindAccess))
	delete(s.tokens, session.StorageKey(namespace, session.KindRefresh))
	return nil
}
