// Package filestore persists session tokens to a JSON file, the headless
// analogue of the web client's local storage. Keys match the web client's
// ("admin_token", "member_refresh", ...) so a persisted store survives process
// restarts and can be inspected or shared.
package filestore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/forte001/gracecoop-go/session"
)

const fileMode = 0o600

var _ session.Store = (*Store)(nil)

type Store struct {
	mu     sync.Mutex
	path   string
	tokens map[string]string
}

// New loads (or creates) the token file at path. A missing file is an empty
// store, not an error.
func New(path string) (*Store, error) {
	s := &Store{
		path:   path,
		tokens: make(map[string]string),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "[filestore.New] read token file")
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.tokens); err != nil {
		return nil, errors.Wrap(err, "[filestore.New] parse token file")
	}
	return s, nil
}

func (s *Store) Get(namespace session.Namespace, kind session.Kind) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[session.StorageKey(namespace, kind)], nil
}

func (s *Store) Set(namespace session.Namespace, kind session.Kind, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[session.StorageKey(namespace, kind)] = value
	return s.flush()
}

func (s *Store) Clear(namespace session.Namespace) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tokens, session.StorageKey(namespace, session.KindAccess))
	delete(s.tokens, session.StorageKey(namespace, session.KindRefresh))
	return s.flush()
}

// flush writes the full map out. Caller holds the lock. Write-then-rename so a
// crash mid-write never leaves a truncated token file.
func (s *Store) flush() error {
	data, err := json.MarshalIndent(s.tokens, "", "  ")
	if err != nil {
		return errors.Wrap(err, "[filestore.flush] marshal tokens")
	}

	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return errors.Wrap(err, "[filestore.flush] create data folder")
	}
	if err := os.WriteFile(tmp, data, fileMode); err != nil {
		return errors.Wrap(err, "[filestore.flush] write token file")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "[filestore.flush] replace token file")
	}
	return nil
}
