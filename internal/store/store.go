// Package store persists authorized-user records as a JSON array in a
// single file. The file is the one shared mutable resource in the
// gateway; every mutation goes through the store's mutex and is written
// as a whole-file temp-then-rename replace, so a concurrent reader never
// observes a truncated or duplicate-keyed file.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Sentinel errors for store operations.
var (
	ErrStorageUnavailable = errors.New("user store unavailable")
	ErrStorageWrite       = errors.New("user store write failed")
)

// AuthorizedUser is one successfully authorized identity. JSON keys match
// the legacy object.json schema so existing files load unchanged.
type AuthorizedUser struct {
	UserID       string `json:"userID"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	SourceIP     string `json:"userIP"`
	AvatarURL    string `json:"avatarURL"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// SecretSink receives token values for log redaction. Satisfied by
// redact.Masker; a nil sink disables registration.
type SecretSink interface {
	Add(tokens ...string)
}

// Store is the durable collection of authorized users. All operations
// serialize on an internal mutex; userID is the unique key and the first
// writer for a given userID wins.
type Store struct {
	mu    sync.Mutex
	path  string
	users []AuthorizedUser
	index map[string]struct{}
	sink  SecretSink
}

// Open loads or initializes the user store at path. A missing file is
// created as an empty collection.
func Open(path string, sink SecretSink) (*Store, error) {
	s := &Store{
		path:  path,
		index: make(map[string]struct{}),
		sink:  sink,
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := s.persistLocked(nil); err != nil {
			return nil, fmt.Errorf("%w: initialize %s: %v", ErrStorageUnavailable, path, err)
		}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrStorageUnavailable, path, err)
	}

	var users []AuthorizedUser
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrStorageUnavailable, path, err)
	}

	s.users = users
	for _, u := range users {
		s.index[u.UserID] = struct{}{}
		s.registerTokens(u)
	}
	return s, nil
}

func (s *Store) registerTokens(u AuthorizedUser) {
	if s.sink != nil {
		s.sink.Add(u.AccessToken, u.RefreshToken)
	}
}

// Contains reports whether a record for userID exists.
func (s *Store) Contains(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[userID]
	return ok
}

// Count returns the number of stored records.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

// Snapshot returns a copy of the full collection.
func (s *Store) Snapshot() []AuthorizedUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuthorizedUser, len(s.users))
	copy(out, s.users)
	return out
}

// Append adds user if its userID is not already present and persists the
// updated collection. Returns false with a nil error when the userID was
// already stored (repeat authorizations never update tokens). On a
// persistence failure the in-memory append is rolled back.
func (s *Store) Append(user AuthorizedUser) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[user.UserID]; ok {
		return false, nil
	}

	next := append(s.users, user)
	if err := s.persistLocked(next); err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}

	s.users = next
	s.index[user.UserID] = struct{}{}
	s.registerTokens(user)
	return true, nil
}

// ReplaceAll overwrites the store with exactly the given collection.
// Used by the refresh sweep to drop invalidated records. On persistence
// failure the previous collection remains in effect.
func (s *Store) ReplaceAll(users []AuthorizedUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]AuthorizedUser, len(users))
	copy(next, users)

	if err := s.persistLocked(next); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}

	s.users = next
	s.index = make(map[string]struct{}, len(next))
	for _, u := range next {
		s.index[u.UserID] = struct{}{}
	}
	return nil
}

// persistLocked writes users to a temp file in the store's directory and
// renames it over the store path. Callers hold s.mu.
func (s *Store) persistLocked(users []AuthorizedUser) error {
	if users == nil {
		users = []AuthorizedUser{}
	}
	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal users: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace store file: %w", err)
	}
	return nil
}
