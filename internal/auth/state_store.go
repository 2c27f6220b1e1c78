// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

var (
	// ErrStateNotFound means the state was never issued or was already used.
	ErrStateNotFound = errors.New("link state not found")
	// ErrStateExpired means the state outlived its TTL.
	ErrStateExpired = errors.New("link state expired")
)

// LinkState is the server-side half of a pending link attempt, keyed by the
// CSRF state token echoed back by Discord.
type LinkState struct {
	PlexUsername string    `json:"plex_username"`
	RedirectURI  string    `json:"redirect_uri"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// IsExpired reports whether the state is past its expiry.
func (s *LinkState) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// State storage key prefix for namespacing in BadgerDB.
const badgerStateKeyPrefix = "link_state:"

// StateStore keeps pending link states in BadgerDB so a callback handled
// after a restart still validates.
type StateStore struct {
	db *badger.DB
}

// NewStateStore opens a BadgerDB-backed state store at path. An empty path
// keeps the store in memory.
func NewStateStore(path string) (*StateStore, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	} else {
		opts.SyncWrites = true
	}
	opts.Logger = nil
	opts.ValueLogFileSize = 16 << 20

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db for link state: %w", err)
	}
	return &StateStore{db: db}, nil
}

// Store saves a state under key with a TTL matching its expiry.
func (s *StateStore) Store(ctx context.Context, key string, state *LinkState) error {
	if key == "" {
		return errors.New("state key cannot be empty")
	}
	if state == nil {
		return errors.New("state data cannot be nil")
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(badgerStateKeyPrefix+key), data)
		if ttl := time.Until(state.ExpiresAt); ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

// Consume returns the state stored under key and deletes it in the same
// transaction, so each state validates at most one callback.
func (s *StateStore) Consume(ctx context.Context, key string) (*LinkState, error) {
	if key == "" {
		return nil, ErrStateNotFound
	}

	var state LinkState
	err := s.db.Update(func(txn *badger.Txn) error {
		stateKey := []byte(badgerStateKeyPrefix + key)
		item, err := txn.Get(stateKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrStateNotFound
		}
		if err != nil {
			return fmt.Errorf("get state: %w", err)
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &state)
		}); err != nil {
			return fmt.Errorf("decode state: %w", err)
		}
		return txn.Delete(stateKey)
	})
	if err != nil {
		return nil, err
	}

	// TTL normally removes the key first; this covers clock skew on restart.
	if state.IsExpired() {
		return nil, ErrStateExpired
	}
	return &state, nil
}

// CleanupExpired removes expired or undecodable states and returns the
// number removed.
func (s *StateStore) CleanupExpired(ctx context.Context) (int, error) {
	var expiredKeys [][]byte
	now := time.Now()

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(badgerStateKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var state LinkState
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &state)
			})
			if err != nil || state.ExpiresAt.Before(now) {
				expiredKeys = append(expiredKeys, item.KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan for expired states: %w", err)
	}

	count := 0
	for _, key := range expiredKeys {
		if err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(key)
		}); err == nil {
			count++
		}
	}
	return count, nil
}

// RunGC reclaims value log space from deleted entries.
func (s *StateStore) RunGC() error {
	err := s.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
		return nil
	}
	return err
}

// Close closes the underlying BadgerDB connection.
func (s *StateStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
