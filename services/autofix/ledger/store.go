// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/autofix/services/autofix/converge"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound indicates no run with the given ID is stored.
	ErrNotFound = errors.New("run not found")

	// ErrInvalidResult indicates a nil result or one without a run ID.
	ErrInvalidResult = errors.New("invalid run result")
)

// =============================================================================
// KEYS
// =============================================================================

// Primary keys sort newest first: run/<MaxInt64-startedNanos as 16 hex>/<runID>.
// The id/<runID> index points at the primary key.
const (
	runPrefix = "run/"
	idPrefix  = "id/"
)

func runKey(started time.Time, runID string) []byte {
	inv := uint64(math.MaxInt64 - started.UnixNano())
	return []byte(fmt.Sprintf("%s%016x/%s", runPrefix, inv, runID))
}

func idKey(runID string) []byte {
	return []byte(idPrefix + runID)
}

// =============================================================================
// STORE
// =============================================================================

// DefaultRetention is how many runs are kept before the oldest are pruned.
const DefaultRetention = 500

// Entry is one persisted run.
type Entry struct {
	// Root is the project directory the run fixed.
	Root string `json:"root"`

	RecordedAt time.Time        `json:"recorded_at"`
	Result     *converge.Result `json:"result"`
}

// ListOptions filters List.
type ListOptions struct {
	// Root limits the listing to one project. Empty lists every project.
	Root string

	// Limit caps the number of entries. Zero means no cap.
	Limit int
}

// Store reads and writes run reports.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db        *DB
	retention int
	logger    *slog.Logger
	now       func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithRetention sets how many runs are kept. Zero or less disables pruning.
func WithRetention(n int) StoreOption {
	return func(s *Store) {
		s.retention = n
	}
}

// WithStoreLogger sets the logger.
func WithStoreLogger(l *slog.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore creates a Store over an open database.
func NewStore(db *DB, opts ...StoreOption) (*Store, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	s := &Store{
		db:        db,
		retention: DefaultRetention,
		logger:    slog.Default().With("component", "ledger"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Save persists the final result of a run.
//
// Description:
//
//	Writes the entry and its ID index in one transaction, then prunes
//	the oldest runs beyond the retention limit. Saving the same run ID
//	twice replaces the earlier entry.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	root - Project directory of the run.
//	res - The run result. Must have a RunID.
//
// Outputs:
//
//	error - ErrInvalidResult, or a storage error.
func (s *Store) Save(ctx context.Context, root string, res *converge.Result) error {
	if res == nil || res.RunID == "" {
		return ErrInvalidResult
	}
	entry := Entry{Root: root, RecordedAt: s.now().UTC(), Result: res}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding run %s: %w", res.RunID, err)
	}

	started := res.StartedAt
	if started.IsZero() {
		started = entry.RecordedAt
	}
	key := runKey(started, res.RunID)

	err = s.db.update(ctx, func(txn *badger.Txn) error {
		if old, err := primaryKey(txn, res.RunID); err == nil {
			if err := txn.Delete(old); err != nil {
				return err
			}
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(idKey(res.RunID), key)
	})
	if err != nil {
		return fmt.Errorf("saving run %s: %w", res.RunID, err)
	}

	s.logger.Debug("Saved run",
		slog.String("run_id", res.RunID),
		slog.String("terminal_state", string(res.TerminalState)),
	)

	if s.retention > 0 {
		if n, err := s.prune(ctx); err != nil {
			s.logger.Warn("Pruning run history failed", slog.String("error", err.Error()))
		} else if n > 0 {
			s.logger.Info("Pruned run history", slog.Int("removed", n))
		}
	}
	return nil
}

// Get returns the run with the given ID.
func (s *Store) Get(ctx context.Context, runID string) (*Entry, error) {
	var entry Entry
	err := s.db.view(ctx, func(txn *badger.Txn) error {
		key, err := primaryKey(txn, runID)
		if err != nil {
			return err
		}
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// List returns stored runs, newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Entry, error) {
	var out []Entry
	err := s.db.view(ctx, func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 32, Prefix: []byte(runPrefix)})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var entry Entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return fmt.Errorf("decoding %s: %w", it.Item().Key(), err)
			}
			if opts.Root != "" && entry.Root != opts.Root {
				continue
			}
			out = append(out, entry)
			if opts.Limit > 0 && len(out) == opts.Limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// prune deletes runs beyond the retention limit, oldest first.
func (s *Store) prune(ctx context.Context) (int, error) {
	var stale [][]byte
	err := s.db.view(ctx, func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(runPrefix)})
		defer it.Close()

		n := 0
		for it.Rewind(); it.Valid(); it.Next() {
			n++
			if n > s.retention {
				stale = append(stale, it.Item().KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil || len(stale) == 0 {
		return 0, err
	}

	err = s.db.update(ctx, func(txn *badger.Txn) error {
		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
			if err := txn.Delete(idKey(runIDFromKey(key))); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(stale), nil
}

func primaryKey(txn *badger.Txn, runID string) ([]byte, error) {
	item, err := txn.Get(idKey(runID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

// runIDFromKey strips run/<16 hex>/ from a primary key.
func runIDFromKey(key []byte) string {
	const head = len(runPrefix) + 16 + 1
	if len(key) <= head {
		return ""
	}
	return string(key[head:])
}
