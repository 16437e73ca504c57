// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerStore persists conversation history in an embedded BadgerDB.
//
// Keys are laid out as:
//
//	turn:<tenant>:<seq, %016d>  -> JSON-encoded Turn
//	summary:<tenant>            -> rolling summary text
//
// Sequence numbers are monotonic per tenant, so a reverse prefix scan
// yields the newest turns first without any secondary index.
type BadgerStore struct {
	db *badger.DB

	// mu serializes appends; lastSeq caches the highest handed-out
	// sequence number per tenant.
	mu      sync.Mutex
	lastSeq map[string]uint64
}

var _ Store = (*BadgerStore)(nil)

// OpenBadgerStore opens a persistent store rooted at dir, creating the
// directory if needed. The caller must Close it.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	if dir == "" {
		return nil, errors.New("conversation store dir is required")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create conversation store dir %s: %w", dir, err)
	}
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open conversation store: %w", err)
	}
	return &BadgerStore{db: db, lastSeq: make(map[string]uint64)}, nil
}

// OpenInMemoryStore opens a store that keeps everything in RAM. Contents are
// lost on Close; intended for tests.
func OpenInMemoryStore() (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open in-memory conversation store: %w", err)
	}
	return &BadgerStore{db: db, lastSeq: make(map[string]uint64)}, nil
}

func turnPrefix(tenant string) string {
	return fmt.Sprintf("turn:%s:", tenant)
}

func turnKey(tenant string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%016d", turnPrefix(tenant), seq))
}

func summaryKey(tenant string) []byte {
	return []byte(fmt.Sprintf("summary:%s", tenant))
}

// seekNewest positions a reverse iterator at the highest key under prefix.
func seekNewest(it *badger.Iterator, prefix string) {
	it.Seek(append([]byte(prefix), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF))
}

// AppendTurn appends one turn to the tenant's history. A zero Timestamp is
// filled with the current wall clock.
func (s *BadgerStore) AppendTurn(ctx context.Context, tenant string, turn Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if turn.Timestamp == 0 {
		turn.Timestamp = time.Now().UnixMilli()
	}
	payload, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("encode turn: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq, err := s.nextSeqLocked(tenant)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(turnKey(tenant, seq), payload)
	})
	if err != nil {
		s.lastSeq[tenant] = seq - 1
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// nextSeqLocked hands out the next sequence number for a tenant. On first
// use it scans existing keys so ordering stays monotonic across restarts.
// Caller must hold s.mu.
func (s *BadgerStore) nextSeqLocked(tenant string) (uint64, error) {
	if seq, ok := s.lastSeq[tenant]; ok {
		s.lastSeq[tenant] = seq + 1
		return seq + 1, nil
	}

	var maxSeq uint64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true

		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := turnPrefix(tenant)
		seekNewest(it, prefix)
		if it.ValidForPrefix([]byte(prefix)) {
			key := it.Item().Key()
			var seq uint64
			if _, err := fmt.Sscanf(string(key[len(prefix):]), "%016d", &seq); err == nil {
				maxSeq = seq
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan last turn: %w", err)
	}

	s.lastSeq[tenant] = maxSeq + 1
	return maxSeq + 1, nil
}

// Recent returns up to n of the tenant's newest turns, oldest first.
func (s *BadgerStore) Recent(ctx context.Context, tenant string, n int) ([]Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}

	turns := make([]Turn, 0, n)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true

		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := turnPrefix(tenant)
		for seekNewest(it, prefix); it.ValidForPrefix([]byte(prefix)) && len(turns) < n; it.Next() {
			var turn Turn
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &turn)
			})
			if err != nil {
				return fmt.Errorf("decode turn %s: %w", it.Item().Key(), err)
			}
			turns = append(turns, turn)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Iteration ran newest-first; flip to chronological.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Summary returns the tenant's rolling summary. A missing summary is not an
// error; it returns "".
func (s *BadgerStore) Summary(ctx context.Context, tenant string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var summary string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(summaryKey(tenant))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			summary = string(val)
			return nil
		})
	})
	if err != nil {
		return "", fmt.Errorf("read summary: %w", err)
	}
	return summary, nil
}

// SetSummary replaces the tenant's rolling summary.
func (s *BadgerStore) SetSummary(ctx context.Context, tenant, summary string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(summaryKey(tenant), []byte(summary))
	})
	if err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

// Clear deletes all turns and the summary for a tenant. Other tenants are
// untouched. Uses a write batch so histories longer than a single
// transaction's limit still clear cleanly.
func (s *BadgerStore) Clear(ctx context.Context, tenant string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(turnPrefix(tenant))
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("collect turn keys: %w", err)
	}
	keys = append(keys, summaryKey(tenant))

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("clear tenant %s: %w", tenant, err)
	}

	s.mu.Lock()
	delete(s.lastSeq, tenant)
	s.mu.Unlock()
	return nil
}

// PruneOlderThan deletes the tenant's turns with a timestamp before cutoff
// and reports how many were removed. Turns are appended chronologically, so
// the scan stops at the first turn inside the retention window. When the
// prune empties the history entirely, the rolling summary is deleted too;
// a summary derived solely from expired turns must not outlive them.
func (s *BadgerStore) PruneOlderThan(ctx context.Context, tenant string, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	cutoffMs := cutoff.UnixMilli()

	var keys [][]byte
	var remaining bool
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(turnPrefix(tenant))
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var turn Turn
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &turn)
			})
			if err != nil {
				return fmt.Errorf("decode turn %s: %w", it.Item().Key(), err)
			}
			if turn.Timestamp >= cutoffMs {
				remaining = true
				return nil
			}
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("collect expired turns: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	pruned := len(keys)
	if !remaining {
		keys = append(keys, summaryKey(tenant))
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return 0, fmt.Errorf("delete %s: %w", key, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("prune tenant %s: %w", tenant, err)
	}
	return pruned, nil
}

// Close releases the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
