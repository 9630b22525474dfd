// Copyright (c) FlareMQ Contributors
// SPDX-License-Identifier: Apache-2.0

package dedup

import (
	"encoding/binary"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

var _ Store = (*BadgerStore)(nil)

// BadgerStore persists duplicate-ID insertions in BadgerDB.
//
// Key format: dedup:{address}:{seq, 8-byte big-endian}. Iterating the prefix
// in key order replays insertions in sequence order, which is exactly the
// bounded-eviction order the live cache had.
//
// Address names may themselves contain ":", so a prefix scan for address "a"
// also surfaces keys of "a:b". A key belongs to this store only when its
// length is exactly prefix+8; every scan must apply that filter.
type BadgerStore struct {
	db     *badger.DB
	prefix []byte
}

// OpenDB opens a BadgerDB database for duplicate-ID persistence.
func OpenDB(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // Disable BadgerDB's internal logging
	// ID cache writes are small and frequent; fsync per write is 10-100x
	// slower and duplicate suppression tolerates losing the tail on crash.
	opts.SyncWrites = false
	opts.NumVersionsToKeep = 1

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open duplicate ID database: %w", err)
	}
	return db, nil
}

// NewBadgerStore creates a persistence store for one address's ID cache.
func NewBadgerStore(db *badger.DB, address string) *BadgerStore {
	return &BadgerStore{
		db:     db,
		prefix: []byte("dedup:" + address + ":"),
	}
}

func (s *BadgerStore) key(seq uint64) []byte {
	key := make([]byte, len(s.prefix)+8)
	copy(key, s.prefix)
	binary.BigEndian.PutUint64(key[len(s.prefix):], seq)
	return key
}

// Append records an insertion.
func (s *BadgerStore) Append(seq uint64, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key(seq), []byte(id))
	})
}

// Remove drops an evicted insertion.
func (s *BadgerStore) Remove(seq uint64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.key(seq))
	})
}

// Clear drops every insertion recorded for the address.
func (s *BadgerStore) Clear() error {
	return s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = s.prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			if !s.owns(key) {
				continue
			}
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// owns reports whether a prefix-matched key belongs to this store's address
// rather than to an address this one is a ":"-prefix of.
func (s *BadgerStore) owns(key []byte) bool {
	return len(key) == len(s.prefix)+8
}

// Replay iterates surviving insertions in sequence order.
func (s *BadgerStore) Replay(fn func(seq uint64, id string) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = s.prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.Key()
			if !s.owns(key) {
				continue
			}
			seq := binary.BigEndian.Uint64(key[len(s.prefix):])

			err := item.Value(func(val []byte) error {
				return fn(seq, string(val))
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}
