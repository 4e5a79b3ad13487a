// Package storage provides the durable persistence layer for the spammer
// database.
//
// Two tiers:
//
// • BadgerStorage: low-level key-value store on BadgerDB v3 with synchronous
//   writes, so an upsert that returned is guaranteed to survive a crash
//
// • SpammerStore: the spammer-record table on top of it, with atomic
//   per-identifier upserts and last-write-wins conflict resolution
package storage

import (
	"fmt"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v3"
)

// Custom errors
var (
	ErrKeyNotFound = fmt.Errorf("key not found")
)

// Storage is the key-value interface the record tier builds on.
type Storage interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	Update(fn func(txn Transaction) error) error
	View(fn func(txn Transaction) error) error
	Iterator(prefix []byte) Iterator
	Close() error
}

// Transaction is the atomic read-modify-write surface of a Storage.
type Transaction interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
}

// Iterator walks keys under a prefix.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Error() error
	Close()
}

// BadgerStorage implements Storage using BadgerDB v3.
type BadgerStorage struct {
	db *badger.DB
	mu sync.RWMutex
}

// NewBadgerStorage opens (creating if absent) a BadgerDB at dataDir.
// Synchronous writes are enabled: every accepted upsert must be durable
// before the call returns.
func NewBadgerStorage(dataDir string) (*BadgerStorage, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %v", err)
	}

	opts := badger.DefaultOptions(dataDir).
		WithLogger(nil). // Disable BadgerDB logging
		WithSyncWrites(true).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %v", err)
	}

	return &BadgerStorage{db: db}, nil
}

func (bs *BadgerStorage) Close() error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if bs.db != nil {
		err := bs.db.Close()
		bs.db = nil
		return err
	}
	return nil
}

// Get retrieves a value by key.
func (bs *BadgerStorage) Get(key []byte) ([]byte, error) {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	var value []byte
	err := bs.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}

		// ValueCopy is safe to use outside the transaction
		value, err = item.ValueCopy(nil)
		return err
	})

	if err == badger.ErrKeyNotFound {
		return nil, ErrKeyNotFound
	}

	return value, err
}

// Set stores a key-value pair.
func (bs *BadgerStorage) Set(key, value []byte) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	return bs.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// Delete removes a key.
func (bs *BadgerStorage) Delete(key []byte) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	return bs.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// Has checks if a key exists.
func (bs *BadgerStorage) Has(key []byte) (bool, error) {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	err := bs.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})

	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Update executes a function within a write transaction.
func (bs *BadgerStorage) Update(fn func(txn Transaction) error) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	return bs.db.Update(func(txn *badger.Txn) error {
		return fn(&badgerTransaction{txn: txn})
	})
}

// View executes a function within a read transaction.
func (bs *BadgerStorage) View(fn func(txn Transaction) error) error {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	return bs.db.View(func(txn *badger.Txn) error {
		return fn(&badgerTransaction{txn: txn})
	})
}

// Iterator returns an iterator over keys with the given prefix.
func (bs *BadgerStorage) Iterator(prefix []byte) Iterator {
	return &badgerIterator{
		db:     bs.db,
		prefix: prefix,
	}
}

// badgerTransaction wraps badger.Txn to implement Transaction.
type badgerTransaction struct {
	txn *badger.Txn
}

func (bt *badgerTransaction) Get(key []byte) ([]byte, error) {
	item, err := bt.txn.Get(key)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (bt *badgerTransaction) Set(key, value []byte) error {
	return bt.txn.Set(key, value)
}

func (bt *badgerTransaction) Delete(key []byte) error {
	return bt.txn.Delete(key)
}

func (bt *badgerTransaction) Has(key []byte) (bool, error) {
	_, err := bt.txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// badgerIterator implements Iterator for BadgerDB v3.
type badgerIterator struct {
	db     *badger.DB
	prefix []byte
	txn    *badger.Txn
	iter   *badger.Iterator
	closed bool
}

func (bi *badgerIterator) Next() bool {
	if bi.closed {
		return false
	}

	if bi.txn == nil {
		bi.txn = bi.db.NewTransaction(false)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = 100
		bi.iter = bi.txn.NewIterator(opts)
		bi.iter.Seek(bi.prefix)
	} else {
		bi.iter.Next()
	}

	return bi.iter.ValidForPrefix(bi.prefix)
}

func (bi *badgerIterator) Key() []byte {
	if bi.iter != nil {
		return bi.iter.Item().KeyCopy(nil)
	}
	return nil
}

func (bi *badgerIterator) Value() []byte {
	if bi.iter != nil {
		val, _ := bi.iter.Item().ValueCopy(nil)
		return val
	}
	return nil
}

func (bi *badgerIterator) Error() error {
	return nil
}

func (bi *badgerIterator) Close() {
	if !bi.closed {
		if bi.iter != nil {
			bi.iter.Close()
		}
		if bi.txn != nil {
			bi.txn.Discard()
		}
		bi.closed = true
	}
}

// Key prefixes for the record tables
const (
	SpammerPrefix = "spm:"
)

func SpammerKey(userID string) []byte {
	return []byte(SpammerPrefix + userID)
}
