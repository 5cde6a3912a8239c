package cache

import (
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerCache is the embedded persistent L2. It survives process
// restarts and enforces TTL natively: expired keys return ErrKeyNotFound
// from BadgerDB's own GC, which reads as a plain miss here. A periodic
// value-log GC keeps the store from growing unbounded.
type BadgerCache struct {
	db         *badger.DB
	defaultTTL time.Duration
	stopGC     chan struct{}
}

// NewBadgerCache opens (or creates) a badger store at dir
func NewBadgerCache(dir string, defaultTTL time.Duration) (*BadgerCache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dir, err)
	}

	c := &BadgerCache{
		db:         db,
		defaultTTL: defaultTTL,
		stopGC:     make(chan struct{}),
	}
	go c.runGC()
	return c, nil
}

// runGC sweeps the value log periodically. Badger expires keys lazily;
// the sweep reclaims disk space without blocking readers.
func (c *BadgerCache) runGC() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopGC:
			return
		case <-ticker.C:
			for c.db.RunValueLogGC(0.5) == nil {
			}
		}
	}
}

// Get retrieves a value; expired or absent keys are a miss
func (c *BadgerCache) Get(key string) ([]byte, bool) {
	var value []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			// Storage trouble reads as a miss; the caller repopulates
			return nil, false
		}
		return nil, false
	}
	return value, true
}

// Set stores a value with the given TTL (0 uses the default)
func (c *BadgerCache) Set(key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	return c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

// Delete removes a value from the store
func (c *BadgerCache) Delete(key string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// Clear drops all entries
func (c *BadgerCache) Clear() error {
	return c.db.DropAll()
}

// Close stops the GC loop and closes the store
func (c *BadgerCache) Close() error {
	close(c.stopGC)
	return c.db.Close()
}
