package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
)

// BadgerCache keeps entries in a Badger database so cached lookups survive
// a restart. Expiry uses Badger's native per-entry TTL. Policy.MaxEntries
// is not enforced.
type BadgerCache struct {
	db     *badgerdb.DB
	policy Policy
}

// OpenBadgerCache opens or creates the database in dir. An empty dir keeps
// the database in memory.
func OpenBadgerCache(dir string, policy Policy) (*BadgerCache, error) {
	opts := badgerdb.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("cache: open badger: %w", err)
	}
	return &BadgerCache{db: db, policy: policy}, nil
}

// Get returns a copy of the stored value.
func (c *BadgerCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if ctx.Err() != nil {
		return nil, false
	}
	var value []byte
	err := c.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, false
	}
	return value, true
}

// Set stores value with the policy-clamped ttl.
func (c *BadgerCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if ttl <= 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	e := badgerdb.NewEntry([]byte(key), value).WithTTL(c.policy.EffectiveTTL(ttl))
	return c.db.Update(func(txn *badgerdb.Txn) error {
		return txn.SetEntry(e)
	})
}

// Delete removes key.
func (c *BadgerCache) Delete(_ context.Context, key string) error {
	return c.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Delete([]byte(key)); err != nil && !errors.Is(err, badgerdb.ErrKeyNotFound) {
			return err
		}
		return nil
	})
}

// Ping starts a read transaction, which fails once the database is closed.
func (c *BadgerCache) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.db.View(func(*badgerdb.Txn) error { return nil })
}

// Close flushes and closes the database.
func (c *BadgerCache) Close() error {
	return c.db.Close()
}

var _ Cache = (*BadgerCache)(nil)
