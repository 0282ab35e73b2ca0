package persistence

import (
	"binance-trade-bot-go/internal/ident"
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v3"
)

// BadgerStore is the BadgerDB implementation of the Store.
// BadgerDB holds an exclusive directory lock, so a single process owns it;
// use the redis backend when the daemon and the CLI must run side by side.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore creates and returns a new store connected to a BadgerDB database.
func NewBadgerStore(dbPath string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dbPath)
	// For this use case, we can disable Badger's own logging to keep our app's logs clean.
	// Errors will still be returned from DB operations.
	opts.Logger = nil
	return openBadger(opts)
}

// NewInMemoryBadgerStore opens a store that lives only in memory, used by tests and paper runs.
func NewInMemoryBadgerStore() (*BadgerStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return openBadger(opts)
}

func openBadger(opts badger.Options) (*BadgerStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

// Get loads the raw value.
// If the key is not found, it returns (nil, nil) to indicate no value is present.
func (s *BadgerStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			// We return the specific error to check it outside the transaction.
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})

	// After the transaction, check for the specific "key not found" error.
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Set atomically stores value under key.
func (s *BadgerStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

// Delete removes key. Deleting a missing key is not an error.
func (s *BadgerStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// Update runs fn inside a read-write transaction. Badger tracks the read key,
// and the commit fails with ErrConflict if another transaction wrote it meanwhile.
func (s *BadgerStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	k := []byte(key)
	err := s.db.Update(func(txn *badger.Txn) error {
		var current []byte
		item, err := txn.Get(k)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			if current, err = item.ValueCopy(nil); err != nil {
				return err
			}
		}

		next, err := fn(current)
		if err != nil {
			return err
		}
		if next == nil {
			return txn.Delete(k)
		}
		return txn.Set(k, next)
	})
	if errors.Is(err, badger.ErrConflict) {
		return ErrStaleWrite
	}
	return err
}

// AcquireLock writes the lock key with a TTL unless a live lease already exists.
// Expired entries are invisible to Get, so a crashed holder never blocks the symbol
// for longer than ttl.
func (s *BadgerStore) AcquireLock(ctx context.Context, symbol string, ttl time.Duration) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	token := ident.New()
	k := []byte(LockKey(symbol))
	acquired := false
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(k)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		acquired = true
		return txn.SetEntry(badger.NewEntry(k, []byte(token)).WithTTL(ttl))
	})
	if errors.Is(err, badger.ErrConflict) {
		// 另一个事务同时拿到了锁
		return "", false, nil
	}
	if err != nil || !acquired {
		return "", false, err
	}
	return token, true, nil
}

// ReleaseLock deletes the lock key if it still carries token.
func (s *BadgerStore) ReleaseLock(ctx context.Context, symbol, token string) error {
	k := []byte(LockKey(symbol))
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err != nil {
			return err
		}
		owner, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if !bytes.Equal(owner, []byte(token)) {
			return nil
		}
		return txn.Delete(k)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

// IsLocked reports whether a live lease exists for symbol.
func (s *BadgerStore) IsLocked(ctx context.Context, symbol string) (bool, error) {
	v, err := s.Get(ctx, LockKey(symbol))
	if err != nil {
		return false, err
	}
	return v != nil, nil
}

// Close gracefully closes the connection to the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
