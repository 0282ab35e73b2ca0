package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Keys used by the bots. Values are JSON documents unless noted otherwise.
const (
	KeyInPlayPurchases    = "inplay:purchases"
	KeyCollectivePurchase = "bot:collective:purchase"
	KeyMintItems          = "bot:mint:items"
	KeySplitShortItems    = "bot:splitshort:items"
	KeyBalances           = "balances"
)

// PriceKey 最近一次获取到的价格 (纯文本)
func PriceKey(symbol string) string { return "price:" + symbol }

// LockKey 交易对下单锁
func LockKey(symbol string) string { return "lock:" + symbol }

// ErrStaleWrite is returned when a read-modify-write lost a race against another writer.
var ErrStaleWrite = errors.New("stale write: value changed since it was read")

// maxStaleRetries bounds how often UpdateJSON re-applies a mutation after ErrStaleWrite.
const maxStaleRetries = 3

// UpdateFunc receives the current value (nil if absent) and returns the value to store.
// Returning nil bytes deletes the key.
type UpdateFunc func(current []byte) ([]byte, error)

// Store defines the interface for state persistence.
// It abstracts the underlying storage mechanism (BadgerDB, Redis)
// from the rest of the application.
type Store interface {
	// Get returns the raw value. If the key is not found, it returns (nil, nil).
	Get(ctx context.Context, key string) ([]byte, error)

	Set(ctx context.Context, key string, value []byte) error

	Delete(ctx context.Context, key string) error

	// Update performs an optimistic read-modify-write on a single key.
	// If the key was written by someone else between the read and the write,
	// nothing is stored and ErrStaleWrite is returned.
	Update(ctx context.Context, key string, fn UpdateFunc) error

	// AcquireLock takes the per-symbol advisory lock as a lease that expires after ttl.
	// ok is false when somebody else holds the lock.
	AcquireLock(ctx context.Context, symbol string, ttl time.Duration) (token string, ok bool, err error)

	// ReleaseLock releases the lock only if it is still owned by token.
	ReleaseLock(ctx context.Context, symbol, token string) error

	IsLocked(ctx context.Context, symbol string) (bool, error)

	// Close gracefully closes the connection to the database.
	Close() error
}

// GetJSON decodes the value stored under key into v.
// found is false (and v untouched) when the key does not exist.
func GetJSON(ctx context.Context, s Store, key string, v any) (found bool, err error) {
	data, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, data)
}

// UpdateJSON applies fn to the decoded value under key and writes the result back
// optimistically. fn receives nil when the key is absent; returning nil deletes the key.
// On ErrStaleWrite the whole read-modify-write is re-applied up to maxStaleRetries times,
// so fn must not have side effects beyond computing the new value.
func UpdateJSON[T any](ctx context.Context, s Store, key string, fn func(current *T) (*T, error)) (*T, error) {
	var result *T
	apply := func(data []byte) ([]byte, error) {
		var current *T
		if data != nil {
			current = new(T)
			if err := json.Unmarshal(data, current); err != nil {
				return nil, fmt.Errorf("decode %s: %w", key, err)
			}
		}
		next, err := fn(current)
		if err != nil {
			return nil, err
		}
		result = next
		if next == nil {
			return nil, nil
		}
		out, err := json.Marshal(next)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		return out, nil
	}

	var err error
	for attempt := 0; attempt <= maxStaleRetries; attempt++ {
		err = s.Update(ctx, key, apply)
		if !errors.Is(err, ErrStaleWrite) {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}
