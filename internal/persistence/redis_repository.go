package persistence

import (
	"binance-trade-bot-go/internal/ident"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only when the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore is the Redis implementation of the Store. Unlike badger it can be
// shared by several processes, e.g. the daemon and the CLI.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to the server at url (redis://[:password@]host:port[/db]).
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisStoreFromClient(client), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	return s.client.Set(ctx, key, value, 0).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// Update uses WATCH/MULTI: the transaction is discarded if key changes after the read.
func (s *RedisStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			current = nil
		} else if err != nil {
			return err
		}

		next, err := fn(current)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, key)
				return nil
			}
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrStaleWrite
	}
	return err
}

func (s *RedisStore) AcquireLock(ctx context.Context, symbol string, ttl time.Duration) (string, bool, error) {
	token := ident.New()
	ok, err := s.client.SetNX(ctx, LockKey(symbol), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (s *RedisStore) ReleaseLock(ctx context.Context, symbol, token string) error {
	err := releaseScript.Run(ctx, s.client, []string{LockKey(symbol)}, token).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

func (s *RedisStore) IsLocked(ctx context.Context, symbol string) (bool, error) {
	n, err := s.client.Exists(ctx, LockKey(symbol)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
