// Package redisstore keeps pools in Redis.
//
// Layout:
//
//	rosca:pool:<id>  string, the pool as JSON (version included)
//	rosca:pools      sorted set of ids scored by creation time
//
// Writes use WATCH/MULTI: if another client touches the pool key between our
// read and EXEC, the transaction is aborted and Update reports
// rosca.ErrConcurrentModification.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/warp/rosca-engine/rosca"
)

const (
	defaultPrefix = "rosca"
	indexKey      = "pools"
)

type Store struct {
	client *redis.Client
	prefix string
}

// Open parses a redis:// URL and checks the connection.
func Open(redisURL string) (*Store, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	slog.Info("redis connection established", "addr", opt.Addr)
	return New(client), nil
}

func New(client *redis.Client) *Store {
	return &Store{client: client, prefix: defaultPrefix}
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) poolKey(id rosca.PoolID) string {
	return s.prefix + ":pool:" + string(id)
}

func (s *Store) indexKey() string {
	return s.prefix + ":" + indexKey
}

func (s *Store) Create(ctx context.Context, pool *rosca.Pool) error {
	stored := pool.Clone()
	stored.Version = 1
	data, err := json.Marshal(stored)
	if err != nil {
		return err
	}

	key := s.poolKey(pool.ID)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return rosca.ErrPoolExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZAdd(ctx, s.indexKey(), redis.Z{
				Score:  float64(pool.CreatedAt.UnixMilli()),
				Member: string(pool.ID),
			})
			return nil
		})
		return err
	}, key)
	if err != nil {
		return mapError(err)
	}
	pool.Version = 1
	return nil
}

func (s *Store) Get(ctx context.Context, id rosca.PoolID) (*rosca.Pool, error) {
	data, err := s.client.Get(ctx, s.poolKey(id)).Bytes()
	if err != nil {
		return nil, mapError(err)
	}
	return decode(data)
}

// List walks the creation index. Equal scores come back in id order.
func (s *Store) List(ctx context.Context) ([]*rosca.Pool, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list: %w", err)
	}
	if len(ids) == 0 {
		return []*rosca.Pool{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.poolKey(rosca.PoolID(id))
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list: %w", err)
	}

	pools := make([]*rosca.Pool, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue // deleted between ZRANGE and MGET
		}
		pool, err := decode([]byte(str))
		if err != nil {
			return nil, err
		}
		pools = append(pools, pool)
	}
	return pools, nil
}

func (s *Store) Update(ctx context.Context, id rosca.PoolID, fn func(*rosca.Pool) error) (*rosca.Pool, error) {
	key := s.poolKey(id)
	var out *rosca.Pool

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}
		pool, err := decode(data)
		if err != nil {
			return err
		}

		version := pool.Version
		if err := fn(pool); err != nil {
			return err
		}
		pool.ID = id
		pool.Version = version + 1

		next, err := json.Marshal(pool)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		if err != nil {
			return err
		}
		out = pool
		return nil
	}, key)
	if err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id rosca.PoolID) error {
	key := s.poolKey(id)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return rosca.ErrPoolNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.ZRem(ctx, s.indexKey(), string(id))
			return nil
		})
		return err
	}, key)
	return mapError(err)
}

func decode(data []byte) (*rosca.Pool, error) {
	var pool rosca.Pool
	if err := json.Unmarshal(data, &pool); err != nil {
		return nil, fmt.Errorf("failed to decode pool: %w", err)
	}
	return &pool, nil
}

// mapError turns redis sentinels into rosca ones. Errors returned by the
// caller's update function pass through untouched.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return rosca.ErrPoolNotFound
	case errors.Is(err, redis.TxFailedErr):
		return rosca.ErrConcurrentModification
	default:
		return err
	}
}
