package jobstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"itera/internal/domain"
)

const (
	defaultRedisPrefix = "itera:job:"
	maxUpdateRetries   = 8
)

// Redis stores each record as a JSON string. A positive TTL expires
// records; zero keeps them forever.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	return &Redis{client: client, prefix: defaultRedisPrefix, ttl: ttl}
}

func (r *Redis) key(id string) string {
	return r.prefix + id
}

func (r *Redis) Set(ctx context.Context, id string, rec Record) error {
	raw, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", id, err)
	}
	if err := r.client.Set(ctx, r.key(id), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set job %s: %w", id, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, id string) (Record, bool, error) {
	raw, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("redis get job %s: %w", id, err)
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return Record{}, false, fmt.Errorf("decode job %s: %w", id, err)
	}
	return rec, true, nil
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("redis delete job %s: %w", id, err)
	}
	return nil
}

// Update runs fn under optimistic locking and retries when another writer
// touched the key between WATCH and EXEC.
func (r *Redis) Update(ctx context.Context, id string, fn UpdateFunc) (Record, error) {
	key := r.key(id)
	var out Record
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
		}
		if err != nil {
			return err
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			return fmt.Errorf("decode job %s: %w", id, err)
		}
		if err := fn(&rec); err != nil {
			return err
		}
		next, err := encodeRecord(rec)
		if err != nil {
			return fmt.Errorf("encode job %s: %w", id, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if r.ttl > 0 {
				pipe.Set(ctx, key, next, r.ttl)
			} else {
				pipe.Set(ctx, key, next, redis.KeepTTL)
			}
			return nil
		})
		if err == nil {
			out = rec
		}
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return Record{}, err
	}
	return Record{}, fmt.Errorf("redis update job %s: too much contention", id)
}

var _ Store = (*Redis)(nil)
