package jobstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"itera/internal/domain"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStore(t *testing.T) {
	_, client := newTestRedis(t)
	runStoreSuite(t, NewRedis(client, 0))
}

func TestRedisStoreTTL(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedis(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "j", Record{Status: domain.JobStatusProcessing}))
	assert.Equal(t, time.Minute, mr.TTL(defaultRedisPrefix+"j"))

	mr.FastForward(2 * time.Minute)
	_, ok, err := store.Get(ctx, "j")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStoreConcurrentUpdates(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedis(client, 0)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "j", Record{Status: domain.JobStatusProcessing}))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, "j", func(rec *Record) error {
				rec.Progress++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, ok, err := store.Get(ctx, "j")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 4, got.Progress)
}
