package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/ussdops/internal/domain"
)

// storeContract runs behaviour every Store implementation must share.
func storeContract(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("get absent", func(t *testing.T) {
		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("create get update delete", func(t *testing.T) {
		s := &domain.Session{ID: "s-1", Mobile: "0241234567", Product: domain.ProductBundle}
		require.NoError(t, store.Create(ctx, s))
		assert.Equal(t, int64(1), s.Version)

		got, err := store.Get(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, domain.ProductBundle, got.Product)

		got.Network = "mtn"
		require.NoError(t, store.Update(ctx, got, 0))
		assert.Equal(t, int64(2), got.Version)

		again, err := store.Get(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, "mtn", again.Network)
		assert.Equal(t, int64(2), again.Version)

		require.NoError(t, store.Delete(ctx, "s-1"))
		_, err = store.Get(ctx, "s-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("stale version conflicts", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, &domain.Session{ID: "s-2"}))

		a, err := store.Get(ctx, "s-2")
		require.NoError(t, err)
		b, err := store.Get(ctx, "s-2")
		require.NoError(t, err)

		a.Quantity = 2
		require.NoError(t, store.Update(ctx, a, 0))

		b.Quantity = 5
		assert.ErrorIs(t, store.Update(ctx, b, 0), ErrConflict)

		got, err := store.Get(ctx, "s-2")
		require.NoError(t, err)
		assert.Equal(t, 2, got.Quantity)
	})

	t.Run("create keeps a live session", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, &domain.Session{ID: "s-4", State: "checkout", ClientReference: "ref-1"}))
		assert.ErrorIs(t, store.Create(ctx, &domain.Session{ID: "s-4", State: "main"}), ErrExists)

		got, err := store.Get(ctx, "s-4")
		require.NoError(t, err)
		assert.Equal(t, "checkout", got.State)
		assert.Equal(t, "ref-1", got.ClientReference)
	})

	t.Run("update of absent session", func(t *testing.T) {
		err := store.Update(ctx, &domain.Session{ID: "gone", Version: 1}, 0)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("concurrent updates lose no write", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, &domain.Session{ID: "s-3"}))

		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s, err := store.Get(ctx, "s-3")
				if err != nil {
					return
				}
				s.Quantity++
				if store.Update(ctx, s, 0) == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		got, err := store.Get(ctx, "s-3")
		require.NoError(t, err)
		assert.Equal(t, int64(1+wins), got.Version)
		assert.LessOrEqual(t, got.Quantity, wins)
	})
}

func TestMemoryStoreContract(t *testing.T) {
	store := NewMemoryStore(time.Minute, 0)
	defer store.Close()
	storeContract(t, store)
}

func TestRedisStoreContract(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)
	defer store.Close()
	storeContract(t, store)
}

func TestMemoryStoreTTL(t *testing.T) {
	store := NewMemoryStore(10*time.Minute, 0)
	defer store.Close()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &domain.Session{ID: "ttl"}))

	now = now.Add(9 * time.Minute)
	s, err := store.Get(ctx, "ttl")
	require.NoError(t, err)

	// A write with a longer TTL keeps the session past the default expiry.
	require.NoError(t, store.Update(ctx, s, 30*time.Minute))
	now = now.Add(20 * time.Minute)
	_, err = store.Get(ctx, "ttl")
	require.NoError(t, err)

	now = now.Add(11 * time.Minute)
	_, err = store.Get(ctx, "ttl")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreCreateReplacesExpired(t *testing.T) {
	store := NewMemoryStore(time.Minute, 0)
	defer store.Close()

	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &domain.Session{ID: "old", State: "checkout"}))
	now = now.Add(2 * time.Minute)
	require.NoError(t, store.Create(ctx, &domain.Session{ID: "old", State: "main"}))

	got, err := store.Get(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, "main", got.State)
}

func TestMemoryStoreSweep(t *testing.T) {
	store := NewMemoryStore(time.Minute, 0)
	defer store.Close()

	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &domain.Session{ID: "a"}))
	require.NoError(t, store.Create(ctx, &domain.Session{ID: "b"}))
	assert.Equal(t, 2, store.Len())

	now = now.Add(2 * time.Minute)
	store.sweep()
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore(time.Minute, 0)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &domain.Session{ID: "c", Allocated: []string{"A"}}))
	s, err := store.Get(ctx, "c")
	require.NoError(t, err)
	s.Allocated[0] = "mutated"

	again, err := store.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "A", again.Allocated[0])
}

func TestRedisStoreTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 10*time.Minute)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &domain.Session{ID: "ttl"}))
	assert.Equal(t, 10*time.Minute, mr.TTL(keyPrefix+"ttl"))

	s, err := store.Get(ctx, "ttl")
	require.NoError(t, err)
	require.NoError(t, store.Update(ctx, s, 30*time.Minute))
	assert.Equal(t, 30*time.Minute, mr.TTL(keyPrefix+"ttl"))

	mr.FastForward(31 * time.Minute)
	_, err = store.Get(ctx, "ttl")
	assert.ErrorIs(t, err, ErrNotFound)
}
