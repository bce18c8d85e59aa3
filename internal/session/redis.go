package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/punchamoorthee/ussdops/internal/domain"
)

const keyPrefix = "ussd:session:"

// RedisStore keeps sessions in Redis with a native key TTL. Updates run under
// WATCH so a concurrent write aborts the transaction instead of being lost.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore creates a store backed by Redis.
func NewRedisStore(addr, password string, db int, ttl time.Duration) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreWithClient(rdb, ttl)
}

func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, now: time.Now}
}

// Ping checks connectivity; used at startup.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Create(ctx context.Context, sess *domain.Session) error {
	now := s.now()
	sess.Version = 1
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	ok, err := s.client.SetNX(ctx, keyPrefix+sess.ID, data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis session create: %w", err)
	}
	if !ok {
		return ErrExists
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	data, err := s.client.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis session get: %w", err)
	}

	var sess domain.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	return &sess, nil
}

func (s *RedisStore) Update(ctx context.Context, sess *domain.Session, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.ttl
	}
	key := keyPrefix + sess.ID

	next := sess.Clone()
	next.Version = sess.Version + 1
	next.UpdatedAt = s.now()

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var stored domain.Session
		if err := json.Unmarshal(data, &stored); err != nil {
			return fmt.Errorf("decoding session: %w", err)
		}
		if stored.Version != sess.Version {
			return ErrConflict
		}

		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encoding session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, ttl)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		sess.Version = next.Version
		sess.UpdatedAt = next.UpdatedAt
		return nil
	case errors.Is(err, ErrConflict), errors.Is(err, redis.TxFailedErr):
		sessionConflicts.Inc()
		return ErrConflict
	case errors.Is(err, ErrNotFound):
		return ErrNotFound
	default:
		return fmt.Errorf("redis session update: %w", err)
	}
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, keyPrefix+id).Err(); err != nil {
		return fmt.Errorf("redis session delete: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
