// Package redis stores engine documents in Redis and provides a Redis lock
// as the per-record in-flight guard, so several server replicas can share
// one store.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/warp/deficit-engine/config"
	"github.com/warp/deficit-engine/deficit"
	"github.com/warp/deficit-engine/generic"
)

// LockTTL bounds how long a crashed holder can keep a record busy. It
// outlasts the two sink calls of a Print, each capped at
// deficit.DefaultSinkTimeout.
const LockTTL = 3 * deficit.DefaultSinkTimeout

// Options mirror the [storage] config keys.
type Options struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// Connect opens a client and pings it.
func Connect(ctx context.Context, opts Options) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: 20,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect redis at %s: %w", opts.Address, err)
	}
	return rdb, nil
}

// =============================================================================
// STORE
// =============================================================================

// Store implements generic.Store on a Redis client. Keys are namespaced
// with prefix.
type Store struct {
	rdb    *redis.Client
	prefix string
}

func NewStore(rdb *redis.Client, prefix string) *Store {
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return val, true, nil
}

func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if err := s.rdb.Set(ctx, s.prefix+key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

var _ generic.Store = (*Store)(nil)

// =============================================================================
// LOCKER
// =============================================================================

// Locker implements deficit.Guard with redislock.
type Locker struct {
	locker *redislock.Client
	prefix string
	log    logrus.FieldLogger
}

func NewLocker(rdb *redis.Client, prefix string, log logrus.FieldLogger) *Locker {
	return &Locker{locker: redislock.New(rdb), prefix: prefix, log: log}
}

func (l *Locker) Acquire(ctx context.Context, id generic.RecordID) (func(), error) {
	lockKey := l.prefix + "lock:" + string(id)
	lock, err := l.locker.Obtain(ctx, lockKey, LockTTL, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, generic.ErrBusy
	}
	if err != nil {
		config.LogError(l.log, "redis", "Acquire", "could not obtain record lock", id, err)
		return nil, fmt.Errorf("failed to lock record %s: %w", id, err)
	}

	return func() {
		// The caller's ctx may already be cancelled.
		if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			config.LogError(l.log, "redis", "Release", "could not release record lock", id, err)
		}
	}, nil
}

var _ deficit.Guard = (*Locker)(nil)
