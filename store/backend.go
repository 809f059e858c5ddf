// Package store picks the key-value backend named by the [storage] config
// section and pairs it with the matching in-flight guard.
package store

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/warp/deficit-engine/config"
	"github.com/warp/deficit-engine/deficit"
	"github.com/warp/deficit-engine/generic"
	memstore "github.com/warp/deficit-engine/generic/store"
	redisstore "github.com/warp/deficit-engine/store/redis"
	"github.com/warp/deficit-engine/store/sqlite"
)

// Backend is an opened store plus the guard that goes with it. Guard is nil
// for single-process backends; the engine then uses its local guard.
type Backend struct {
	Store generic.Store
	Guard deficit.Guard
	Name  string

	close func() error
}

func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// Open opens the configured backend.
func Open(ctx context.Context, cfg config.StorageConfig, log logrus.FieldLogger) (*Backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return &Backend{Store: memstore.NewMemory(), Name: cfg.Backend}, nil

	case config.BackendSQLite, config.BackendSQLitePure:
		driver := sqlite.DriverCGO
		if cfg.Backend == config.BackendSQLitePure {
			driver = sqlite.DriverPureGo
		}
		s, err := sqlite.Open(driver, cfg.Path)
		if err != nil {
			return nil, err
		}
		return &Backend{Store: s, Name: cfg.Backend, close: s.Close}, nil

	case config.BackendRedis:
		rdb, err := redisstore.Connect(ctx, redisstore.Options{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
		if err != nil {
			return nil, err
		}
		return &Backend{
			Store: redisstore.NewStore(rdb, cfg.RedisPrefix),
			Guard: redisstore.NewLocker(rdb, cfg.RedisPrefix, log),
			Name:  cfg.Backend,
			close: rdb.Close,
		}, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}
