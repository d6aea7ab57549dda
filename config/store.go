package config

import (
	"context"
	"fmt"

	"github.com/warp/rosca-engine/rosca"
	"github.com/warp/rosca-engine/rosca/store"
	"github.com/warp/rosca-engine/store/firestore"
	"github.com/warp/rosca-engine/store/gormstore"
	"github.com/warp/rosca-engine/store/redisstore"
	"github.com/warp/rosca-engine/store/sqlite"
)

// OpenStore returns the PoolStore selected by StoreDriver.
func (c Config) OpenStore(ctx context.Context) (rosca.PoolStore, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	var (
		s   rosca.PoolStore
		err error
	)
	switch c.StoreDriver {
	case DriverMemory:
		s = store.NewMemory()
	case DriverSQLite:
		s, err = sqlite.New(c.DBPath)
	case DriverPostgres:
		s, err = gormstore.OpenPostgres(c.DatabaseURL)
	case DriverRedis:
		s, err = redisstore.Open(c.RedisURL)
	case DriverFirestore:
		s, err = firestore.Open(ctx, c.FirebaseProjectID, c.FirebaseCredentialsPath)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", c.StoreDriver, err)
	}
	return s, nil
}
