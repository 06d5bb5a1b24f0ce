// Package storage wires the repositories selected by the configured storage driver.
package storage

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/masomo-results/core"
	"github.com/trezcool/masomo-results/core/scratchcard"
	"github.com/trezcool/masomo-results/core/user"
	"github.com/trezcool/masomo-results/storage/database"
	"github.com/trezcool/masomo-results/storage/database/inmemdb"
	"github.com/trezcool/masomo-results/storage/database/sqlxrepos"
	"github.com/trezcool/masomo-results/storage/redisstore"
)

type Backend struct {
	Users user.Repository
	Cards scratchcard.Store

	db    *sqlx.DB
	redis *redis.Client
}

// Open sets up the repositories of conf.StorageDriver:
//  - postgres: users and scratch cards in PostgreSQL, migrated up on open
//  - redis: users in PostgreSQL, scratch cards in Redis
//  - memory: everything in process, lost on exit
func Open(ctx context.Context, conf *core.Config) (*Backend, error) {
	b := new(Backend)

	switch conf.StorageDriver {
	case core.StorageMemory:
		db := inmemdb.Open()
		b.Users = inmemdb.NewUserRepository(db)
		b.Cards = inmemdb.NewScratchCardStore(db)
		return b, nil

	case core.StoragePostgres, core.StorageRedis:
		db, err := openDB(ctx, conf)
		if err != nil {
			return nil, err
		}
		b.db = db
		b.Users = sqlxrepos.NewUserRepository(db)
		b.Cards = sqlxrepos.NewScratchCardStore(db)

		if conf.StorageDriver == core.StorageRedis {
			client, err := redisstore.Connect(ctx, conf.Redis.URL)
			if err != nil {
				_ = b.Close()
				return nil, err
			}
			b.redis = client
			b.Cards = redisstore.NewCardStore(client, conf.Redis.KeyPrefix)
		}
		return b, nil
	}
	return nil, errors.Errorf("unknown storage driver %q", conf.StorageDriver)
}

func openDB(ctx context.Context, conf *core.Config) (*sqlx.DB, error) {
	if err := database.CreateIfNotExist(ctx, conf); err != nil {
		return nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}
	if err = database.Ping(ctx, db.DB); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err = database.Migrate(db.DB, "up"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// DB is the PostgreSQL handle, nil with the memory driver.
func (b *Backend) DB() *sqlx.DB {
	return b.db
}

func (b *Backend) Close() error {
	var err error
	if b.redis != nil {
		err = errors.Wrap(b.redis.Close(), "closing redis client")
	}
	if b.db != nil {
		if dbErr := b.db.Close(); dbErr != nil && err == nil {
			err = errors.Wrap(dbErr, "closing database")
		}
	}
	return err
}
