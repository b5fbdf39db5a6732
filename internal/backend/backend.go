// Package backend opens the stores selected by configuration.
package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/simatei/kpi/internal/config"
	"github.com/simatei/kpi/internal/db"
	"github.com/simatei/kpi/internal/docstore"
	"github.com/simatei/kpi/internal/rawlog"
)

// Indexer is a document store that can build its indexes.
type Indexer interface {
	EnsureIndexes(ctx context.Context) error
}

// OpenDocStore connects to the configured document store.
func OpenDocStore(ctx context.Context, cfg *config.Config, logger *log.Logger) (docstore.Store, error) {
	switch cfg.DocStore {
	case "memory":
		logger.Warn("using the in-memory document store; data is lost on exit")
		return docstore.NewMemory(), nil
	case "mongo":
		s, err := docstore.OpenMongo(ctx, cfg.MongoURI, cfg.MongoDB, cfg.PoolSize)
		if err != nil {
			return nil, err
		}
		logger.Info("connected to MongoDB", "db", cfg.MongoDB)
		return s, nil
	case "oxidb":
		pool, err := db.NewPool(ctx, cfg.OxiDBAddr(), cfg.PoolSize, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("connected to OxiDB", "addr", cfg.OxiDBAddr(), "pool", cfg.PoolSize)
		return docstore.NewOxiDB(pool), nil
	}
	return nil, fmt.Errorf("unknown docstore %q", cfg.DocStore)
}

// EnsureIndexes builds the store's indexes, if it has any, logging the
// outcome.
func EnsureIndexes(ctx context.Context, store docstore.Store, logger *log.Logger) error {
	ix, ok := store.(Indexer)
	if !ok {
		return nil
	}
	start := time.Now()
	logger.Info("creating submission indexes (may take minutes on large datasets)")
	if err := ix.EnsureIndexes(ctx); err != nil {
		logger.Warn("index creation failed", "err", err)
		return err
	}
	logger.Info("indexes ready", "duration", time.Since(start).Round(time.Second))
	return nil
}

// OpenRawLog opens the configured raw submission log.
func OpenRawLog(ctx context.Context, cfg *config.Config) (rawlog.Store, error) {
	switch cfg.RawLogDriver {
	case "sqlite":
		s, err := rawlog.OpenSQLite(ctx, cfg.RawLogDSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := rawlog.OpenPostgres(ctx, cfg.RawLogDSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown rawlog driver %q", cfg.RawLogDriver)
}
