// Package storage wires the configured database backend into stores.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskpilot/taskpilot/internal/config"
	"github.com/taskpilot/taskpilot/internal/convo"
	"github.com/taskpilot/taskpilot/internal/task"
)

// Stores bundles the persistence layer behind one open/close lifecycle.
// Both stores share a single connection pool (or SQLite handle).
type Stores struct {
	Tasks task.Store
	Convo convo.Store

	closeFn func() error
}

// Close releases the underlying database resources.
func (s *Stores) Close() error {
	if s.closeFn != nil {
		return s.closeFn()
	}
	return nil
}

// Open selects postgres when a database URL is configured, otherwise a
// SQLite file. An empty config yields SQLite at the default path.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Stores, error) {
	if strings.TrimSpace(cfg.URL) != "" {
		return openPostgres(ctx, cfg.URL)
	}

	path := cfg.Path
	if path == "" {
		path = "taskpilot.db"
	}
	return openSQLite(path)
}

func openPostgres(ctx context.Context, url string) (*Stores, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	tasks, err := task.NewPostgresStoreFromPool(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	convos, err := convo.NewPostgresStoreFromPool(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &Stores{
		Tasks: tasks,
		Convo: convos,
		closeFn: func() error {
			pool.Close()
			return nil
		},
	}, nil
}

func openSQLite(path string) (*Stores, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	tasks, err := task.NewSQLiteStoreFromDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	convos, err := convo.NewSQLiteStoreFromDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Stores{
		Tasks:   tasks,
		Convo:   convos,
		closeFn: db.Close,
	}, nil
}

// InMemory returns process-local stores for tests and one-shot runs.
func InMemory() *Stores {
	return &Stores{
		Tasks: task.NewInMemoryStore(),
		Convo: convo.NewInMemoryStore(),
	}
}
