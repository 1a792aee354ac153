package main

import (
	"database/sql"
	"fmt"

	"github.com/macterra/Axio-sub002/pkg/config"
	"github.com/macterra/Axio-sub002/pkg/journal"

	_ "modernc.org/sqlite"
)

// openSnapshotStore selects a snapshot backend by name. "none" disables
// snapshotting and returns a nil store. The closer is always safe to call.
func openSnapshotStore(cfg *config.Config, backend string) (journal.SnapshotStore, func() error, error) {
	noop := func() error { return nil }

	switch backend {
	case "none":
		return nil, noop, nil
	case "memory":
		// Snapshots last only for the process lifetime; fine for dev runs.
		return journal.NewMemorySnapshotStore(), noop, nil
	case "sqlite":
		db, err := sql.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			return nil, noop, fmt.Errorf("open sqlite at %s: %w", cfg.SQLitePath, err)
		}
		store, err := journal.NewSQLiteSnapshotStore(db)
		if err != nil {
			_ = db.Close()
			return nil, noop, err
		}
		return store, db.Close, nil
	case "postgres":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, noop, fmt.Errorf("connect to postgres: %w", err)
		}
		store, err := journal.NewPostgresSnapshotStore(db)
		if err != nil {
			_ = db.Close()
			return nil, noop, err
		}
		return store, db.Close, nil
	case "redis":
		store := journal.NewRedisSnapshotStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		return store, store.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown snapshot backend %q (want none, memory, sqlite, postgres or redis)", backend)
	}
}
