package persistence

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	// Database drivers registered by side effect.
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/cohort-dev/cohort/internal/common/config"
)

// Open builds the Store selected by the database configuration.
func Open(cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case "memory", "":
		return NewMemoryStore(), nil
	case "sqlite":
		db, err := sqlx.Connect("sqlite3", cfg.Path+"?_journal_mode=WAL&_busy_timeout=5000")
		if err != nil {
			return nil, fmt.Errorf("open sqlite at %s: %w", cfg.Path, err)
		}
		// sqlite serialises writers; one connection avoids lock churn.
		db.SetMaxOpenConns(1)
		return NewSQLStore(db, "sqlite3")
	case "postgres":
		db, err := sqlx.Connect("pgx", cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if cfg.MaxConns > 0 {
			db.SetMaxOpenConns(cfg.MaxConns)
		}
		return NewSQLStore(db, "pgx")
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}
