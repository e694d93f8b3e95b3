package client

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/dmitrijs2005/ddictl/internal/client/migrations"
	"github.com/dmitrijs2005/ddictl/internal/filex"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

// StateFileName is the checkpoint database inside the state directory.
const StateFileName = "state.db"

func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, ".")
}

func InitDatabase(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One writer keeps SQLite from returning SQLITE_BUSY between uploads.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", dsn, err)
	}
	return db, nil
}

// OpenState creates dir if needed and opens the checkpoint database in it.
func OpenState(ctx context.Context, dir string) (*sql.DB, error) {
	abs, err := filex.EnsureDir(dir)
	if err != nil {
		return nil, err
	}
	return InitDatabase(ctx, filepath.Join(abs, StateFileName))
}
