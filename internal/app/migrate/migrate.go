package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

const applyTimeout = time.Minute

// Up applies all pending migrations from dir against the database at dsn.
func Up(ctx context.Context, dsn, dir string, log *slog.Logger) error {
	return run(ctx, dsn, dir, func(ctx context.Context, db *sql.DB) error {
		log.Info("applying migrations", "dir", dir)
		if err := goose.UpContext(ctx, db, dir); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		log.Info("migrations applied")
		return nil
	})
}

// Down rolls back the most recent migration, or down to targetVersion when
// targetVersion is positive.
func Down(ctx context.Context, dsn, dir string, targetVersion int64, log *slog.Logger) error {
	return run(ctx, dsn, dir, func(ctx context.Context, db *sql.DB) error {
		if targetVersion > 0 {
			log.Info("rolling back migrations", "target", targetVersion)
			if err := goose.DownToContext(ctx, db, dir, targetVersion); err != nil {
				return fmt.Errorf("rollback to version %d: %w", targetVersion, err)
			}
			return nil
		}
		log.Info("rolling back latest migration")
		if err := goose.DownContext(ctx, db, dir); err != nil {
			return fmt.Errorf("rollback latest migration: %w", err)
		}
		return nil
	})
}

// Status prints applied and pending migrations.
func Status(ctx context.Context, dsn, dir string, log *slog.Logger) error {
	return run(ctx, dsn, dir, func(ctx context.Context, db *sql.DB) error {
		log.Info("migration status", "dir", dir)
		if err := goose.StatusContext(ctx, db, dir); err != nil {
			return fmt.Errorf("migration status: %w", err)
		}
		return nil
	})
}

func run(ctx context.Context, dsn, dir string, fn func(context.Context, *sql.DB) error) error {
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("locate migrations dir: %w", err)
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("configure goose: %w", err)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open sql connection: %w", err)
	}
	defer db.Close()

	runCtx, cancel := context.WithTimeout(ctx, applyTimeout)
	defer cancel()

	if err := db.PingContext(runCtx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return fn(runCtx, db)
}
