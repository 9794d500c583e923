package migrator

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate runs every not yet applied *.sql file of fsys in lexical order,
// all inside a single transaction.
func Migrate(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS) error {
	if err := ensureMigrationsTable(ctx, pool); err != nil {
		return err
	}

	matches, err := fs.Glob(fsys, "**/*.sql")
	if err != nil {
		return err
	}

	slices.Sort(matches)

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, match := range matches {
			name := strings.TrimSuffix(filepath.Base(match), ".sql")

			exists, err := migrationExists(ctx, tx, name)
			if err != nil {
				return err
			}

			if exists {
				continue
			}

			b, err := fs.ReadFile(fsys, match)
			if err != nil {
				return err
			}

			_, err = tx.Exec(ctx, string(b))
			if err != nil {
				return fmt.Errorf("sql run migration %s: %w", name, err)
			}

			if err := recordMigration(ctx, tx, name); err != nil {
				return err
			}
		}

		return nil
	})
}

func ensureMigrationsTable(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS migrations (
			name VARCHAR NOT NULL PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("sql create migrations table: %w", err)
	}
	return nil
}

func migrationExists(ctx context.Context, tx pgx.Tx, name string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM migrations WHERE name = $1
		)
	`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("sql check migration exists: %w", err)
	}
	return exists, nil
}

func recordMigration(ctx context.Context, tx pgx.Tx, name string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO migrations (name) VALUES ($1)
	`, name)
	if err != nil {
		return fmt.Errorf("sql record migration: %w", err)
	}
	return nil
}
