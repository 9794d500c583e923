package cockroach

import (
	"embed"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var MigrationsFS embed.FS

type Cockroach struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Cockroach {
	return &Cockroach{
		pool: pool,
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func where(filters []string) string {
	if len(filters) == 0 {
		return ""
	}

	return " WHERE " + strings.Join(filters, " AND ") + " "
}
