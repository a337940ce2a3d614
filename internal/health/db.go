// Package health provides health check implementations for external dependencies.
package health

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/db"
)

// ErrTrigramMissing is reported when the database lacks pg_trgm.
var ErrTrigramMissing = errors.New(db.TrigramRequirement)

// DBChecker checks that Postgres is reachable and has the extensions the
// similarity queries depend on.
type DBChecker struct {
	db *sql.DB
}

// NewDBChecker creates a new database health checker.
func NewDBChecker(conn *sql.DB) *DBChecker {
	return &DBChecker{db: conn}
}

// HealthCheck pings the database and verifies pg_trgm is installed.
func (d *DBChecker) HealthCheck(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	ok, err := db.HasTrigram(ctx, d.db)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTrigramMissing
	}
	return nil
}
