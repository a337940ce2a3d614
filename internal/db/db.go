// Package db provides database connection handling and schema migrations.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// TrigramRequirement documents that the application requires the pg_trgm extension.
// pg_trgm backs duplicate detection and related-descriptor discovery.
const TrigramRequirement = "pg_trgm extension is required for similarity queries"

// TrigramCheckQuery is the SQL query to verify pg_trgm is installed.
const TrigramCheckQuery = "SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'pg_trgm')"

// PoolConfig bounds the connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPoolConfig returns the pool settings used by the API server.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, databaseURL string, pool PoolConfig) (*sql.DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(pool.MaxOpenConns)
	conn.SetMaxIdleConns(pool.MaxIdleConns)
	conn.SetConnMaxLifetime(pool.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return conn, nil
}

// HasTrigram reports whether pg_trgm is installed in the connected database.
func HasTrigram(ctx context.Context, conn *sql.DB) (bool, error) {
	var ok bool
	if err := conn.QueryRowContext(ctx, TrigramCheckQuery).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to check pg_trgm: %w", err)
	}
	return ok, nil
}
