package database

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq" // registers the "postgres" database/sql driver
	"github.com/spacehub/booking-backend/internal/config"
)

const (
	driverPQ  = "postgres"
	driverPGX = "pgx"

	// raised by the bookings_no_overlap exclusion constraint
	pgExclusionViolation = "23P01"
)

// NewConnection opens a pooled connection to the bookings database using the
// configured driver and verifies it with a ping
func NewConnection(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	driver := cfg.Driver
	if driver == "" {
		driver = driverPQ
	}
	if driver != driverPQ && driver != driverPGX {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	dsn := cfg.URL
	if driver == driverPGX {
		var err error
		if dsn, err = withSimpleProtocol(dsn); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		db.SetConnMaxIdleTime(cfg.ConnMaxLifetime / 2)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// withSimpleProtocol turns off pgx's per-connection statement cache, which
// breaks behind transaction poolers such as pgbouncer. URLs that already
// choose an exec mode are left alone.
func withSimpleProtocol(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid database URL: %w", err)
	}
	q := u.Query()
	if q.Get("default_query_exec_mode") == "" {
		q.Set("default_query_exec_mode", "simple_protocol")
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// sqlState extracts the SQLSTATE from either driver's error type
func sqlState(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// isOverlapViolation reports whether err came from the bookings exclusion constraint
func isOverlapViolation(err error) bool {
	return sqlState(err) == pgExclusionViolation
}
