package db

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schema string

// RetentionPeriod is how long an unsaved project is kept.
const RetentionPeriod = 7 * 24 * time.Hour

type DB struct {
	*sql.DB
	now func() time.Time
}

func New(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(20)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return Wrap(conn), nil
}

// Wrap builds a DB around an existing connection pool.
func Wrap(conn *sql.DB) *DB {
	return &DB{DB: conn, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the time source used for stamps and periods.
func (db *DB) WithClock(now func() time.Time) *DB {
	db.now = now
	return db
}

// Now returns the store's notion of the current time.
func (db *DB) Now() time.Time {
	return db.now()
}

// Migrate applies the embedded schema. Statements are idempotent.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
