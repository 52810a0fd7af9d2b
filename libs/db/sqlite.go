package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens a file-backed SQLite database with foreign keys and WAL
// enabled. Writes are serialized through a single connection.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path
	}
	dsn += sqliteParams(dsn)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return conn, nil
}

func sqliteParams(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return sep + "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

func SQLiteReadyCheck(conn *sql.DB) func(context.Context) error {
	return func(ctx context.Context) error {
		if conn == nil {
			return errors.New("sqlite not configured")
		}
		return conn.PingContext(ctx)
	}
}
