package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteOptions controls how the embedded database file is opened.
type SQLiteOptions struct {
	Path    string
	WALMode bool
}

// DSN builds the modernc connection string. Foreign keys are always enforced.
func (o SQLiteOptions) DSN() string {
	pragmas := []string{"_pragma=foreign_keys(1)", "_pragma=busy_timeout(5000)"}
	if o.WALMode {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)")
	}
	return o.Path + "?" + strings.Join(pragmas, "&")
}

// OpenSQLite opens the database file, creating its parent directory when
// missing, and verifies the connection.
func OpenSQLite(ctx context.Context, opts SQLiteOptions) (*sql.DB, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("open sqlite: empty path")
	}
	if opts.Path != ":memory:" {
		if dir := filepath.Dir(opts.Path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory %s: %w", dir, err)
			}
		}
	}

	conn, err := sql.Open("sqlite", opts.DSN())
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", opts.Path, err)
	}
	// One writer at a time; readers share the same handle.
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", opts.Path, err)
	}
	return conn, nil
}
