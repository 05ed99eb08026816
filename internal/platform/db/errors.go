package db

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/gynlab/gynlab/internal/platform/apperr"
)

// ErrNoRows is returned by repositories for a missing row on either backend.
var ErrNoRows = errors.New("no rows in result set")

// IsNoRows reports whether err signals an empty single-row query.
func IsNoRows(err error) bool {
	return errors.Is(err, ErrNoRows) || errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows)
}

// TranslateError maps unique and foreign-key violations of either backend
// to a conflict error. Other errors are returned unchanged.
func TranslateError(err error, msg string) error {
	if err == nil {
		return nil
	}
	if IsConstraintViolation(err) {
		return apperr.Conflict(msg, err)
	}
	return err
}

// IsConstraintViolation reports whether err is a unique, primary key or
// foreign key violation.
func IsConstraintViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE,
			sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY,
			sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return true
		}
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe.Code == "23505" || pe.Code == "23503"
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "FOREIGN KEY constraint failed")
}
