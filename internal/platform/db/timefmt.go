package db

import (
	"database/sql"
	"fmt"
	"time"
)

// TimeLayout is the layout of timestamps stored as TEXT in SQLite. Values
// are wall-clock local time, which keeps date() comparisons readable.
const TimeLayout = "2006-01-02 15:04:05"

// DateLayout is the layout of calendar dates stored as TEXT.
const DateLayout = "2006-01-02"

// FormatTime renders t for storage.
func FormatTime(t time.Time) string {
	return t.In(time.Local).Format(TimeLayout)
}

// NullTime renders an optional timestamp for storage.
func NullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return FormatTime(*t)
}

// ParseTime parses a stored timestamp. Date-only values are accepted.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range []string{TimeLayout, time.RFC3339Nano, DateLayout} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q", s)
}

// ParseNullTime converts a scanned nullable column.
func ParseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := ParseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// NullString converts an optional string for storage; empty becomes NULL.
func NullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
