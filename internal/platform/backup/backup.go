// Package backup snapshots the embedded database and ships the snapshot to
// a destination directory or an S3 bucket.
package backup

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// SnapshotPrefix names every snapshot file.
const SnapshotPrefix = "consultorio"

// Destination stores a finished snapshot and returns where it went.
type Destination interface {
	Store(ctx context.Context, name string, r io.Reader) (string, error)
}

// Result describes a completed backup.
type Result struct {
	LocalPath string
	Remote    string
	Size      int64
}

// SnapshotName returns the file name used for a snapshot taken at t.
func SnapshotName(t time.Time) string {
	return fmt.Sprintf("%s-%s.db", SnapshotPrefix, t.Format("20060102-150405"))
}

// Snapshot writes a consistent copy of the database into dir using
// VACUUM INTO and returns the file path. The target file must not exist.
func Snapshot(ctx context.Context, conn *sql.DB, dir string, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backups directory %s: %w", dir, err)
	}
	target := filepath.Join(dir, SnapshotName(now))
	if _, err := os.Stat(target); err == nil {
		return "", fmt.Errorf("snapshot %s already exists", target)
	}
	if _, err := conn.ExecContext(ctx, "VACUUM INTO ?", target); err != nil {
		return "", fmt.Errorf("vacuum into %s: %w", target, err)
	}
	return target, nil
}

// Run takes a snapshot into dir and, when dest is non-nil, uploads it.
func Run(ctx context.Context, conn *sql.DB, dir string, dest Destination, now time.Time, logger zerolog.Logger) (Result, error) {
	local, err := Snapshot(ctx, conn, dir, now)
	if err != nil {
		return Result{}, err
	}
	info, err := os.Stat(local)
	if err != nil {
		return Result{}, fmt.Errorf("stat snapshot: %w", err)
	}
	res := Result{LocalPath: local, Size: info.Size()}
	logger.Info().Str("path", local).Int64("bytes", res.Size).Msg("database snapshot written")

	if dest == nil {
		return res, nil
	}

	f, err := os.Open(local)
	if err != nil {
		return res, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	remote, err := dest.Store(ctx, filepath.Base(local), f)
	if err != nil {
		return res, fmt.Errorf("upload snapshot: %w", err)
	}
	res.Remote = remote
	logger.Info().Str("destination", remote).Msg("database snapshot uploaded")
	return res, nil
}

// FileDestination copies snapshots into a directory.
type FileDestination struct {
	Dir string
}

func (d FileDestination) Store(_ context.Context, name string, r io.Reader) (string, error) {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create destination %s: %w", d.Dir, err)
	}
	target := filepath.Join(d.Dir, name)
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", target, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return "", fmt.Errorf("copy to %s: %w", target, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", target, err)
	}
	return target, nil
}

// Target is a parsed --to argument.
type Target struct {
	Scheme string // "s3" or "file"
	Bucket string
	Prefix string
	Dir    string
}

// ParseTarget accepts "s3://bucket/prefix" or a directory path.
func ParseTarget(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Target{}, fmt.Errorf("empty backup target")
	}
	if rest, ok := strings.CutPrefix(raw, "s3://"); ok {
		bucket, prefix, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return Target{}, fmt.Errorf("backup target %q has no bucket", raw)
		}
		return Target{Scheme: "s3", Bucket: bucket, Prefix: strings.Trim(prefix, "/")}, nil
	}
	return Target{Scheme: "file", Dir: raw}, nil
}
