package backup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/gynlab/gynlab/internal/platform/db"
)

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = in
	b, _ := io.ReadAll(in.Body)
	f.body = b
	return &s3.PutObjectOutput{}, nil
}

func seededDB(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "consultorio.db")
	conn, err := db.OpenSQLite(ctx, db.SQLiteOptions{Path: path})
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if _, err := db.NewSQLiteMigrator(conn).Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return path
}

func TestRun_SnapshotAndFileDestination(t *testing.T) {
	ctx := context.Background()
	conn, err := db.OpenSQLite(ctx, db.SQLiteOptions{Path: seededDB(t)})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer conn.Close()

	now := time.Date(2024, 5, 1, 8, 30, 0, 0, time.Local)
	backups := filepath.Join(t.TempDir(), "backups")
	mirror := filepath.Join(t.TempDir(), "mirror")

	res, err := Run(ctx, conn, backups, FileDestination{Dir: mirror}, now, zerolog.Nop())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if filepath.Base(res.LocalPath) != "consultorio-20240501-083000.db" {
		t.Errorf("unexpected snapshot name %s", res.LocalPath)
	}
	if res.Size == 0 {
		t.Error("expected a non-empty snapshot")
	}
	if res.Remote != filepath.Join(mirror, "consultorio-20240501-083000.db") {
		t.Errorf("unexpected remote %s", res.Remote)
	}

	snap, err := db.OpenSQLite(ctx, db.SQLiteOptions{Path: res.LocalPath})
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	defer snap.Close()
	var n int
	if err := snap.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n); err != nil {
		t.Fatalf("query snapshot: %v", err)
	}
	if n != 2 {
		t.Errorf("expected migrations in snapshot, got %d", n)
	}

	if _, err := Snapshot(ctx, conn, backups, now); err == nil {
		t.Error("expected an error when the snapshot already exists")
	}
}

func TestS3Destination_Store(t *testing.T) {
	fake := &fakePutter{}
	d := &S3Destination{client: fake, bucket: "clinic", prefix: "nightly/"}

	loc, err := d.Store(context.Background(), "consultorio-1.db", bytes.NewReader([]byte("data")))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if loc != "s3://clinic/nightly/consultorio-1.db" {
		t.Errorf("unexpected location %s", loc)
	}
	if aws.ToString(fake.input.Key) != "nightly/consultorio-1.db" || aws.ToString(fake.input.Bucket) != "clinic" {
		t.Errorf("unexpected input %+v", fake.input)
	}
	if string(fake.body) != "data" {
		t.Errorf("unexpected body %q", fake.body)
	}

	fake.err = errors.New("access denied")
	if _, err := d.Store(context.Background(), "x.db", bytes.NewReader(nil)); err == nil {
		t.Error("expected upload error")
	}
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		raw     string
		want    Target
		wantErr bool
	}{
		{"s3://clinic/nightly/", Target{Scheme: "s3", Bucket: "clinic", Prefix: "nightly"}, false},
		{"s3://clinic", Target{Scheme: "s3", Bucket: "clinic"}, false},
		{"/mnt/usb", Target{Scheme: "file", Dir: "/mnt/usb"}, false},
		{"s3://", Target{}, true},
		{"  ", Target{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseTarget(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTarget(%q) error = %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("ParseTarget(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestFileDestination_RefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.db"), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := (FileDestination{Dir: dir}).Store(context.Background(), "a.db", bytes.NewReader([]byte("new"))); err == nil {
		t.Error("expected error when the destination file exists")
	}
}
