// Package app assembles the clinic core from a configuration: storage
// backend, migrations, domain services and the operational side (metrics,
// backups, configuration reload).
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/gynlab/gynlab/internal/config"
	"github.com/gynlab/gynlab/internal/domain/patient"
	"github.com/gynlab/gynlab/internal/domain/study"
	"github.com/gynlab/gynlab/internal/domain/visit"
	"github.com/gynlab/gynlab/internal/platform/backup"
	"github.com/gynlab/gynlab/internal/platform/db"
	"github.com/gynlab/gynlab/internal/platform/telemetry"
)

// Options tunes Open.
type Options struct {
	// AutoMigrate applies pending migrations right after connecting.
	AutoMigrate bool
	// Now replaces time.Now in every service.
	Now func() time.Time
}

// App holds the wired services of one process.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Metrics *telemetry.Metrics

	Patients *patient.Service
	Visits   *visit.Service
	Studies  *study.Service

	sqlite   *sql.DB
	pool     *pgxpool.Pool
	migrator *db.Migrator
	now      func() time.Time
}

// Open connects to the configured backend and builds the services.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*App, error) {
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: telemetry.New(),
		now:     opts.Now,
	}
	if a.now == nil {
		a.now = time.Now
	}

	var (
		tx          db.Transactor
		patientRepo patient.Repository
		visitRepo   visit.Repository
		studyRepo   study.Repository
		centerRepo  study.CenterRepository
	)
	if cfg.IsPostgres() {
		pool, err := db.NewPool(ctx, cfg.Storage.DatabaseURL, cfg.Storage.MaxConns, cfg.Storage.MinConns)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		a.migrator = db.NewPGMigrator(pool)
		tx = db.PGTransactor{Pool: pool}
		patientRepo = patient.NewRepoPG(pool)
		visitRepo = visit.NewRepoPG(pool)
		studyRepo = study.NewRepoPG(pool)
		centerRepo = study.NewCenterRepoPG(pool)
	} else {
		conn, err := db.OpenSQLite(ctx, db.SQLiteOptions{Path: cfg.Storage.DBPath, WALMode: cfg.Storage.WALMode})
		if err != nil {
			return nil, err
		}
		a.sqlite = conn
		a.migrator = db.NewSQLiteMigrator(conn)
		tx = db.SQLTransactor{DB: conn}
		patientRepo = patient.NewRepoSQLite(conn)
		visitRepo = visit.NewRepoSQLite(conn)
		studyRepo = study.NewRepoSQLite(conn)
		centerRepo = study.NewCenterRepoSQLite(conn)
	}
	logger.Debug().Str("driver", cfg.Storage.Driver).Msg("storage opened")

	a.Studies = study.NewService(studyRepo, centerRepo, tx, studyConfig(cfg),
		study.WithClock(a.now),
		study.WithRecorder(a.Metrics),
		study.WithLogger(logger.With().Str("component", "study").Logger()))
	a.Patients = patient.NewService(patientRepo, tx, logger.With().Str("component", "patient").Logger())
	a.Patients.SetClock(a.now)
	a.Visits = visit.NewService(visitRepo, a.Patients, a.Studies, tx, visitConfig(cfg),
		logger.With().Str("component", "visit").Logger())
	a.Visits.SetClock(a.now)

	if opts.AutoMigrate {
		if _, err := a.Migrate(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func studyConfig(cfg *config.Config) study.Config {
	return study.Config{
		OverdueDays:      cfg.Dashboard.OverdueDays,
		DefaultLimit:     cfg.Query.DefaultLimit,
		MaxLimit:         cfg.Query.MaxLimit,
		SuggestedCenters: cfg.Clinic.HistologyCenters,
	}
}

func visitConfig(cfg *config.Config) visit.Config {
	return visit.Config{
		PaymentMethods: cfg.Clinic.PaymentMethods,
		Cytologies:     cfg.Clinic.Cytologies,
		Biopsies:       cfg.Clinic.Biopsies,
		MaxCytologies:  cfg.Clinic.Limits.MaxCytologiesPerVisit,
		MaxBiopsies:    cfg.Clinic.Limits.MaxBiopsiesPerVisit,
	}
}

// Migrate applies every pending migration and returns how many ran.
func (a *App) Migrate(ctx context.Context) (int, error) {
	n, err := a.migrator.Up(ctx)
	if err != nil {
		return n, fmt.Errorf("migration failed: %w", err)
	}
	if n > 0 {
		a.Logger.Info().Int("applied", n).Msg("migrations applied")
	}
	return n, nil
}

// MigrationStatus lists every known migration and whether it ran.
func (a *App) MigrationStatus(ctx context.Context) ([]db.MigrationStatus, error) {
	return a.migrator.Status(ctx)
}

// Reload re-reads the configuration file and pushes the new clinic values
// into the services. Storage settings need a restart and are ignored.
func (a *App) Reload() error {
	cfg, err := config.Load(a.Config.Path)
	if err != nil {
		return err
	}
	cfg.Storage = a.Config.Storage
	a.Studies.Reload(studyConfig(cfg))
	a.Visits.Reload(visitConfig(cfg))
	a.Config = cfg
	a.Logger.Info().Str("path", cfg.Path).Msg("configuration reloaded")
	return nil
}

// Dashboard is the summary shown on the main screen.
type Dashboard struct {
	Pending     map[study.State]int
	Overdue     []study.Row
	OverdueDays int
	Cutoff      time.Time
}

// Dashboard computes the pending counts and the overdue list and refreshes
// the matching gauges.
func (a *App) Dashboard(ctx context.Context) (*Dashboard, error) {
	pending, err := a.Studies.PendingCounts(ctx)
	if err != nil {
		return nil, err
	}
	overdue, err := a.Studies.Overdue(ctx)
	if err != nil {
		return nil, err
	}

	gauges := make(map[string]int, len(pending))
	for st, n := range pending {
		gauges[string(st)] = n
	}
	a.Metrics.SetPending(gauges)
	a.Metrics.SetOverdue(len(overdue))

	return &Dashboard{
		Pending:     pending,
		Overdue:     overdue,
		OverdueDays: a.Config.Dashboard.OverdueDays,
		Cutoff:      a.Studies.OverdueCutoff(),
	}, nil
}

// Backup snapshots the SQLite database into storage.backups_dir and, when
// target is set, copies the snapshot there ("s3://bucket/prefix" or a
// directory). Region, endpoint and path style come from backup.s3.
func (a *App) Backup(ctx context.Context, target string) (backup.Result, error) {
	if a.sqlite == nil {
		return backup.Result{}, fmt.Errorf("backup supports the sqlite driver only; use pg_dump for postgres")
	}
	dest, err := a.destination(ctx, target)
	if err != nil {
		return backup.Result{}, err
	}
	return backup.Run(ctx, a.sqlite, a.Config.Storage.BackupsDir, dest, a.now(), a.Logger)
}

func (a *App) destination(ctx context.Context, target string) (backup.Destination, error) {
	if target == "" {
		return nil, nil
	}
	t, err := backup.ParseTarget(target)
	if err != nil {
		return nil, err
	}
	if t.Scheme == "file" {
		return backup.FileDestination{Dir: t.Dir}, nil
	}
	s3cfg := a.Config.Backup.S3
	prefix := t.Prefix
	if prefix == "" {
		prefix = s3cfg.Prefix
	}
	dest, err := backup.NewS3Destination(ctx, backup.S3Options{
		Bucket:    t.Bucket,
		Prefix:    prefix,
		Region:    s3cfg.Region,
		Endpoint:  s3cfg.Endpoint,
		PathStyle: s3cfg.PathStyle,
	})
	if err != nil {
		return nil, err
	}
	return dest, nil
}

// S3Target returns the configured default bucket as a backup target, or "".
func (a *App) S3Target() string {
	if a.Config.Backup.S3.Bucket == "" {
		return ""
	}
	return "s3://" + a.Config.Backup.S3.Bucket + "/" + a.Config.Backup.S3.Prefix
}

// Close releases the storage connections.
func (a *App) Close() {
	if a.sqlite != nil {
		a.sqlite.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
