package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no --config flag is given. A missing default file
// is not an error.
const DefaultPath = "config/config.yaml"

type Config struct {
	App       AppConfig       `mapstructure:"app" yaml:"app"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Clinic    ClinicConfig    `mapstructure:"clinic" yaml:"clinic"`
	Dashboard DashboardConfig `mapstructure:"dashboard" yaml:"dashboard"`
	Query     QueryConfig     `mapstructure:"query" yaml:"query"`
	Backup    BackupConfig    `mapstructure:"backup" yaml:"backup"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`

	// Path is the file the values were read from, empty when none was found.
	Path string `mapstructure:"-" yaml:"-"`
}

type AppConfig struct {
	Title  string `mapstructure:"title" yaml:"title"`
	Locale string `mapstructure:"locale" yaml:"locale"`
}

type StorageConfig struct {
	Driver      string `mapstructure:"driver" yaml:"driver"`
	DBPath      string `mapstructure:"db_path" yaml:"db_path"`
	DatabaseURL string `mapstructure:"database_url" yaml:"database_url"`
	WALMode     bool   `mapstructure:"wal_mode" yaml:"wal_mode"`
	MaxConns    int32  `mapstructure:"max_conns" yaml:"max_conns"`
	MinConns    int32  `mapstructure:"min_conns" yaml:"min_conns"`
	BackupsDir  string `mapstructure:"backups_dir" yaml:"backups_dir"`
}

type ClinicConfig struct {
	PaymentMethods   []string     `mapstructure:"payment_methods" yaml:"payment_methods"`
	Cytologies       []string     `mapstructure:"cytologies" yaml:"cytologies"`
	Biopsies         []string     `mapstructure:"biopsies" yaml:"biopsies"`
	HistologyCenters []string     `mapstructure:"histology_centers" yaml:"histology_centers"`
	Limits           LimitsConfig `mapstructure:"limits" yaml:"limits"`
}

type LimitsConfig struct {
	MaxCytologiesPerVisit int `mapstructure:"max_cytologies_per_visit" yaml:"max_cytologies_per_visit"`
	MaxBiopsiesPerVisit   int `mapstructure:"max_biopsies_per_visit" yaml:"max_biopsies_per_visit"`
}

type DashboardConfig struct {
	OverdueDays int `mapstructure:"overdue_days" yaml:"overdue_days"`
}

type QueryConfig struct {
	DefaultLimit int `mapstructure:"default_limit" yaml:"default_limit"`
	MaxLimit     int `mapstructure:"max_limit" yaml:"max_limit"`
}

type BackupConfig struct {
	S3 S3Config `mapstructure:"s3" yaml:"s3"`
}

type S3Config struct {
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix"`
	Region    string `mapstructure:"region" yaml:"region"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	PathStyle bool   `mapstructure:"path_style" yaml:"path_style"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.title", "Consultorio - Offline")
	v.SetDefault("app.locale", "es_VE")

	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.db_path", "./data/consultorio.db")
	v.SetDefault("storage.database_url", "")
	v.SetDefault("storage.wal_mode", true)
	v.SetDefault("storage.max_conns", 4)
	v.SetDefault("storage.min_conns", 1)
	v.SetDefault("storage.backups_dir", "./backups")

	v.SetDefault("clinic.payment_methods", []string{"efectivo", "transferencia", "punto_de_venta", "divisas"})
	v.SetDefault("clinic.cytologies", []string{"PAP", "MD", "MI"})
	v.SetDefault("clinic.biopsies", []string{
		"Cuello uterino", "Asa Leep", "Endometrio", "Pólipo cervical",
		"Vaginal", "Vulvar", "Cono", "Otro",
	})
	v.SetDefault("clinic.histology_centers", []string{})
	v.SetDefault("clinic.limits.max_cytologies_per_visit", 3)
	v.SetDefault("clinic.limits.max_biopsies_per_visit", 1)

	v.SetDefault("dashboard.overdue_days", 30)

	v.SetDefault("query.default_limit", 500)
	v.SetDefault("query.max_limit", 1500)

	v.SetDefault("backup.s3.bucket", "")
	v.SetDefault("backup.s3.prefix", "")
	v.SetDefault("backup.s3.region", "us-east-1")
	v.SetDefault("backup.s3.endpoint", "")
	v.SetDefault("backup.s3.path_style", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load reads path (or DefaultPath when empty), applies GYNLAB_ environment
// overrides and validates the result. An explicitly named file must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GYNLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	found := true
	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) || explicit {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		found = false
	}
	if found {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if found {
		cfg.Path = path
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalize trims list entries and drops empty ones.
func (c *Config) normalize() {
	c.Clinic.PaymentMethods = cleanList(c.Clinic.PaymentMethods)
	c.Clinic.Cytologies = cleanList(c.Clinic.Cytologies)
	c.Clinic.Biopsies = cleanList(c.Clinic.Biopsies)
	c.Clinic.HistologyCenters = cleanList(c.Clinic.HistologyCenters)
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// YAML renders the effective configuration. A password in the database URL
// is masked.
func (c *Config) YAML() ([]byte, error) {
	shown := *c
	if u, err := url.Parse(shown.Storage.DatabaseURL); err == nil && u.User != nil {
		shown.Storage.DatabaseURL = u.Redacted()
	}
	return yaml.Marshal(&shown)
}

// IsPostgres reports whether the PostgreSQL backend is selected.
func (c *Config) IsPostgres() bool {
	return c.Storage.Driver == DriverPostgres
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.DBPath == "" {
			return fmt.Errorf("storage.db_path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("storage.database_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Storage.Driver)
	}

	if c.Query.DefaultLimit <= 0 || c.Query.MaxLimit <= 0 {
		return fmt.Errorf("query limits must be positive (default_limit=%d, max_limit=%d)", c.Query.DefaultLimit, c.Query.MaxLimit)
	}
	if c.Query.DefaultLimit > c.Query.MaxLimit {
		return fmt.Errorf("query.default_limit (%d) exceeds query.max_limit (%d)", c.Query.DefaultLimit, c.Query.MaxLimit)
	}

	if len(c.Clinic.PaymentMethods) == 0 {
		return fmt.Errorf("clinic.payment_methods must not be empty")
	}
	if c.Clinic.Limits.MaxCytologiesPerVisit < 0 || c.Clinic.Limits.MaxBiopsiesPerVisit < 0 {
		return fmt.Errorf("clinic.limits must not be negative")
	}
	if c.Dashboard.OverdueDays < 0 {
		return fmt.Errorf("dashboard.overdue_days must not be negative, got %d", c.Dashboard.OverdueDays)
	}

	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be \"console\" or \"json\", got %q", c.Log.Format)
	}
	return nil
}
