package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/marmos91/scalebridge/pkg/storage"
)

// RelationalConfig selects the relational database for discrete readings.
type RelationalConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `mapstructure:"driver" yaml:"driver"`

	// Path is the SQLite database file.
	Path string `mapstructure:"path" yaml:"path"`

	// DSN is the PostgreSQL connection string.
	DSN string `mapstructure:"dsn" yaml:"dsn"`

	// BatchSize bounds a single INSERT during batched writes.
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *RelationalConfig) ApplyDefaults() {
	if c.Driver == "" {
		c.Driver = "sqlite"
	}
	if c.Driver == "sqlite" && c.Path == "" {
		configDir := os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			homeDir, _ := os.UserHomeDir()
			configDir = filepath.Join(homeDir, ".config")
		}
		c.Path = filepath.Join(configDir, "scalebridge", "readings.db")
	}
	if c.BatchSize == 0 {
		c.BatchSize = 200
	}
}

// Relational persists readings in a SQL database.
type Relational struct {
	name   string
	cfg    RelationalConfig
	health healthState

	db *gorm.DB
}

var _ storage.Repository = (*Relational)(nil)

// NewRelational creates the relational backend. The database is opened on
// Connect.
func NewRelational(name string, cfg RelationalConfig) *Relational {
	cfg.ApplyDefaults()
	return &Relational{name: name, cfg: cfg}
}

func (r *Relational) Name() string { return r.name }

func (r *Relational) Connect(ctx context.Context) error {
	var dialector gorm.Dialector
	switch r.cfg.Driver {
	case "sqlite":
		if r.cfg.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(r.cfg.Path), 0o755); err != nil {
				return fmt.Errorf("create database directory: %w", err)
			}
		}
		dialector = sqlite.Open(r.cfg.Path)
	case "postgres":
		dialector = postgres.Open(r.cfg.DSN)
	default:
		return fmt.Errorf("unsupported relational driver %q", r.cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		r.health.record(0, err)
		return fmt.Errorf("open readings database: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&storage.Reading{}); err != nil {
		r.health.record(0, err)
		return fmt.Errorf("migrate readings schema: %w", err)
	}

	r.db = db
	r.health.setConnected(true)
	return nil
}

func (r *Relational) Disconnect(ctx context.Context) error {
	r.health.setConnected(false)
	if r.db == nil {
		return nil
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r *Relational) TestConnectivity(ctx context.Context) error {
	if r.db == nil {
		return fmt.Errorf("relational backend %s not connected", r.name)
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	start := time.Now()
	err = sqlDB.PingContext(ctx)
	r.health.record(time.Since(start), err)
	return err
}

func (r *Relational) Health(ctx context.Context) storage.Health {
	return r.health.snapshot()
}

func (r *Relational) Write(ctx context.Context, reading *storage.Reading) error {
	if r.db == nil {
		return fmt.Errorf("relational backend %s not connected", r.name)
	}
	start := time.Now()
	err := r.db.WithContext(ctx).Create(reading).Error
	r.health.record(time.Since(start), err)
	if err != nil {
		return fmt.Errorf("write reading: %w", err)
	}
	return nil
}

func (r *Relational) WriteBatch(ctx context.Context, rs []*storage.Reading) (int, error) {
	if r.db == nil {
		return 0, fmt.Errorf("relational backend %s not connected", r.name)
	}
	if len(rs) == 0 {
		return 0, nil
	}
	start := time.Now()
	err := r.db.WithContext(ctx).CreateInBatches(rs, r.cfg.BatchSize).Error
	r.health.record(time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("write batch: %w", err)
	}
	return len(rs), nil
}
