package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/marmos91/scalebridge/internal/logger"
	"github.com/marmos91/scalebridge/pkg/template"
)

// DatabaseType defines the supported database backends.
type DatabaseType string

const (
	// DatabaseTypeSQLite uses SQLite (single-node, default).
	DatabaseTypeSQLite DatabaseType = "sqlite"

	// DatabaseTypePostgres uses PostgreSQL.
	DatabaseTypePostgres DatabaseType = "postgres"
)

// SQLiteConfig contains SQLite-specific configuration.
type SQLiteConfig struct {
	// Path is the path to the SQLite database file.
	// Default: $XDG_CONFIG_HOME/scalebridge/templates.db
	Path string `mapstructure:"path" yaml:"path"`
}

// PostgresConfig contains PostgreSQL-specific configuration.
type PostgresConfig struct {
	Host         string `mapstructure:"host"           yaml:"host"`
	Port         int    `mapstructure:"port"           yaml:"port"`
	Database     string `mapstructure:"database"       yaml:"database"`
	User         string `mapstructure:"user"           yaml:"user"`
	Password     string `mapstructure:"password"       yaml:"password"`
	SSLMode      string `mapstructure:"ssl_mode"       yaml:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
}

// DSN returns the PostgreSQL connection string.
func (c *PostgresConfig) DSN() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		c.Host, c.Port, c.User, c.Password, c.Database)
	if c.SSLMode != "" {
		dsn += fmt.Sprintf(" sslmode=%s", c.SSLMode)
	}
	return dsn
}

// Config contains template database configuration.
type Config struct {
	Type     DatabaseType   `mapstructure:"type"     yaml:"type"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"   yaml:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Type == "" {
		c.Type = DatabaseTypeSQLite
	}

	if c.Type == DatabaseTypeSQLite && c.SQLite.Path == "" {
		configDir := os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			homeDir, _ := os.UserHomeDir()
			configDir = filepath.Join(homeDir, ".config")
		}
		c.SQLite.Path = filepath.Join(configDir, "scalebridge", "templates.db")
	}

	if c.Type == DatabaseTypePostgres {
		if c.Postgres.Port == 0 {
			c.Postgres.Port = 5432
		}
		if c.Postgres.SSLMode == "" {
			c.Postgres.SSLMode = "disable"
		}
		if c.Postgres.MaxOpenConns == 0 {
			c.Postgres.MaxOpenConns = 25
		}
		if c.Postgres.MaxIdleConns == 0 {
			c.Postgres.MaxIdleConns = 5
		}
	}
}

// record is the relational row for one template. The canonical JSON document
// is the source of truth; the indexed columns exist for ordering and the
// usage counters.
type record struct {
	TemplateName string `gorm:"primaryKey;size:128"`
	DisplayName  string `gorm:"size:256"`
	Manufacturer string `gorm:"size:128"`
	Priority     int
	IsBuiltin    bool
	IsActive     bool
	UsageCount   int64
	SuccessRate  float64
	LastUsedAt   *time.Time
	CreatedAt    time.Time
	ModifiedAt   time.Time
	Document     []byte `gorm:"type:bytes"`
}

func (record) TableName() string { return "templates" }

// GORMStore is the GORM-backed template store.
type GORMStore struct {
	db *gorm.DB
}

var _ Store = (*GORMStore)(nil)

// New opens the configured database, migrates the schema, and seeds the
// built-in catalog on first use.
func New(cfg *Config) (*GORMStore, error) {
	cfg.ApplyDefaults()

	var dialector gorm.Dialector
	switch cfg.Type {
	case DatabaseTypeSQLite:
		if cfg.SQLite.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		dialector = sqlite.Open(cfg.SQLite.Path)
	case DatabaseTypePostgres:
		dialector = postgres.Open(cfg.Postgres.DSN())
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open template database: %w", err)
	}

	if cfg.Type == DatabaseTypePostgres {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("access underlying database: %w", err)
		}
		sqlDB.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	}

	if err := db.AutoMigrate(&record{}); err != nil {
		return nil, fmt.Errorf("migrate template schema: %w", err)
	}

	s := &GORMStore{db: db}
	if err := s.seedBuiltins(); err != nil {
		return nil, err
	}
	return s, nil
}

// seedBuiltins inserts any built-in template missing from the database.
// Existing rows are left untouched so usage statistics survive restarts.
func (s *GORMStore) seedBuiltins() error {
	builtins, err := template.Builtins()
	if err != nil {
		return err
	}

	seeded := 0
	for _, t := range builtins {
		rec, err := toRecord(t)
		if err != nil {
			return err
		}
		res := s.db.Where("template_name = ?", t.TemplateName).
			Attrs(*rec).
			FirstOrCreate(&record{})
		if res.Error != nil {
			return fmt.Errorf("seed builtin %q: %w", t.TemplateName, res.Error)
		}
		if res.RowsAffected > 0 {
			seeded++
		}
	}
	if seeded > 0 {
		logger.Info("seeded builtin templates", "count", seeded)
	}
	return nil
}

func toRecord(t *template.Template) (*record, error) {
	doc, err := t.Marshal()
	if err != nil {
		return nil, fmt.Errorf("encode template %q: %w", t.TemplateName, err)
	}
	return &record{
		TemplateName: t.TemplateName,
		DisplayName:  t.DisplayName,
		Manufacturer: t.Manufacturer,
		Priority:     t.Priority,
		IsBuiltin:    t.IsBuiltin,
		IsActive:     t.IsActive,
		UsageCount:   t.UsageCount,
		SuccessRate:  t.SuccessRate,
		LastUsedAt:   t.LastUsedAt,
		CreatedAt:    t.CreatedAt,
		ModifiedAt:   t.ModifiedAt,
		Document:     doc,
	}, nil
}

func fromRecord(rec *record) (*template.Template, error) {
	t, err := template.Unmarshal(rec.Document)
	if err != nil {
		return nil, fmt.Errorf("decode template %q: %w", rec.TemplateName, err)
	}
	// Counter columns are authoritative: BumpUsage updates them in place.
	t.UsageCount = rec.UsageCount
	t.SuccessRate = rec.SuccessRate
	t.LastUsedAt = rec.LastUsedAt
	return t, nil
}

// List returns all templates ordered by effective priority descending.
func (s *GORMStore) List(ctx context.Context) ([]*template.Template, error) {
	var recs []record
	if err := s.db.WithContext(ctx).Order("template_name").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}

	out := make([]*template.Template, 0, len(recs))
	for i := range recs {
		t, err := fromRecord(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	sortByEffectivePriority(out)
	return out, nil
}

// Get returns a template by name.
func (s *GORMStore) Get(ctx context.Context, name string) (*template.Template, error) {
	var rec record
	err := s.db.WithContext(ctx).Where("template_name = ?", name).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, template.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template %q: %w", name, err)
	}
	return fromRecord(&rec)
}

// Save inserts or updates a template.
func (s *GORMStore) Save(ctx context.Context, t *template.Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.IsBuiltin {
		return template.ErrBuiltinReadOnly
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing record
		err := tx.Where("template_name = ?", t.TemplateName).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			now := time.Now().UTC()
			t.CreatedAt = now
			t.ModifiedAt = now
			rec, recErr := toRecord(t)
			if recErr != nil {
				return recErr
			}
			return tx.Create(rec).Error
		case err != nil:
			return fmt.Errorf("save template %q: %w", t.TemplateName, err)
		case existing.IsBuiltin:
			return template.ErrBuiltinReadOnly
		default:
			t.CreatedAt = existing.CreatedAt
			t.ModifiedAt = time.Now().UTC()
			t.UsageCount = existing.UsageCount
			t.SuccessRate = existing.SuccessRate
			t.LastUsedAt = existing.LastUsedAt
			rec, recErr := toRecord(t)
			if recErr != nil {
				return recErr
			}
			return tx.Save(rec).Error
		}
	})
}

// Delete removes a template by name.
func (s *GORMStore) Delete(ctx context.Context, name string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec record
		err := tx.Where("template_name = ?", name).First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return template.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("delete template %q: %w", name, err)
		}
		if rec.IsBuiltin {
			return template.ErrBuiltinReadOnly
		}
		return tx.Delete(&rec).Error
	})
}

// BumpUsage updates the usage counters for a template.
func (s *GORMStore) BumpUsage(ctx context.Context, name string, success bool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec record
		err := tx.Where("template_name = ?", name).First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return template.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("bump usage %q: %w", name, err)
		}

		now := time.Now().UTC()
		rec.UsageCount++
		rec.SuccessRate = smoothSuccessRate(rec.SuccessRate, success)
		rec.LastUsedAt = &now
		return tx.Save(&rec).Error
	})
}

// Healthcheck verifies the database connection.
func (s *GORMStore) Healthcheck(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("access underlying database: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection.
func (s *GORMStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("access underlying database: %w", err)
	}
	return sqlDB.Close()
}
