package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/dump-correlator/pkg/config"
	apperrors "github.com/dump-correlator/pkg/errors"
	"github.com/dump-correlator/pkg/telemetry"
)

// DBType represents the database type.
type DBType string

const (
	DBTypePostgres DBType = "postgres"
	DBTypeMySQL    DBType = "mysql"
	DBTypeSQLite   DBType = "sqlite"
)

// Dialector returns the GORM dialector for the archive configuration.
func Dialector(cfg *config.ArchiveConfig) (gorm.Dialector, error) {
	switch DBType(cfg.Type) {
	case DBTypePostgres, DBType("postgresql"):
		port := cfg.Port
		if port == 0 {
			port = 5432
		}
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			cfg.Host, port, cfg.User, cfg.Password, cfg.Database,
		)
		return postgres.Open(dsn), nil
	case DBTypeMySQL:
		port := cfg.Port
		if port == 0 {
			port = 3306
		}
		dsn := fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=Local",
			cfg.User, cfg.Password, cfg.Host, port, cfg.Database,
		)
		return mysql.Open(dsn), nil
	case DBTypeSQLite:
		return sqlite.Open(cfg.Path), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}

// NewGormDB opens the archive database and configures its pool.
func NewGormDB(cfg *config.ArchiveConfig) (*gorm.DB, error) {
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}
	return openGorm(dialector, cfg.MaxConns)
}

func openGorm(dialector gorm.Dialector, maxConns int) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if telemetry.Enabled() {
		if err := db.Use(tracing.NewPlugin()); err != nil {
			return nil, fmt.Errorf("failed to enable telemetry: %w", err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if maxConns <= 0 {
		maxConns = 5
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(max(1, maxConns/2))
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Archive holds the report repository and its connection.
type Archive struct {
	Reports ReportRepository
	gormDB  *gorm.DB
}

// Open connects to the archive database, migrates the schema and returns the
// repositories.
func Open(cfg *config.ArchiveConfig) (*Archive, error) {
	db, err := NewGormDB(cfg)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeArchiveError, "failed to connect archive", err)
	}
	return NewArchive(db, cfg.Compress)
}

// NewArchive wraps an open connection and migrates the schema.
func NewArchive(db *gorm.DB, compress bool) (*Archive, error) {
	if err := db.AutoMigrate(&CorrelationReport{}); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeArchiveError, "failed to migrate archive", err)
	}
	return &Archive{
		Reports: NewGormReportRepository(db, compress),
		gormDB:  db,
	}, nil
}

// Close closes the database connection.
func (a *Archive) Close() error {
	if a.gormDB == nil {
		return nil
	}
	sqlDB, err := a.gormDB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// HealthCheck verifies the database connection is still alive.
func (a *Archive) HealthCheck(ctx context.Context) error {
	sqlDB, err := a.gormDB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// DB returns the underlying sql.DB connection.
func (a *Archive) DB() *sql.DB {
	sqlDB, _ := a.gormDB.DB()
	return sqlDB
}
