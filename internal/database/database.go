package database

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ip-sentry/backend/internal/config"
	"github.com/ip-sentry/backend/internal/logger"
	"github.com/ip-sentry/backend/internal/models"
)

// ErrCatalogMissing marks a catalog-level storage failure: the table or a
// referenced column does not exist. Callers degrade to empty results on it;
// every other storage error propagates.
var ErrCatalogMissing = errors.New("catalog missing")

var db *gorm.DB

// Init opens the connection pool and migrates the schema.
func Init(cfg *config.Config) error {
	var dialector gorm.Dialector

	switch cfg.Database.Engine {
	case "postgres":
		dialector = postgres.Open(cfg.Database.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.Database.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.Database.DSN)
	default:
		return fmt.Errorf("unsupported database engine: %s", cfg.Database.Engine)
	}

	gormConfig := &gorm.Config{
		Logger: newGormLogger(cfg.Server.Mode),
	}

	conn, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return fmt.Errorf("get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	db = conn

	if err := Migrate(conn); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}

	logger.Info("database connected",
		zap.String("engine", cfg.Database.Engine),
	)

	return nil
}

// Migrate creates the persisted tables and their indexes.
func Migrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&models.AccessLog{},
		&models.IPBan{},
		&models.IPAllow{},
	)
}

// Get returns the global connection.
func Get() *gorm.DB {
	return db
}

// Close shuts the pool down.
func Close() error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	logger.Info("database connection closed")
	return sqlDB.Close()
}

// HealthCheck pings the backing store.
func HealthCheck() error {
	if db == nil {
		return fmt.Errorf("database not initialized")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// IsCatalogMissing classifies a storage error as catalog-level (missing
// table or column) as opposed to an I/O or constraint failure. Matches the
// engines we support: SQLite, MySQL (1146/1054), PostgreSQL (42P01/42703).
func IsCatalogMissing(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCatalogMissing) {
		return true
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no such table"),
		strings.Contains(msg, "no such column"),
		strings.Contains(msg, "doesn't exist"),
		strings.Contains(msg, "unknown column"),
		strings.Contains(msg, "undefined table"),
		strings.Contains(msg, "undefined column"),
		strings.Contains(msg, "sqlstate 42p01"),
		strings.Contains(msg, "sqlstate 42703"):
		return true
	}
	return false
}

func newGormLogger(mode string) gormlogger.Interface {
	logLevel := gormlogger.Warn
	if mode == "debug" {
		logLevel = gormlogger.Info
	}

	return gormlogger.New(
		&gormLogWriter{},
		gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logLevel,
			IgnoreRecordNotFoundError: true,
		},
	)
}

type gormLogWriter struct{}

func (w *gormLogWriter) Printf(format string, args ...interface{}) {
	logger.GetSugar().Debugf(format, args...)
}

// SetTestDB replaces the global connection (unit tests only).
func SetTestDB(conn *gorm.DB) {
	db = conn
}

// ClearTestDB resets the global connection (unit tests only).
func ClearTestDB() {
	db = nil
}
