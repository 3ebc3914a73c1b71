package datastore

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/procwatch/proctor-go/internal/logging"
)

// slowQueryThreshold marks the duration after which a query is logged as
// slow. Migration batches can take several hundred milliseconds, so the
// threshold sits above those.
const slowQueryThreshold = 1 * time.Second

// createGormLogger routes GORM's logging through slog at warn level.
func createGormLogger() gormlogger.Interface {
	return gormlogger.New(
		slog2writer{logging.ForService("gorm")},
		gormlogger.Config{
			SlowThreshold:             slowQueryThreshold,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
}

// slog2writer adapts slog to GORM's printf-style logger interface.
type slog2writer struct {
	log interface {
		Warn(msg string, args ...any)
	}
}

func (s slog2writer) Printf(format string, args ...any) {
	s.log.Warn(fmt.Sprintf(format, args...))
}

// performAutoMigration creates or updates the schema for all stored models.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(&Session{}, &Violation{}, &SettingsProfile{}); err != nil {
		return fmt.Errorf("failed to auto-migrate %s database: %w", dbType, err)
	}
	if debug {
		logging.ForService("datastore").Debug("database connection initialized",
			"type", dbType, "connection", connectionInfo)
	}
	return nil
}
