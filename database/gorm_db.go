package database

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/camden-git/facetagger/models"
)

// sqlite only allows a single writer; WAL keeps readers going while the
// batch writes and the busy timeout absorbs short lock waits.
const sqliteDSNOptions = "?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"

var gormLogLevels = map[string]logger.LogLevel{
	"silent": logger.Silent,
	"error":  logger.Error,
	"warn":   logger.Warn,
	"info":   logger.Info,
}

// InitGormDB initializes and returns a GORM database instance
func InitGormDB(dataSourceName string, logLevel string) (*gorm.DB, error) {
	level, ok := gormLogLevels[logLevel]
	if !ok {
		level = logger.Warn
	}
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags), // io writer
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)

	db, err := gorm.Open(sqlite.Open(dataSourceName+sqliteDSNOptions), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database using GORM: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB from GORM: %w", err)
	}

	// one connection serialises every statement, which is what sqlite does
	// for writers anyway and avoids SQLITE_BUSY under the batch fan-out
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Println("GORM Database initialized successfully at", dataSourceName)
	return db, nil
}

// AutoMigrateModels creates or updates the analysis tables.
func AutoMigrateModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.ImageAnalysis{},
		&models.FaceRegion{},
	)
	if err != nil {
		return fmt.Errorf("GORM AutoMigrate failed: %w", err)
	}
	log.Println("GORM AutoMigrate completed successfully.")
	return nil
}

// Open initializes the database and migrates it.
func Open(dataSourceName string, logLevel string) (*gorm.DB, error) {
	db, err := InitGormDB(dataSourceName, logLevel)
	if err != nil {
		return nil, err
	}
	if err := AutoMigrateModels(db); err != nil {
		Close(db)
		return nil, err
	}
	return db, nil
}

// Close releases the connection behind a GORM instance.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB from GORM: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
