package postgres

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"shopfloor/pkg/models"
)

// PostgresStore implements the storage interfaces over a single GORM
// connection pool. One instance is shared by the API and worker wiring.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore initializes the GORM connection and AutoMigrates
// schemas.
func NewPostgresStore(connString string) (*PostgresStore, error) {
	config := &gorm.Config{
		Logger:      logger.Default.LogMode(logger.Warn),
		PrepareStmt: true, // Cache prepared statements for performance
	}

	db, err := gorm.Open(postgres.Open(connString), config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Optimize connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	err = db.AutoMigrate(
		&models.Job{},
		&models.ScheduleRun{},
		&models.ScheduleItem{},
		&models.Task{},
		&models.TechnicianSkill{},
		&models.Technician{},
		&models.Bay{},
		&models.WorkOrder{},
		&models.AuditLog{},
	)
	if err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// DB exposes the underlying GORM handle for test seeding.
func (s *PostgresStore) DB() *gorm.DB {
	return s.db
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
