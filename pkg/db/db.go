package db

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"github.com/EducloudHQ/video-agent-nova-embeddings/config"
)

// GetConnection opens the application database with the pool settings from
// the configuration.
func GetConnection(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=%s",
		cfg.Host,
		cfg.Username,
		cfg.Password,
		cfg.Name,
		cfg.Port,
		cfg.TimeZone,
	)

	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true, // disables implicit prepared statement usage
	}), &gorm.Config{
		QueryFields: true,
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.Pool.IdleConnections)
	sqlDB.SetMaxOpenConns(cfg.Pool.MaxConnections)
	if cfg.Pool.ConnLifeTime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.Pool.ConnLifeTime)
	} else {
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	return db, nil
}

// Close closes the underlying sql connection pool.
func Close(db *gorm.DB) {
	if db != nil {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}
}
