// Package db provides database connectivity and operations
package db

import (
	"fmt"
	"log"
	"os"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/paperhtml/renderd/internal/config"
	"github.com/paperhtml/renderd/internal/db/models"
)

// Options represents database connection configuration options
type Options struct {
	Host       string
	User       string
	Password   string
	DBName     string
	Port       int
	SSLEnabled bool
	LogLevel   logger.LogLevel
}

// OptionsFromConfig converts the loaded configuration into connection options
func OptionsFromConfig(cfg config.DatabaseConfig) Options {
	return Options{
		Host:       cfg.Host,
		User:       cfg.User,
		Password:   cfg.Password,
		DBName:     cfg.Name,
		Port:       cfg.Port,
		SSLEnabled: cfg.SSLEnabled,
	}
}

// New creates a new database connection with the given options
func New(opts Options) (*gorm.DB, error) {
	sslMode := "disable"
	if opts.SSLEnabled {
		sslMode = "require"
	}
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		opts.Host, opts.User, opts.Password, opts.DBName, opts.Port, sslMode)

	if opts.LogLevel == 0 {
		opts.LogLevel = logger.Warn
	}

	// Record-not-found is routine for render lookups, keep it out of the logs
	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			LogLevel:                  opts.LogLevel,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: newLogger})
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the tables owned by the render service
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Document{},
		&models.Render{},
	)
}
