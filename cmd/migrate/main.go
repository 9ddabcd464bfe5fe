// This file is used to create or update the database schema
// How to run:
// go run cmd/migrate/main.go
package main

import (
	"github.com/paperhtml/renderd/internal/config"
	"github.com/paperhtml/renderd/internal/db"
	"github.com/paperhtml/renderd/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	logger.Configure(cfg.LogLevel)

	// db.New runs the migrations before returning
	database, err := db.New(db.OptionsFromConfig(cfg.Database))
	if err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}
	sqlDB, err := database.DB()
	if err == nil {
		_ = sqlDB.Close()
	}

	logger.Info("Database schema is up to date")
}
