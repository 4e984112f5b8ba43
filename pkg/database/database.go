// Package database provides the optional shared stores a campaign can
// attach to: postgres for the findings archive and redis for live stats.
// Fuzzing itself never depends on either being reachable.
package database

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"swarmfuzz/config"
)

// NewDBConnection opens the findings database when DATABASE_URL is set;
// otherwise the archive stays disabled and nil is returned.
func NewDBConnection(appConfig *config.AppConfig, logger *zap.Logger) (*gorm.DB, error) {
	if appConfig.DatabaseURL == "" {
		logger.Debug("no database configured, findings archive disabled")
		return nil, nil
	}
	db, err := gorm.Open(postgres.Open(appConfig.DatabaseURL), &gorm.Config{})
	if err != nil {
		logger.Error("failed to connect database", zap.Error(err))
		return nil, err
	}
	logger.Debug("connected to database")
	return db, nil
}

// NewRedisClient connects the stats sink when a redis URL is configured.
func NewRedisClient(appConfig *config.AppConfig, logger *zap.Logger) (*redis.Client, error) {
	if appConfig.RedisUrl == "" {
		logger.Debug("no redis configured, stats sink disabled")
		return nil, nil
	}
	options, err := redis.ParseURL(appConfig.RedisUrl)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(options)

	// Test the connection
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	logger.Debug("redis client created successfully")
	return client, nil
}
