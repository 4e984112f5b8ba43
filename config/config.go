package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type AppConfig struct {
	LogLevel    string
	ServiceName string
	Campaign    string

	// Node settings.
	ProfilePath        string
	DataDir            string
	SeedDir            string
	CheckpointInterval time.Duration
	StatsInterval      time.Duration
	BrokerAddr         string // set on a node: dial this remote broker

	// Broker settings.
	BusListenAddr string

	// Optional integrations.
	RedisUrl    string
	AMQPUrl     string
	DatabaseURL string
}

func LoadConfig() *AppConfig {
	// use a temporary logger for now
	logger := zap.NewExample().Named("config")

	godotenv.Load()

	config := &AppConfig{
		LogLevel:           os.Getenv("LOG_LEVEL"),
		ServiceName:        os.Getenv("SERVICE_NAME"),
		Campaign:           os.Getenv("CAMPAIGN"),
		ProfilePath:        os.Getenv("PROFILE"),
		DataDir:            os.Getenv("DATA_DIR"),
		SeedDir:            os.Getenv("SEED_DIR"),
		CheckpointInterval: parseDuration(os.Getenv("CHECKPOINT_INTERVAL"), time.Minute),
		StatsInterval:      parseDuration(os.Getenv("STATS_INTERVAL"), 10*time.Second),
		BrokerAddr:         os.Getenv("BROKER_ADDR"),
		BusListenAddr:      os.Getenv("BUS_LISTEN_ADDR"),
		RedisUrl:           os.Getenv("OVERRIDE_REDIS_URL"),
		AMQPUrl:            os.Getenv("RABBITMQ_URL"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
	}

	if config.LogLevel == "" {
		config.LogLevel = "info" // Set default log level
	}
	if config.ServiceName == "" {
		config.ServiceName = "swarmfuzz"
	}
	if config.Campaign == "" {
		config.Campaign = "default"
	}
	if config.DataDir == "" {
		config.DataDir = "./swarmfuzz-data"
	}

	if config.ProfilePath == "" {
		logger.Warn("PROFILE not set, a campaign profile is required for fuzzing nodes")
	}

	return config
}

func parseDuration(val string, defaultVal time.Duration) time.Duration {
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}
