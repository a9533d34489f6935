package config

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Config holds all configuration for the coordinator
type Config struct {
	DatabaseURL string
	Port        string
	LogLevel    string

	// Advisory interval returned to agents when the poll queue is empty.
	PollIntervalSeconds int

	// Running jobs claimed longer ago than this are reported as stale by the
	// queue monitor. The monitor never reclaims them.
	ClaimStaleAfter time.Duration

	// Dataset artifact store (optional: claims omit the dataset URL when
	// unset).
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioUseSSL    bool

	// Database
	DB *gorm.DB
}

// Load reads configuration from the environment, validates required fields
// eagerly, then opens the database.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("POLL_INTERVAL_SECONDS", 10)
	v.SetDefault("CLAIM_STALE_AFTER", "30m")

	cfg := &Config{
		DatabaseURL:         v.GetString("DATABASE_URL"),
		Port:                v.GetString("PORT"),
		LogLevel:            v.GetString("LOG_LEVEL"),
		PollIntervalSeconds: v.GetInt("POLL_INTERVAL_SECONDS"),
		ClaimStaleAfter:     v.GetDuration("CLAIM_STALE_AFTER"),
		MinioEndpoint:       v.GetString("MINIO_ENDPOINT"),
		MinioAccessKey:      v.GetString("MINIO_ACCESS_KEY"),
		MinioSecretKey:      v.GetString("MINIO_SECRET_KEY"),
		MinioUseSSL:         v.GetBool("MINIO_USE_SSL"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := cfg.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	logrus.Info("Configuration initialized successfully")
	return cfg, nil
}

// Validate checks required fields so misconfiguration fails at startup, not
// on the first request.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.PollIntervalSeconds <= 0 {
		return fmt.Errorf("POLL_INTERVAL_SECONDS must be positive, got %d", c.PollIntervalSeconds)
	}
	if c.ClaimStaleAfter <= 0 {
		return fmt.Errorf("CLAIM_STALE_AFTER must be positive, got %s", c.ClaimStaleAfter)
	}
	if c.MinioEndpoint != "" && (c.MinioAccessKey == "" || c.MinioSecretKey == "") {
		return fmt.Errorf("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required when MINIO_ENDPOINT is set")
	}
	return nil
}

// initDatabase initializes the database connection with optimized settings
func (c *Config) initDatabase() error {
	db, err := gorm.Open(postgres.Open(c.DatabaseURL), &gorm.Config{
		// Optimize query performance
		PrepareStmt: true,
		// The claim path is a single conditional UPDATE and needs no
		// wrapping transaction.
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database handle: %w", err)
	}

	// Set connection pool settings
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// Auto-migrate database schema
	if err := db.AutoMigrate(&TrainingJob{}, &ApprovalRequest{}, &APIKey{}, &Session{}); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	c.DB = db
	logrus.Info("Database initialized successfully")
	return nil
}

// Close closes all connections
func (c *Config) Close() {
	if c.DB != nil {
		sqlDB, err := c.DB.DB()
		if err == nil {
			sqlDB.Close()
		}
	}
}
