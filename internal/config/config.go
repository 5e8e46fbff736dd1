// Package config содержит логику чтения конфигурации сервиса авторизации налива.
package config

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/mmeshcher/water-kiosk/internal/validation"
)

// Драйверы хранилища абонентов.
const (
	DriverAppwrite = "appwrite"
	DriverPostgres = "postgres"
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	StoreDriver string `env:"STORE_DRIVER"`
	DatabaseURI string `env:"DATABASE_URI"`

	AppwriteEndpoint      string        `env:"APPWRITE_ENDPOINT"`
	AppwriteProjectID     string        `env:"APPWRITE_PROJECT_ID"`
	AppwriteDatabaseID    string        `env:"APPWRITE_DATABASE_ID"`
	AppwriteAPIKey        string        `env:"APPWRITE_API_KEY"`
	CustomersCollectionID string        `env:"CUSTOMERS_COLLECTION_ID" envDefault:"customers"`
	StoreTimeout          time.Duration `env:"STORE_TIMEOUT" envDefault:"10s"`

	// AdminToken защищает административные эндпоинты хранилища; пустое значение отключает их.
	AdminToken  string `env:"ADMIN_TOKEN"`
	CountryCode string `env:"COUNTRY_CODE" envDefault:"254"`

	MaxVolumeML     int64         `env:"MAX_VOLUME_ML" envDefault:"20000"`
	PINLength       int           `env:"PIN_LENGTH" envDefault:"4"`
	DedupTTL        time.Duration `env:"DEDUP_TTL" envDefault:"3m"`
	DedupMaxEntries int           `env:"DEDUP_MAX_ENTRIES" envDefault:"100000"`
	DedupBucket     time.Duration `env:"DEDUP_BUCKET" envDefault:"30s"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL" envDefault:"30s"`

	LockWait           time.Duration `env:"LOCK_WAIT" envDefault:"2s"`
	BackendConcurrency int64         `env:"BACKEND_CONCURRENCY" envDefault:"64"`
	BackendQueueWait   time.Duration `env:"BACKEND_QUEUE_WAIT" envDefault:"1s"`

	RetryMaxAttempts int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
	RetryBaseDelay   time.Duration `env:"RETRY_BASE_DELAY" envDefault:"100ms"`
	RetryMaxDelay    time.Duration `env:"RETRY_MAX_DELAY" envDefault:"1s"`
	AttemptTimeout   time.Duration `env:"ATTEMPT_TIMEOUT" envDefault:"3s"`
	LookupTimeout    time.Duration `env:"LOOKUP_TIMEOUT" envDefault:"8s"`

	KioskRPS   float64 `env:"KIOSK_RPS" envDefault:"0"`
	KioskBurst int     `env:"KIOSK_BURST" envDefault:"5"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envStoreDriver := cfg.StoreDriver
	envDatabaseURI := cfg.DatabaseURI
	envEndpoint := cfg.AppwriteEndpoint

	flag.StringVar(&cfg.RunAddress, "a", ":8080", "address and port for HTTP server")
	flag.StringVar(&cfg.StoreDriver, "s", DriverAppwrite, "customer store driver: appwrite or postgres")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI for the postgres driver")
	flag.StringVar(&cfg.AppwriteEndpoint, "e", "http://localhost/v1", "document store endpoint for the appwrite driver")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envStoreDriver != "" {
		cfg.StoreDriver = envStoreDriver
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envEndpoint != "" {
		cfg.AppwriteEndpoint = envEndpoint
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = ":8080"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate проверяет согласованность параметров.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverAppwrite:
		if c.AppwriteEndpoint == "" {
			return errors.New("appwrite endpoint is required")
		}
	case DriverPostgres:
		if c.DatabaseURI == "" {
			return errors.New("database URI is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}

	if c.MaxVolumeML <= 0 {
		return errors.New("max volume must be positive")
	}
	if c.PINLength < 0 || c.PINLength > validation.MaxPINLength {
		return fmt.Errorf("pin length must be between 0 and %d", validation.MaxPINLength)
	}
	if c.DedupTTL <= 0 || c.DedupBucket <= 0 || c.SweepInterval <= 0 {
		return errors.New("dedup ttl, bucket and sweep interval must be positive")
	}
	if c.LockWait <= 0 || c.BackendQueueWait <= 0 {
		return errors.New("lock and backend queue waits must be positive")
	}
	if c.BackendConcurrency <= 0 {
		return errors.New("backend concurrency must be positive")
	}
	if c.RetryMaxAttempts < 1 {
		return errors.New("retry max attempts must be at least 1")
	}

	return nil
}
