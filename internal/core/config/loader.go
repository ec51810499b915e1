package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/vietddude/redeliver/internal/core/domain"
)

// Load reads configuration from a YAML file. A .env file next to the working
// directory is loaded first so its values can be referenced as ${VAR}.
func Load(path string) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Endpoint.Name == "" {
		c.Endpoint.Name = "redeliver"
	}
	if c.Endpoint.InputAddress == "" {
		c.Endpoint.InputAddress = c.Endpoint.Name
	}
	if c.Endpoint.ErrorAddress == "" {
		c.Endpoint.ErrorAddress = "error"
	}
	if c.Endpoint.TransactionMode == "" {
		c.Endpoint.TransactionMode = string(domain.TransactionModeReceiveOnly)
	}
	if c.Endpoint.Concurrency <= 0 {
		c.Endpoint.Concurrency = 4
	}
	if c.Endpoint.HostDisplayName == "" {
		if host, err := os.Hostname(); err == nil {
			c.Endpoint.HostDisplayName = host
		}
	}

	r := &c.Recoverability
	if r.Immediate.MaxRetries == 0 {
		r.Immediate.MaxRetries = 5
	}
	if r.Delayed.Policy == "" {
		r.Delayed.Policy = "linear"
	}
	if r.Delayed.NumberOfRetries == 0 {
		r.Delayed.NumberOfRetries = 3
	}
	if r.Delayed.TimeIncrease == 0 {
		r.Delayed.TimeIncrease = 10 * time.Second
	}
	if r.Delayed.InitialDelay == 0 {
		r.Delayed.InitialDelay = 10 * time.Second
	}
	if r.Delayed.MaxDelay == 0 {
		r.Delayed.MaxDelay = 10 * time.Minute
	}
	if r.FailureCacheCapacity == 0 {
		r.FailureCacheCapacity = 1000
	}
	if r.SatelliteMaxFailures == 0 {
		r.SatelliteMaxFailures = 4
	}

	if c.Transport.Kind == "" {
		c.Transport.Kind = "memory"
	}
	if c.Transport.PollWindow == 0 {
		c.Transport.PollWindow = time.Second
	}
	if c.Transport.Lease == 0 {
		c.Transport.Lease = 5 * time.Minute
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "pgx"
	}

	if c.Timeouts.Store == "" {
		c.Timeouts.Store = "memory"
	}
	if c.Timeouts.SQLitePath == "" {
		c.Timeouts.SQLitePath = "data/timeouts.db"
	}
	if c.Timeouts.Address == "" {
		c.Timeouts.Address = c.Endpoint.Name + ".timeouts"
	}
	if c.Timeouts.PollInterval == 0 {
		c.Timeouts.PollInterval = time.Second
	}
	if c.Timeouts.BatchSize == 0 {
		c.Timeouts.BatchSize = 100
	}

	if c.Handler.Timeout == 0 {
		c.Handler.Timeout = 30 * time.Second
	}
}

// Validate checks values that have no sensible default.
func (c *AppConfig) Validate() error {
	if _, err := domain.ParseTransactionMode(c.Endpoint.TransactionMode); err != nil {
		return err
	}
	switch c.Transport.Kind {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("redis.url is required for the redis transport")
		}
	default:
		return fmt.Errorf("unknown transport kind %q", c.Transport.Kind)
	}
	switch c.Timeouts.Store {
	case "memory", "sqlite":
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("redis.url is required for the redis timeout store")
		}
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for the postgres timeout store")
		}
	case "mysql":
		if c.MySQL.DSN == "" {
			return fmt.Errorf("mysql.dsn is required for the mysql timeout store")
		}
	default:
		return fmt.Errorf("unknown timeout store %q", c.Timeouts.Store)
	}
	switch c.Recoverability.Delayed.Policy {
	case "linear", "exponential":
	default:
		return fmt.Errorf("unknown delayed retry policy %q", c.Recoverability.Delayed.Policy)
	}
	if c.Transport.Lease < 0 {
		return fmt.Errorf("transport.lease must not be negative")
	}
	if c.Recoverability.Immediate.MaxRetries < 0 {
		return fmt.Errorf("recoverability.immediate.max_retries must not be negative")
	}
	if c.Recoverability.Delayed.NumberOfRetries < 0 {
		return fmt.Errorf("recoverability.delayed.number_of_retries must not be negative")
	}
	return nil
}
