package config

import (
	"time"

	"github.com/vietddude/redeliver/internal/endpoint"
	"github.com/vietddude/redeliver/internal/infra/amqp"
	"github.com/vietddude/redeliver/internal/infra/kafka"
	redisclient "github.com/vietddude/redeliver/internal/infra/redis"
	"github.com/vietddude/redeliver/internal/infra/storage/postgres"
	"github.com/vietddude/redeliver/internal/infra/storage/sqlstore"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server         ServerConfig           `yaml:"server"`
	Logging        LoggingConfig          `yaml:"logging"`
	Endpoint       EndpointConfig         `yaml:"endpoint"`
	Recoverability RecoverabilityConfig   `yaml:"recoverability"`
	Transport      TransportConfig        `yaml:"transport"`
	Redis          redisclient.Config     `yaml:"redis"`
	Database       postgres.Config        `yaml:"database"`
	MySQL          sqlstore.MySQLConfig   `yaml:"mysql"`
	Timeouts       TimeoutsConfig         `yaml:"timeouts"`
	Kafka          kafka.Config           `yaml:"kafka"`
	AMQP           amqp.Config            `yaml:"amqp"`
	Handler        endpoint.WebhookConfig `yaml:"handler"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// EndpointConfig describes the receiving endpoint.
type EndpointConfig struct {
	Name            string `yaml:"name"`
	InputAddress    string `yaml:"input_address"`
	ErrorAddress    string `yaml:"error_address"`
	TransactionMode string `yaml:"transaction_mode"` // none, receive_only, sends_atomic_with_receive, transaction_scope
	Concurrency     int    `yaml:"concurrency"`
	HostID          string `yaml:"host_id"` // generated when empty
	HostDisplayName string `yaml:"host_display_name"`
}

// RecoverabilityConfig holds the retry settings.
type RecoverabilityConfig struct {
	Immediate            ImmediateConfig `yaml:"immediate"`
	Delayed              DelayedConfig   `yaml:"delayed"`
	FailureCacheCapacity int             `yaml:"failure_cache_capacity"`
	SatelliteMaxFailures int             `yaml:"satellite_max_failures"`
}

// ImmediateConfig holds in-place retry settings.
type ImmediateConfig struct {
	Enabled    *bool `yaml:"enabled"`
	MaxRetries int   `yaml:"max_retries"`
}

// DelayedConfig holds delayed retry settings.
type DelayedConfig struct {
	Enabled         *bool         `yaml:"enabled"`
	Policy          string        `yaml:"policy"` // linear, exponential
	NumberOfRetries int           `yaml:"number_of_retries"`
	TimeIncrease    time.Duration `yaml:"time_increase"`
	MaxWindow       time.Duration `yaml:"max_window"` // 0 = off
	InitialDelay    time.Duration `yaml:"initial_delay"`
	MaxDelay        time.Duration `yaml:"max_delay"`
	// SkipPermanent stops delayed retries for failures classified as permanent:
	// undeserializable payloads and webhook 4xx responses. Default true.
	SkipPermanent *bool `yaml:"skip_permanent"`
}

// TransportConfig selects the queue transport.
type TransportConfig struct {
	Kind       string        `yaml:"kind"` // memory, redis
	PollWindow time.Duration `yaml:"poll_window"`
	// Lease is how long a received redis message stays invisible to other
	// receivers. Messages abandoned by a crashed process return after it.
	Lease time.Duration `yaml:"lease"`
}

// TimeoutsConfig configures the timeout relay used when the transport cannot
// defer messages itself.
type TimeoutsConfig struct {
	Store        string        `yaml:"store"` // memory, redis, postgres, sqlite, mysql
	SQLitePath   string        `yaml:"sqlite_path"`
	Address      string        `yaml:"address"`
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
	// ForceRelay routes delayed retries through the relay even when the
	// transport supports deferral.
	ForceRelay bool `yaml:"force_relay"`
}

// IsEnabled reports whether immediate retries are on. Default true.
func (c ImmediateConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// IsEnabled reports whether delayed retries are on. Default true.
func (c DelayedConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// SkipsPermanent reports whether permanent failures bypass delayed retries.
func (c DelayedConfig) SkipsPermanent() bool {
	return c.SkipPermanent == nil || *c.SkipPermanent
}
