package domain

import "time"

// Config holds the complete Vasool configuration.
type Config struct {
	// Server settings
	Server ServerConfig `mapstructure:"server" json:"server"`

	// Tier determines feature availability
	Tier Tier `mapstructure:"tier" json:"tier"`

	// Timezone is the business's local zone. "Today" for every
	// classification pass is the calendar date in this zone.
	Timezone string `mapstructure:"timezone" json:"timezone"`

	// Component configurations
	Repository RepositoryConfig `mapstructure:"repository" json:"repository"`
	Cache      CacheConfig      `mapstructure:"cache" json:"cache"`
	EventBus   EventBusConfig   `mapstructure:"event_bus" json:"eventBus"`
	Reminders  ReminderConfig   `mapstructure:"reminders" json:"reminders"`

	// Observability
	Logging LoggingConfig `mapstructure:"logging" json:"logging"`
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`
	Metrics MetricsConfig `mapstructure:"metrics" json:"metrics"`
}

// Location resolves Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string   `mapstructure:"host" json:"host"`
	Port           int      `mapstructure:"port" json:"port"`
	ReadTimeout    int      `mapstructure:"read_timeout" json:"readTimeout"`   // seconds
	WriteTimeout   int      `mapstructure:"write_timeout" json:"writeTimeout"` // seconds
	AllowedOrigins []string `mapstructure:"allowed_origins" json:"allowedOrigins"`
}

// ReminderConfig controls the reminder sweep worker.
type ReminderConfig struct {
	// SweepInterval triggers a sweep for every known tenant. Zero disables the ticker.
	SweepInterval time.Duration `mapstructure:"sweep_interval" json:"sweepInterval"`

	// DedupeWindow suppresses a second reminder for the same customer and stage.
	DedupeWindow time.Duration `mapstructure:"dedupe_window" json:"dedupeWindow"`

	// CadenceWindow is the lookback for the recent_contacts policy variable.
	CadenceWindow time.Duration `mapstructure:"cadence_window" json:"cadenceWindow"`

	// MaxWorkers bounds parallel policy evaluation.
	MaxWorkers int `mapstructure:"max_workers" json:"maxWorkers"`

	// Tenants swept on the ticker.
	Tenants []string `mapstructure:"tenants" json:"tenants"`

	// ProtocolCacheTTL bounds how long a protocol snapshot is cached.
	ProtocolCacheTTL time.Duration `mapstructure:"protocol_cache_ttl" json:"protocolCacheTtl"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level" json:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled" json:"enabled"`
	ServiceName  string `mapstructure:"service_name" json:"serviceName"`
	ExporterType string `mapstructure:"exporter_type" json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `mapstructure:"endpoint" json:"endpoint"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Path    string `mapstructure:"path" json:"path"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    30,
			WriteTimeout:   30,
			AllowedOrigins: []string{"*"},
		},
		Tier:     TierCommunity,
		Timezone: "Asia/Kolkata",
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./vasool.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Reminders: ReminderConfig{
			SweepInterval:    0,
			DedupeWindow:     24 * time.Hour,
			CadenceWindow:    7 * 24 * time.Hour,
			MaxWorkers:       10,
			ProtocolCacheTTL: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "vasool",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "vasool",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Reminders.SweepInterval = time.Hour
	cfg.Tracing.Enabled = true
	return cfg
}
