package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Auth        AuthConfig        `yaml:"auth"`
	Storage     StorageConfig     `yaml:"storage"`
	Redis       RedisConfig       `yaml:"redis"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Rewards     RewardsConfig     `yaml:"rewards"`
	Leaderboard LeaderboardConfig `yaml:"leaderboard"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// AuthConfig holds caller authentication settings. With an empty JWTSecret
// the caller is read from the X-User-ID header. PlatformKey unlocks the
// platform-only wallet credit route for internal services.
type AuthConfig struct {
	JWTSecret   string `yaml:"jwt_secret"`
	PlatformKey string `yaml:"platform_key"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

// SlogLevel maps the configured level name onto a slog.Level.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.Level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Storage drivers
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// StorageConfig selects the durable store implementation
type StorageConfig struct {
	Driver string `yaml:"driver"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	KeyPrefix    string        `yaml:"key_prefix"`
	BusEnabled   bool          `yaml:"bus_enabled"`
	BusChannel   string        `yaml:"bus_channel"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// KafkaConfig holds Kafka connection configuration
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	Topic         string        `yaml:"topic"`
	GroupID       string        `yaml:"group_id"`
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	BatchTimeout  time.Duration `yaml:"batch_timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// BadgeDefinition lists the activities that must be fully completed before a
// badge can be collected.
type BadgeDefinition struct {
	ID                 string   `yaml:"id"`
	RequiredActivities []string `yaml:"required_activities"`
}

// RewardsConfig holds the rewards economy knobs
type RewardsConfig struct {
	XPPerLevel         int64             `yaml:"xp_per_level"`
	LevelUpBonus       int64             `yaml:"level_up_bonus"`
	ReplayCost         int64             `yaml:"replay_cost"`
	Timezone           string            `yaml:"timezone"`
	LockTimeout        time.Duration     `yaml:"lock_timeout"`
	RetryAttempts      int               `yaml:"retry_attempts"`
	RetryDelay         time.Duration     `yaml:"retry_delay"`
	RecentTransactions int               `yaml:"recent_transactions"`
	Badges             []BadgeDefinition `yaml:"badges"`
}

// Location resolves the reference timezone used for calendar math. An unknown
// zone falls back to UTC.
func (c RewardsConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// BadgeCatalog indexes badge definitions by ID.
func (c RewardsConfig) BadgeCatalog() map[string][]string {
	catalog := make(map[string][]string, len(c.Badges))
	for _, b := range c.Badges {
		catalog[b.ID] = b.RequiredActivities
	}
	return catalog
}

// Ranking sources
const (
	SourceStore = "store"
	SourceRedis = "redis"
)

// LeaderboardConfig holds leaderboard-specific configuration
type LeaderboardConfig struct {
	Limit           int           `yaml:"limit"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	Source          string        `yaml:"source"`
	Periods         []string      `yaml:"periods"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageMemory
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 100
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 10
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "rewards"
	}
	if c.Redis.BusChannel == "" {
		c.Redis.BusChannel = "rewards:broadcast"
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 50
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 5
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "activity-completions"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "rewards-ledger"
	}
	if c.Kafka.BatchSize == 0 {
		c.Kafka.BatchSize = 100
	}
	if c.Kafka.BatchTimeout == 0 {
		c.Kafka.BatchTimeout = 1 * time.Second
	}
	if c.Kafka.RetryAttempts == 0 {
		c.Kafka.RetryAttempts = 3
	}
	if c.Kafka.RetryDelay == 0 {
		c.Kafka.RetryDelay = 1 * time.Second
	}

	// Rewards defaults
	if c.Rewards.XPPerLevel == 0 {
		c.Rewards.XPPerLevel = 100
	}
	if c.Rewards.LevelUpBonus == 0 {
		c.Rewards.LevelUpBonus = 50
	}
	if c.Rewards.ReplayCost == 0 {
		c.Rewards.ReplayCost = 10
	}
	if c.Rewards.Timezone == "" {
		c.Rewards.Timezone = "UTC"
	}
	if c.Rewards.LockTimeout == 0 {
		c.Rewards.LockTimeout = 2 * time.Second
	}
	if c.Rewards.RetryAttempts == 0 {
		c.Rewards.RetryAttempts = 3
	}
	if c.Rewards.RetryDelay == 0 {
		c.Rewards.RetryDelay = 25 * time.Millisecond
	}
	if c.Rewards.RecentTransactions == 0 {
		c.Rewards.RecentTransactions = 10
	}

	// Leaderboard defaults
	if c.Leaderboard.Limit == 0 {
		c.Leaderboard.Limit = 50
	}
	if c.Leaderboard.RefreshInterval == 0 {
		c.Leaderboard.RefreshInterval = 15 * time.Second
	}
	if c.Leaderboard.Source == "" {
		c.Leaderboard.Source = SourceStore
	}
	if len(c.Leaderboard.Periods) == 0 {
		c.Leaderboard.Periods = []string{"daily", "weekly", "monthly", "allTime"}
	}
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
