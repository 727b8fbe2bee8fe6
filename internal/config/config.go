package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Acoustic AcousticConfig `yaml:"acoustic"`
	Sync     SyncConfig     `yaml:"sync"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// In a container, listen on all interfaces
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" || os.Getenv("ECS_CONTAINER_METADATA_URI") != "" {
		return "0.0.0.0"
	}
	// Allow override via environment
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifeMins int    `yaml:"conn_max_life_mins"`
}

// ConnMaxLifetime returns the connection lifetime as a duration
func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifeMins) * time.Minute
}

// RedisConfig holds Redis connection configuration. Redis backs the
// distributed lock that keeps a single sync worker active.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

// AcousticConfig holds Acoustic (Silverpop) API configuration
type AcousticConfig struct {
	Enabled           bool   `yaml:"enabled"`
	ClientID          string `yaml:"client_id"`
	ClientSecret      string `yaml:"client_secret"`
	RefreshToken      string `yaml:"refresh_token"`
	ServerNumber      int    `yaml:"server_number"`
	MainTableID       string `yaml:"main_table_id"`
	NewsletterTableID string `yaml:"newsletter_table_id"`
	WaitlistTableID   string `yaml:"waitlist_table_id"`
	ProductTableID    string `yaml:"product_table_id"`
	TimeoutSeconds    int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured upload timeout as a duration
func (c AcousticConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SyncConfig holds the background sync loop configuration
type SyncConfig struct {
	IntervalSeconds      int `yaml:"interval_seconds"`
	RetryLimit           int `yaml:"retry_limit"`
	BatchLimit           int `yaml:"batch_limit"`
	FieldRefreshSeconds  int `yaml:"field_refresh_seconds"`
	LockTTLSeconds       int `yaml:"lock_ttl_seconds"`
	HealthcheckPath      string `yaml:"healthcheck_path"`
	HealthcheckMaxAgeSec int    `yaml:"healthcheck_max_age_sec"`
}

// Interval returns the polling interval as a duration
func (c SyncConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// FieldRefresh returns the allow-list refresh interval as a duration
func (c SyncConfig) FieldRefresh() time.Duration {
	return time.Duration(c.FieldRefreshSeconds) * time.Second
}

// LockTTL returns the distributed lock TTL as a duration
func (c SyncConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// HealthcheckMaxAge returns the max allowed healthcheck file age
func (c SyncConfig) HealthcheckMaxAge() time.Duration {
	return time.Duration(c.HealthcheckMaxAgeSec) * time.Second
}

// LoggingConfig holds log output configuration
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII bool   `yaml:"redact_pii"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifeMins == 0 {
		cfg.Database.ConnMaxLifeMins = 30
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Acoustic.ServerNumber == 0 {
		cfg.Acoustic.ServerNumber = 6
	}
	if cfg.Acoustic.TimeoutSeconds == 0 {
		cfg.Acoustic.TimeoutSeconds = 5
	}
	if cfg.Sync.IntervalSeconds == 0 {
		cfg.Sync.IntervalSeconds = 30
	}
	if cfg.Sync.RetryLimit == 0 {
		cfg.Sync.RetryLimit = 5
	}
	if cfg.Sync.BatchLimit == 0 {
		cfg.Sync.BatchLimit = 20
	}
	if cfg.Sync.FieldRefreshSeconds == 0 {
		cfg.Sync.FieldRefreshSeconds = 300
	}
	if cfg.Sync.LockTTLSeconds == 0 {
		cfg.Sync.LockTTLSeconds = 120
	}
	if cfg.Sync.HealthcheckMaxAgeSec == 0 {
		cfg.Sync.HealthcheckMaxAgeSec = 300
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables if present
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
		cfg.Redis.Enabled = true
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	if v := os.Getenv("ACOUSTIC_CLIENT_ID"); v != "" {
		cfg.Acoustic.ClientID = v
	}
	if v := os.Getenv("ACOUSTIC_CLIENT_SECRET"); v != "" {
		cfg.Acoustic.ClientSecret = v
	}
	if v := os.Getenv("ACOUSTIC_REFRESH_TOKEN"); v != "" {
		cfg.Acoustic.RefreshToken = v
	}
	if v := os.Getenv("ACOUSTIC_MAIN_TABLE_ID"); v != "" {
		cfg.Acoustic.MainTableID = v
	}
	if v := os.Getenv("ACOUSTIC_NEWSLETTER_TABLE_ID"); v != "" {
		cfg.Acoustic.NewsletterTableID = v
	}
	if v := os.Getenv("ACOUSTIC_WAITLIST_TABLE_ID"); v != "" {
		cfg.Acoustic.WaitlistTableID = v
	}
	if v := os.Getenv("ACOUSTIC_PRODUCT_TABLE_ID"); v != "" {
		cfg.Acoustic.ProductTableID = v
	}
	if v := os.Getenv("ACOUSTIC_SERVER_NUMBER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Acoustic.ServerNumber = n
		}
	}
	if v := os.Getenv("ACOUSTIC_ENABLED"); v != "" {
		cfg.Acoustic.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("BACKGROUND_HEALTHCHECK_PATH"); v != "" {
		cfg.Sync.HealthcheckPath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return cfg, nil
}
