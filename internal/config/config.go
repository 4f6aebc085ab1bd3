package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds the backing store settings.
type DatabaseConfig struct {
	Engine          string        `mapstructure:"engine"` // mysql, postgres, sqlite
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig holds the optional look-aside cache settings.
// An empty ConnString disables Redis entirely.
type RedisConfig struct {
	ConnString string `mapstructure:"conn_string"`
}

// AuthConfig holds administrator authentication settings.
type AuthConfig struct {
	AdminPassword  string `mapstructure:"admin_password"` // bcrypt hash or plaintext
	JWTSecret      string `mapstructure:"jwt_secret"`
	JWTExpireHours int    `mapstructure:"jwt_expire_hours"`
}

// GeoIPConfig holds the optional GeoIP database path.
type GeoIPConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// IngestConfig sizes the fire-and-forget persistence pipeline.
type IngestConfig struct {
	Workers       int `mapstructure:"workers"`
	QueueSize     int `mapstructure:"queue_size"`
	RetentionDays int `mapstructure:"retention_days"` // 0 keeps logs forever
}

// DetectionConfig holds the suspicious-IP scoring thresholds.
type DetectionConfig struct {
	HighRequestRate     float64 `mapstructure:"high_request_rate" json:"high_request_rate"`
	VeryHighRequestRate float64 `mapstructure:"very_high_request_rate" json:"very_high_request_rate"`
	HighErrorRate       float64 `mapstructure:"high_error_rate" json:"high_error_rate"`
	VeryHighErrorRate   float64 `mapstructure:"very_high_error_rate" json:"very_high_error_rate"`
	FailedAuthThreshold int64   `mapstructure:"failed_auth_threshold" json:"failed_auth_threshold"`
	TimeWindowMinutes   int     `mapstructure:"time_window_minutes" json:"time_window_minutes"`
	MinRiskScore        int     `mapstructure:"min_risk_score" json:"min_risk_score"`
}

// Config is the full application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	GeoIP     GeoIPConfig     `mapstructure:"geoip"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Detection DetectionConfig `mapstructure:"detection"`
}

var cfg *Config

// DefaultDetection returns the stock scoring thresholds.
func DefaultDetection() DetectionConfig {
	return DetectionConfig{
		HighRequestRate:     60,
		VeryHighRequestRate: 120,
		HighErrorRate:       30,
		VeryHighErrorRate:   50,
		FailedAuthThreshold: 5,
		TimeWindowMinutes:   60,
		MinRiskScore:        30,
	}
}

// Load reads configuration from config.yaml (optional), .env (optional)
// and environment variables. Env keys use underscores, e.g. SERVER_PORT,
// DATABASE_DSN, DETECTION_HIGH_REQUEST_RATE.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("database.engine", "sqlite")
	v.SetDefault("database.dsn", "./data/ip-sentry.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("redis.conn_string", "")

	v.SetDefault("auth.admin_password", "")
	v.SetDefault("auth.jwt_secret", "ip-sentry-secret-change-in-production")
	v.SetDefault("auth.jwt_expire_hours", 24)

	v.SetDefault("geoip.db_path", "")

	v.SetDefault("ingest.workers", 4)
	v.SetDefault("ingest.queue_size", 4096)
	v.SetDefault("ingest.retention_days", 0)

	d := DefaultDetection()
	v.SetDefault("detection.high_request_rate", d.HighRequestRate)
	v.SetDefault("detection.very_high_request_rate", d.VeryHighRequestRate)
	v.SetDefault("detection.high_error_rate", d.HighErrorRate)
	v.SetDefault("detection.very_high_error_rate", d.VeryHighErrorRate)
	v.SetDefault("detection.failed_auth_threshold", d.FailedAuthThreshold)
	v.SetDefault("detection.time_window_minutes", d.TimeWindowMinutes)
	v.SetDefault("detection.min_risk_score", d.MinRiskScore)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(c); err != nil {
		return nil, err
	}

	cfg = c
	return c, nil
}

func validate(c *Config) error {
	switch c.Database.Engine {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database engine: %s", c.Database.Engine)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Ingest.Workers < 1 {
		c.Ingest.Workers = 1
	}
	if c.Ingest.QueueSize < 1 {
		c.Ingest.QueueSize = 1
	}
	return nil
}

// Get returns the loaded config, panics if Load was never called.
func Get() *Config {
	if cfg == nil {
		panic("config not loaded, call config.Load() first")
	}
	return cfg
}

// Loaded returns the global config, or nil when Load was never called.
func Loaded() *Config {
	return cfg
}

// Set replaces the global config (used by tests).
func Set(c *Config) {
	cfg = c
}

// ServerAddr returns the listen address.
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
