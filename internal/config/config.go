package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"slotkeeper/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	App          AppConfig          `yaml:"app"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Backup       BackupConfig       `yaml:"backup"`
	Monitoring   MonitoringConfig   `yaml:"monitoring"`
	Logging      LoggingConfig      `yaml:"logging"`
	API          APIConfig          `yaml:"api"`
	Booking      BookingConfig      `yaml:"booking"`
	Notification NotificationConfig `yaml:"notification"`
	Events       EventsConfig       `yaml:"events"`
	Seed         SeedConfig         `yaml:"seed"`
}

type APIConfig struct {
	HTTP            APIHTTPConfig         `yaml:"http"`
	Auth            APIAuthConfig         `yaml:"auth"`
	RateLimit       APIRateLimitConfig    `yaml:"rate_limit"`
	PublicRateLimit PublicRateLimitConfig `yaml:"public_rate_limit"`
}

type APIHTTPConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type APIAuthConfig struct {
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

// APIClientKey binds a key to the owner whose calendar it manages.
type APIClientKey struct {
	Key     string `yaml:"key"`
	OwnerID string `yaml:"owner_id"`
	Name    string `yaml:"name"`
	Email   string `yaml:"email"`

	// ProfileSlug and TimeZone only seed a profile that does not exist yet.
	ProfileSlug string `yaml:"profile_slug"`
	TimeZone    string `yaml:"time_zone"`
}

// APIRateLimitConfig is the per-key token bucket for owner endpoints.
type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// PublicRateLimitConfig limits anonymous requests per client address.
type PublicRateLimitConfig struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Driver      string `yaml:"driver"`
	Path        string `yaml:"path"`
	PostgresURL string `yaml:"postgres_url"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type BookingConfig struct {
	MaxRecurring        int           `yaml:"max_recurring"`
	NotificationTimeout time.Duration `yaml:"notification_timeout"`
}

type NotificationConfig struct {
	Enabled  bool   `yaml:"enabled"`
	SMTPHost string `yaml:"smtp_host"`
	SMTPPort int    `yaml:"smtp_port"`
	From     string `yaml:"from"`
	BaseURL  string `yaml:"base_url"`
	Retries  int    `yaml:"retries"`
}

type EventsConfig struct {
	Kafka KafkaConfig `yaml:"kafka"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	Buffer  int      `yaml:"buffer"`
}

type SeedConfig struct {
	EventTypesPath string `yaml:"event_types_path"`
}

func Load(configPath string) (*Config, error) {
	// Загружаем .env файл если существует
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverMemory:
	case DriverFile, DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for driver %q", c.Database.Driver)
		}
	case DriverPostgres:
		if c.Database.PostgresURL == "" {
			return errors.New("database postgres_url is required for driver postgres")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	if c.Notification.Enabled && c.Notification.SMTPHost == "" {
		return errors.New("notification smtp_host is required when notifications are enabled")
	}

	return ValidateAPIKeys(c.API.Auth.APIKeys)
}

// ValidateAPIKeys requires every key to be non-empty, unique and bound to an owner.
func ValidateAPIKeys(keys []APIClientKey) error {
	seen := make(map[string]bool)
	for i, k := range keys {
		if strings.TrimSpace(k.Key) == "" {
			return fmt.Errorf("api key #%d is empty", i+1)
		}
		if strings.TrimSpace(k.OwnerID) == "" {
			return fmt.Errorf("api key '%s' has no owner_id", k.Name)
		}
		if seen[k.Key] {
			return fmt.Errorf("duplicate api key for '%s'", k.Name)
		}
		seen[k.Key] = true
	}
	return nil
}

// Owners lists the owners declared by the API keys, one entry per owner id.
func (c *Config) Owners() []models.Owner {
	var out []models.Owner
	seen := make(map[string]bool)
	for _, k := range c.API.Auth.APIKeys {
		if seen[k.OwnerID] {
			continue
		}
		seen[k.OwnerID] = true
		out = append(out, models.Owner{
			ID:          k.OwnerID,
			FullName:    k.Name,
			Email:       k.Email,
			ProfileSlug: k.ProfileSlug,
			TimeZone:    k.TimeZone,
		})
	}
	return out
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "slotkeeper"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverMemory
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.HTTP.ReadTimeout == 0 {
		c.API.HTTP.ReadTimeout = 10 * time.Second
	}
	if c.API.HTTP.WriteTimeout == 0 {
		c.API.HTTP.WriteTimeout = 15 * time.Second
	}
	if c.API.HTTP.ShutdownTimeout == 0 {
		c.API.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.RateLimit.RPS == 0 {
		c.API.RateLimit.RPS = 10
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 20
	}
	if c.API.PublicRateLimit.Limit == 0 {
		c.API.PublicRateLimit.Limit = 30
	}
	if c.API.PublicRateLimit.Window == 0 {
		c.API.PublicRateLimit.Window = time.Minute
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	if c.Booking.MaxRecurring <= 0 || c.Booking.MaxRecurring > models.MaxRecurringCount {
		c.Booking.MaxRecurring = models.MaxRecurringCount
	}
	if c.Booking.NotificationTimeout == 0 {
		c.Booking.NotificationTimeout = 10 * time.Second
	}
	if c.Notification.SMTPPort == 0 {
		c.Notification.SMTPPort = 25
	}
	if c.Events.Kafka.Topic == "" {
		c.Events.Kafka.Topic = "slotkeeper.bookings"
	}
	if c.Events.Kafka.Buffer == 0 {
		c.Events.Kafka.Buffer = 256
	}
}
