package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const defaultSecret = "dev_secret"

// Config holds application configuration values.
type Config struct {
	Port      string        `envconfig:"PORT" default:"3000"`
	JWTSecret string        `envconfig:"JWT_SECRET" default:"dev_secret"`
	AppEnv    string        `envconfig:"APP_ENV" default:"development"`
	TokenTTL  time.Duration `envconfig:"TOKEN_TTL" default:"24h"`
	LogLevel  string        `envconfig:"LOG_LEVEL" default:"info"`

	DatabasePath   string        `envconfig:"DATABASE_PATH" default:"pharmacy.db"`
	DBMaxOpenConns int           `envconfig:"DB_MAX_OPEN_CONNS" default:"4"`
	DBBusyTimeout  time.Duration `envconfig:"DB_BUSY_TIMEOUT" default:"5s"`
	TxMaxRetries   int           `envconfig:"TX_MAX_RETRIES" default:"3"`

	UploadDir      string `envconfig:"UPLOAD_DIR" default:"uploads"`
	MaxUploadBytes int64  `envconfig:"MAX_UPLOAD_BYTES" default:"5242880"`

	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"100"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"15m"`
	CORSOrigins       []string      `envconfig:"CORS_ORIGINS" default:"*"`

	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"pharmacy.orders"`

	SeedDrugsCSV  string `envconfig:"SEED_DRUGS_CSV" default:"assets/drugs.csv"`
	AdminEmail    string `envconfig:"ADMIN_EMAIL"`
	AdminPassword string `envconfig:"ADMIN_PASSWORD"`
	AdminName     string `envconfig:"ADMIN_NAME" default:"Administrator"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("invalid PORT value %q", c.Port)
	}
	if c.Production() && c.JWTSecret == defaultSecret {
		return errors.New("JWT_SECRET must be set in production")
	}
	if c.DBMaxOpenConns < 1 {
		return fmt.Errorf("DB_MAX_OPEN_CONNS must be positive, got %d", c.DBMaxOpenConns)
	}
	if c.TxMaxRetries < 0 {
		return fmt.Errorf("TX_MAX_RETRIES must not be negative, got %d", c.TxMaxRetries)
	}
	if c.RateLimitRequests < 1 || c.RateLimitWindow <= 0 {
		return errors.New("rate limit requests and window must be positive")
	}
	return nil
}

func (c *Config) Production() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

func (c *Config) KafkaEnabled() bool {
	for _, b := range c.KafkaBrokers {
		if strings.TrimSpace(b) != "" {
			return true
		}
	}
	return false
}
