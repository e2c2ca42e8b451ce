package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the full application configuration surface.
type Config struct {
	Server    ServerConfig
	WhatsApp  WhatsAppConfig
	Webhook   WebhookConfig
	Queue     QueueConfig
	Storage   StorageConfig
	Retention RetentionConfig
}

// ServerConfig holds HTTP server related options.
type ServerConfig struct {
	Port string
}

// WhatsAppConfig contains credentials and options for the Meta WhatsApp Cloud API.
type WhatsAppConfig struct {
	AccessToken       string
	PhoneNumberID     string
	BusinessAccountID string
	BaseURL           string
	APIVersion        string
	RequestTimeout    time.Duration
	MaxRetries        int
}

// WebhookConfig controls inbound webhook verification and processing.
type WebhookConfig struct {
	VerifyToken     string
	AppSecret       string
	VerifySignature bool
	AutoProcess     bool
	AutoMarkRead    bool
	MaxBodySize     int64
	Timeout         time.Duration
}

// QueueConfig controls the outbound delivery queue.
type QueueConfig struct {
	Enabled     bool
	MaxSize     int
	MaxAttempts int
}

// StorageConfig selects and configures the message store backend.
type StorageConfig struct {
	Backend  string // "memory" or "mongodb"
	MongoURI string
	MongoDB  string
}

// RetentionConfig holds message cleanup settings.
type RetentionConfig struct {
	CronSchedule string
	MaxAge       time.Duration
}

// Load reads environment variables (optionally from the provided file) and
// materializes a Config instance.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed loading env file %s: %w", envFile, err)
			}
		}
	} else {
		// Ignore the returned error here; missing .env files are acceptable when
		// configuration comes from the environment directly.
		_ = godotenv.Load()
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getenvWithDefault("APP_PORT", "8080"),
		},
		WhatsApp: WhatsAppConfig{
			AccessToken:       os.Getenv("WHATSAPP_TOKEN"),
			PhoneNumberID:     os.Getenv("WHATSAPP_PHONE_NUMBER_ID"),
			BusinessAccountID: os.Getenv("WHATSAPP_BUSINESS_ACCOUNT_ID"),
			BaseURL:           getenvWithDefault("WHATSAPP_BASE_URL", "https://graph.facebook.com"),
			APIVersion:        getenvWithDefault("WHATSAPP_API_VERSION", "v20.0"),
			RequestTimeout:    getenvDuration("WHATSAPP_REQUEST_TIMEOUT", 15*time.Second),
			MaxRetries:        getenvInt("WHATSAPP_MAX_RETRIES", 3),
		},
		Webhook: WebhookConfig{
			VerifyToken:     os.Getenv("WEBHOOK_VERIFY_TOKEN"),
			AppSecret:       os.Getenv("WEBHOOK_APP_SECRET"),
			VerifySignature: getenvBool("WEBHOOK_VERIFY_SIGNATURE", false),
			AutoProcess:     getenvBool("WEBHOOK_AUTO_PROCESS", true),
			AutoMarkRead:    getenvBool("WEBHOOK_AUTO_MARK_READ", false),
			MaxBodySize:     int64(getenvInt("WEBHOOK_MAX_BODY_SIZE", 1<<20)),
			Timeout:         getenvDuration("WEBHOOK_TIMEOUT", 30*time.Second),
		},
		Queue: QueueConfig{
			Enabled:     getenvBool("QUEUE_ENABLED", true),
			MaxSize:     getenvInt("QUEUE_MAX_SIZE", 1000),
			MaxAttempts: getenvInt("QUEUE_MAX_ATTEMPTS", 3),
		},
		Storage: StorageConfig{
			Backend:  getenvWithDefault("STORAGE_BACKEND", "memory"),
			MongoURI: os.Getenv("MONGODB_URI"),
			MongoDB:  getenvWithDefault("MONGODB_DB_NAME", "wabridge"),
		},
		Retention: RetentionConfig{
			CronSchedule: getenvWithDefault("RETENTION_CRON_SCHEDULE", "0 3 * * *"),
			MaxAge:       getenvDuration("RETENTION_MAX_AGE", 30*24*time.Hour),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures that required configuration fields are populated.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	if c.Server.Port == "" {
		return errors.New("APP_PORT must be provided")
	}

	switch {
	case c.WhatsApp.AccessToken == "":
		return errors.New("WHATSAPP_TOKEN must be provided")
	case c.WhatsApp.PhoneNumberID == "":
		return errors.New("WHATSAPP_PHONE_NUMBER_ID must be provided")
	case c.Webhook.VerifyToken == "":
		return errors.New("WEBHOOK_VERIFY_TOKEN must be provided")
	}

	if c.WhatsApp.BaseURL == "" {
		return errors.New("WHATSAPP_BASE_URL must not be empty")
	}

	if c.WhatsApp.APIVersion == "" {
		return errors.New("WHATSAPP_API_VERSION must not be empty")
	}

	if c.Webhook.VerifySignature && c.Webhook.AppSecret == "" {
		return errors.New("WEBHOOK_APP_SECRET must be provided when signature verification is enabled")
	}

	if c.Queue.MaxSize <= 0 {
		return errors.New("QUEUE_MAX_SIZE must be positive")
	}

	switch c.Storage.Backend {
	case "memory":
	case "mongodb":
		if c.Storage.MongoURI == "" {
			return errors.New("MONGODB_URI must be provided for the mongodb backend")
		}
	default:
		return fmt.Errorf("unsupported STORAGE_BACKEND %q", c.Storage.Backend)
	}

	return nil
}

func getenvWithDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
