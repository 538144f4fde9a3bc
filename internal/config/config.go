package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Port           string `validate:"required"`
	StorageBackend string `validate:"oneof=postgres memory"`
	DatabaseURL    string `validate:"required_if=StorageBackend postgres"`
	RedisURL       string `validate:"required_if=StorageBackend postgres"`
	LogLevel       string `validate:"oneof=debug info warn error"`

	NumWorkers        int           `validate:"min=1"`
	BatchSize         int           `validate:"min=1"`
	PollInterval      time.Duration `validate:"gt=0"`
	VisibilityTimeout time.Duration `validate:"gt=0"`
	SweepInterval     time.Duration `validate:"gt=0"`

	MaxAttempts             int           `validate:"min=1"`
	RetryBaseDelay          time.Duration `validate:"gt=0"`
	RetryMaxDelay           time.Duration `validate:"gtefield=RetryBaseDelay"`
	UnknownReferenceLookups int           `validate:"min=1"`
	GatewayTimeout          time.Duration `validate:"gt=0"`

	ReconcileInterval    time.Duration `validate:"gt=0"`
	ReconcileThreshold   time.Duration `validate:"gt=0"`
	ReconcileConcurrency int           `validate:"min=1"`
	ReconcileBatchLimit  int           `validate:"min=1"`
	ReconcileRunTimeout  time.Duration `validate:"gt=0"`

	MaxPayloadBytes int64 `validate:"min=1024"`

	NATSURL     string
	NATSSubject string

	GatewaysFile string
	Gateways     []GatewayConfig `validate:"required,min=1,dive"`
}

// Load reads configuration from environment variables, after loading a .env
// file when one is present, and the gateway table from GATEWAYS_FILE.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	reconcileInterval := getEnvDuration("RECONCILE_INTERVAL", 10*time.Minute)

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		StorageBackend: getEnv("STORAGE_BACKEND", "postgres"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		RedisURL:       getEnv("REDIS_URL", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),

		NumWorkers:        getEnvInt("NUM_WORKERS", 8),
		BatchSize:         getEnvInt("BATCH_SIZE", 25),
		PollInterval:      getEnvDuration("POLL_INTERVAL", 250*time.Millisecond),
		VisibilityTimeout: getEnvDuration("VISIBILITY_TIMEOUT", 2*time.Minute),
		SweepInterval:     getEnvDuration("SWEEP_INTERVAL", time.Minute),

		MaxAttempts:             getEnvInt("MAX_ATTEMPTS", 5),
		RetryBaseDelay:          getEnvDuration("RETRY_BASE_DELAY", 2*time.Second),
		RetryMaxDelay:           getEnvDuration("RETRY_MAX_DELAY", 5*time.Minute),
		UnknownReferenceLookups: getEnvInt("UNKNOWN_REFERENCE_LOOKUPS", 3),
		GatewayTimeout:          getEnvDuration("GATEWAY_TIMEOUT", 10*time.Second),

		ReconcileInterval:    reconcileInterval,
		ReconcileThreshold:   getEnvDuration("RECONCILE_THRESHOLD", reconcileInterval),
		ReconcileConcurrency: getEnvInt("RECONCILE_CONCURRENCY", 4),
		ReconcileBatchLimit:  getEnvInt("RECONCILE_BATCH_LIMIT", 500),
		ReconcileRunTimeout:  getEnvDuration("RECONCILE_RUN_TIMEOUT", reconcileInterval/2),

		MaxPayloadBytes: int64(getEnvInt("MAX_PAYLOAD_BYTES", 1<<20)),

		NATSURL:     getEnv("NATS_URL", ""),
		NATSSubject: getEnv("NATS_SUBJECT", "payments.transitions"),

		GatewaysFile: getEnv("GATEWAYS_FILE", "gateways.yaml"),
	}

	gateways, err := LoadGateways(cfg.GatewaysFile)
	if err != nil {
		return nil, err
	}
	cfg.Gateways = gateways

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints declared in struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LoadGateways parses the gateway table and resolves each secret from the
// environment variable it names.
func LoadGateways(path string) ([]GatewayConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading gateways file: %w", err)
	}
	return ParseGateways(data, getEnv)
}

// ParseGateways decodes a gateway table. lookup resolves secret_env names.
func ParseGateways(data []byte, lookup func(key, fallback string) string) ([]GatewayConfig, error) {
	var file gatewaysFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing gateways file: %w", err)
	}

	for i := range file.Gateways {
		g := &file.Gateways[i]
		if g.Signature.SecretEnv != "" {
			g.Signature.Secret = lookup(g.Signature.SecretEnv, "")
		}
		if g.API.SecretEnv != "" {
			g.API.Secret = lookup(g.API.SecretEnv, "")
		}
		if g.Kind == "" {
			g.Kind = g.Name
		}
	}
	return file.Gateways, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err == nil {
			return d
		}
	}
	return fallback
}
