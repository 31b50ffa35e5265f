// Package config reads service settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendMemory = "memory"
	BackendMongo  = "mongo"
)

type Config struct {
	Environment        string
	HTTPPort           string
	RequestTimeout     time.Duration
	ShutdownTimeout    time.Duration
	MaxRequestBodySize int64

	// Catalog stock and reservations
	StoreBackend    string
	MongoURI        string
	MongoDatabase   string
	ReservationTTL  time.Duration
	SweepInterval   time.Duration
	DepletionPolicy string
	SeedFile        string

	// Orders
	OrdersDriver     string
	OrdersSQLitePath string
	DBHost           string
	DBPort           int
	DBUser           string
	DBPassword       string
	DBName           string
	DBSSLMode        string
	MigrationsDir    string

	// Payment outcome dedupe; memory when RedisAddr is empty
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	DedupeTTL     time.Duration

	// Payment outcome events; consumer disabled when KafkaBrokers is empty
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	var errs []error
	cfg := &Config{
		Environment:        getEnv("ENVIRONMENT", "development"),
		HTTPPort:           getEnv("HTTP_PORT", "8080"),
		RequestTimeout:     getEnvAsDuration("REQUEST_TIMEOUT", 30*time.Second, &errs),
		ShutdownTimeout:    getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second, &errs),
		MaxRequestBodySize: int64(getEnvAsInt("MAX_REQUEST_BODY_BYTES", 1<<20, &errs)), // 1MB

		StoreBackend:    strings.ToLower(getEnv("STORE_BACKEND", BackendMemory)),
		MongoURI:        getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:   getEnv("MONGO_DATABASE", "reservations"),
		ReservationTTL:  getEnvAsDuration("RESERVATION_TTL", 30*time.Minute, &errs),
		SweepInterval:   getEnvAsDuration("SWEEP_INTERVAL", time.Minute, &errs),
		DepletionPolicy: getEnv("DEPLETION_POLICY", "keep"),
		SeedFile:        getEnv("SEED_FILE", ""),

		OrdersDriver:     strings.ToLower(getEnv("ORDERS_DB_DRIVER", "sqlite")),
		OrdersSQLitePath: getEnv("ORDERS_SQLITE_PATH", "orders.db"),
		DBHost:           getEnv("DB_HOST", "localhost"),
		DBPort:           getEnvAsInt("DB_PORT", 5432, &errs),
		DBUser:           getEnv("DB_USER", "postgres"),
		DBPassword:       getEnv("DB_PASSWORD", "postgres"),
		DBName:           getEnv("DB_NAME", "orders"),
		DBSSLMode:        getEnv("DB_SSLMODE", "disable"),
		MigrationsDir:    getEnv("MIGRATIONS_DIR", "internal/orders/migrations"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0, &errs),
		DedupeTTL:     getEnvAsDuration("DEDUPE_TTL", 7*24*time.Hour, &errs),

		KafkaBrokers: splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "payment-outcomes"),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "reservation-service"),
	}

	errs = append(errs, cfg.validate()...)
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return cfg, nil
}

func (c *Config) validate() []error {
	var errs []error
	switch c.StoreBackend {
	case BackendMemory, BackendMongo:
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendMemory, BackendMongo, c.StoreBackend))
	}
	switch c.OrdersDriver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("ORDERS_DB_DRIVER must be sqlite or postgres, got %q", c.OrdersDriver))
	}
	if c.ReservationTTL <= 0 {
		errs = append(errs, errors.New("RESERVATION_TTL must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be positive"))
	}
	if c.MaxRequestBodySize <= 0 {
		errs = append(errs, errors.New("MAX_REQUEST_BODY_BYTES must be positive"))
	}
	return errs
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int, errs *[]error) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return result
}

func getEnvAsDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	result, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return result
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
