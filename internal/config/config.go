package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the full service configuration, read from the environment
type Config struct {
	Port     int
	LogLevel string
	Env      string
	DB       DBConfig
	Auth     AuthConfig
	Kafka    KafkaConfig
	Catalog  CatalogConfig
	Rate     RateConfig
}

// DBConfig holds the database configuration
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// AuthConfig holds the token verification settings
type AuthConfig struct {
	JWTSecret string
}

// KafkaConfig holds the event publishing settings. When Enabled is
// false, outbox messages are logged instead of published.
type KafkaConfig struct {
	Enabled     bool
	Brokers     []string
	OrdersTopic string
}

// CatalogConfig holds the product catalog collaborator settings
type CatalogConfig struct {
	BaseURL string
}

// RateConfig holds the rate limiting settings
type RateConfig struct {
	GlobalMaxTokens   float64
	GlobalRefillRate  float64
	IPMaxTokens       float64
	IPRefillRate      float64
	TrustForwardedFor bool
}

// getEnv retrieves the value of an environment variable or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}

	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := getEnv(key, strconv.Itoa(defaultValue))

	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	raw := getEnv(key, strconv.FormatFloat(defaultValue, 'f', -1, 64))

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvBool(key string, defaultValue bool) bool {
	raw := getEnv(key, strconv.FormatBool(defaultValue))
	return strings.EqualFold(raw, "true") || raw == "1"
}

// Load reads the configuration from environment variables and returns a Config struct.
// A .env file in the working directory is loaded first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	port, err := getEnvInt("PORT", 8080)
	if err != nil {
		return nil, err
	}

	dbPort, err := getEnvInt("DB_PORT", 5432)
	if err != nil {
		return nil, err
	}

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	globalMaxTokens, err := getEnvFloat("RATE_GLOBAL_MAX_TOKENS", 200)
	if err != nil {
		return nil, err
	}
	globalRefill, err := getEnvFloat("RATE_GLOBAL_REFILL_RATE", 100)
	if err != nil {
		return nil, err
	}
	ipMaxTokens, err := getEnvFloat("RATE_IP_MAX_TOKENS", 20)
	if err != nil {
		return nil, err
	}
	ipRefill, err := getEnvFloat("RATE_IP_REFILL_RATE", 10)
	if err != nil {
		return nil, err
	}

	return &Config{
		Port:     port,
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Env:      getEnv("APP_ENV", "development"),
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Name:     getEnv("DB_NAME", "santeh_orders"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Auth: AuthConfig{
			JWTSecret: jwtSecret,
		},
		Kafka: KafkaConfig{
			Enabled:     getEnvBool("KAFKA_ENABLED", false),
			Brokers:     strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			OrdersTopic: getEnv("KAFKA_ORDERS_TOPIC", "order-events"),
		},
		Catalog: CatalogConfig{
			BaseURL: getEnv("CATALOG_BASE_URL", "http://localhost:8081"),
		},
		Rate: RateConfig{
			GlobalMaxTokens:   globalMaxTokens,
			GlobalRefillRate:  globalRefill,
			IPMaxTokens:       ipMaxTokens,
			IPRefillRate:      ipRefill,
			TrustForwardedFor: getEnvBool("RATE_TRUST_FORWARDED_FOR", false),
		},
	}, nil
}

// GetDBConnString returns the database connection string
func (c *Config) GetDBConnString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode)
}
