// Package config provides environment-aware configuration management.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// Config holds all application configuration.
type Config struct {
	Env Environment

	// HTTP
	GatewayPort int
	UnifiedPort int
	AdminPort   int
	CORSOrigins []string

	// Logging
	LogLevel  string
	LogFormat string

	// Postgres
	DatabaseURL      string
	DBMaxConnections int
	DBIdleTimeout    time.Duration

	// Redis
	RedisAddr string
	RedisDB   int

	// Work queue / stream topics (§6, §4.6)
	WorkQueueName       string
	StreamConsumerGroup string
	StreamConsumerName  string
	EventThroughputKey  string
	APIThroughputKey    string

	// Caches (§4.2)
	ConnectionCacheTTL time.Duration
	CMDCacheTTL        time.Duration
	CMSCacheTTL        time.Duration
	SecretCacheTTL     time.Duration
	CacheMaxSize       int

	// Access-key crypto (§3, §6)
	AccessKeySecret string

	// Unified API tenant auth (§6 "x-integrationos-secret")
	UnifiedTenantSecret string

	// Internal control API (gateway <-> engine service auth)
	ControlAPISecret string

	// Pipeline engine (§4.5)
	HeartbeatInterval time.Duration
	RootRetryInterval time.Duration

	// Stream processor (§4.6)
	ConsumerBatchSize   int
	ConsumerLingerTime  time.Duration
	EventMaxRetries     int

	// Watchdog (§4.7)
	WatchdogPollSeconds int
	EventTimeoutSeconds int

	// Features
	MetricsEnabled bool
	MetricsPort    int
}

// Load loads configuration based on the CORE_ENV environment variable.
func Load() (*Config, error) {
	envStr := os.Getenv("CORE_ENV")
	if envStr == "" {
		envStr = string(Development)
	}

	env, ok := parseEnvironment(envStr)
	if !ok {
		return nil, fmt.Errorf("invalid CORE_ENV: %s (must be development, testing, or production)", envStr)
	}

	configFile := filepath.Join("config", fmt.Sprintf("%s.env", env))
	if err := godotenv.Load(configFile); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Printf("Warning: Could not load %s: %v\n", configFile, err)
		}
	}

	cfg := &Config{Env: env}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func parseEnvironment(s string) (Environment, bool) {
	switch Environment(strings.ToLower(s)) {
	case Development:
		return Development, true
	case Testing:
		return Testing, true
	case Production:
		return Production, true
	default:
		return "", false
	}
}

func (c *Config) loadFromEnv() error {
	var err error

	// HTTP
	c.GatewayPort = getIntEnv("GATEWAY_PORT", 8080)
	c.UnifiedPort = getIntEnv("UNIFIED_PORT", 8081)
	c.AdminPort = getIntEnv("ADMIN_PORT", 8082)
	c.CORSOrigins = strings.Split(getEnv("CORS_ALLOWED_ORIGINS", "*"), ",")

	// Logging
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.LogFormat = getEnv("LOG_FORMAT", "json")

	// Postgres
	c.DatabaseURL = getEnv("DATABASE_URL", "")
	c.DBMaxConnections = getIntEnv("DB_MAX_CONNECTIONS", 20)
	c.DBIdleTimeout, err = getDurationEnv("DB_IDLE_TIMEOUT", "5m")
	if err != nil {
		return err
	}

	// Redis
	c.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	c.RedisDB = getIntEnv("REDIS_DB", 0)

	// Work queue / stream topics
	c.WorkQueueName = getEnv("WORK_QUEUE_NAME", "core:work")
	c.StreamConsumerGroup = getEnv("STREAM_CONSUMER_GROUP", "core")
	c.StreamConsumerName = getEnv("STREAM_CONSUMER_NAME", "core-1")
	c.EventThroughputKey = getEnv("EVENT_THROUGHPUT_KEY", "core:throughput:event")
	c.APIThroughputKey = getEnv("API_THROUGHPUT_KEY", "core:throughput:api")

	// Caches
	c.ConnectionCacheTTL, err = getDurationEnv("CONNECTION_CACHE_TTL", "60s")
	if err != nil {
		return err
	}
	c.CMDCacheTTL, err = getDurationEnv("CMD_CACHE_TTL", "300s")
	if err != nil {
		return err
	}
	c.CMSCacheTTL, err = getDurationEnv("CMS_CACHE_TTL", "300s")
	if err != nil {
		return err
	}
	c.SecretCacheTTL, err = getDurationEnv("SECRET_CACHE_TTL", "60s")
	if err != nil {
		return err
	}
	c.CacheMaxSize = getIntEnv("CACHE_MAX_SIZE", 10000)

	// Access key
	c.AccessKeySecret = getEnv("ACCESS_KEY_SECRET", "")
	c.UnifiedTenantSecret = getEnv("UNIFIED_TENANT_SECRET", "")
	c.ControlAPISecret = getEnv("CONTROL_API_SECRET", "")

	// Pipeline engine
	c.HeartbeatInterval, err = getDurationEnv("ENGINE_HEARTBEAT_INTERVAL", "10s")
	if err != nil {
		return err
	}
	c.RootRetryInterval, err = getDurationEnv("ENGINE_ROOT_RETRY_INTERVAL", "500ms")
	if err != nil {
		return err
	}

	// Stream processor
	c.ConsumerBatchSize = getIntEnv("CONSUMER_BATCH_SIZE", 100)
	c.ConsumerLingerTime, err = getDurationEnv("CONSUMER_LINGER_TIME", "1s")
	if err != nil {
		return err
	}
	c.EventMaxRetries = getIntEnv("EVENT_PROCESSING_MAX_RETRIES", 3)

	// Watchdog
	c.WatchdogPollSeconds = getIntEnv("WATCHDOG_POLL_SECONDS", 30)
	c.EventTimeoutSeconds = getIntEnv("EVENT_TIMEOUT_SECONDS", 60)

	// Features
	c.MetricsEnabled = getBoolEnv("METRICS_ENABLED", c.Env == Production)
	c.MetricsPort = getIntEnv("METRICS_PORT", 9090)

	return nil
}

// IsDevelopment returns true if running in the development environment.
func (c *Config) IsDevelopment() bool { return c.Env == Development }

// IsTesting returns true if running in the testing environment.
func (c *Config) IsTesting() bool { return c.Env == Testing }

// IsProduction returns true if running in the production environment.
func (c *Config) IsProduction() bool { return c.Env == Production }

// Validate validates the configuration, enforcing production-only
// requirements.
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
		if c.AccessKeySecret == "" {
			return fmt.Errorf("ACCESS_KEY_SECRET is required in production")
		}
	}

	ports := []int{c.GatewayPort, c.UnifiedPort, c.AdminPort, c.MetricsPort}
	for _, port := range ports {
		if port < 1024 || port > 65535 {
			return fmt.Errorf("invalid port number: %d (must be between 1024 and 65535)", port)
		}
	}

	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationEnv(key, defaultValue string) (time.Duration, error) {
	value := getEnv(key, defaultValue)
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
