package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Server configuration
	Port        string `yaml:"port"`
	Environment string `yaml:"environment"`

	// Event API (the backend that owns events, users and bookings)
	APIBaseURL string        `yaml:"api_base_url"`
	APITimeout time.Duration `yaml:"api_timeout"`

	// Circuit breaker in front of the event API
	BreakerMaxRequests  uint32        `yaml:"breaker_max_requests"`
	BreakerInterval     time.Duration `yaml:"breaker_interval"`
	BreakerTimeout      time.Duration `yaml:"breaker_timeout"`
	BreakerFailureRatio float64       `yaml:"breaker_failure_ratio"`

	// Redis configuration
	RedisURL      string `yaml:"redis_url"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// PubNub configuration
	PubNubPublishKey   string `yaml:"pubnub_publish_key"`
	PubNubSubscribeKey string `yaml:"pubnub_subscribe_key"`
	PubNubSecretKey    string `yaml:"pubnub_secret_key"`
	PubNubCipherKey    string `yaml:"pubnub_cipher_key"`
	PubNubUserID       string `yaml:"pubnub_user_id"`
	PubNubChannel      string `yaml:"pubnub_channel"`

	// Sessions
	SessionTTL        time.Duration `yaml:"session_ttl"`
	SessionCookieName string        `yaml:"session_cookie_name"`

	// Views
	ViewIdleTTL        time.Duration `yaml:"view_idle_ttl"`
	ViewSweepInterval  time.Duration `yaml:"view_sweep_interval"`
	MaxViewsPerSession int           `yaml:"max_views_per_session"`

	// Throttling of auth and booking endpoints
	ThrottleLimit  int           `yaml:"throttle_limit"`
	ThrottleWindow time.Duration `yaml:"throttle_window"`

	// Monitoring
	EnableMetrics bool   `yaml:"enable_metrics"`
	MetricsPort   string `yaml:"metrics_port"`
}

// Default returns the configuration used when neither a file nor the
// environment says otherwise.
func Default() *Config {
	return &Config{
		Port:        "8090",
		Environment: "development",

		APIBaseURL: "http://localhost:4000",
		APITimeout: 10 * time.Second,

		BreakerMaxRequests:  20,
		BreakerInterval:     60 * time.Second,
		BreakerTimeout:      30 * time.Second,
		BreakerFailureRatio: 0.6,

		RedisURL: "localhost:6379",

		PubNubChannel: "events",

		SessionTTL:        24 * time.Hour,
		SessionCookieName: "portal_session",

		ViewIdleTTL:        10 * time.Minute,
		ViewSweepInterval:  time.Minute,
		MaxViewsPerSession: 8,

		ThrottleLimit:  30,
		ThrottleWindow: time.Minute,

		EnableMetrics: true,
		MetricsPort:   "9090",
	}
}

// LoadConfig reads the optional YAML file named by PORTAL_CONFIG and then lets
// environment variables override individual keys.
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("PORTAL_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	// Server
	c.Port = getEnv("PORT", c.Port)
	c.Environment = getEnv("ENVIRONMENT", c.Environment)

	// Event API
	c.APIBaseURL = strings.TrimRight(getEnv("API_BASE_URL", c.APIBaseURL), "/")
	c.APITimeout = getEnvAsDuration("API_TIMEOUT", c.APITimeout)

	c.BreakerMaxRequests = uint32(getEnvAsInt("BREAKER_MAX_REQUESTS", int(c.BreakerMaxRequests)))
	c.BreakerInterval = getEnvAsDuration("BREAKER_INTERVAL", c.BreakerInterval)
	c.BreakerTimeout = getEnvAsDuration("BREAKER_TIMEOUT", c.BreakerTimeout)
	c.BreakerFailureRatio = getEnvAsFloat("BREAKER_FAILURE_RATIO", c.BreakerFailureRatio)

	// Redis
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvAsInt("REDIS_DB", c.RedisDB)

	// PubNub
	c.PubNubPublishKey = getEnv("PUBNUB_PUBLISH_KEY", c.PubNubPublishKey)
	c.PubNubSubscribeKey = getEnv("PUBNUB_SUBSCRIBE_KEY", c.PubNubSubscribeKey)
	c.PubNubSecretKey = getEnv("PUBNUB_SECRET_KEY", c.PubNubSecretKey)
	c.PubNubCipherKey = getEnv("PUBNUB_CIPHER_KEY", c.PubNubCipherKey)
	c.PubNubUserID = getEnv("PUBNUB_USER_ID", c.PubNubUserID)
	c.PubNubChannel = getEnv("PUBNUB_CHANNEL", c.PubNubChannel)

	// Sessions
	c.SessionTTL = getEnvAsDuration("SESSION_TTL", c.SessionTTL)
	c.SessionCookieName = getEnv("SESSION_COOKIE_NAME", c.SessionCookieName)

	// Views
	c.ViewIdleTTL = getEnvAsDuration("VIEW_IDLE_TTL", c.ViewIdleTTL)
	c.ViewSweepInterval = getEnvAsDuration("VIEW_SWEEP_INTERVAL", c.ViewSweepInterval)
	c.MaxViewsPerSession = getEnvAsInt("MAX_VIEWS_PER_SESSION", c.MaxViewsPerSession)

	// Throttling
	c.ThrottleLimit = getEnvAsInt("THROTTLE_LIMIT", c.ThrottleLimit)
	c.ThrottleWindow = getEnvAsDuration("THROTTLE_WINDOW", c.ThrottleWindow)

	// Monitoring
	c.EnableMetrics = getEnvAsBool("ENABLE_METRICS", c.EnableMetrics)
	c.MetricsPort = getEnv("METRICS_PORT", c.MetricsPort)
}

// Validate reports every missing or out of range key at once.
func (c *Config) Validate() error {
	var invalid []string

	if c.APIBaseURL == "" {
		invalid = append(invalid, "API_BASE_URL")
	}
	if c.PubNubSubscribeKey == "" {
		invalid = append(invalid, "PUBNUB_SUBSCRIBE_KEY")
	}
	if c.PubNubChannel == "" {
		invalid = append(invalid, "PUBNUB_CHANNEL")
	}
	if c.SessionTTL <= 0 {
		invalid = append(invalid, "SESSION_TTL")
	}
	if c.ViewIdleTTL <= 0 {
		invalid = append(invalid, "VIEW_IDLE_TTL")
	}
	if c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1 {
		invalid = append(invalid, "BREAKER_FAILURE_RATIO")
	}

	if len(invalid) > 0 {
		return fmt.Errorf("config: missing or invalid: %s", strings.Join(invalid, ", "))
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "local"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	return defaultValue
}
