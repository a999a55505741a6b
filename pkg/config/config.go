package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	Kafka     KafkaConfig     `json:"kafka"`
	Collector CollectorConfig `json:"collector"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Alerts    AlertsConfig    `json:"alerts"`
	Notify    NotifyConfig    `json:"notify"`
	Logging   LoggingConfig   `json:"logging"`
	Metrics   MetricsConfig   `json:"metrics"`
	Tracing   TracingConfig   `json:"tracing"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	AllowedOrigins  []string      `json:"allowed_origins"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite3"
	Driver          string        `json:"driver"`
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	Path            string        `json:"path"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	AutoMigrate     bool          `json:"auto_migrate"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled   bool          `json:"enabled"`
	Host      string        `json:"host"`
	Port      int           `json:"port"`
	Password  string        `json:"password"`
	DB        int           `json:"db"`
	PoolSize  int           `json:"pool_size"`
	SampleTTL time.Duration `json:"sample_ttl"`
}

// KafkaConfig holds alert notification producer configuration
type KafkaConfig struct {
	Enabled      bool          `json:"enabled"`
	Brokers      []string      `json:"brokers"`
	Topic        string        `json:"topic"`
	WriteTimeout time.Duration `json:"write_timeout"`
	// UserID addresses notifications; the consumer rejects ids below 1.
	UserID int `json:"user_id"`
}

// PolicyConfig parameterizes one composed resilience policy
type PolicyConfig struct {
	Timeout          time.Duration `json:"timeout"`
	Retries          int           `json:"retries"`
	RetryBaseDelay   time.Duration `json:"retry_base_delay"`
	BreakerThreshold int           `json:"breaker_threshold"`
	BreakerCooldown  time.Duration `json:"breaker_cooldown"`
}

// CollectorConfig holds metric collection configuration
type CollectorConfig struct {
	// Source is "auto", "procfs", "exporter" or "static"
	Source         string        `json:"source"`
	ExporterPort   int           `json:"exporter_port"`
	ExporterPath   string        `json:"exporter_path"`
	ScrapeCacheTTL time.Duration `json:"scrape_cache_ttl"`
	ProcRoot       string        `json:"proc_root"`
	DiskPath       string        `json:"disk_path"`
	// Probe is "tcp" or "icmp"
	Probe        string        `json:"probe"`
	ProbeTimeout time.Duration `json:"probe_timeout"`

	Gauge PolicyConfig `json:"gauge"`
	// Outer.Timeout should cover one gauge's full budget: Timeout x (Retries+1)
	// plus backoff. Gauges of one attempt run concurrently.
	Outer PolicyConfig `json:"outer"`

	FallbackCPU        float64 `json:"fallback_cpu"`
	FallbackMemory     float64 `json:"fallback_memory"`
	FallbackDisk       float64 `json:"fallback_disk"`
	FallbackResponseMs float64 `json:"fallback_response_ms"`
}

// SchedulerConfig holds periodic job configuration
type SchedulerConfig struct {
	CollectionInterval time.Duration `json:"collection_interval"`
	EvaluationInterval time.Duration `json:"evaluation_interval"`
	Concurrency        int           `json:"concurrency"`
	MaxQueued          int           `json:"max_queued"`
	RunOnStart         bool          `json:"run_on_start"`
}

// AlertsConfig holds threshold rule configuration
type AlertsConfig struct {
	RulesFile  string `json:"rules_file"`
	WatchRules bool   `json:"watch_rules"`
}

// NotifyConfig holds event fan-out configuration
type NotifyConfig struct {
	BufferSize     int           `json:"buffer_size"`
	PublishTimeout time.Duration `json:"publish_timeout"`
	WebSocket      bool          `json:"websocket"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `json:"level"`
	Format     string `json:"format"`
	Output     string `json:"output"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// MetricsConfig holds Prometheus configuration
type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Namespace string `json:"namespace"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"service_name"`
	JaegerEndpoint string  `json:"jaeger_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
}

// Load loads an optional .env file and reads configuration from environment variables
func Load() (*Config, error) {
	envFile := getEnvString("SERVERMON_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	config := &Config{
		Server: ServerConfig{
			Host:            getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			AllowedOrigins:  getEnvList("SERVER_ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Driver:          getEnvString("DB_DRIVER", "postgres"),
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "servermon"),
			User:            getEnvString("DB_USER", "servermon"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "disable"),
			Path:            getEnvString("DB_PATH", "servermon.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			AutoMigrate:     getEnvBool("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Enabled:   getEnvBool("REDIS_ENABLED", false),
			Host:      getEnvString("REDIS_HOST", "localhost"),
			Port:      getEnvInt("REDIS_PORT", 6379),
			Password:  getEnvString("REDIS_PASSWORD", ""),
			DB:        getEnvInt("REDIS_DB", 0),
			PoolSize:  getEnvInt("REDIS_POOL_SIZE", 10),
			SampleTTL: getEnvDuration("REDIS_SAMPLE_TTL", 15*time.Minute),
		},
		Kafka: KafkaConfig{
			Enabled:      getEnvBool("KAFKA_ENABLED", false),
			Brokers:      getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:        getEnvString("KAFKA_TOPIC", "alert_notification"),
			WriteTimeout: getEnvDuration("KAFKA_WRITE_TIMEOUT", 10*time.Second),
			UserID:       getEnvInt("KAFKA_NOTIFY_USER_ID", 1),
		},
		Collector: CollectorConfig{
			Source:         getEnvString("COLLECTOR_SOURCE", "auto"),
			ExporterPort:   getEnvInt("COLLECTOR_EXPORTER_PORT", 9100),
			ExporterPath:   getEnvString("COLLECTOR_EXPORTER_PATH", "/metrics"),
			ScrapeCacheTTL: getEnvDuration("COLLECTOR_SCRAPE_CACHE_TTL", 10*time.Second),
			ProcRoot:       getEnvString("COLLECTOR_PROC_ROOT", "/proc"),
			DiskPath:       getEnvString("COLLECTOR_DISK_PATH", "/"),
			Probe:          getEnvString("COLLECTOR_PROBE", "tcp"),
			ProbeTimeout:   getEnvDuration("COLLECTOR_PROBE_TIMEOUT", 5*time.Second),
			Gauge: PolicyConfig{
				Timeout:          getEnvDuration("COLLECTOR_GAUGE_TIMEOUT", 5*time.Second),
				Retries:          getEnvInt("COLLECTOR_GAUGE_RETRIES", 2),
				RetryBaseDelay:   getEnvDuration("COLLECTOR_GAUGE_RETRY_BASE_DELAY", time.Second),
				BreakerThreshold: getEnvInt("COLLECTOR_GAUGE_BREAKER_THRESHOLD", 5),
				BreakerCooldown:  getEnvDuration("COLLECTOR_GAUGE_BREAKER_COOLDOWN", 30*time.Second),
			},
			Outer: PolicyConfig{
				Timeout:          getEnvDuration("COLLECTOR_TIMEOUT", 60*time.Second),
				Retries:          getEnvInt("COLLECTOR_RETRIES", 2),
				RetryBaseDelay:   getEnvDuration("COLLECTOR_RETRY_BASE_DELAY", time.Second),
				BreakerThreshold: getEnvInt("COLLECTOR_BREAKER_THRESHOLD", 5),
				BreakerCooldown:  getEnvDuration("COLLECTOR_BREAKER_COOLDOWN", 30*time.Second),
			},
			FallbackCPU:        getEnvFloat("COLLECTOR_FALLBACK_CPU", 0),
			FallbackMemory:     getEnvFloat("COLLECTOR_FALLBACK_MEMORY", 0),
			FallbackDisk:       getEnvFloat("COLLECTOR_FALLBACK_DISK", 0),
			FallbackResponseMs: getEnvFloat("COLLECTOR_FALLBACK_RESPONSE_MS", 1000),
		},
		Scheduler: SchedulerConfig{
			CollectionInterval: getEnvDuration("SCHEDULER_COLLECTION_INTERVAL", 5*time.Minute),
			EvaluationInterval: getEnvDuration("SCHEDULER_EVALUATION_INTERVAL", 2*time.Minute),
			Concurrency:        getEnvInt("SCHEDULER_CONCURRENCY", 10),
			MaxQueued:          getEnvInt("SCHEDULER_MAX_QUEUED", 20),
			RunOnStart:         getEnvBool("SCHEDULER_RUN_ON_START", true),
		},
		Alerts: AlertsConfig{
			RulesFile:  getEnvString("ALERTS_RULES_FILE", ""),
			WatchRules: getEnvBool("ALERTS_WATCH_RULES", true),
		},
		Notify: NotifyConfig{
			BufferSize:     getEnvInt("NOTIFY_BUFFER_SIZE", 256),
			PublishTimeout: getEnvDuration("NOTIFY_PUBLISH_TIMEOUT", 5*time.Second),
			WebSocket:      getEnvBool("NOTIFY_WEBSOCKET", true),
		},
		Logging: LoggingConfig{
			Level:      getEnvString("LOG_LEVEL", "info"),
			Format:     getEnvString("LOG_FORMAT", "json"),
			Output:     getEnvString("LOG_OUTPUT", "stdout"),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 28),
		},
		Metrics: MetricsConfig{
			Enabled:   getEnvBool("METRICS_ENABLED", true),
			Namespace: getEnvString("METRICS_NAMESPACE", "servermon"),
		},
		Tracing: TracingConfig{
			Enabled:        getEnvBool("TRACING_ENABLED", false),
			ServiceName:    getEnvString("TRACING_SERVICE_NAME", "servermon"),
			JaegerEndpoint: getEnvString("TRACING_JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			SampleRate:     getEnvFloat("TRACING_SAMPLE_RATE", 1.0),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.Password == "" {
			return fmt.Errorf("database password is required for postgres")
		}
	case "sqlite3":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite3")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	switch c.Collector.Source {
	case "auto", "procfs", "exporter", "static":
	default:
		return fmt.Errorf("unsupported collector source: %s", c.Collector.Source)
	}

	switch c.Collector.Probe {
	case "tcp", "icmp":
	default:
		return fmt.Errorf("unsupported probe: %s", c.Collector.Probe)
	}

	if c.Scheduler.CollectionInterval <= 0 || c.Scheduler.EvaluationInterval <= 0 {
		return fmt.Errorf("scheduler intervals must be positive")
	}
	if c.Scheduler.Concurrency <= 0 {
		return fmt.Errorf("scheduler concurrency must be positive")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required when kafka is enabled")
	}

	return nil
}

// DatabaseURL returns the data source name for the configured driver
func (c *Config) DatabaseURL() string {
	if c.Database.Driver == "sqlite3" {
		return c.Database.Path
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// RedisAddr returns the Redis host:port
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// ServerAddr returns the HTTP listen address
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
