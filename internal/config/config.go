package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	ListenAddr      string        `yaml:"listen_addr"`
	TLSListenAddr   string        `yaml:"tls_listen_addr"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`
	RateLimit       int           `yaml:"rate_limit"`
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`

	// Snapshot cache
	StorageBackend   string        `yaml:"storage_backend"`
	StorageCapacity  int64         `yaml:"storage_capacity"`
	MaxCacheAge      time.Duration `yaml:"max_cache_age"`
	MaxCacheSize     int64         `yaml:"max_cache_size"`
	MaxEntries       int           `yaml:"max_entries"`
	EvictionTarget   float64       `yaml:"eviction_target"`
	QuotaRetryTarget float64       `yaml:"quota_retry_target"`
	PurgeInterval    time.Duration `yaml:"purge_interval"`
	MirrorIndex      bool          `yaml:"mirror_index"`

	// Activity queue
	BatchSize       int           `yaml:"batch_size"`
	BatchDelay      time.Duration `yaml:"batch_delay"`
	MaxQueueLength  int           `yaml:"max_queue_length"`
	DispatchWorkers int           `yaml:"dispatch_workers"`
	DispatchBuffer  int           `yaml:"dispatch_buffer"`
	DispatchTimeout time.Duration `yaml:"dispatch_timeout"`
	ActivitySink    string        `yaml:"activity_sink"`
	ActivityURL     string        `yaml:"activity_url"`
	KafkaBrokers    []string      `yaml:"kafka_brokers"`
	KafkaTopic      string        `yaml:"kafka_topic"`

	// Devices
	DeviceAPIURL    string        `yaml:"device_api_url"`
	DeviceIDs       []string      `yaml:"device_ids"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	DeviceRateLimit float64       `yaml:"device_rate_limit"`

	S3Bucket    string `yaml:"s3_bucket"`
	S3Region    string `yaml:"s3_region"`
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3AccessKey string `yaml:"-"`
	S3SecretKey string `yaml:"-"`

	PostgresUser     string `yaml:"postgres_user"`
	PostgresPassword string `yaml:"-"`
	PostgresHost     string `yaml:"postgres_host"`
	PostgresPort     string `yaml:"postgres_port"`
	PostgresDatabase string `yaml:"postgres_database"`
	PostgresSSLMode  string `yaml:"postgres_ssl_mode"`
}

func Defaults() *Config {
	return &Config{
		ListenAddr:      ":8080",
		LogLevel:        "info",
		LogFormat:       "text",
		RateLimit:       100,
		RateLimitWindow: time.Minute,

		StorageBackend:   "memory",
		StorageCapacity:  10 << 20,
		MaxCacheAge:      15 * time.Minute,
		MaxCacheSize:     5 << 20,
		MaxEntries:       50,
		EvictionTarget:   0.8,
		QuotaRetryTarget: 0.5,
		PurgeInterval:    time.Minute,

		BatchSize:       10,
		BatchDelay:      2 * time.Second,
		MaxQueueLength:  1000,
		DispatchWorkers: 4,
		DispatchBuffer:  256,
		DispatchTimeout: 5 * time.Second,
		ActivitySink:    "http",
		KafkaTopic:      "dashboard-activity",

		PollInterval:    15 * time.Minute,
		DeviceRateLimit: 5,

		S3Bucket:         "dashboard-snapshots",
		S3Region:         "us-east-1",
		PostgresUser:     "opsedge",
		PostgresPassword: "password",
		PostgresHost:     "localhost",
		PostgresPort:     "5432",
		PostgresDatabase: "opsedge",
		PostgresSSLMode:  "disable",
	}
}

// Load builds the configuration from defaults, an optional YAML file named by
// CONFIG_FILE and finally the environment.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
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
	if err != nil {
		return fmt.Errorf("read config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %q: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.ListenAddr = getEnv("LISTEN_ADDR", c.ListenAddr)
	c.TLSListenAddr = getEnv("TLS_LISTEN_ADDR", c.TLSListenAddr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.RateLimit = getEnvInt("RATE_LIMIT", c.RateLimit)
	c.RateLimitWindow = getEnvDuration("RATE_LIMIT_WINDOW", c.RateLimitWindow)

	c.StorageBackend = getEnv("STORAGE_BACKEND", c.StorageBackend)
	c.StorageCapacity = getEnvInt64("STORAGE_CAPACITY", c.StorageCapacity)
	c.MaxCacheAge = getEnvDuration("MAX_CACHE_AGE", c.MaxCacheAge)
	c.MaxCacheSize = getEnvInt64("MAX_CACHE_SIZE", c.MaxCacheSize)
	c.MaxEntries = getEnvInt("MAX_ENTRIES", c.MaxEntries)
	c.EvictionTarget = getEnvFloat("EVICTION_TARGET", c.EvictionTarget)
	c.QuotaRetryTarget = getEnvFloat("QUOTA_RETRY_TARGET", c.QuotaRetryTarget)
	c.PurgeInterval = getEnvDuration("PURGE_INTERVAL", c.PurgeInterval)
	c.MirrorIndex = getEnvBool("MIRROR_INDEX", c.MirrorIndex)

	c.BatchSize = getEnvInt("BATCH_SIZE", c.BatchSize)
	c.BatchDelay = getEnvDuration("BATCH_DELAY", c.BatchDelay)
	c.MaxQueueLength = getEnvInt("MAX_QUEUE_LENGTH", c.MaxQueueLength)
	c.DispatchWorkers = getEnvInt("DISPATCH_WORKERS", c.DispatchWorkers)
	c.DispatchBuffer = getEnvInt("DISPATCH_BUFFER", c.DispatchBuffer)
	c.DispatchTimeout = getEnvDuration("DISPATCH_TIMEOUT", c.DispatchTimeout)
	c.ActivitySink = getEnv("ACTIVITY_SINK", c.ActivitySink)
	c.ActivityURL = getEnv("ACTIVITY_URL", c.ActivityURL)
	c.KafkaBrokers = getEnvList("KAFKA_BROKERS", c.KafkaBrokers)
	c.KafkaTopic = getEnv("KAFKA_TOPIC", c.KafkaTopic)

	c.DeviceAPIURL = getEnv("DEVICE_API_URL", c.DeviceAPIURL)
	c.DeviceIDs = getEnvList("DEVICE_IDS", c.DeviceIDs)
	c.PollInterval = getEnvDuration("POLL_INTERVAL", c.PollInterval)
	c.DeviceRateLimit = getEnvFloat("DEVICE_RATE_LIMIT", c.DeviceRateLimit)

	c.S3Bucket = getEnv("S3_BUCKET", c.S3Bucket)
	c.S3Region = getEnv("AWS_REGION", c.S3Region)
	c.S3Endpoint = getEnv("S3_ENDPOINT", c.S3Endpoint)
	c.S3AccessKey = getEnv("AWS_ACCESS_KEY_ID", c.S3AccessKey)
	c.S3SecretKey = getEnv("AWS_SECRET_ACCESS_KEY", c.S3SecretKey)

	c.PostgresUser = getEnv("POSTGRES_USER", c.PostgresUser)
	c.PostgresPassword = getEnv("POSTGRES_PASSWORD", c.PostgresPassword)
	c.PostgresHost = getEnv("POSTGRES_HOST", c.PostgresHost)
	c.PostgresPort = getEnv("POSTGRES_PORT", c.PostgresPort)
	c.PostgresDatabase = getEnv("POSTGRES_DATABASE", c.PostgresDatabase)
	c.PostgresSSLMode = getEnv("POSTGRES_SSL_MODE", c.PostgresSSLMode)
}

func (c *Config) Validate() error {
	var errs []error

	if c.MaxCacheSize <= 0 {
		errs = append(errs, errors.New("max_cache_size must be positive"))
	}
	if c.MaxEntries <= 0 {
		errs = append(errs, errors.New("max_entries must be positive"))
	}
	if c.MaxCacheAge <= 0 {
		errs = append(errs, errors.New("max_cache_age must be positive"))
	}
	if c.EvictionTarget <= 0 || c.EvictionTarget > 1 {
		errs = append(errs, fmt.Errorf("eviction_target %.2f out of range (0,1]", c.EvictionTarget))
	}
	if c.QuotaRetryTarget <= 0 || c.QuotaRetryTarget > c.EvictionTarget {
		errs = append(errs, fmt.Errorf("quota_retry_target %.2f must be in (0,eviction_target]", c.QuotaRetryTarget))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, errors.New("batch_size must be positive"))
	}
	if c.BatchDelay <= 0 {
		errs = append(errs, errors.New("batch_delay must be positive"))
	}
	if c.MaxQueueLength < c.BatchSize {
		errs = append(errs, errors.New("max_queue_length must be at least batch_size"))
	}
	if c.DispatchWorkers <= 0 {
		errs = append(errs, errors.New("dispatch_workers must be positive"))
	}

	switch c.StorageBackend {
	case "memory":
	case "s3":
		if c.S3Endpoint == "" || c.S3AccessKey == "" || c.S3SecretKey == "" {
			errs = append(errs, errors.New("s3 storage requires S3_ENDPOINT, AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.StorageBackend))
	}

	switch c.ActivitySink {
	case "http":
		if c.ActivityURL == "" {
			errs = append(errs, errors.New("http activity sink requires ACTIVITY_URL"))
		}
	case "kafka":
		if len(c.KafkaBrokers) == 0 || c.KafkaTopic == "" {
			errs = append(errs, errors.New("kafka activity sink requires KAFKA_BROKERS and KAFKA_TOPIC"))
		}
	case "postgres":
	default:
		errs = append(errs, fmt.Errorf("unknown activity sink %q", c.ActivitySink))
	}

	return errors.Join(errs...)
}

// NeedsDatabase reports whether any configured component talks to Postgres.
func (c *Config) NeedsDatabase() bool {
	return c.MirrorIndex || c.ActivitySink == "postgres"
}

func getEnv(key, defaultValue string) string {
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

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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
