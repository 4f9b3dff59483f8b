package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint      string
	OTLPProtocol      string
	OTLPSamplingRatio float64

	Logger LoggerConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis RedisConfig

	Lock      LockConfig
	Retry     RetryConfig
	Worker    WorkerConfig
	Scheduler SchedulerConfig
	RateLimit RateLimitConfig
	Warmup    WarmupConfig

	// UseInMemoryCoordination swaps Redis locks, counters and cache for
	// process-local implementations. Single-node only.
	UseInMemoryCoordination bool
	TuningFile              string
}

type LoggerConfig struct {
	Level string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type LockConfig struct {
	WaitTime  time.Duration
	LeaseTime time.Duration
}

type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
}

type WorkerConfig struct {
	Workers   int
	QueueSize int
}

// RateLimitConfig throttles hot write endpoints per client address.
type RateLimitConfig struct {
	Enabled bool
	Rate    float64
	Burst   int
}

// WarmupConfig preloads product details into the cache on startup.
type WarmupConfig struct {
	Enabled bool
	Limit   int
}

type SchedulerConfig struct {
	RunInterval           time.Duration
	CouponExpiryEvery     time.Duration
	CounterReconcileEvery time.Duration
	OutboxBatchSize       int
	OutboxRetention       time.Duration
	EnabledJobs           []string
	JobTimeout            time.Duration
	CounterWarmupLimit    int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "checkout"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint:      getenv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTLPProtocol:      strings.ToLower(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")),
		OTLPSamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		Logger: LoggerConfig{
			Level: strings.ToLower(getenv("LOG_LEVEL", "info")),
		},

		DBType:            getenv("DB_TYPE", "postgres"),
		DBHost:            getenv("DB_HOST", "localhost"),
		DBPort:            getenv("DB_PORT", "5432"),
		DBName:            getenv("DB_NAME", "checkout"),
		DBUser:            getenv("DB_USER", "postgres"),
		DBPassword:        getenv("DB_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DB_SSL_MODE", "disable"),
		DBMaxIdleConn:     getenvInt("DB_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DB_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DB_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DB_CONN_MAX_IDLE_TIME", 60),

		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},

		Lock: LockConfig{
			WaitTime:  getenvDuration("LOCK_WAIT_TIME", 5*time.Second),
			LeaseTime: getenvDuration("LOCK_LEASE_TIME", 10*time.Second),
		},
		Retry: RetryConfig{
			MaxAttempts:     getenvInt("RETRY_MAX_ATTEMPTS", 3),
			InitialInterval: getenvDuration("RETRY_INITIAL_INTERVAL", 100*time.Millisecond),
			Multiplier:      getenvFloat("RETRY_MULTIPLIER", 2.0),
			MaxInterval:     getenvDuration("RETRY_MAX_INTERVAL", time.Second),
		},
		Worker: WorkerConfig{
			Workers:   getenvInt("WORKER_POOL_SIZE", 8),
			QueueSize: getenvInt("WORKER_QUEUE_SIZE", 100),
		},
		Scheduler: SchedulerConfig{
			RunInterval:           getenvDuration("SCHEDULER_RUN_INTERVAL", 2*time.Second),
			CouponExpiryEvery:     getenvDuration("COUPON_EXPIRY_INTERVAL", time.Hour),
			CounterReconcileEvery: getenvDuration("COUNTER_RECONCILE_INTERVAL", 10*time.Minute),
			OutboxBatchSize:       getenvInt("OUTBOX_BATCH_SIZE", 100),
			OutboxRetention:       getenvDuration("OUTBOX_RETENTION", 7*24*time.Hour),
			EnabledJobs:           parseList(getenv("SCHEDULER_ENABLED_JOBS", "")),
			JobTimeout:            getenvDuration("SCHEDULER_JOB_TIMEOUT", 30*time.Second),
			CounterWarmupLimit:    getenvInt("COUNTER_WARMUP_LIMIT", 500),
		},
		RateLimit: RateLimitConfig{
			Enabled: getenvBool("RATE_LIMIT_ENABLED", false),
			Rate:    getenvFloat("RATE_LIMIT_RATE", 20),
			Burst:   getenvInt("RATE_LIMIT_BURST", 40),
		},
		Warmup: WarmupConfig{
			Enabled: getenvBool("CACHE_WARMUP_ENABLED", true),
			Limit:   getenvInt("CACHE_WARMUP_LIMIT", 1000),
		},

		UseInMemoryCoordination: getenvBool("COORDINATION_IN_MEMORY", false),
		TuningFile:              getenv("TUNING_FILE", ""),
	}

	return cfg
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

// getenvDuration accepts Go durations ("250ms") or bare milliseconds ("250").
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
