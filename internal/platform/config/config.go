// Package config loads server configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full server configuration.
type Config struct {
	Server    Server
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	RateLimit RateLimitConfig
	Audit     AuditConfig
	Advisory  AdvisoryConfig
	LogLevel  string
	DemoSeed  bool
}

type Server struct {
	Addr              string
	ShutdownTimeout   time.Duration
	SessionSigningKey string
}

// DatabaseConfig selects Postgres. An empty URL means in-memory stores.
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig selects the shared rate-limit store. An empty URL means the
// in-process striped store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig enables the audit stream when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type RateLimitConfig struct {
	Max           int
	Window        time.Duration
	SweepInterval time.Duration
	Disabled      bool
}

type AuditConfig struct {
	Mode         string
	WriteTimeout time.Duration
}

type AdvisoryConfig struct {
	URL       string
	Timeout   time.Duration
	CacheSize int
	CacheTTL  time.Duration
}

const (
	DefaultRateLimitMax    = 1000
	DefaultRateLimitWindow = 15 * time.Minute
	AuditModeBestEffort    = "best_effort"
	AuditModeStrict        = "strict"
)

// FromEnv reads configuration from the environment, applying defaults.
func FromEnv() (Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	l := loader{getenv: getenv}

	cfg := Config{
		Server: Server{
			Addr:              l.str("GOVID_ADDR", ":8080"),
			ShutdownTimeout:   l.duration("SHUTDOWN_TIMEOUT", 15*time.Second),
			SessionSigningKey: l.str("SESSION_SIGNING_KEY", ""),
		},
		Database: DatabaseConfig{
			URL:          l.str("DATABASE_URL", ""),
			MaxOpenConns: l.int("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: l.int("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			URL:          l.str("REDIS_URL", ""),
			PoolSize:     l.int("REDIS_POOL_SIZE", 10),
			MinIdleConns: l.int("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  l.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  l.duration("REDIS_READ_TIMEOUT", 500*time.Millisecond),
			WriteTimeout: l.duration("REDIS_WRITE_TIMEOUT", 500*time.Millisecond),
		},
		Kafka: KafkaConfig{
			Brokers: l.list("KAFKA_BROKERS"),
			Topic:   l.str("KAFKA_AUDIT_TOPIC", "govid.audit"),
		},
		RateLimit: RateLimitConfig{
			Max:           l.int("RATE_LIMIT_MAX", DefaultRateLimitMax),
			Window:        l.duration("RATE_LIMIT_WINDOW", DefaultRateLimitWindow),
			SweepInterval: l.duration("RATE_LIMIT_SWEEP_INTERVAL", time.Minute),
			Disabled:      l.bool("DISABLE_RATE_LIMITING"),
		},
		Audit: AuditConfig{
			Mode:         l.str("AUDIT_MODE", AuditModeBestEffort),
			WriteTimeout: l.duration("AUDIT_WRITE_TIMEOUT", 3*time.Second),
		},
		Advisory: AdvisoryConfig{
			URL:       l.str("ADVISORY_URL", ""),
			Timeout:   l.duration("ADVISORY_TIMEOUT", 5*time.Second),
			CacheSize: l.int("EXPLANATION_CACHE_SIZE", 256),
			CacheTTL:  l.duration("EXPLANATION_CACHE_TTL", 10*time.Minute),
		},
		LogLevel: l.str("LOG_LEVEL", "info"),
		DemoSeed: l.bool("DEMO_SEED"),
	}

	if l.err != nil {
		return Config{}, l.err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.RateLimit.Max <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX must be positive, got %d", c.RateLimit.Max)
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive, got %s", c.RateLimit.Window)
	}
	if c.RateLimit.SweepInterval <= 0 {
		return fmt.Errorf("RATE_LIMIT_SWEEP_INTERVAL must be positive, got %s", c.RateLimit.SweepInterval)
	}
	switch c.Audit.Mode {
	case AuditModeBestEffort, AuditModeStrict:
	default:
		return fmt.Errorf("AUDIT_MODE must be %q or %q, got %q", AuditModeBestEffort, AuditModeStrict, c.Audit.Mode)
	}
	if c.Advisory.CacheSize <= 0 {
		return fmt.Errorf("EXPLANATION_CACHE_SIZE must be positive, got %d", c.Advisory.CacheSize)
	}
	return nil
}

// loader keeps the first parse error so FromEnv can report it once.
type loader struct {
	getenv func(string) string
	err    error
}

func (l *loader) str(key, def string) string {
	if v := strings.TrimSpace(l.getenv(key)); v != "" {
		return v
	}
	return def
}

func (l *loader) int(key string, def int) int {
	v := strings.TrimSpace(l.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.fail(fmt.Errorf("%s: invalid integer %q", key, v))
		return def
	}
	return n
}

func (l *loader) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(l.getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		l.fail(fmt.Errorf("%s: invalid duration %q", key, v))
		return def
	}
	return d
}

func (l *loader) bool(key string) bool {
	v := strings.TrimSpace(l.getenv(key))
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.fail(fmt.Errorf("%s: invalid boolean %q", key, v))
		return false
	}
	return b
}

func (l *loader) list(key string) []string {
	var out []string
	for _, part := range strings.Split(l.getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (l *loader) fail(err error) {
	if l.err == nil {
		l.err = err
	}
}
