package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envFrom(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(envFrom(nil))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, DefaultRateLimitMax, cfg.RateLimit.Max)
	assert.Equal(t, DefaultRateLimitWindow, cfg.RateLimit.Window)
	assert.Equal(t, AuditModeBestEffort, cfg.Audit.Mode)
	assert.Empty(t, cfg.Database.URL)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.False(t, cfg.DemoSeed)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := load(envFrom(map[string]string{
		"RATE_LIMIT_MAX":    "5",
		"RATE_LIMIT_WINDOW": "1m",
		"AUDIT_MODE":        "strict",
		"KAFKA_BROKERS":     "localhost:9092, localhost:9093,",
		"DEMO_SEED":         "true",
	}))
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.RateLimit.Max)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, AuditModeStrict, cfg.Audit.Mode)
	assert.Equal(t, []string{"localhost:9092", "localhost:9093"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.DemoSeed)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := map[string]map[string]string{
		"bad duration":   {"RATE_LIMIT_WINDOW": "fifteen minutes"},
		"bad integer":    {"RATE_LIMIT_MAX": "many"},
		"zero limit":     {"RATE_LIMIT_MAX": "0"},
		"unknown mode":   {"AUDIT_MODE": "maybe"},
		"bad boolean":    {"DEMO_SEED": "yes please"},
		"zero cache":     {"EXPLANATION_CACHE_SIZE": "0"},
		"negative sweep": {"RATE_LIMIT_SWEEP_INTERVAL": "-1s"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := load(envFrom(env))
			assert.Error(t, err)
		})
	}
}
