package telemetry

import (
	"testing"
	"time"

	"github.com/keyur7523/koda/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.Equal(t, ProtocolGRPC, cfg.Protocol)
	assert.Equal(t, "koda", cfg.ServiceName)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.Sampling.Rate)
	assert.Equal(t, 15*time.Second, cfg.Metrics.ExportInterval.Duration())
	assert.Equal(t, 5*time.Second, cfg.Shutdown.Timeout.Duration())
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(config.TelemetryConfig{
		Enabled:     true,
		Endpoint:    "127.0.0.1:4318",
		Protocol:    ProtocolHTTP,
		ServiceName: "koda-serve",
		Insecure:    true,
		SampleRate:  0.25,
	}, "1.2.3")

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "127.0.0.1:4318", cfg.Endpoint)
	assert.Equal(t, ProtocolHTTP, cfg.Protocol)
	assert.Equal(t, "koda-serve", cfg.ServiceName)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.Equal(t, 0.25, cfg.Sampling.Rate)
	require.NoError(t, cfg.Validate())

	empty := FromSettings(config.TelemetryConfig{}, "")
	assert.Equal(t, "koda", empty.ServiceName)
	assert.Equal(t, "dev", empty.ServiceVersion)
	assert.Equal(t, ProtocolGRPC, empty.Protocol)
}

func TestConfig_Validate(t *testing.T) {
	enabled := func(mut func(*Config)) *Config {
		c := NewDefaultConfig()
		c.Enabled = true
		mut(c)
		return c
	}

	tests := []struct {
		name   string
		cfg    *Config
		errMsg string
	}{
		{"disabled ignores everything", &Config{Enabled: false, Sampling: SamplingConfig{Rate: 9}}, ""},
		{"enabled defaults", enabled(func(*Config) {}), ""},
		{"no endpoint", enabled(func(c *Config) { c.Endpoint = "" }), "endpoint is required"},
		{"no service", enabled(func(c *Config) { c.ServiceName = "" }), "service_name is required"},
		{"no version", enabled(func(c *Config) { c.ServiceVersion = "" }), "service_version is required"},
		{"bad protocol", enabled(func(c *Config) { c.Protocol = "udp" }), "protocol must be"},
		{"http protocol", enabled(func(c *Config) { c.Protocol = ProtocolHTTP }), ""},
		{"insecure remote", enabled(func(c *Config) { c.Endpoint = "otel.example.com:4317" }), "insecure connections"},
		{"secure remote", enabled(func(c *Config) {
			c.Endpoint = "otel.example.com:4317"
			c.Insecure = false
		}), ""},
		{"rate above one", enabled(func(c *Config) { c.Sampling.Rate = 1.5 }), "sampling.rate"},
		{"negative rate", enabled(func(c *Config) { c.Sampling.Rate = -0.1 }), "sampling.rate"},
		{"zero interval", enabled(func(c *Config) { c.Metrics.ExportInterval = 0 }), "export_interval"},
		{"zero interval metrics off", enabled(func(c *Config) {
			c.Metrics.Enabled = false
			c.Metrics.ExportInterval = 0
		}), ""},
		{"zero shutdown", enabled(func(c *Config) { c.Shutdown.Timeout = 0 }), "shutdown.timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestConfig_IsLocalEndpoint(t *testing.T) {
	tests := map[string]bool{
		"localhost:4317":         true,
		"localhost":              true,
		"127.0.0.1:4317":         true,
		"127.0.1.1:4317":         true,
		"[::1]:4317":             true,
		"::1":                    true,
		"http://localhost:4318":  true,
		"otel.example.com:4317":  false,
		"10.0.0.5:4317":          false,
		"localhost.evil.com:443": false,
	}
	for endpoint, want := range tests {
		t.Run(endpoint, func(t *testing.T) {
			cfg := &Config{Endpoint: endpoint}
			assert.Equal(t, want, cfg.isLocalEndpoint())
		})
	}
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "host:4318", stripScheme("https://host:4318"))
	assert.Equal(t, "host:4318", stripScheme("http://host:4318"))
	assert.Equal(t, "host:4317", stripScheme("host:4317"))
}
