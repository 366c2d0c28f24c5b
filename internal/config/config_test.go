package config

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 60*time.Second, cfg.Pipeline.StageTimeout.Duration())
	assert.Equal(t, 2, cfg.Pipeline.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Pipeline.EventGrace.Duration())
	assert.True(t, cfg.Scrub.Enabled)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Empty(t, cfg.NATS.URL)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"zero shutdown", func(c *Config) { c.Server.ShutdownTimeout = 0 }, "shutdown timeout"},
		{"zero stage timeout", func(c *Config) { c.Pipeline.StageTimeout = 0 }, "stage_timeout"},
		{"negative retries", func(c *Config) { c.Pipeline.MaxRetries = -1 }, "max_retries"},
		{"no in-flight slots", func(c *Config) { c.Pipeline.MaxInFlight = 0 }, "max_in_flight"},
		{"zero grace", func(c *Config) { c.Pipeline.EventGrace = 0 }, "event_grace"},
		{"zero parallelism", func(c *Config) { c.Pipeline.Parallelism = 0 }, "parallelism"},
		{"unknown provider", func(c *Config) { c.Inference.Provider = "bard" }, "unknown inference provider"},
		{"nats without prefix", func(c *Config) { c.NATS.URL = "nats://localhost:4222"; c.NATS.SubjectPrefix = "" }, "subject_prefix"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad telemetry protocol", func(c *Config) { c.Telemetry.Enabled = true; c.Telemetry.Protocol = "udp" }, "telemetry.protocol"},
		{"disabled telemetry ignores protocol", func(c *Config) { c.Telemetry.Protocol = "udp" }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))

	data, err := json.Marshal(Duration(2 * time.Second))
	require.NoError(t, err)
	assert.JSONEq(t, `"2s"`, string(data))
}

func TestSecret_NeverPrinted(t *testing.T) {
	s := Secret("sk-ant-real-key")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "sk-ant")
	assert.Equal(t, "sk-ant-real-key", s.Value())
	assert.True(t, s.IsSet())

	data, err := json.Marshal(struct {
		Key Secret `json:"key"`
	}{s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"[REDACTED]"}`, string(data))

	assert.Equal(t, "", Secret("").String())
	assert.False(t, Secret("").IsSet())
}

func TestSecret_UnmarshalJSON(t *testing.T) {
	var s Secret
	require.NoError(t, json.Unmarshal([]byte(`"abc"`), &s))
	assert.Equal(t, "abc", s.Value())

	assert.Error(t, json.Unmarshal([]byte(`"[REDACTED]"`), &s))
}

func TestConfig_SetProvider(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-openai-test")

	cfg := Default()
	cfg.Inference.APIKey = Secret("sk-ant-file")

	require.NoError(t, cfg.SetProvider(""))
	assert.Equal(t, "sk-ant-file", cfg.Inference.APIKey.Value(), "empty name keeps the provider")

	require.NoError(t, cfg.SetProvider(ProviderOpenAI))
	assert.Equal(t, ProviderOpenAI, cfg.Inference.Provider)
	assert.Equal(t, "sk-openai-test", cfg.Inference.APIKey.Value())

	require.NoError(t, cfg.SetProvider(ProviderStub))
	assert.False(t, cfg.Inference.APIKey.IsSet())

	err := cfg.SetProvider("bedrock")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown inference provider")
}
