// Package config loads rulesmith configuration from a YAML file and RULESMITH_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// Inference providers accepted by the inference section.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderStub      = "stub"
)

// Config holds the complete rulesmith configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Inference InferenceConfig `koanf:"inference"`
	NATS      NATSConfig      `koanf:"nats"`
	Scrub     ScrubConfig     `koanf:"scrub"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	// MaxDocumentBytes caps request bodies on the generate endpoint.
	MaxDocumentBytes int64 `koanf:"max_document_bytes"`
}

// PipelineConfig holds stage execution policy.
type PipelineConfig struct {
	StageTimeout Duration `koanf:"stage_timeout"`
	MaxRetries   int      `koanf:"max_retries"`
	RetryBackoff Duration `koanf:"retry_backoff"`
	MaxInFlight  int      `koanf:"max_in_flight"`
	EventBuffer  int      `koanf:"event_buffer"`
	EventGrace   Duration `koanf:"event_grace"`
	Parallelism  int      `koanf:"parallelism"`
}

// InferenceConfig selects and configures the model provider.
type InferenceConfig struct {
	Provider   string   `koanf:"provider"`
	Model      string   `koanf:"model"`
	BaseURL    string   `koanf:"base_url"`
	APIKey     Secret   `koanf:"api_key"`
	Timeout    Duration `koanf:"timeout"`
	MaxRetries int      `koanf:"max_retries"`
	RateLimit  float64  `koanf:"rate_limit"`
	Burst      int      `koanf:"burst"`
}

// NATSConfig enables event publishing. An empty URL disables it.
type NATSConfig struct {
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// ScrubConfig controls secret redaction of input documents.
type ScrubConfig struct {
	Enabled   bool     `koanf:"enabled"`
	AllowList []string `koanf:"allow_list"`
}

// LoggingConfig is the subset of logger settings exposed to operators.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	OTEL   bool   `koanf:"otel"`
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	Enabled    bool    `koanf:"enabled"`
	Endpoint   string  `koanf:"endpoint"`
	Protocol   string  `koanf:"protocol"`
	Insecure   bool    `koanf:"insecure"`
	SampleRate float64 `koanf:"sample_rate"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "127.0.0.1",
			Port:             9090,
			ShutdownTimeout:  Duration(10 * time.Second),
			MaxDocumentBytes: 5 << 20,
		},
		Pipeline: PipelineConfig{
			StageTimeout: Duration(60 * time.Second),
			MaxRetries:   2,
			RetryBackoff: Duration(500 * time.Millisecond),
			MaxInFlight:  8,
			EventBuffer:  64,
			EventGrace:   Duration(2 * time.Second),
			Parallelism:  4,
		},
		Inference: InferenceConfig{
			Provider:   ProviderAnthropic,
			Timeout:    Duration(60 * time.Second),
			MaxRetries: 3,
			RateLimit:  50.0 / 60.0,
			Burst:      5,
		},
		NATS: NATSConfig{
			SubjectPrefix: "rulesmith.runs",
		},
		Scrub: ScrubConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Endpoint:   "localhost:4317",
			Protocol:   "grpc",
			Insecure:   true,
			SampleRate: 1.0,
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Server.MaxDocumentBytes <= 0 {
		return errors.New("server.max_document_bytes must be positive")
	}

	p := c.Pipeline
	if p.StageTimeout <= 0 {
		return errors.New("pipeline.stage_timeout must be positive")
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("pipeline.max_retries must be >= 0, got %d", p.MaxRetries)
	}
	if p.MaxInFlight < 1 {
		return fmt.Errorf("pipeline.max_in_flight must be >= 1, got %d", p.MaxInFlight)
	}
	if p.EventBuffer < 0 {
		return fmt.Errorf("pipeline.event_buffer must be >= 0, got %d", p.EventBuffer)
	}
	if p.EventGrace <= 0 {
		return errors.New("pipeline.event_grace must be positive")
	}
	if p.Parallelism < 1 {
		return fmt.Errorf("pipeline.parallelism must be >= 1, got %d", p.Parallelism)
	}

	switch c.Inference.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderStub:
	default:
		return fmt.Errorf("unknown inference provider %q", c.Inference.Provider)
	}
	if c.Inference.RateLimit < 0 {
		return errors.New("inference.rate_limit must be >= 0")
	}

	if c.NATS.URL != "" && c.NATS.SubjectPrefix == "" {
		return errors.New("nats.subject_prefix is required when nats.url is set")
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			return errors.New("telemetry.endpoint is required when telemetry is enabled")
		}
		if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http" {
			return fmt.Errorf("telemetry.protocol must be 'grpc' or 'http', got %q", c.Telemetry.Protocol)
		}
	}
	return nil
}

// providerKeyEnv names the conventional API key variable of each provider.
var providerKeyEnv = map[string]string{
	ProviderAnthropic: "ANTHROPIC_API_KEY",
	ProviderOpenAI:    "OPENAI_API_KEY",
}

// SetProvider switches the inference provider after loading. A key configured
// for the previous provider is discarded in favour of the new provider's
// environment variable.
func (c *Config) SetProvider(name string) error {
	if name == "" || name == c.Inference.Provider {
		return nil
	}
	c.Inference.Provider = name
	c.Inference.APIKey = ""
	applyDefaults(c)
	return c.Validate()
}

// applyDefaults fills values that cannot be expressed as struct defaults.
func applyDefaults(cfg *Config) {
	if !cfg.Inference.APIKey.IsSet() {
		if name, ok := providerKeyEnv[cfg.Inference.Provider]; ok {
			cfg.Inference.APIKey = Secret(os.Getenv(name))
		}
	}
}
