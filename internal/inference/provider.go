package inference

import (
	"fmt"
	"time"
)

// Provider names accepted by New.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderStub      = "stub"
)

// Config configures an inference client.
type Config struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string `json:"-"`

	// Timeout bounds a single HTTP request.
	Timeout time.Duration

	// MaxRetries applies to rate limiting, server and network errors.
	MaxRetries int

	// RateLimit is requests per second; Burst is the limiter bucket size.
	RateLimit float64
	Burst     int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RateLimit <= 0 {
		c.RateLimit = defaultRateLimit
	}
	if c.Burst <= 0 {
		c.Burst = defaultBurst
	}
	return c
}

// New creates a client for cfg.Provider.
func New(cfg Config) (Client, error) {
	switch cfg.Provider {
	case ProviderAnthropic:
		return NewAnthropic(cfg)
	case ProviderOpenAI:
		return NewLangChain(cfg)
	case ProviderStub, "":
		return NewStub(), nil
	default:
		return nil, fmt.Errorf("unknown inference provider: %s", cfg.Provider)
	}
}
