package logging

import (
	"context"
	"testing"
	"time"

	"github.com/fyrsmithlabs/rulesmith/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/log/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	cfg := NewDefaultConfig()
	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, logger.Underlying())
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
}

func TestNewLogger_NoOutputAvailable(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output = OutputConfig{OTEL: true}

	// otel requested but no provider supplied
	_, err := NewLogger(cfg, nil)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"stderr", func(c *Config) { c.Output.Local = OutputStderr }, false},
		{"bad format", func(c *Config) { c.Format = "xml" }, true},
		{"bad local output", func(c *Config) { c.Output.Local = "file" }, true},
		{"no outputs", func(c *Config) { c.Output = OutputConfig{} }, true},
		{"zero tick", func(c *Config) { c.Sampling.Tick = 0 }, true},
		{"zero tick unsampled", func(c *Config) { c.Sampling = SamplingConfig{} }, false},
		{"bad pattern", func(c *Config) { c.Redaction.Patterns = []string{"("} }, true},
		{"bad pattern ignored when disabled", func(c *Config) {
			c.Redaction.Enabled = false
			c.Redaction.Patterns = []string{"("}
		}, false},
		{"empty field value", func(c *Config) { c.Fields["env"] = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}

func TestFromSettings(t *testing.T) {
	cfg, err := FromSettings(config.LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)

	cfg, err = FromSettings(config.LoggingConfig{})
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, cfg.Level)

	_, err = FromSettings(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestLevelFromString(t *testing.T) {
	tests := map[string]zapcore.Level{
		"trace": TraceLevel,
		"TRACE": TraceLevel,
		"debug": zapcore.DebugLevel,
		"Info":  zapcore.InfoLevel,
		"warn":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
	}
	for in, want := range tests {
		got, err := LevelFromString(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := LevelFromString("verbose")
	assert.Error(t, err)
}

func TestLogger_ContextFields(t *testing.T) {
	tl := NewTestLogger()

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))
	ctx = WithRunID(ctx, "run-1")
	ctx = WithStage(ctx, "classify")
	ctx = WithDocumentID(ctx, "doc-9")
	ctx = WithRequestID(ctx, "req-3")

	tl.Info(ctx, "stage finished", zap.Int("attempts", 2))

	tl.AssertField(t, "stage finished", FieldTraceID, traceID.String())
	tl.AssertField(t, "stage finished", FieldSpanID, spanID.String())
	tl.AssertField(t, "stage finished", FieldRunID, "run-1")
	tl.AssertField(t, "stage finished", FieldStage, "classify")
	tl.AssertField(t, "stage finished", FieldDocumentID, "doc-9")
	tl.AssertField(t, "stage finished", FieldRequestID, "req-3")
	tl.AssertField(t, "stage finished", "attempts", 2)

	assert.Equal(t, "run-1", RunIDFromContext(ctx))
	assert.Equal(t, "req-3", RequestIDFromContext(ctx))
}

func TestLogger_Levels(t *testing.T) {
	tl := NewTestLogger()
	ctx := context.Background()

	tl.Trace(ctx, "prompt body")
	tl.Debug(ctx, "debug message")
	tl.Warn(ctx, "slow consumer")
	tl.Error(ctx, "stage failed")

	tl.AssertLogged(t, TraceLevel, "prompt body")
	tl.AssertLogged(t, zapcore.DebugLevel, "debug message")
	tl.AssertLogged(t, zapcore.WarnLevel, "slow consumer")
	tl.AssertLogged(t, zapcore.ErrorLevel, "stage failed")
	assert.Len(t, tl.All(), 4)

	tl.Reset()
	assert.Empty(t, tl.All())
}

func TestLogger_WithAndNamed(t *testing.T) {
	tl := NewTestLogger()
	child := tl.With(zap.String("component", "runner")).Named("pipeline")

	child.Info(context.Background(), "child message")

	entries := tl.FilterMessage("child message").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "pipeline", entries[0].LoggerName)
	assert.Equal(t, "runner", entries[0].ContextMap()["component"])
}

func TestFromContext(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	assert.Same(t, tl.Logger, FromContext(ctx))

	// missing logger yields a usable nop
	nop := FromContext(context.Background())
	require.NotNil(t, nop)
	nop.Info(context.Background(), "dropped")
}

func TestSampledCore(t *testing.T) {
	core, observed := observer.New(TraceLevel)
	sampled := newSampledCore(core, SamplingConfig{
		Enabled: true,
		Tick:    config.Duration(time.Minute),
		Levels:  DefaultLevelSamplingConfig(),
	})
	zl := zap.New(sampled)

	for i := 0; i < 200; i++ {
		zl.Info("event emitted")
		zl.Debug("attempt")
		zl.Error("stage failed")
	}

	assert.Equal(t, 110, observed.FilterMessage("event emitted").Len())
	assert.Equal(t, 10, observed.FilterMessage("attempt").Len())
	assert.Equal(t, 200, observed.FilterMessage("stage failed").Len(), "errors are never sampled")
}

func TestSampledCore_Disabled(t *testing.T) {
	core, _ := observer.New(zapcore.InfoLevel)
	assert.Same(t, core, newSampledCore(core, SamplingConfig{Enabled: false}))
}

func TestSampledCore_WithKeepsFilter(t *testing.T) {
	core, observed := observer.New(TraceLevel)
	sampled := newSampledCore(core, SamplingConfig{
		Enabled: true,
		Tick:    config.Duration(time.Minute),
		Levels:  map[zapcore.Level]LevelSamplingConfig{zapcore.InfoLevel: {Initial: 1}},
	})
	zl := zap.New(sampled).With(zap.String("run.id", "r"))

	zl.Info("once")
	zl.Info("once")
	zl.Warn("warn")
	zl.Warn("warn")

	assert.Equal(t, 1, observed.FilterMessage("once").Len())
	assert.Equal(t, 2, observed.FilterMessage("warn").Len())
}

func TestNewLogger_OTELOnly(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output = OutputConfig{OTEL: true}

	logger, err := NewLogger(cfg, noop.NewLoggerProvider())
	require.NoError(t, err)
	logger.Info(context.Background(), "exported")
	assert.NoError(t, logger.Sync())
}
