package logging

import (
	"context"
	"testing"
	"time"

	"github.com/fyrsmithlabs/rulesmith/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func encode(t *testing.T, enc zapcore.Encoder, msg string, fields ...zap.Field) string {
	t.Helper()
	buf, err := enc.EncodeEntry(zapcore.Entry{
		Level:   zapcore.InfoLevel,
		Time:    time.Unix(0, 0),
		Message: msg,
	}, fields)
	require.NoError(t, err)
	defer buf.Free()
	return buf.String()
}

func TestRedactingEncoder_SensitiveKeys(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	out := encode(t, enc, "request",
		zap.String("api_key", "abc123"),
		zap.String("Authorization", "Basic Zm9v"),
		zap.String("document_text", "Section 1. Scope"),
		zap.String("stage", "analyze"),
	)

	assert.NotContains(t, out, "abc123")
	assert.NotContains(t, out, "Zm9v")
	assert.NotContains(t, out, "Section 1. Scope")
	assert.Contains(t, out, `"stage":"analyze"`)
}

func TestRedactingEncoder_Patterns(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	out := encode(t, enc, "calling with Bearer eyJhbGciOi",
		zap.String("detail", "key sk-ant-api03-abcdefghij"),
	)

	assert.NotContains(t, out, "eyJhbGciOi")
	assert.NotContains(t, out, "sk-ant-api03")
	assert.Contains(t, out, "[REDACTED:pattern]")
}

func TestRedactingEncoder_ClonedFields(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	clone := enc.Clone()
	clone.AddString("token", "t-123")
	clone.AddString("run.id", "r-1")

	out := encode(t, clone, "with fields")
	assert.NotContains(t, out, "t-123")
	assert.Contains(t, out, `"run.id":"r-1"`)
}

func TestRedactingEncoder_Disabled(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{Enabled: false, Patterns: []string{"("}})
	require.NoError(t, err)

	out := encode(t, enc, "plain", zap.String("api_key", "visible"))
	assert.Contains(t, out, "visible")
}

func TestNewRedactingEncoder_InvalidPatterns(t *testing.T) {
	_, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{Enabled: true, Patterns: []string{"("}})
	assert.Error(t, err)

	long := make([]byte, maxPatternLen+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err = NewRedactingEncoder(newEncoder("json"), RedactionConfig{Enabled: true, Patterns: []string{string(long)}})
	assert.Error(t, err)
}

func TestSecretField(t *testing.T) {
	f := Secret("api_key", config.Secret("sk-ant-123456"))
	assert.Equal(t, "[REDACTED:13]", f.String)

	f = RedactedString("authorization", "Bearer x")
	assert.Equal(t, "[REDACTED:8]", f.String)
}

func TestTestLogger_AssertNotContains(t *testing.T) {
	tl := NewTestLogger()
	tl.Info(context.Background(), "scrubbed document", zap.Int("findings", 1))

	tl.AssertNotContains(t, "sk-proj")
	tl.AssertField(t, "scrubbed document", "findings", 1)
}
