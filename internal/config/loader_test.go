package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome points HOME at a temp dir and returns the rulesmith config dir in it.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	dir := filepath.Join(home, ".config", "rulesmith")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func writeConfig(t *testing.T, dir, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestLoad_YAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `server:
  http_port: 8181
pipeline:
  stage_timeout: 45s
  max_retries: 4
inference:
  provider: stub
nats:
  url: nats://127.0.0.1:4222
scrub:
  allow_list:
    - EXAMPLE-[0-9]+
`, 0600)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8181, cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Pipeline.StageTimeout.Duration())
	assert.Equal(t, 4, cfg.Pipeline.MaxRetries)
	assert.Equal(t, ProviderStub, cfg.Inference.Provider)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, []string{"EXAMPLE-[0-9]+"}, cfg.Scrub.AllowList)

	// untouched values keep their defaults
	assert.Equal(t, 500*time.Millisecond, cfg.Pipeline.RetryBackoff.Duration())
	assert.True(t, cfg.Scrub.Enabled)
	assert.Equal(t, "rulesmith.runs", cfg.NATS.SubjectPrefix)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	dir := setupTestHome(t)

	cfg, err := Load(filepath.Join(dir, "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Port, cfg.Server.Port)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "pipeline:\n  stage_timeout: 45s\n", 0600)

	t.Setenv("RULESMITH_PIPELINE_STAGE_TIMEOUT", "5s")
	t.Setenv("RULESMITH_PIPELINE_MAX_IN_FLIGHT", "2")
	t.Setenv("RULESMITH_INFERENCE_API_KEY", "from-env")
	t.Setenv("RULESMITH_SCRUB_ENABLED", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Pipeline.StageTimeout.Duration())
	assert.Equal(t, 2, cfg.Pipeline.MaxInFlight)
	assert.Equal(t, "from-env", cfg.Inference.APIKey.Value())
	assert.False(t, cfg.Scrub.Enabled)
}

func TestLoad_ProviderKeyFromEnvironment(t *testing.T) {
	dir := setupTestHome(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")

	cfg, err := Load(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-test", cfg.Inference.APIKey.Value())
}

func TestLoad_InvalidValues(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "pipeline:\n  max_in_flight: 0\n", 0600)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_in_flight")
}

func TestLoad_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  http_port: 8181\n", 0644)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoad_ReadOnlyAllowed(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  http_port: 8181\n", 0400)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8181, cfg.Server.Port)
}

func TestLoad_TooLarge(t *testing.T) {
	dir := setupTestHome(t)
	big := "# " + strings.Repeat("x", maxConfigFileSize) + "\n"
	path := writeConfig(t, dir, big, 0600)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestLoad_PathOutsideAllowedDirs(t *testing.T) {
	setupTestHome(t)
	other := t.TempDir()
	path := filepath.Join(other, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: {}\n"), 0600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path validation")
}

func TestLoad_SiblingDirectoryRejected(t *testing.T) {
	dir := setupTestHome(t)
	sibling := dir + "-evil"
	require.NoError(t, os.MkdirAll(sibling, 0700))

	_, err := Load(filepath.Join(sibling, "config.yaml"))
	assert.Error(t, err)
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"RULESMITH_PIPELINE_STAGE_TIMEOUT": "pipeline.stage_timeout",
		"RULESMITH_NATS_URL":               "nats.url",
		"RULESMITH_INFERENCE_API_KEY":      "inference.api_key",
		"RULESMITH_DEBUG":                  "debug",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}

func TestEnsureConfigDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	require.NoError(t, EnsureConfigDir())
	info, err := os.Stat(filepath.Join(home, ".config", "rulesmith"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
