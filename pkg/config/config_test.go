package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Default ---

func TestDefault_ShouldMatchRecorderLimits(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 25*time.Minute, cfg.Capture.MaxChunkDuration)
	assert.Equal(t, 25*1024*1024, cfg.Capture.MaxChunkSizeBytes)
	assert.Equal(t, 3, cfg.Upload.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Upload.BaseDelay)
	assert.Equal(t, 2.0, cfg.Upload.Multiplier)
	assert.NoError(t, cfg.Validate())
}

// --- Load ---

func TestLoad_WhenTOMLFileGiven_ShouldOverrideDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
log_mode = "prod"

[capture]
max_chunk_duration = "10m"

[upload]
max_attempts = 5
base_delay = "250ms"

[storage]
backend = "memory"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv(EnvConfigFile, path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.LogMode)
	assert.Equal(t, 10*time.Minute, cfg.Capture.MaxChunkDuration)
	assert.Equal(t, 5, cfg.Upload.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Upload.BaseDelay)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	// untouched sections keep their defaults
	assert.Equal(t, ":8080", cfg.Server.Address)
}

func TestLoad_WhenEnvSet_ShouldOverrideFileAndDefaults(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("UPLOAD_MAX_ATTEMPTS", "7")
	t.Setenv("CAPTURE_MAX_CHUNK_DURATION", "90s")
	t.Setenv("ANALYZE_PROVIDER", "gemini")
	t.Setenv("GEMINI_API_KEY", "g-key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Address)
	assert.Equal(t, 7, cfg.Upload.MaxAttempts)
	assert.Equal(t, 90*time.Second, cfg.Capture.MaxChunkDuration)
	assert.Equal(t, "g-key", cfg.Analysis.APIKey)
}

func TestLoad_WhenEnvIntMalformed_ShouldFail(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	t.Setenv("UPLOAD_MAX_ATTEMPTS", "three")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_WhenFileMissing_ShouldFail(t *testing.T) {
	t.Setenv(EnvConfigFile, filepath.Join(t.TempDir(), "nope.toml"))
	_, err := Load()
	assert.Error(t, err)
}

// --- Validate ---

func TestValidate_WhenLimitsNotPositive_ShouldReject(t *testing.T) {
	cases := map[string]func(*Config){
		"duration":    func(c *Config) { c.Capture.MaxChunkDuration = 0 },
		"size":        func(c *Config) { c.Capture.MaxChunkSizeBytes = -1 },
		"attempts":    func(c *Config) { c.Upload.MaxAttempts = 0 },
		"multiplier":  func(c *Config) { c.Upload.Multiplier = 0.5 },
		"concurrency": func(c *Config) { c.Transcription.Concurrency = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
