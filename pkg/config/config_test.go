package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "https://znanium.ru/", cfg.Reader.BaseURL)
	assert.NotEmpty(t, cfg.Reader.UserAgent)
	assert.Equal(t, time.Second, cfg.Download.RequestDelay)
	assert.False(t, cfg.Download.KeepImages)
	assert.NotEmpty(t, cfg.Download.AuthMarkers)
	assert.NotEmpty(t, cfg.Download.RateLimitMarkers)
	assert.Equal(t, 300.0, cfg.Render.Density)
	assert.Equal(t, 100, cfg.Render.JPEGQuality)
	assert.True(t, cfg.Retry.Enabled)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, "info", cfg.Logging.Level)

	require.NoError(t, cfg.Validate())
}

func TestCookiePath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Download.WorkDir = "/tmp/znum"
	assert.Equal(t, filepath.Join("/tmp/znum", "cookies.json"), cfg.CookiePath())

	cfg.Session.CookieFile = "/etc/cookies.json"
	assert.Equal(t, "/etc/cookies.json", cfg.CookiePath())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ZNUM_BASE_URL", "https://reader.example/")
	t.Setenv("ZNUM_WORK_DIR", "/tmp/test-work")
	t.Setenv("ZNUM_REQUEST_DELAY", "2")
	t.Setenv("ZNUM_KEEP_IMAGES", "TRUE")
	t.Setenv("ZNUM_RENDER_DENSITY", "150")
	t.Setenv("ZNUM_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "https://reader.example/", cfg.Reader.BaseURL)
	assert.Equal(t, "/tmp/test-work", cfg.Download.WorkDir)
	assert.Equal(t, 2*time.Second, cfg.Download.RequestDelay)
	assert.True(t, cfg.Download.KeepImages)
	assert.Equal(t, 150.0, cfg.Render.Density)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromEnvDurationDelay(t *testing.T) {
	t.Setenv("ZNUM_REQUEST_DELAY", "1500ms")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())
	assert.Equal(t, 1500*time.Millisecond, cfg.Download.RequestDelay)
}

func TestLoadFromEnvInvalid(t *testing.T) {
	t.Setenv("ZNUM_RENDER_DENSITY", "dense")

	cfg := DefaultConfig()
	assert.Error(t, cfg.LoadFromEnv())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing base url",
			mutate:  func(c *Config) { c.Reader.BaseURL = "" },
			wantErr: "reader base URL is required",
		},
		{
			name:    "non http base url",
			mutate:  func(c *Config) { c.Reader.BaseURL = "ftp://reader" },
			wantErr: "must be an http(s) URL",
		},
		{
			name:    "negative delay",
			mutate:  func(c *Config) { c.Download.RequestDelay = -time.Second },
			wantErr: "request delay cannot be negative",
		},
		{
			name:    "zero density",
			mutate:  func(c *Config) { c.Render.Density = 0 },
			wantErr: "render density must be positive",
		},
		{
			name:    "bad jpeg quality",
			mutate:  func(c *Config) { c.Render.JPEGQuality = 101 },
			wantErr: "jpeg quality",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
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

func TestSaveAndLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Download.WorkDir = "/data/books"
	cfg.Download.RequestDelay = 3 * time.Second
	cfg.Render.Density = 200
	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded := DefaultConfig()
	require.NoError(t, loaded.LoadFromFile(path))
	assert.Equal(t, "/data/books", loaded.Download.WorkDir)
	assert.Equal(t, 3*time.Second, loaded.Download.RequestDelay)
	assert.Equal(t, 200.0, loaded.Render.Density)
}

func TestLoadFromFileInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("download: [unclosed"), 0644))

	cfg := DefaultConfig()
	err := cfg.LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
download:
  work_dir: /from/file
  request_delay: 5s
logging:
  level: warn
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	t.Setenv("ZNUM_WORK_DIR", "/from/env")

	flags := map[string]interface{}{
		"delay":     250 * time.Millisecond,
		"log-level": "error",
	}

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, "/from/env", cfg.Download.WorkDir)
	assert.Equal(t, 250*time.Millisecond, cfg.Download.RequestDelay)
	assert.Equal(t, "error", cfg.Logging.Level)
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := Load("", map[string]interface{}{"log-level": "loud"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
}
