package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the page downloader
type Config struct {
	// Reader endpoint and request identity
	Reader ReaderConfig `yaml:"reader" json:"reader"`

	// Download loop settings
	Download DownloadConfig `yaml:"download" json:"download"`

	// Page rendering settings
	Render RenderConfig `yaml:"render" json:"render"`

	// Transport retry settings
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// Session persistence
	Session SessionConfig `yaml:"session" json:"session"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ReaderConfig holds reader-site configuration
type ReaderConfig struct {
	BaseURL        string `yaml:"base_url" json:"base_url"`
	UserAgent      string `yaml:"user_agent" json:"user_agent"`
	AcceptLanguage string `yaml:"accept_language" json:"accept_language"`
}

// DownloadConfig holds download-specific configuration
type DownloadConfig struct {
	WorkDir          string        `yaml:"work_dir" json:"work_dir"`
	RequestDelay     time.Duration `yaml:"request_delay" json:"request_delay"`
	Timeout          time.Duration `yaml:"timeout" json:"timeout"`
	KeepImages       bool          `yaml:"keep_images" json:"keep_images"`
	AuthMarkers      []string      `yaml:"auth_markers" json:"auth_markers"`
	RateLimitMarkers []string      `yaml:"rate_limit_markers" json:"rate_limit_markers"`
}

// RenderConfig controls how vector pages are rasterized
type RenderConfig struct {
	// Density is the rasterization resolution in DPI; 72 maps one SVG unit to one pixel
	Density     float64 `yaml:"density" json:"density"`
	JPEGQuality int     `yaml:"jpeg_quality" json:"jpeg_quality"`
}

// RetryConfig holds retry configuration for the transport
type RetryConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	MaxAttempts  int           `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay    time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier   float64       `yaml:"multiplier" json:"multiplier"`
	JitterFactor float64       `yaml:"jitter_factor" json:"jitter_factor"`
}

// SessionConfig holds cookie persistence configuration.
// An empty CookieFile means <work_dir>/cookies.json.
type SessionConfig struct {
	CookieFile string `yaml:"cookie_file" json:"cookie_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Reader: ReaderConfig{
			BaseURL:        "https://znanium.ru/",
			UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			AcceptLanguage: "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7",
		},
		Download: DownloadConfig{
			WorkDir:          defaultWorkDir(),
			RequestDelay:     1 * time.Second,
			Timeout:          60 * time.Second,
			KeepImages:       false,
			AuthMarkers:      []string{"auth", "login", "unauthorized", "token", "авториз"},
			RateLimitMarkers: []string{"limit", "too many", "лимит"},
		},
		Render: RenderConfig{
			Density:     300,
			JPEGQuality: 100,
		},
		Retry: RetryConfig{
			Enabled:      true,
			MaxAttempts:  5,
			BaseDelay:    1 * time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// defaultWorkDir returns ~/Downloads/znum, falling back to ./downloads
func defaultWorkDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./downloads"
	}
	return filepath.Join(home, "Downloads", "znum")
}

// CookiePath returns the resolved cookie file location
func (c *Config) CookiePath() string {
	if c.Session.CookieFile != "" {
		return c.Session.CookieFile
	}
	return filepath.Join(c.Download.WorkDir, "cookies.json")
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if baseURL := os.Getenv("ZNUM_BASE_URL"); baseURL != "" {
		c.Reader.BaseURL = baseURL
	}
	if userAgent := os.Getenv("ZNUM_USER_AGENT"); userAgent != "" {
		c.Reader.UserAgent = userAgent
	}

	if workDir := os.Getenv("ZNUM_WORK_DIR"); workDir != "" {
		c.Download.WorkDir = workDir
	}

	// Delay accepts a Go duration ("1500ms") or whole seconds ("2")
	if delay := os.Getenv("ZNUM_REQUEST_DELAY"); delay != "" {
		d, err := parseDelay(delay)
		if err != nil {
			return fmt.Errorf("invalid ZNUM_REQUEST_DELAY: %w", err)
		}
		c.Download.RequestDelay = d
	}

	if keep := os.Getenv("ZNUM_KEEP_IMAGES"); keep != "" {
		c.Download.KeepImages = strings.ToLower(keep) == "true"
	}

	if density := os.Getenv("ZNUM_RENDER_DENSITY"); density != "" {
		val, err := strconv.ParseFloat(density, 64)
		if err != nil {
			return fmt.Errorf("invalid ZNUM_RENDER_DENSITY: %w", err)
		}
		c.Render.Density = val
	}

	if cookieFile := os.Getenv("ZNUM_COOKIE_FILE"); cookieFile != "" {
		c.Session.CookieFile = cookieFile
	}

	if logLevel := os.Getenv("ZNUM_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	return nil
}

// parseDelay parses a duration, treating a bare number as seconds
func parseDelay(s string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	locations := []string{
		".znum.yaml",
		".znum.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "znum", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "znum", "config.yml"),
		filepath.Join(os.Getenv("HOME"), ".znum.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Reader.BaseURL == "" {
		errs = append(errs, errors.New("reader base URL is required"))
	} else if !strings.HasPrefix(c.Reader.BaseURL, "http://") && !strings.HasPrefix(c.Reader.BaseURL, "https://") {
		errs = append(errs, errors.New("reader base URL must be an http(s) URL"))
	}

	if c.Download.WorkDir == "" {
		errs = append(errs, errors.New("work directory is required"))
	}
	if c.Download.RequestDelay < 0 {
		errs = append(errs, errors.New("request delay cannot be negative"))
	}
	if c.Download.Timeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}

	if c.Render.Density <= 0 {
		errs = append(errs, errors.New("render density must be positive"))
	}
	if c.Render.JPEGQuality < 1 || c.Render.JPEGQuality > 100 {
		errs = append(errs, errors.New("jpeg quality must be between 1 and 100"))
	}

	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, errors.New("retry max attempts cannot be negative"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "disabled": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if output, ok := flags["output"].(string); ok && output != "" {
		c.Download.WorkDir = output
	}
	if delay, ok := flags["delay"].(time.Duration); ok && delay >= 0 {
		c.Download.RequestDelay = delay
	}
	if keep, ok := flags["keep-images"].(bool); ok {
		c.Download.KeepImages = keep
	}
	if density, ok := flags["density"].(float64); ok && density > 0 {
		c.Render.Density = density
	}
	if baseURL, ok := flags["base-url"].(string); ok && baseURL != "" {
		c.Reader.BaseURL = baseURL
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".znum.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
