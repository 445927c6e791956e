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

// Config holds all configuration options for the archiver
type Config struct {
	// Crawl settings for the browser discovery session
	Crawl CrawlConfig `yaml:"crawl" json:"crawl"`

	// Download pipeline settings
	Download DownloadConfig `yaml:"download" json:"download"`

	// Retry policy shared by navigation and downloads
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// Robots policy handling
	Robots RobotsConfig `yaml:"robots" json:"robots"`

	// Output settings
	Output OutputConfig `yaml:"output" json:"output"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// CrawlConfig holds scroll-discovery and browser session configuration
type CrawlConfig struct {
	UserAgent            string        `yaml:"user_agent" json:"user_agent"`
	NavigationTimeout    time.Duration `yaml:"navigation_timeout" json:"navigation_timeout"`
	ReadyTimeout         time.Duration `yaml:"ready_timeout" json:"ready_timeout"`
	ScrollPause          time.Duration `yaml:"scroll_pause" json:"scroll_pause"`
	NoNewContentCycles   int           `yaml:"no_new_content_cycles" json:"no_new_content_cycles"`
	MaxScrollCycles      int           `yaml:"max_scroll_cycles" json:"max_scroll_cycles"`
	MaxItems             int           `yaml:"max_items" json:"max_items"` // 0 means unlimited
	Headful              bool          `yaml:"headful" json:"headful"`
	ResponseBufferLimit  int           `yaml:"response_buffer_limit" json:"response_buffer_limit"`
}

// DownloadConfig holds download pipeline configuration
type DownloadConfig struct {
	Timeout                time.Duration `yaml:"timeout" json:"timeout"`
	DelayMin               time.Duration `yaml:"delay_min" json:"delay_min"`
	DelayMax               time.Duration `yaml:"delay_max" json:"delay_max"`
	FailureReportThreshold float64       `yaml:"failure_report_threshold" json:"failure_report_threshold"`
}

// RetryConfig holds the shared retry policy parameters
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay" json:"max_delay"`
	JitterMax   time.Duration `yaml:"jitter_max" json:"jitter_max"`
}

// RobotsConfig holds robots-policy handling configuration
type RobotsConfig struct {
	// Ignore skips the robots check entirely
	Ignore bool `yaml:"ignore" json:"ignore"`
	// OnFetchFailure is "proceed" (advisory recorded) or "abort"
	OnFetchFailure string `yaml:"on_fetch_failure" json:"on_fetch_failure"`
}

// OutputConfig holds archive layout configuration
type OutputConfig struct {
	BaseDirectory string `yaml:"base_directory" json:"base_directory"`
	MetadataDir   string `yaml:"metadata_dir" json:"metadata_dir"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Crawl: CrawlConfig{
			UserAgent:           "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
			NavigationTimeout:   30 * time.Second,
			ReadyTimeout:        15 * time.Second,
			ScrollPause:         1200 * time.Millisecond,
			NoNewContentCycles:  3,
			MaxScrollCycles:     50,
			MaxItems:            0,
			Headful:             false,
			ResponseBufferLimit: 500,
		},
		Download: DownloadConfig{
			Timeout:                30 * time.Second,
			DelayMin:               500 * time.Millisecond,
			DelayMax:               1500 * time.Millisecond,
			FailureReportThreshold: 0.1,
		},
		Retry: RetryConfig{
			MaxAttempts: 5,
			BaseDelay:   1 * time.Second,
			MaxDelay:    30 * time.Second,
			JitterMax:   1 * time.Second,
		},
		Robots: RobotsConfig{
			Ignore:         false,
			OnFetchFailure: "proceed",
		},
		Output: OutputConfig{
			BaseDirectory: "./archive",
			MetadataDir:   ".musearchive",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// LoadFromEnv loads configuration overrides from environment variables
func (c *Config) LoadFromEnv() error {
	if ua := os.Getenv("MUSEARCHIVE_USER_AGENT"); ua != "" {
		c.Crawl.UserAgent = ua
	}
	if outputDir := os.Getenv("MUSEARCHIVE_OUTPUT_DIR"); outputDir != "" {
		c.Output.BaseDirectory = outputDir
	}
	if cycles := os.Getenv("MUSEARCHIVE_MAX_SCROLL_CYCLES"); cycles != "" {
		if val, err := strconv.Atoi(cycles); err == nil && val > 0 {
			c.Crawl.MaxScrollCycles = val
		}
	}
	if items := os.Getenv("MUSEARCHIVE_MAX_ITEMS"); items != "" {
		if val, err := strconv.Atoi(items); err == nil && val >= 0 {
			c.Crawl.MaxItems = val
		}
	}
	if logLevel := os.Getenv("MUSEARCHIVE_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}
	if onFail := os.Getenv("MUSEARCHIVE_ROBOTS_ON_FETCH_FAILURE"); onFail != "" {
		c.Robots.OnFetchFailure = onFail
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // no config file found, not an error
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
		".musearchive.yaml",
		".musearchive.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "musearchive", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".musearchive.yaml"),
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

	if c.Crawl.NavigationTimeout <= 0 {
		errs = append(errs, errors.New("navigation timeout must be positive"))
	}
	if c.Crawl.NoNewContentCycles <= 0 {
		errs = append(errs, errors.New("no-new-content cycle threshold must be positive"))
	}
	if c.Crawl.MaxScrollCycles <= 0 {
		errs = append(errs, errors.New("max scroll cycles must be positive"))
	}
	if c.Crawl.MaxItems < 0 {
		errs = append(errs, errors.New("max items cannot be negative"))
	}

	if c.Download.Timeout <= 0 {
		errs = append(errs, errors.New("download timeout must be positive"))
	}
	if c.Download.DelayMin < 0 || c.Download.DelayMax < c.Download.DelayMin {
		errs = append(errs, errors.New("download delay range is invalid"))
	}
	if c.Download.FailureReportThreshold < 0 || c.Download.FailureReportThreshold > 1 {
		errs = append(errs, errors.New("failure report threshold must be between 0 and 1"))
	}

	if c.Retry.MaxAttempts <= 0 {
		errs = append(errs, errors.New("retry max attempts must be positive"))
	}
	if c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		errs = append(errs, errors.New("retry delay range is invalid"))
	}

	switch strings.ToLower(c.Robots.OnFetchFailure) {
	case "proceed", "abort":
	default:
		errs = append(errs, errors.New(`robots on_fetch_failure must be "proceed" or "abort"`))
	}

	if c.Output.BaseDirectory == "" {
		errs = append(errs, errors.New("output base directory is required"))
	}
	if c.Output.MetadataDir == "" {
		errs = append(errs, errors.New("metadata directory name is required"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Load loads configuration from all sources with proper precedence.
// Precedence order: flags > environment (incl. .env) > config file > defaults.
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".musearchive.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// MergeFlags merges resolved command line flags into the configuration
func (c *Config) MergeFlags(flags map[string]interface{}) {
	if outputDir, ok := flags["output"].(string); ok && outputDir != "" {
		c.Output.BaseDirectory = outputDir
	}
	if verbose, ok := flags["verbose"].(bool); ok && verbose {
		c.Logging.Level = "debug"
	}
	if ignoreRobots, ok := flags["ignore-robots"].(bool); ok && ignoreRobots {
		c.Robots.Ignore = true
	}
	if cycles, ok := flags["max-scroll-cycles"].(int); ok && cycles > 0 {
		c.Crawl.MaxScrollCycles = cycles
	}
	if items, ok := flags["max-items"].(int); ok && items > 0 {
		c.Crawl.MaxItems = items
	}
	if timeout, ok := flags["nav-timeout"].(time.Duration); ok && timeout > 0 {
		c.Crawl.NavigationTimeout = timeout
	}
	if headful, ok := flags["headful"].(bool); ok && headful {
		c.Crawl.Headful = true
	}
}
