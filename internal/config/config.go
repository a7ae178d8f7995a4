package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Defaults for a first-run config and for keys missing from older files.
const (
	DefaultListen    = "127.0.0.1:8080"
	DefaultDatabase  = "countdown.db"
	DefaultCheckCron = "@hourly"
	DefaultLogLevel  = "info"
	DefaultSink      = "auto"
	DefaultAppName   = "Countdown"
)

// Upper bounds for in-cycle retries; one trigger never holds a cycle for
// more than MaxRetryAttempts*MaxRetryDelaySeconds.
const (
	MaxRetryAttempts     = 5
	MaxRetryDelaySeconds = 60
)

// Environment variables that override the file.
const (
	EnvListen    = "COUNTDOWN_LISTEN"
	EnvDatabase  = "COUNTDOWN_DATABASE"
	EnvLogLevel  = "COUNTDOWN_LOG_LEVEL"
	EnvCheckCron = "COUNTDOWN_CHECK_CRON"
)

// NotifyConfig controls how reminders are delivered.
type NotifyConfig struct {
	// Sink is "auto", "desktop" or "log".
	Sink string `yaml:"sink" json:"sink"`
	// AppName is shown as the notification source on desktops that support it.
	AppName string `yaml:"app_name" json:"app_name"`
	// RetryAttempts is the number of extra tries within one cycle.
	RetryAttempts int `yaml:"retry_attempts" json:"retry_attempts"`
	// RetryDelaySeconds is the pause between those tries.
	RetryDelaySeconds int `yaml:"retry_delay_seconds" json:"retry_delay_seconds"`
}

// RetryDelay returns RetryDelaySeconds as a duration.
func (n NotifyConfig) RetryDelay() time.Duration {
	return time.Duration(n.RetryDelaySeconds) * time.Second
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Database is the SQLite file. A relative path is resolved against the
	// working directory.
	Database string `yaml:"database" json:"database"`

	// Timezone is the IANA zone that decides what "today" is (e.g.
	// "Europe/Berlin"). Empty means the host's local zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// CheckCron is a standard cron expression (or descriptor such as
	// "@hourly") for the notification check.
	CheckCron string `yaml:"check_cron" json:"check_cron"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Notify NotifyConfig `yaml:"notify" json:"notify"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:    DefaultListen,
		Database:  DefaultDatabase,
		CheckCron: DefaultCheckCron,
		LogLevel:  DefaultLogLevel,
		Notify: NotifyConfig{
			Sink:              DefaultSink,
			AppName:           DefaultAppName,
			RetryAttempts:     1,
			RetryDelaySeconds: 1,
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if strings.TrimSpace(c.CheckCron) == "" {
		c.CheckCron = DefaultCheckCron
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}

	switch c.Notify.Sink {
	case "auto", "desktop", "log":
	default:
		c.Notify.Sink = DefaultSink
	}
	if c.Notify.AppName == "" {
		c.Notify.AppName = DefaultAppName
	}
	// 0 is a valid "no retry"; only negative values are reset.
	if c.Notify.RetryAttempts < 0 {
		c.Notify.RetryAttempts = 1
	}
	c.Notify.RetryAttempts = min(c.Notify.RetryAttempts, MaxRetryAttempts)
	if c.Notify.RetryDelaySeconds <= 0 {
		c.Notify.RetryDelaySeconds = 1
	}
	c.Notify.RetryDelaySeconds = min(c.Notify.RetryDelaySeconds, MaxRetryDelaySeconds)

	if c.BasicAuth != nil && c.BasicAuth.Username == "" && c.BasicAuth.Password == "" {
		c.BasicAuth = nil
	}
}

// Validate checks the values Normalize cannot repair.
func (c *Config) Validate() error {
	if _, err := cron.ParseStandard(c.CheckCron); err != nil {
		return fmt.Errorf("check_cron %q: %w", c.CheckCron, err)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Location resolves Timezone; empty means time.Local.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (".env" when none)
// into the process environment. Variables already set are kept and missing
// files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}

	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}

	return godotenv.Load(existing...)
}

// ApplyEnv overrides file values with the COUNTDOWN_* variables that are set.
func (c *Config) ApplyEnv() {
	for env, dst := range map[string]*string{
		EnvListen:    &c.Listen,
		EnvDatabase:  &c.Database,
		EnvLogLevel:  &c.LogLevel,
		EnvCheckCron: &c.CheckCron,
	} {
		if v, ok := os.LookupEnv(env); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	cfg, err := read(path)
	if errors.Is(err, fs.ErrNotExist) {
		// First run: create default config file.
		cfg = DefaultConfig()
		if err := Save(path, cfg); err != nil {
			// Even if save fails, return cfg with error so caller can decide.
			return cfg, err
		}
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".countdown-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
