package taskwatch

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings ("5m",
// "30s") as well as integer nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration node %q", value.Value)
	}
	*d = Duration(n)
	return nil
}

// Std converts to time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the top-level taskwatch configuration.
type Config struct {
	Page     PageConfig     `yaml:"page"`
	Check    CheckConfig    `yaml:"check"`
	Telegram TelegramConfig `yaml:"telegram"`
	Admin    AdminConfig    `yaml:"admin"`
	State    StateConfig    `yaml:"state"`
	Browser  BrowserConfig  `yaml:"browser"`
}

// PageConfig identifies the monitored page.
type PageConfig struct {
	URL      string `yaml:"url"`
	Cookie   string `yaml:"cookie"`
	Selector string `yaml:"selector"`
}

// CheckConfig tunes the schedule and the debounce gates.
type CheckConfig struct {
	Interval       Duration `yaml:"interval"`
	StartupDelay   Duration `yaml:"startup_delay"`
	StreakMin      int      `yaml:"streak_min"`
	NotifyFirstRun bool     `yaml:"notify_first_run"`
}

// TelegramConfig holds notifier credentials. Prefer the env variables for
// both secrets.
type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

// AdminConfig controls the admin HTTP listener.
type AdminConfig struct {
	Addr string `yaml:"addr"`
}

// StateConfig locates the SQLite state database.
type StateConfig struct {
	Path string `yaml:"path"`
}

// BrowserConfig controls Chrome.
type BrowserConfig struct {
	// Remote is the WebSocket URL of an external Chrome. Empty = launch.
	Remote        string   `yaml:"remote"`
	NoSandbox     bool     `yaml:"no_sandbox"`
	NavTimeout    Duration `yaml:"nav_timeout"`
	WaitTimeout   Duration `yaml:"wait_timeout"`
	SettleTimeout Duration `yaml:"settle_timeout"`
}

// LoadConfigFile reads a YAML config, applies env overrides and defaults.
// An empty path skips the file and configures from env alone.
func LoadConfigFile(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays environment variables over file values. Names match
// what operators of the previous deployment already export.
func (c *Config) applyEnv() {
	if v := os.Getenv("OUTLIER_COOKIE"); v != "" {
		c.Page.Cookie = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Telegram.ChatID = id
		}
	}
	if v := os.Getenv("CHECK_INTERVAL_SEC"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
			c.Check.Interval = Duration(time.Duration(sec) * time.Second)
		}
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Admin.Addr = ":" + v
	}
}

func (c *Config) applyDefaults() {
	if c.Page.URL == "" {
		c.Page.URL = "https://app.outlier.ai/projects"
	}
	if c.Page.Selector == "" {
		c.Page.Selector = "div.radix-themes"
	}
	if c.Check.Interval <= 0 {
		c.Check.Interval = Duration(5 * time.Minute)
	}
	if c.Check.StartupDelay <= 0 {
		c.Check.StartupDelay = Duration(3 * time.Second)
	}
	if c.Check.StreakMin <= 0 {
		c.Check.StreakMin = 2
	}
	if c.Admin.Addr == "" {
		c.Admin.Addr = ":8000"
	}
	if c.State.Path == "" {
		c.State.Path = "taskwatch.db"
	}
	if c.Browser.NavTimeout <= 0 {
		c.Browser.NavTimeout = Duration(30 * time.Second)
	}
	if c.Browser.WaitTimeout <= 0 {
		c.Browser.WaitTimeout = Duration(20 * time.Second)
	}
	if c.Browser.SettleTimeout <= 0 {
		c.Browser.SettleTimeout = Duration(25 * time.Second)
	}
}

// Validate rejects configurations the watcher cannot run with.
func (c *Config) Validate() error {
	if c.Page.URL == "" {
		return fmt.Errorf("config: page.url is required")
	}
	if c.Check.Interval.Std() < time.Second {
		return fmt.Errorf("config: check.interval %s is below 1s", c.Check.Interval.Std())
	}
	if c.Check.StreakMin < 1 {
		return fmt.Errorf("config: check.streak_min must be >= 1")
	}
	if c.Telegram.Token != "" && c.Telegram.ChatID == 0 {
		return fmt.Errorf("config: telegram.chat_id is required when a token is set")
	}
	return nil
}

// TelegramConfigured reports whether both credentials are present.
func (c *Config) TelegramConfigured() bool {
	return c.Telegram.Token != "" && c.Telegram.ChatID != 0
}
