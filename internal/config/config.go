// File: internal/config/config.go
package config

import (
	"fmt"
	"regexp"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Network() NetworkConfig
	Session() SessionConfig
	Resolver() ResolverConfig
	Recipes() RecipesConfig
	Locator() LocatorConfig
	Planner() PlannerConfig
	Database() DatabaseConfig
	Metrics() MetricsConfig
	Output() OutputConfig

	// Session Setters
	SetSessionMaxSteps(int)
	SetSessionDonePattern(string)
	SetSessionConcurrency(int)

	// Browser Setters
	SetBrowserDriver(string)
	SetBrowserHeadless(bool)

	// Output Setters
	SetOutputDir(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	NetworkCfg  NetworkConfig  `mapstructure:"network" yaml:"network"`
	SessionCfg  SessionConfig  `mapstructure:"session" yaml:"session"`
	ResolverCfg ResolverConfig `mapstructure:"resolver" yaml:"resolver"`
	RecipesCfg  RecipesConfig  `mapstructure:"recipes" yaml:"recipes"`
	LocatorCfg  LocatorConfig  `mapstructure:"locator" yaml:"locator"`
	PlannerCfg  PlannerConfig  `mapstructure:"planner" yaml:"planner"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
	MetricsCfg  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	OutputCfg   OutputConfig   `mapstructure:"output" yaml:"output"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Network() NetworkConfig   { return c.NetworkCfg }
func (c *Config) Session() SessionConfig   { return c.SessionCfg }
func (c *Config) Resolver() ResolverConfig { return c.ResolverCfg }
func (c *Config) Recipes() RecipesConfig   { return c.RecipesCfg }
func (c *Config) Locator() LocatorConfig   { return c.LocatorCfg }
func (c *Config) Planner() PlannerConfig   { return c.PlannerCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) Metrics() MetricsConfig   { return c.MetricsCfg }
func (c *Config) Output() OutputConfig     { return c.OutputCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetSessionMaxSteps(n int)          { c.SessionCfg.MaxSteps = n }
func (c *Config) SetSessionDonePattern(p string)    { c.SessionCfg.DonePattern = p }
func (c *Config) SetSessionConcurrency(n int)       { c.SessionCfg.Concurrency = n }
func (c *Config) SetBrowserDriver(d string)         { c.BrowserCfg.Driver = d }
func (c *Config) SetBrowserHeadless(b bool)         { c.BrowserCfg.Headless = b }
func (c *Config) SetOutputDir(dir string)           { c.OutputCfg.Dir = dir }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color settings for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig selects and tunes the page driver.
type BrowserConfig struct {
	// Driver is "cdp" for a real Chromium over the DevTools protocol or
	// "static" for the HTTP-only driver.
	Driver          string   `mapstructure:"driver" yaml:"driver"`
	Headless        bool     `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	// RemoteURL attaches to an already running browser (ws:// DevTools endpoint)
	// instead of launching one.
	RemoteURL string         `mapstructure:"remote_url" yaml:"remote_url"`
	Args      []string       `mapstructure:"args" yaml:"args"`
	Viewport  map[string]int `mapstructure:"viewport" yaml:"viewport"`
	UserAgent string         `mapstructure:"user_agent" yaml:"user_agent"`
	Languages []string       `mapstructure:"languages" yaml:"languages"`
	Debug     bool           `mapstructure:"debug" yaml:"debug"`
}

// NetworkConfig bounds every browser operation.
type NetworkConfig struct {
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// LoadTimeout bounds the best-effort wait for a load-complete signal after
	// navigation. Partial readiness is accepted once it expires.
	LoadTimeout   time.Duration `mapstructure:"load_timeout" yaml:"load_timeout"`
	ActionTimeout time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	MaxRedirects  int           `mapstructure:"max_redirects" yaml:"max_redirects"`
}

// SessionConfig controls the step loop.
type SessionConfig struct {
	MaxSteps          int    `mapstructure:"max_steps" yaml:"max_steps"`
	DonePattern       string `mapstructure:"done_pattern" yaml:"done_pattern"`
	ContinueOnFailure bool   `mapstructure:"continue_on_failure" yaml:"continue_on_failure"`
	GenericFallback   bool   `mapstructure:"generic_fallback" yaml:"generic_fallback"`
	CacheSize         int    `mapstructure:"cache_size" yaml:"cache_size"`
	Concurrency       int    `mapstructure:"concurrency" yaml:"concurrency"`
	ScreenshotOnDone  bool   `mapstructure:"screenshot_on_done" yaml:"screenshot_on_done"`
}

// ResolverConfig tunes the action resolver.
type ResolverConfig struct {
	SettleWindow         time.Duration `mapstructure:"settle_window" yaml:"settle_window"`
	FallbackSettleWindow time.Duration `mapstructure:"fallback_settle_window" yaml:"fallback_settle_window"`
	ScrollStep           int           `mapstructure:"scroll_step" yaml:"scroll_step"`
	MaxWait              time.Duration `mapstructure:"max_wait" yaml:"max_wait"`
}

// RecipesConfig points at the recipe catalog.
type RecipesConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Path to a YAML catalog. Empty uses the embedded default catalog.
	Path string `mapstructure:"path" yaml:"path"`
}

// LocatorConfig throttles calls into the semantic locator.
type LocatorConfig struct {
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst     int     `mapstructure:"burst" yaml:"burst"`
	// MinScore is the minimum token overlap for a free-text prompt match.
	MinScore float64 `mapstructure:"min_score" yaml:"min_score"`
}

// PlannerConfig selects how goals become instructions.
type PlannerConfig struct {
	// Mode is "heuristic" or "gemini".
	Mode        string        `mapstructure:"mode" yaml:"mode"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxSteps    int           `mapstructure:"max_steps" yaml:"max_steps"`
}

// DatabaseConfig enables optional run history persistence.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// MetricsConfig exposes Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// OutputConfig controls where session reports are written.
type OutputConfig struct {
	Dir         string `mapstructure:"dir" yaml:"dir"`
	Screenshots bool   `mapstructure:"screenshots" yaml:"screenshots"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "wayfarer")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "red")

	// -- Browser --
	v.SetDefault("browser.driver", "cdp")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.remote_url", "")
	v.SetDefault("browser.viewport", map[string]int{"width": 1920, "height": 1080})
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	v.SetDefault("browser.languages", []string{"en-US", "en"})
	v.SetDefault("browser.debug", false)

	// -- Network --
	v.SetDefault("network.timeout", "30s")
	v.SetDefault("network.navigation_timeout", "30s")
	v.SetDefault("network.load_timeout", "8s")
	v.SetDefault("network.action_timeout", "10s")
	v.SetDefault("network.max_redirects", 10)

	// -- Session --
	v.SetDefault("session.max_steps", 50)
	v.SetDefault("session.done_pattern", "/cart")
	v.SetDefault("session.continue_on_failure", true)
	v.SetDefault("session.generic_fallback", true)
	v.SetDefault("session.cache_size", 256)
	v.SetDefault("session.concurrency", 2)
	v.SetDefault("session.screenshot_on_done", true)

	// -- Resolver --
	v.SetDefault("resolver.settle_window", "1500ms")
	v.SetDefault("resolver.fallback_settle_window", "1000ms")
	v.SetDefault("resolver.scroll_step", 500)
	v.SetDefault("resolver.max_wait", "10s")

	// -- Recipes --
	v.SetDefault("recipes.enabled", true)
	v.SetDefault("recipes.path", "")

	// -- Locator --
	v.SetDefault("locator.rate_limit", 0)
	v.SetDefault("locator.burst", 1)
	v.SetDefault("locator.min_score", 0.5)

	// -- Planner --
	v.SetDefault("planner.mode", "heuristic")
	v.SetDefault("planner.model", "gemini-2.5-flash")
	v.SetDefault("planner.timeout", "60s")
	v.SetDefault("planner.temperature", 0.2)
	v.SetDefault("planner.max_steps", 20)

	// -- Metrics --
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9464")

	// -- Output --
	v.SetDefault("output.dir", "results")
	v.SetDefault("output.screenshots", true)
}

// NewConfigFromViper unmarshals and validates the configuration held by v.
// Secrets are bound to environment variables so they never need to live in a
// config file.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	_ = v.BindEnv("planner.api_key", "WAYFARER_GEMINI_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("database.url", "WAYFARER_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.SessionCfg.MaxSteps <= 0 {
		return fmt.Errorf("session.max_steps must be a positive integer")
	}
	if c.SessionCfg.Concurrency <= 0 {
		return fmt.Errorf("session.concurrency must be a positive integer")
	}
	if c.SessionCfg.DonePattern != "" {
		if _, err := regexp.Compile(c.SessionCfg.DonePattern); err != nil {
			return fmt.Errorf("session.done_pattern is not a valid regular expression: %w", err)
		}
	}
	switch c.BrowserCfg.Driver {
	case "cdp", "static":
	default:
		return fmt.Errorf("browser.driver must be one of 'cdp' or 'static', got '%s'", c.BrowserCfg.Driver)
	}
	switch c.PlannerCfg.Mode {
	case "heuristic", "gemini":
	default:
		return fmt.Errorf("planner.mode must be one of 'heuristic' or 'gemini', got '%s'", c.PlannerCfg.Mode)
	}
	if c.ResolverCfg.SettleWindow < 0 || c.ResolverCfg.FallbackSettleWindow < 0 {
		return fmt.Errorf("resolver settle windows must not be negative")
	}
	if c.LocatorCfg.RateLimit < 0 {
		return fmt.Errorf("locator.rate_limit must not be negative")
	}
	return nil
}

// ExpandPaths resolves '~' in file system paths.
func (c *Config) ExpandPaths() error {
	for _, p := range []*string{&c.OutputCfg.Dir, &c.RecipesCfg.Path, &c.LoggerCfg.LogFile} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path '%s': %w", *p, err)
		}
		*p = expanded
	}
	return nil
}
