// Package config loads yoroprobe settings from flags, YOROPROBE_* environment
// variables and an optional YAML file through viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/notify"
	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/platform"
	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/poller"
	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/report"
	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/storage"
)

// EnvPrefix is the prefix of all environment overrides.
const EnvPrefix = "YOROPROBE"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("config: invalid configuration")

type APIConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Email     string        `mapstructure:"email"`
	Password  string        `mapstructure:"password"`
	Token     string        `mapstructure:"token"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"`
}

type PollConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	MaxInterval time.Duration `mapstructure:"max_interval"`
	Strategy    string        `mapstructure:"strategy"`
	Jitter      bool          `mapstructure:"jitter"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ReportConfig struct {
	Format         string        `mapstructure:"format"`
	Title          string        `mapstructure:"title"`
	IncludeDetails bool          `mapstructure:"include_details"`
	PDFEngine      string        `mapstructure:"pdf_engine"`
	PDFFont        string        `mapstructure:"pdf_font"`
	ChromePath     string        `mapstructure:"chrome_path"`
	ChromeTimeout  time.Duration `mapstructure:"chrome_timeout"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Config is the full set of settings.
type Config struct {
	API     APIConfig      `mapstructure:"api"`
	Poll    PollConfig     `mapstructure:"poll"`
	Output  string         `mapstructure:"output"`
	Log     LogConfig      `mapstructure:"log"`
	Report  ReportConfig   `mapstructure:"report"`
	Storage storage.Config `mapstructure:"storage"`
	Notify  notify.Config  `mapstructure:"notify"`
	Metrics MetricsConfig  `mapstructure:"metrics"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	pc := poller.DefaultConfig()

	v.SetDefault("api.base_url", "http://127.0.0.1:8787")
	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("api.rate_limit", 0)
	v.SetDefault("poll.interval", pc.Interval)
	v.SetDefault("poll.max_attempts", pc.MaxAttempts)
	v.SetDefault("poll.max_interval", time.Duration(0))
	v.SetDefault("poll.strategy", pc.Strategy.String())
	v.SetDefault("poll.jitter", false)
	v.SetDefault("output", "./reports")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("report.format", "text,html,pdf")
	v.SetDefault("report.include_details", true)
	v.SetDefault("report.pdf_engine", report.EngineNative)
	v.SetDefault("report.pdf_font", "")
	v.SetDefault("report.chrome_timeout", 60*time.Second)
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.bucket", "yoroprobe-reports")
	v.SetDefault("storage.prefix", "reports")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.presign_ttl", time.Duration(0))
	v.SetDefault("notify.max_retries", 3)
	v.SetDefault("notify.timeout", 30*time.Second)

	// Unmarshal only sees keys viper knows about, so environment-only
	// settings need an empty default.
	for _, key := range []string{
		"api.email", "api.password", "api.token",
		"report.title", "report.chrome_path",
		"storage.endpoint", "storage.access_key", "storage.secret_key",
		"notify.webhook_url", "metrics.addr",
	} {
		v.SetDefault(key, "")
	}
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// ReadFile merges a YAML config file into v. An empty path is a no-op.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	return nil
}

// Load unmarshals and validates the settings held by v.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.API.BaseURL) == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	}
	if c.API.RateLimit < 0 {
		errs = append(errs, errors.New("api.rate_limit must not be negative"))
	}
	if pc, err := c.PollerConfig(); err != nil {
		errs = append(errs, err)
	} else if err := pc.Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := report.ParseFormats(c.Report.Format); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Report.PDFEngine) {
	case "", report.EngineNative, report.EngineChrome:
	default:
		errs = append(errs, fmt.Errorf("report.pdf_engine must be %q or %q", report.EngineNative, report.EngineChrome))
	}
	if c.Report.PDFFont != "" {
		if _, err := os.Stat(c.Report.PDFFont); err != nil {
			errs = append(errs, fmt.Errorf("report.pdf_font: %w", err))
		}
	}
	if c.Storage.Enabled() && c.Storage.Bucket == "" {
		errs = append(errs, errors.New("storage.bucket is required when storage.endpoint is set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// ClientConfig is the platform client configuration.
func (c Config) ClientConfig(version string) platform.Config {
	return platform.Config{
		BaseURL:   c.API.BaseURL,
		Token:     c.API.Token,
		Timeout:   c.API.Timeout,
		RateLimit: c.API.RateLimit,
		UserAgent: "yoroprobe/" + version,
	}
}

// PollerConfig converts the poll section.
func (c Config) PollerConfig() (poller.Config, error) {
	strategy, err := poller.ParseStrategy(c.Poll.Strategy)
	if err != nil {
		return poller.Config{}, err
	}
	return poller.Config{
		Interval:    c.Poll.Interval,
		MaxAttempts: c.Poll.MaxAttempts,
		MaxInterval: c.Poll.MaxInterval,
		Strategy:    strategy,
		Jitter:      c.Poll.Jitter,
	}, nil
}

// RenderOptions converts the report section.
func (c Config) RenderOptions() report.RenderOptions {
	return report.RenderOptions{
		PDFEngine: c.Report.PDFEngine,
		PDFFont:   c.Report.PDFFont,
		Chrome: report.ChromeOptions{
			ExecPath: c.Report.ChromePath,
			Timeout:  c.Report.ChromeTimeout,
		},
	}
}
