package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/antchfx/xpath"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"pricewatch/internal/logging"
)

// ErrInvalid marks configuration that cannot start the process.
var ErrInvalid = errors.New("invalid configuration")

const (
	FetcherDriverBrowser = "browser"
	FetcherDriverHTTP    = "http"

	MailDriverSMTP    = "smtp"
	MailDriverMailgun = "mailgun"
)

// Config materialises application configuration.
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Logging       logging.Config      `mapstructure:"logging"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Fetcher       FetcherConfig       `mapstructure:"fetcher"`
	Mail          MailConfig          `mapstructure:"mail"`
	Subscriptions SubscriptionsConfig `mapstructure:"subscriptions"`
	HTTP          HTTPConfig          `mapstructure:"http"`
	Export        ExportConfig        `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN selects the in-memory store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ApplicationName string        `mapstructure:"application_name"`
}

// SchedulerConfig holds one entry per background loop.
type SchedulerConfig struct {
	Scrape LoopConfig `mapstructure:"scrape"`
	Notify LoopConfig `mapstructure:"notify"`
}

// LoopConfig governs the cadence of a single loop.
type LoopConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	// MaxRPS caps per-item throughput inside a cycle; zero disables the limiter.
	MaxRPS float64 `mapstructure:"max_rps"`
}

// FetcherConfig configures product page retrieval.
type FetcherConfig struct {
	Driver         string        `mapstructure:"driver"`
	BaseURL        string        `mapstructure:"base_url"`
	PriceXPath     string        `mapstructure:"price_xpath"`
	UserAgent      string        `mapstructure:"user_agent"`
	AcceptLanguage string        `mapstructure:"accept_language"`
	MinDelay       time.Duration `mapstructure:"min_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	ScrollPause    time.Duration `mapstructure:"scroll_pause"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Headless       bool          `mapstructure:"headless"`
	ExecPath       string        `mapstructure:"exec_path"`
}

// MailConfig holds the outbound relay settings, resolved once at startup.
type MailConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Driver  string        `mapstructure:"driver"`
	From    string        `mapstructure:"from"`
	Subject string        `mapstructure:"subject"`
	Timeout time.Duration `mapstructure:"timeout"`
	SMTP    SMTPConfig    `mapstructure:"smtp"`
	Mailgun MailgunConfig `mapstructure:"mailgun"`
}

// SMTPConfig 描述 SMTP 中继参数。
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// MailgunConfig 描述 Mailgun 参数。
type MailgunConfig struct {
	Domain  string `mapstructure:"domain"`
	APIKey  string `mapstructure:"api_key"`
	APIBase string `mapstructure:"api_base"`
}

// SubscriptionsConfig sets defaults for the create-subscription entry point.
type SubscriptionsConfig struct {
	DefaultIntervalHours int           `mapstructure:"default_interval_hours"`
	Timeout              time.Duration `mapstructure:"timeout"`
}

// HTTPConfig toggles the admin API.
type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from defaults, file, and environment. A .env file in the
// working directory is loaded into the environment first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("PRICEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pricewatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.application_name", "pricewatch")

	v.SetDefault("scheduler.scrape.interval", "1h")
	v.SetDefault("scheduler.scrape.align_to_bucket", false)
	v.SetDefault("scheduler.scrape.startup_delay", "0s")
	v.SetDefault("scheduler.scrape.run_on_start", true)
	v.SetDefault("scheduler.scrape.advisory_lock_key", int64(0x70777363))
	v.SetDefault("scheduler.scrape.max_rps", 0.0)

	v.SetDefault("scheduler.notify.interval", "1h")
	v.SetDefault("scheduler.notify.align_to_bucket", false)
	v.SetDefault("scheduler.notify.startup_delay", "0s")
	v.SetDefault("scheduler.notify.run_on_start", true)
	v.SetDefault("scheduler.notify.advisory_lock_key", int64(0x7077636e))
	v.SetDefault("scheduler.notify.max_rps", 0.0)

	v.SetDefault("fetcher.driver", FetcherDriverBrowser)
	v.SetDefault("fetcher.base_url", "https://www.myntra.com")
	v.SetDefault("fetcher.price_xpath", `//span[contains(concat(" ", normalize-space(@class), " "), " pdp-price ")]`)
	v.SetDefault("fetcher.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("fetcher.accept_language", "en-US,en;q=0.9")
	v.SetDefault("fetcher.min_delay", "2s")
	v.SetDefault("fetcher.max_delay", "5s")
	v.SetDefault("fetcher.scroll_pause", "1s")
	v.SetDefault("fetcher.timeout", "60s")
	v.SetDefault("fetcher.headless", true)
	v.SetDefault("fetcher.exec_path", "")

	v.SetDefault("mail.enabled", true)
	v.SetDefault("mail.driver", MailDriverSMTP)
	v.SetDefault("mail.from", "")
	v.SetDefault("mail.subject", "Price History Update")
	v.SetDefault("mail.timeout", "30s")
	v.SetDefault("mail.smtp.port", 587)
	v.SetDefault("mail.smtp.host", "")
	v.SetDefault("mail.smtp.username", "")
	v.SetDefault("mail.smtp.password", "")
	v.SetDefault("mail.mailgun.domain", "")
	v.SetDefault("mail.mailgun.api_key", "")
	v.SetDefault("mail.mailgun.api_base", "")

	v.SetDefault("subscriptions.default_interval_hours", 24)
	v.SetDefault("subscriptions.timeout", "2m")

	v.SetDefault("http.enabled", false)
	v.SetDefault("http.addr", ":8080")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
// Every error wraps ErrInvalid.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return invalid("export.max_data_points must be greater than zero")
	}
	if err := c.Scheduler.Scrape.validate("scheduler.scrape"); err != nil {
		return err
	}
	if err := c.Scheduler.Notify.validate("scheduler.notify"); err != nil {
		return err
	}

	switch c.Fetcher.Driver {
	case FetcherDriverBrowser, FetcherDriverHTTP:
	default:
		return invalid("fetcher.driver %q is not supported", c.Fetcher.Driver)
	}
	if c.Fetcher.BaseURL == "" {
		return invalid("fetcher.base_url is required")
	}
	if c.Fetcher.PriceXPath == "" {
		return invalid("fetcher.price_xpath is required")
	}
	if _, err := xpath.Compile(c.Fetcher.PriceXPath); err != nil {
		return invalid("fetcher.price_xpath %q does not compile: %v", c.Fetcher.PriceXPath, err)
	}
	if c.Fetcher.MinDelay < 0 || c.Fetcher.MaxDelay < c.Fetcher.MinDelay {
		return invalid("fetcher delay range [%s, %s] is invalid", c.Fetcher.MinDelay, c.Fetcher.MaxDelay)
	}

	if c.Subscriptions.DefaultIntervalHours <= 0 {
		return invalid("subscriptions.default_interval_hours must be greater than zero")
	}
	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		return invalid("http.addr is required when http.enabled")
	}

	return c.Mail.Validate()
}

// Validate checks that the relay credentials for the selected driver are present.
func (m MailConfig) Validate() error {
	if !m.Enabled {
		return nil
	}
	if m.From == "" {
		return invalid("mail.from 必须配置")
	}
	switch m.Driver {
	case MailDriverSMTP:
		if m.SMTP.Host == "" {
			return invalid("mail.smtp.host 必须配置")
		}
		if m.SMTP.Username == "" {
			return invalid("mail.smtp.username 必须配置")
		}
		if m.SMTP.Password == "" {
			return invalid("mail.smtp.password 必须配置")
		}
	case MailDriverMailgun:
		if m.Mailgun.Domain == "" {
			return invalid("mail.mailgun.domain 必须配置")
		}
		if m.Mailgun.APIKey == "" {
			return invalid("mail.mailgun.api_key 必须配置")
		}
	default:
		return invalid("mail.driver %q is not supported", m.Driver)
	}
	return nil
}

func (l LoopConfig) validate(prefix string) error {
	if l.Interval <= 0 {
		return invalid("%s.interval must be greater than zero", prefix)
	}
	if l.StartupDelay < 0 {
		return invalid("%s.startup_delay cannot be negative", prefix)
	}
	if l.MaxRPS < 0 {
		return invalid("%s.max_rps cannot be negative", prefix)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
