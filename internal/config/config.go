package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"relay-weather/internal/logging"
)

// Mail transports understood by MailConfig.Transport.
const (
	TransportSMTP    = "smtp"
	TransportWebhook = "webhook"
	TransportLog     = "log"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Directory   DirectoryConfig   `mapstructure:"directory"`
	Eligibility EligibilityConfig `mapstructure:"eligibility"`
	Mail        MailConfig        `mapstructure:"mail"`
	Links       LinksConfig       `mapstructure:"links"`
	Alerting    AlertingConfig    `mapstructure:"alerting"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SchedulerConfig governs the daemon-mode cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
}

// DirectoryConfig covers the Onionoo endpoint.
type DirectoryConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	// HistoryGraphs are the graph periods tried in order when reading uptime and bandwidth.
	HistoryGraphs  []string      `mapstructure:"history_graphs"`
}

// EligibilityConfig tunes the decision rules.
type EligibilityConfig struct {
	// CheckDeployTime additionally requires first_seen to be later than the deployment marker.
	CheckDeployTime bool  `mapstructure:"check_deploy_time"`
	ExitPorts       []int `mapstructure:"exit_ports"`
}

// MailConfig selects and configures the outbound transport.
type MailConfig struct {
	Transport string        `mapstructure:"transport"`
	From      string        `mapstructure:"from"`
	SMTP      SMTPConfig    `mapstructure:"smtp"`
	Webhook   WebhookConfig `mapstructure:"webhook"`
}

// SMTPConfig describes the SMTP relay.
type SMTPConfig struct {
	Host      string        `mapstructure:"host"`
	Port      int           `mapstructure:"port"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
	TLSPolicy string        `mapstructure:"tls_policy"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// WebhookConfig describes a JSON endpoint that accepts notification batches.
type WebhookConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LinksConfig holds the public subscription management site.
type LinksConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// AlertingConfig defines operator-facing run summaries.
type AlertingConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram bot used for run summaries.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// MetricsConfig controls run metric export.
type MetricsConfig struct {
	ListenAddr     string `mapstructure:"listen_addr"`
	TextfilePath   string `mapstructure:"textfile_path"`
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RELAYWEATHER")
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
	v.SetDefault("app.name", "relayweather")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "24h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x77656174))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", true)

	v.SetDefault("directory.base_url", "https://onionoo.torproject.org")
	v.SetDefault("directory.request_timeout", "60s")
	v.SetDefault("directory.user_agent", "")
	v.SetDefault("directory.history_graphs", []string{"3_months", "6_months"})

	v.SetDefault("eligibility.check_deploy_time", false)
	v.SetDefault("eligibility.exit_ports", []int{80, 443})

	v.SetDefault("mail.transport", TransportLog)
	v.SetDefault("mail.from", "weather@localhost")
	v.SetDefault("mail.smtp.port", 587)
	v.SetDefault("mail.smtp.tls_policy", "mandatory")
	v.SetDefault("mail.smtp.timeout", "30s")
	v.SetDefault("mail.webhook.timeout", "10s")

	v.SetDefault("links.base_url", "https://weather.example.org")

	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("metrics.listen_addr", ":9464")
	v.SetDefault("metrics.job", "relayweather")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if strings.TrimSpace(c.Directory.BaseURL) == "" {
		return fmt.Errorf("directory.base_url is required")
	}
	if len(c.Directory.HistoryGraphs) == 0 {
		return fmt.Errorf("directory.history_graphs must list at least one graph period")
	}
	if len(c.Eligibility.ExitPorts) == 0 {
		return fmt.Errorf("eligibility.exit_ports must list at least one port")
	}
	for _, p := range c.Eligibility.ExitPorts {
		if p < 1 || p > 65535 {
			return fmt.Errorf("eligibility.exit_ports contains invalid port %d", p)
		}
	}
	if strings.TrimSpace(c.Links.BaseURL) == "" {
		return fmt.Errorf("links.base_url is required")
	}

	switch c.Mail.Transport {
	case TransportLog:
	case TransportSMTP:
		if c.Mail.SMTP.Host == "" {
			return fmt.Errorf("mail.smtp.host is required for smtp transport")
		}
		if c.Mail.From == "" {
			return fmt.Errorf("mail.from is required for smtp transport")
		}
	case TransportWebhook:
		if c.Mail.Webhook.URL == "" {
			return fmt.Errorf("mail.webhook.url is required for webhook transport")
		}
	default:
		return fmt.Errorf("mail.transport %q is not one of smtp, webhook, log", c.Mail.Transport)
	}

	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required when telegram is enabled")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required when telegram is enabled")
		}
	}
	return nil
}
