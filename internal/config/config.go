package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"tradeguard/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Logging       logging.Config      `mapstructure:"logging"`
	API           APIConfig           `mapstructure:"api"`
	Stream        StreamConfig        `mapstructure:"stream"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	HTTP          HTTPConfig          `mapstructure:"http"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Alerting      AlertingConfig      `mapstructure:"alerting"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	// InstanceID tells replicas apart in the shared journal. Defaults to the hostname.
	InstanceID string `mapstructure:"instance_id"`
}

// APIConfig points at the upstream TradeGuard backend.
type APIConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// StreamConfig governs the live event connection.
type StreamConfig struct {
	URL              string          `mapstructure:"url"`
	Path             string          `mapstructure:"path"`
	HandshakeTimeout time.Duration   `mapstructure:"handshake_timeout"`
	ReadLimit        int64           `mapstructure:"read_limit"`
	Reconnect        ReconnectConfig `mapstructure:"reconnect"`
}

// ReconnectConfig shapes what happens after the connection drops.
// MaxAttempts of zero only logs the reconnection intent.
type ReconnectConfig struct {
	Delay       time.Duration `mapstructure:"delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// NotificationsConfig controls admission and the visible buffer.
type NotificationsConfig struct {
	Threshold       float64 `mapstructure:"threshold"`
	Capacity        int     `mapstructure:"capacity"`
	DedupeByEventID bool    `mapstructure:"dedupe_by_event_id"`
	DedupeWindow    int     `mapstructure:"dedupe_window"`
}

// HTTPConfig configures the display/ops HTTP surface.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity for the notification journal.
type DatabaseConfig struct {
	DSN               string        `mapstructure:"dsn"`
	MaxOpenConns      int           `mapstructure:"max_open_conns"`
	MaxIdleConns      int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime   time.Duration `mapstructure:"conn_max_lifetime"`
	Retention         time.Duration `mapstructure:"retention"`
	RetentionInterval time.Duration `mapstructure:"retention_interval"`
	AdvisoryLockKey   int64         `mapstructure:"advisory_lock_key"`
}

// AlertingConfig defines where admitted notifications are forwarded.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Timeout  time.Duration  `mapstructure:"timeout"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
}

// TelegramConfig describes the Telegram channel.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// RedisConfig describes the Redis pub/sub channel.
type RedisConfig struct {
	URL     string `mapstructure:"url"`
	Channel string `mapstructure:"channel"`
}

// KafkaConfig describes the Kafka channel.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TRADEGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("api.base_url", "TRADEGUARD_API_BASE_URL", "API_URL"); err != nil {
		return nil, fmt.Errorf("bind api.base_url: %w", err)
	}

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
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "tradeguard")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.instance_id", defaultInstanceID())

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("api.base_url", "http://localhost:8000")

	v.SetDefault("stream.url", "")
	v.SetDefault("stream.path", "/ws/events")
	v.SetDefault("stream.handshake_timeout", "10s")
	v.SetDefault("stream.read_limit", int64(1<<20))
	v.SetDefault("stream.reconnect.delay", "3s")
	v.SetDefault("stream.reconnect.max_delay", "30s")
	v.SetDefault("stream.reconnect.max_attempts", 5)

	v.SetDefault("notifications.threshold", 0.7)
	v.SetDefault("notifications.capacity", 5)
	v.SetDefault("notifications.dedupe_by_event_id", false)
	v.SetDefault("notifications.dedupe_window", 256)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", "10s")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.retention", "720h")
	v.SetDefault("database.retention_interval", "1h")
	v.SetDefault("database.advisory_lock_key", int64(0x74726764))

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.timeout", "10s")
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.redis.url", "")
	v.SetDefault("alerting.redis.channel", "tradeguard:notifications")
	v.SetDefault("alerting.kafka.brokers", []string{})
	v.SetDefault("alerting.kafka.topic", "tradeguard.notifications")
}

func defaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "tradeguard"
	}
	return host
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
func (c *Config) Validate() error {
	if c.API.BaseURL == "" && c.Stream.URL == "" {
		return errors.New("api.base_url or stream.url must be set")
	}
	if c.API.BaseURL != "" {
		if _, err := url.Parse(c.API.BaseURL); err != nil {
			return fmt.Errorf("api.base_url is not a valid url: %w", err)
		}
	}
	if c.App.InstanceID == "" {
		return errors.New("app.instance_id must be set")
	}
	if c.Notifications.Threshold <= 0 || c.Notifications.Threshold > 1 {
		return errors.New("notifications.threshold must be within (0, 1]")
	}
	if c.Notifications.Capacity <= 0 {
		return errors.New("notifications.capacity must be greater than zero")
	}
	if c.Notifications.DedupeByEventID && c.Notifications.DedupeWindow <= 0 {
		return errors.New("notifications.dedupe_window must be greater than zero when de-duplication is enabled")
	}
	if c.Stream.Reconnect.MaxAttempts < 0 {
		return errors.New("stream.reconnect.max_attempts cannot be negative")
	}
	if c.Stream.Reconnect.MaxAttempts > 0 && c.Stream.Reconnect.Delay <= 0 {
		return errors.New("stream.reconnect.delay must be greater than zero")
	}
	if c.Database.DSN != "" && c.Database.Retention > 0 && c.Database.RetentionInterval <= 0 {
		return errors.New("database.retention_interval must be greater than zero")
	}
	if c.Alerting.Enabled {
		if len(c.Alerting.Channels) == 0 {
			return errors.New("alerting.channels must list at least one channel")
		}
		for _, ch := range c.Alerting.Channels {
			if err := c.validateChannel(ch); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Config) validateChannel(name string) error {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "telegram":
		if c.Alerting.Telegram.BotToken == "" || c.Alerting.Telegram.ChatID == "" {
			return errors.New("alerting.telegram.bot_token and alerting.telegram.chat_id are required")
		}
	case "redis":
		if c.Alerting.Redis.URL == "" {
			return errors.New("alerting.redis.url is required")
		}
	case "kafka":
		if len(c.Alerting.Kafka.Brokers) == 0 || c.Alerting.Kafka.Topic == "" {
			return errors.New("alerting.kafka.brokers and alerting.kafka.topic are required")
		}
	default:
		return fmt.Errorf("unknown alerting channel %q", name)
	}
	return nil
}

// StreamAddress returns the explicit stream url, or the one derived from api.base_url.
func (c *Config) StreamAddress(derive func(base, path string) (string, error)) (string, error) {
	if c.Stream.URL != "" {
		return c.Stream.URL, nil
	}
	return derive(c.API.BaseURL, c.Stream.Path)
}
