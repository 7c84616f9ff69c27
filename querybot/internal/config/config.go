// Package config loads querybot settings from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/telhawk-systems/querybot/querybot/internal/notify"
)

// DefaultPath is read when QUERYBOT_CONFIG is not set.
const DefaultPath = "/etc/querybot/config.yaml"

// Config is the complete querybot configuration.
type Config struct {
	Bot         BotConfig                   `mapstructure:"bot" yaml:"bot"`
	Collections map[string]CollectionConfig `mapstructure:"collections" yaml:"collections"`
	Store       StoreConfig                 `mapstructure:"store" yaml:"store"`
	History     HistoryConfig               `mapstructure:"history" yaml:"history"`
	NATS        NATSConfig                  `mapstructure:"nats" yaml:"nats"`
	Redis       RedisConfig                 `mapstructure:"redis" yaml:"redis"`
	Server      ServerConfig                `mapstructure:"server" yaml:"server"`
	Logging     LoggingConfig               `mapstructure:"logging" yaml:"logging"`
	Commands    CommandsConfig              `mapstructure:"commands" yaml:"commands"`

	path string
}

// BotConfig holds the Telegram bot settings.
type BotConfig struct {
	Token                      string           `mapstructure:"token" yaml:"token"`
	CommandsSuffix             string           `mapstructure:"commands_suffix" yaml:"commands_suffix"`
	HistoryLookupModelProperty string           `mapstructure:"history_lookup_model_property" yaml:"history_lookup_model_property"`
	Conversations              []string         `mapstructure:"conversations" yaml:"conversations"`
	MiddlewareEnabled          bool             `mapstructure:"middleware_enabled" yaml:"middleware_enabled"`
	Middleware                 MiddlewareConfig `mapstructure:"middleware" yaml:"middleware"`
	PollTimeout                int              `mapstructure:"poll_timeout" yaml:"poll_timeout"`
	Debug                      bool             `mapstructure:"debug" yaml:"debug"`
}

// MiddlewareConfig holds the notification guard settings.
type MiddlewareConfig struct {
	ChatID        int64         `mapstructure:"chat_id" yaml:"chat_id"`
	MessagePrefix string        `mapstructure:"message_prefix" yaml:"message_prefix"`
	WebhookURL    string        `mapstructure:"webhook_url" yaml:"webhook_url,omitempty"`
	WebhookSecret string        `mapstructure:"webhook_secret" yaml:"-"`
	SendTimeout   time.Duration `mapstructure:"send_timeout" yaml:"send_timeout"`
	Rules         []RuleConfig  `mapstructure:"rules" yaml:"rules"`
}

// RuleConfig is one notification rule.
type RuleConfig struct {
	Endpoint     string           `mapstructure:"endpoint" yaml:"endpoint"`
	TriggerCodes []int            `mapstructure:"trigger_codes" yaml:"trigger_codes"`
	Conditions   *ConditionConfig `mapstructure:"conditions" yaml:"conditions,omitempty"`
	Message      string           `mapstructure:"message" yaml:"message"`
}

// ConditionConfig is the optional condition of a rule.
type ConditionConfig struct {
	Type       string `mapstructure:"type" yaml:"type"`
	Function   string `mapstructure:"function" yaml:"function,omitempty"`
	Field      string `mapstructure:"field" yaml:"field,omitempty"`
	FieldValue any    `mapstructure:"field_value" yaml:"field_value,omitempty"`
}

// CollectionConfig binds a conversation to a store collection.
type CollectionConfig struct {
	Collection   string                       `mapstructure:"collection" yaml:"collection"`
	SavedFilters map[string]SavedFilterConfig `mapstructure:"saved_filters" yaml:"saved_filters,omitempty"`
	Commands     map[string][]string          `mapstructure:"commands" yaml:"commands,omitempty"`
}

// SavedFilterConfig is a preset built query.
type SavedFilterConfig struct {
	Unit      string            `mapstructure:"unit" yaml:"unit"`
	Quantity  int               `mapstructure:"quantity" yaml:"quantity"`
	Filters   map[string]string `mapstructure:"filters" yaml:"filters,omitempty"`
	Aggregate string            `mapstructure:"aggregate" yaml:"aggregate,omitempty"`
	Property  string            `mapstructure:"property" yaml:"property,omitempty"`
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	Driver     string           `mapstructure:"driver" yaml:"driver"`
	DSN        string           `mapstructure:"dsn" yaml:"dsn"`
	OpenSearch OpenSearchConfig `mapstructure:"opensearch" yaml:"opensearch"`
}

// OpenSearchConfig holds OpenSearch connection settings.
type OpenSearchConfig struct {
	URL      string `mapstructure:"url" yaml:"url"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"-"`
	Insecure bool   `mapstructure:"insecure" yaml:"insecure"`
	MaxHits  int    `mapstructure:"max_hits" yaml:"max_hits"`
}

// HistoryConfig controls the query audit trail.
type HistoryConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	DatabaseURL string `mapstructure:"database_url" yaml:"-"`
	Migrations  string `mapstructure:"migrations" yaml:"migrations"`
}

// NATSConfig holds NATS message broker configuration.
type NATSConfig struct {
	URL           string        `mapstructure:"url" yaml:"url"`
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	Subject       string        `mapstructure:"subject" yaml:"subject"`
	Relay         bool          `mapstructure:"relay" yaml:"relay"`
	MaxReconnects int           `mapstructure:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait" yaml:"reconnect_wait"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	URL               string        `mapstructure:"url" yaml:"url"`
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	SuppressionWindow time.Duration `mapstructure:"suppression_window" yaml:"suppression_window"`
}

// ServerConfig holds the ops HTTP server settings.
type ServerConfig struct {
	Port         int           `mapstructure:"port" yaml:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// CommandsConfig holds custom command execution settings.
type CommandsConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Dir     string        `mapstructure:"dir" yaml:"dir,omitempty"`
}

// Path returns the file the configuration was read from.
func (c *Config) Path() string { return c.path }

// Load reads $QUERYBOT_CONFIG (default DefaultPath) and the environment,
// validates the bot block and returns the configuration. A missing file is
// not an error.
func Load() (*Config, error) {
	path := os.Getenv("QUERYBOT_CONFIG")
	if path == "" {
		path = DefaultPath
	}
	return LoadFile(path, notify.DefaultPredicates())
}

// LoadFile is Load with an explicit file and predicate registry.
func LoadFile(path string, predicates notify.Predicates) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Environment variables override with QUERYBOT prefix
	v.SetEnvPrefix("QUERYBOT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Nested keys only reach AllSettings when bound explicitly
	_ = v.BindEnv("bot.token", "QUERYBOT_BOT_TOKEN", "TELEGRAM_BOT_TOKEN")
	_ = v.BindEnv("bot.commands_suffix", "QUERYBOT_BOT_COMMANDS_SUFFIX")
	_ = v.BindEnv("bot.history_lookup_model_property", "QUERYBOT_BOT_HISTORY_LOOKUP_MODEL_PROPERTY")
	_ = v.BindEnv("store.dsn", "QUERYBOT_STORE_DSN")
	_ = v.BindEnv("history.database_url", "QUERYBOT_HISTORY_DATABASE_URL", "DATABASE_URL")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := Check(cast.ToStringMap(v.AllSettings()["bot"]), predicates); err != nil {
		return nil, err
	}

	cfg := &Config{path: path}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// setDefaults sets every default that does not take part in validation.
// Required bot keys have no default so that their absence is detected.
func setDefaults(v *viper.Viper) {
	v.SetDefault("bot.poll_timeout", 60)
	v.SetDefault("bot.debug", false)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "querybot.db")
	v.SetDefault("store.opensearch.url", "https://localhost:9200")
	v.SetDefault("store.opensearch.username", "admin")
	v.SetDefault("store.opensearch.insecure", true)
	v.SetDefault("store.opensearch.max_hits", 1000)

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.migrations", "file://migrations")

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.subject", "querybot.notify.guard")
	v.SetDefault("nats.relay", true)
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.suppression_window", "5m")

	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("commands.timeout", "60s")
}

// LogValue hides secrets when the configuration is logged.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("path", c.path),
		slog.String("store", c.Store.Driver),
		slog.Int("conversations", len(c.Bot.Conversations)),
		slog.Bool("middleware", c.Bot.MiddlewareEnabled),
		slog.Bool("history", c.History.Enabled),
		slog.Bool("nats", c.NATS.Enabled),
		slog.Bool("redis", c.Redis.Enabled),
	)
}

// YAML renders the effective configuration with secrets redacted.
func (c *Config) YAML() ([]byte, error) {
	redacted := *c
	if redacted.Bot.Token != "" {
		redacted.Bot.Token = "<redacted>"
	}
	out, err := yaml.Marshal(&redacted)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return out, nil
}
