package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sguter90/aranetmaestro/pkg/aranet"
	"github.com/sguter90/aranetmaestro/pkg/puller"
	mqttpusher "github.com/sguter90/aranetmaestro/pkg/pusher/mqtt"
	redispusher "github.com/sguter90/aranetmaestro/pkg/pusher/redis"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. ARANET_DATABASE_HOST
const EnvPrefix = "ARANET"

// Config holds all configuration for the service
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	BLE       BLEConfig       `mapstructure:"ble"`
	History   HistoryConfig   `mapstructure:"history"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	Passive   PassiveConfig   `mapstructure:"passive"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Poller    PollerConfig    `mapstructure:"poller"`
	Log       LogConfig       `mapstructure:"log"`
}

type DatabaseConfig struct {
	// DSN overrides the individual connection fields when set
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

// ConnectionString returns the lib/pq connection string
func (c DatabaseConfig) ConnectionString() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// APIKey, when set, is required in the X-API-Key header of /api requests
	APIKey      string   `mapstructure:"api_key"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// Addr returns the listen address
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type BLEConfig struct {
	ScanDuration     time.Duration `mapstructure:"scan_duration"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	FindAttempts     int           `mapstructure:"find_attempts"`
}

// ConnectOptions converts to the device connect options
func (c BLEConfig) ConnectOptions() aranet.ConnectOptions {
	return aranet.ConnectOptions{
		Timeout:          c.ConnectTimeout,
		OperationTimeout: c.OperationTimeout,
		Find: aranet.FindOptions{
			Attempts:     c.FindAttempts,
			ScanDuration: c.ScanDuration,
		},
	}
}

type HistoryConfig struct {
	ReadDelay           time.Duration `mapstructure:"read_delay"`
	NotificationTimeout time.Duration `mapstructure:"notification_timeout"`
	MaxStalls           int           `mapstructure:"max_stalls"`
	MaxRetries          int           `mapstructure:"max_retries"`
}

// Options converts to the history download options
func (c HistoryConfig) Options() aranet.HistoryOptions {
	return aranet.HistoryOptions{
		ReadDelay:             c.ReadDelay,
		V1NotificationTimeout: c.NotificationTimeout,
		V1MaxStalls:           c.MaxStalls,
		V2MaxRetries:          c.MaxRetries,
	}
}

type ReconnectConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
	Exponential  bool          `mapstructure:"exponential"`
}

// Options converts to the reconnect options
func (c ReconnectConfig) Options() aranet.ReconnectOptions {
	return aranet.ReconnectOptions{
		MaxAttempts:  c.MaxAttempts,
		InitialDelay: c.InitialDelay,
		MaxDelay:     c.MaxDelay,
		Multiplier:   c.Multiplier,
		Exponential:  c.Exponential,
	}
}

type PassiveConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	ScanDuration    time.Duration `mapstructure:"scan_duration"`
	ScanInterval    time.Duration `mapstructure:"scan_interval"`
	ChannelCapacity int           `mapstructure:"channel_capacity"`
	Deduplicate     bool          `mapstructure:"deduplicate"`
	MaxReadingAge   time.Duration `mapstructure:"max_reading_age"`
	Devices         []string      `mapstructure:"devices"`
}

// Options converts to the passive monitor options
func (c PassiveConfig) Options() aranet.PassiveMonitorOptions {
	return aranet.PassiveMonitorOptions{
		ScanDuration:    c.ScanDuration,
		ScanInterval:    c.ScanInterval,
		ChannelCapacity: c.ChannelCapacity,
		Deduplicate:     c.Deduplicate,
		MaxReadingAge:   c.MaxReadingAge,
		DeviceFilter:    c.Devices,
	}
}

type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         int    `mapstructure:"qos"`
	Retain      bool   `mapstructure:"retain"`
}

// PusherConfig converts to the mqtt pusher config
func (c MQTTConfig) PusherConfig() mqttpusher.Config {
	return mqttpusher.Config{
		Broker:      c.Broker,
		ClientID:    c.ClientID,
		Username:    c.Username,
		Password:    c.Password,
		TopicPrefix: c.TopicPrefix,
		QoS:         byte(c.QoS),
		Retain:      c.Retain,
	}
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// PusherConfig converts to the redis pusher config
func (c RedisConfig) PusherConfig() redispusher.Config {
	return redispusher.Config{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		Prefix:   c.Prefix,
		TTL:      c.TTL,
	}
}

type PollerConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	Concurrency int           `mapstructure:"concurrency"`
	PullTimeout time.Duration `mapstructure:"pull_timeout"`
	// SyncEvery runs a history sync every n polls, 0 disables it
	SyncEvery int `mapstructure:"sync_every"`
	// Devices are the addresses or names polled by serve
	Devices []string `mapstructure:"devices"`
}

// ServiceOptions converts to the puller service options
func (c PollerConfig) ServiceOptions() puller.ServiceOptions {
	return puller.ServiceOptions{
		Interval:    c.Interval,
		Concurrency: c.Concurrency,
		PullTimeout: c.PullTimeout,
		SyncEvery:   c.SyncEvery,
	}
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load initializes configuration from environment variables and config file.
// A config file set with viper.SetConfigFile must exist; otherwise config.yaml
// is searched in . and ./config and may be absent.
func Load() (*Config, error) {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set defaults
	setDefaults()

	explicit := viper.ConfigFileUsed() != ""
	if !explicit {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	// Database defaults
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "aranet_user")
	viper.SetDefault("database.password", "aranet_pass")
	viper.SetDefault("database.name", "aranet_db")
	viper.SetDefault("database.sslmode", "disable")

	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "15s")
	viper.SetDefault("server.shutdown_timeout", "10s")
	viper.SetDefault("server.api_key", "")
	viper.SetDefault("server.cors_origins", []string{"*"})

	// BLE defaults
	connect := aranet.DefaultConnectOptions()
	viper.SetDefault("ble.scan_duration", connect.Find.ScanDuration)
	viper.SetDefault("ble.connect_timeout", connect.Timeout)
	viper.SetDefault("ble.operation_timeout", connect.OperationTimeout)
	viper.SetDefault("ble.find_attempts", connect.Find.Attempts)

	// History defaults
	history := aranet.DefaultHistoryOptions()
	viper.SetDefault("history.read_delay", history.ReadDelay)
	viper.SetDefault("history.notification_timeout", history.V1NotificationTimeout)
	viper.SetDefault("history.max_stalls", history.V1MaxStalls)
	viper.SetDefault("history.max_retries", history.V2MaxRetries)

	// Reconnect defaults
	reconnect := aranet.DefaultReconnectOptions()
	viper.SetDefault("reconnect.max_attempts", reconnect.MaxAttempts)
	viper.SetDefault("reconnect.initial_delay", reconnect.InitialDelay)
	viper.SetDefault("reconnect.max_delay", reconnect.MaxDelay)
	viper.SetDefault("reconnect.multiplier", reconnect.Multiplier)
	viper.SetDefault("reconnect.exponential", reconnect.Exponential)

	// Passive monitor defaults
	passive := aranet.DefaultPassiveMonitorOptions()
	viper.SetDefault("passive.enabled", false)
	viper.SetDefault("passive.scan_duration", passive.ScanDuration)
	viper.SetDefault("passive.scan_interval", passive.ScanInterval)
	viper.SetDefault("passive.channel_capacity", passive.ChannelCapacity)
	viper.SetDefault("passive.deduplicate", passive.Deduplicate)
	viper.SetDefault("passive.max_reading_age", passive.MaxReadingAge)
	viper.SetDefault("passive.devices", []string{})

	// MQTT defaults
	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.client_id", "")
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")
	viper.SetDefault("mqtt.topic_prefix", "aranet")
	viper.SetDefault("mqtt.qos", 0)
	viper.SetDefault("mqtt.retain", false)

	// Redis defaults
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.prefix", "aranet")
	viper.SetDefault("redis.ttl", "10m")

	// Poller defaults
	poller := puller.DefaultServiceOptions()
	viper.SetDefault("poller.interval", poller.Interval)
	viper.SetDefault("poller.concurrency", poller.Concurrency)
	viper.SetDefault("poller.pull_timeout", poller.PullTimeout)
	viper.SetDefault("poller.sync_every", poller.SyncEvery)
	viper.SetDefault("poller.devices", []string{})

	// Log defaults
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
}

// Validate rejects values the components cannot run with
func (c *Config) Validate() error {
	if c.Database.DSN == "" && c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if err := c.Reconnect.Options().Validate(); err != nil {
		return err
	}
	if c.Poller.Interval <= 0 {
		return fmt.Errorf("poller interval must be positive")
	}
	if c.Poller.SyncEvery < 0 {
		return fmt.Errorf("poller sync_every must not be negative")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt broker is required when mqtt is enabled")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt qos %d must be 0, 1 or 2", c.MQTT.QoS)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required when redis is enabled")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log format %q must be json or console", c.Log.Format)
	}
	return nil
}
