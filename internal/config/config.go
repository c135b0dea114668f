package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	ConnectAttempts uint          `mapstructure:"connect_attempts"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type AuthConfig struct {
	JWTSecret      string   `mapstructure:"jwt_secret"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// IngestConfig bounds the values a device may report.
type IngestConfig struct {
	TemperatureMin     float64       `mapstructure:"temperature_min"`
	TemperatureMax     float64       `mapstructure:"temperature_max"`
	DefaultInterval    time.Duration `mapstructure:"default_interval"`
	LiveSendBuffer     int           `mapstructure:"live_send_buffer"`
	LiveWriteTimeout   time.Duration `mapstructure:"live_write_timeout"`
	LiveMaxMessageSize int64         `mapstructure:"live_max_message_size"`
}

type ThrottleConfig struct {
	Backend string `mapstructure:"backend"` // memory or redis
	Prefix  string `mapstructure:"prefix"`
}

type AlertsConfig struct {
	RainStartEdgeTriggered bool          `mapstructure:"rain_start_edge_triggered"`
	RepeatInterval         time.Duration `mapstructure:"repeat_interval"`
	MaintenanceAfter       time.Duration `mapstructure:"maintenance_after"`
	MaintenanceCron        string        `mapstructure:"maintenance_cron"`
}

type PushConfig struct {
	VAPIDPublicKey        string        `mapstructure:"vapid_public_key"`
	VAPIDPrivateKey       string        `mapstructure:"vapid_private_key"`
	Subscriber            string        `mapstructure:"subscriber"`
	TTL                   int           `mapstructure:"ttl"`
	Timezone              string        `mapstructure:"timezone"`
	DeliveryTimeout       time.Duration `mapstructure:"delivery_timeout"`
	MaxConcurrent         int           `mapstructure:"max_concurrent"`
	QueueSize             int           `mapstructure:"queue_size"`
	SubscriptionRetention time.Duration `mapstructure:"subscription_retention"`
	DailyReportCron       string        `mapstructure:"daily_report_cron"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Topic    string `mapstructure:"topic"`
	QoS      byte   `mapstructure:"qos"`
}

type TemporalConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console or json
}

type Config struct {
	ServerPort string         `mapstructure:"server_port"`
	Database   DatabaseConfig `mapstructure:"database"`
	Auth       AuthConfig     `mapstructure:"auth"`
	Ingest     IngestConfig   `mapstructure:"ingest"`
	Throttle   ThrottleConfig `mapstructure:"throttle"`
	Alerts     AlertsConfig   `mapstructure:"alerts"`
	Push       PushConfig     `mapstructure:"push"`
	Redis      RedisConfig    `mapstructure:"redis"`
	MQTT       MQTTConfig     `mapstructure:"mqtt"`
	Temporal   TemporalConfig `mapstructure:"temporal"`
	Log        LogConfig      `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_port", "3000")
	v.SetDefault("database.url", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("database.connect_attempts", 10)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("auth.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("ingest.temperature_min", 0)
	v.SetDefault("ingest.temperature_max", 50)
	v.SetDefault("ingest.default_interval", 10*time.Minute)
	v.SetDefault("ingest.live_send_buffer", 16)
	v.SetDefault("ingest.live_write_timeout", 10*time.Second)
	v.SetDefault("ingest.live_max_message_size", 4096)

	v.SetDefault("throttle.backend", "memory")
	v.SetDefault("throttle.prefix", "sensorhub:throttle:")

	v.SetDefault("alerts.repeat_interval", 24*time.Hour)
	v.SetDefault("alerts.maintenance_after", 24*time.Hour)
	v.SetDefault("alerts.maintenance_cron", "0 * * * *")

	v.SetDefault("push.vapid_public_key", "")
	v.SetDefault("push.vapid_private_key", "")
	v.SetDefault("push.subscriber", "alerts@sensorhub.local")
	v.SetDefault("push.ttl", 60*60*24)
	v.SetDefault("push.timezone", "Local")
	v.SetDefault("push.delivery_timeout", 15*time.Second)
	v.SetDefault("push.max_concurrent", 32)
	v.SetDefault("push.queue_size", 1024)
	v.SetDefault("push.subscription_retention", 30*24*time.Hour)
	v.SetDefault("push.daily_report_cron", "0 8 * * *")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.client_id", "sensorhub")
	v.SetDefault("mqtt.topic", "sensorhub/+/readings")
	v.SetDefault("mqtt.qos", 1)

	v.SetDefault("temporal.enabled", false)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load reads config.yaml from the current directory or ./config, applies
// SENSORHUB_* environment overrides and validates the result.
func Load() (*Config, error) {
	return LoadFrom(".", "./config")
}

// LoadFrom is Load with explicit search paths.
func LoadFrom(paths ...string) (*Config, error) {
	v := viper.New()
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SENSORHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		return errors.New("database.url must be set")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret must be set")
	}
	if c.Ingest.TemperatureMax <= c.Ingest.TemperatureMin {
		return errors.New("ingest.temperature_max must exceed ingest.temperature_min")
	}
	switch c.Throttle.Backend {
	case "memory", "redis":
	default:
		return errors.Errorf("unknown throttle.backend %q", c.Throttle.Backend)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return errors.New("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

// Location resolves the timezone used for quiet hours.
func (c PushConfig) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}
