package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Business BusinessConfig `mapstructure:"business"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port     int   `mapstructure:"port"`
	WorkerID int64 `mapstructure:"worker_id"` // snowflake worker, unique per instance
}

// DatabaseConfig selects the gorm driver. "mysql" is the production store;
// "sqlite" takes Path and is meant for development.
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	Path         string `mapstructure:"path"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogLevel     string `mapstructure:"log_level"`
}

// RedisConfig is optional; with an empty Host account locks are process-local.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

// KafkaConfig is optional; without brokers outbox messages stay PENDING.
type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

type KafkaTopicConfig struct {
	SessionEvents string `mapstructure:"session_events"`
	AccountEvents string `mapstructure:"account_events"`
}

type BusinessConfig struct {
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	AutoCompleteGrace time.Duration `mapstructure:"auto_complete_grace"`
	AuditInterval     time.Duration `mapstructure:"audit_interval"`
	OutboxInterval    time.Duration `mapstructure:"outbox_interval"`
	LockTTL           time.Duration `mapstructure:"lock_ttl"`
	LockRetryInterval time.Duration `mapstructure:"lock_retry_interval"`
	LockMaxRetries    int           `mapstructure:"lock_max_retries"`
	MaxRetryCount     int           `mapstructure:"max_retry_count"`
	BatchSize         int           `mapstructure:"batch_size"`
}

type AuthConfig struct {
	JWTSecret string   `mapstructure:"jwt_secret"`
	AdminIDs  []string `mapstructure:"admin_ids"`
}

// IsAdmin reports whether userID may grant credits.
func (c AuthConfig) IsAdmin(userID string) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Environment string `mapstructure:"environment"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.worker_id", 1)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "timebank.db")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("redis.port", 6379)

	v.SetDefault("kafka.topic.session_events", "timebank.session")
	v.SetDefault("kafka.topic.account_events", "timebank.account")

	v.SetDefault("business.sweep_interval", 30*time.Second)
	v.SetDefault("business.auto_complete_grace", 24*time.Hour)
	v.SetDefault("business.audit_interval", 10*time.Minute)
	v.SetDefault("business.outbox_interval", 500*time.Millisecond)
	v.SetDefault("business.lock_ttl", 30*time.Second)
	v.SetDefault("business.lock_retry_interval", 50*time.Millisecond)
	v.SetDefault("business.lock_max_retries", 100)
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.batch_size", 100)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.environment", "production")
}

// Load reads configPath (yaml) on top of the defaults. A missing file is not
// an error; every key can also come from TIMEBANK_* environment variables,
// e.g. TIMEBANK_DATABASE_DRIVER.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("timebank")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !isNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", configPath, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration with nothing but defaults applied.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(err)
	}
	return cfg
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
