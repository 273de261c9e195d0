package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	MySQL       MySQLConfig       `mapstructure:"mysql"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Outbox      OutboxConfig      `mapstructure:"outbox"`
	Retry       RetryConfig       `mapstructure:"retry"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
}

type ServerConfig struct {
	Environment string `mapstructure:"environment"`
	Port        string `mapstructure:"port"`
}

type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type CacheConfig struct {
	DefaultTTL    time.Duration `mapstructure:"default_ttl"`
	NullValueTTL  time.Duration `mapstructure:"null_value_ttl"`
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
	OpTimeout     time.Duration `mapstructure:"op_timeout"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	LocalCapacity int           `mapstructure:"local_capacity"`
}

type OutboxConfig struct {
	DispatchInterval time.Duration `mapstructure:"dispatch_interval"`
	BatchSize        int           `mapstructure:"batch_size"`
	MaxRetry         int           `mapstructure:"max_retry"`
	CleanupInterval  time.Duration `mapstructure:"cleanup_interval"`
	Retention        time.Duration `mapstructure:"retention"`
}

type RetryConfig struct {
	MaxRetries int `mapstructure:"max_retries"`
}

type IdempotencyConfig struct {
	CompletedTTL time.Duration `mapstructure:"completed_ttl"`
	FailedTTL    time.Duration `mapstructure:"failed_ttl"`
}

func Load() *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("BLOG")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		panic(err)
	}

	return &cfg
}

func setDefaults() {
	viper.SetDefault("server.environment", "dev")
	viper.SetDefault("server.port", ":8080")

	viper.SetDefault("cache.default_ttl", time.Hour)
	viper.SetDefault("cache.null_value_ttl", 5*time.Minute)
	viper.SetDefault("cache.lock_ttl", 10*time.Second)
	viper.SetDefault("cache.op_timeout", 500*time.Millisecond)
	viper.SetDefault("cache.probe_interval", 10*time.Second)
	viper.SetDefault("cache.local_capacity", 10000)

	viper.SetDefault("outbox.dispatch_interval", 5*time.Second)
	viper.SetDefault("outbox.batch_size", 10)
	viper.SetDefault("outbox.max_retry", 5)
	viper.SetDefault("outbox.cleanup_interval", time.Minute)
	viper.SetDefault("outbox.retention", 7*24*time.Hour)

	viper.SetDefault("retry.max_retries", 3)

	viper.SetDefault("idempotency.completed_ttl", 24*time.Hour)
	viper.SetDefault("idempotency.failed_ttl", time.Hour)
}
