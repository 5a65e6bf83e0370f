package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Running struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"running"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
	} `mapstructure:"redis"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"mysql"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`
	Room struct {
		ReapIntervalSeconds   int `mapstructure:"reapIntervalSeconds"`
		CleanupTimeoutSeconds int `mapstructure:"cleanupTimeoutSeconds"`
	} `mapstructure:"room"`
	Heartbeat struct {
		IntervalSeconds int `mapstructure:"intervalSeconds"`
	} `mapstructure:"heartbeat"`
}

func (c *Config) ReapInterval() time.Duration {
	if c.Room.ReapIntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.Room.ReapIntervalSeconds) * time.Second
}

func (c *Config) CleanupTimeout() time.Duration {
	if c.Room.CleanupTimeoutSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Room.CleanupTimeoutSeconds) * time.Second
}

func (c *Config) HeartbeatInterval() time.Duration {
	if c.Heartbeat.IntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Heartbeat.IntervalSeconds) * time.Second
}

// Load reads boardConfig.yaml from the usual launch directories.
func Load() (*Config, error) {
	cfg := &Config{}
	v := viper.New()
	v.SetConfigName("boardConfig")
	v.SetConfigType("yaml")
	v.AddConfigPath("./backend/config")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
