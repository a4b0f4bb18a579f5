package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig HTTP/websocket listener
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

func (s ServerConfig) Addr() string {
	if s.Host == "" {
		s.Host = "0.0.0.0"
	}
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// MySQLConfig chat/message persistence
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig presence store. An empty Addr keeps presence in memory.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	PoolSize int    `mapstructure:"pool_size"`
}

// JWTConfig bearer token verification
type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// LogConfig zap logger
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// HubConfig connection manager tuning
type HubConfig struct {
	// SendBuffer is the per-connection outbound queue length; frames beyond it are dropped.
	SendBuffer int `mapstructure:"send_buffer"`
	// EventRate and EventBurst limit inbound events per connection; 0 disables the limit.
	EventRate  float64 `mapstructure:"event_rate"`
	EventBurst int     `mapstructure:"event_burst"`
}

// RetentionConfig message retention sweeper
type RetentionConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Cron    string `mapstructure:"cron"`
}

// Config application config
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	MySQL     MySQLConfig     `mapstructure:"mysql"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Log       LogConfig       `mapstructure:"log"`
	Hub       HubConfig       `mapstructure:"hub"`
	Retention RetentionConfig `mapstructure:"retention"`
}

// DefaultConfig is enough to run locally against docker mysql/redis.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 3000,
		},
		MySQL: MySQLConfig{
			DSN: "pelusa:pelusa@tcp(127.0.0.1:3306)/pelusa?charset=utf8mb4&parseTime=True&loc=Local",
		},
		Redis: RedisConfig{
			Addr:     "",
			PoolSize: 10,
		},
		JWT: JWTConfig{
			Secret: "pelusa-secret",
			TTL:    24 * time.Hour,
		},
		Log: LogConfig{
			Level: "info",
		},
		Hub: HubConfig{
			SendBuffer: 16,
			EventRate:  20,
			EventBurst: 40,
		},
		Retention: RetentionConfig{
			Enabled: true,
			Cron:    "0 3 * * *",
		},
	}
}

// Load reads config.yaml from dir (if present) and PELUSA_* env vars on top of
// DefaultConfig. A .env file in dir feeds the environment without overriding it.
func Load(dir string) (*Config, error) {
	cfg := DefaultConfig()
	_ = godotenv.Load(filepath.Join(dir, ".env"))

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if dir != "" {
		v.AddConfigPath(dir)
	}
	v.SetEnvPrefix("PELUSA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about
	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("mysql.dsn", cfg.MySQL.DSN)
	v.SetDefault("redis.addr", cfg.Redis.Addr)
	v.SetDefault("redis.pool_size", cfg.Redis.PoolSize)
	v.SetDefault("jwt.secret", cfg.JWT.Secret)
	v.SetDefault("jwt.ttl", cfg.JWT.TTL)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("hub.send_buffer", cfg.Hub.SendBuffer)
	v.SetDefault("hub.event_rate", cfg.Hub.EventRate)
	v.SetDefault("hub.event_burst", cfg.Hub.EventBurst)
	v.SetDefault("retention.enabled", cfg.Retention.Enabled)
	v.SetDefault("retention.cron", cfg.Retention.Cron)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Hub.SendBuffer <= 0 {
		cfg.Hub.SendBuffer = 16
	}
	return cfg, nil
}
