package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server ServerConfig
	DB     DBConfig
	Redis  RedisConfig
	NATS   NATSConfig
	JWT    JWTConfig
	Quota  QuotaConfig
	CORS   CORSConfig
	Log    LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32

	AutoMigrate    bool
	MigrationsPath string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type NATSConfig struct {
	URL string
}

type JWTConfig struct {
	// AccessSecret verifies tokens minted by the platform auth service;
	// this service never issues tokens itself.
	AccessSecret string
}

// QuotaConfig holds the metering limits and recharge package sizes.
type QuotaConfig struct {
	TextDailyLimit   int64
	TurboMinutes     int64
	TurboWindow      time.Duration
	BankMinutes      int64
	PassDuration     time.Duration
	MaxUpdateRetries int

	// ExpirySweepInterval is how often active recharges past their expiry
	// are flipped to expired. Zero disables the sweep.
	ExpirySweepInterval time.Duration

	// Per-IP request limits on the public metering endpoints.
	RateLimitRequests int
	RateLimitWindowS  int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: k.String("server.host"),
			Port: k.Int("server.port"),
		},
		DB: DBConfig{
			Host:     k.String("db.host"),
			Port:     k.Int("db.port"),
			User:     k.String("db.user"),
			Password: k.String("db.password"),
			Name:     k.String("db.name"),
			SSLMode:  k.String("db.sslmode"),
			MaxConns: int32(k.Int("db.max.conns")),

			AutoMigrate:    k.Bool("db.auto.migrate"),
			MigrationsPath: k.String("db.migrations.path"),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			URL: k.String("nats.url"),
		},
		JWT: JWTConfig{
			AccessSecret: k.String("jwt.access.secret"),
		},
		Quota: QuotaConfig{
			TextDailyLimit:    int64(k.Int("quota.text.daily.limit")),
			TurboMinutes:      int64(k.Int("quota.turbo.minutes")),
			BankMinutes:       int64(k.Int("quota.bank.minutes")),
			MaxUpdateRetries:  k.Int("quota.max.update.retries"),
			RateLimitRequests: k.Int("quota.ratelimit.requests"),
			RateLimitWindowS:  k.Int("quota.ratelimit.window.seconds"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitOrigins(k.String("cors.allowed.origins")),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "metering"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "metering"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.DB.MigrationsPath == "" {
		cfg.DB.MigrationsPath = "migrations"
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.Quota.TextDailyLimit == 0 {
		cfg.Quota.TextDailyLimit = 600
	}
	if cfg.Quota.TurboMinutes == 0 {
		cfg.Quota.TurboMinutes = 20
	}
	if cfg.Quota.BankMinutes == 0 {
		cfg.Quota.BankMinutes = 100
	}
	if cfg.Quota.MaxUpdateRetries == 0 {
		cfg.Quota.MaxUpdateRetries = 5
	}
	if cfg.Quota.RateLimitRequests == 0 {
		cfg.Quota.RateLimitRequests = 120
	}
	if cfg.Quota.RateLimitWindowS == 0 {
		cfg.Quota.RateLimitWindowS = 60
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	// Parse durations
	turboWindowStr := k.String("quota.turbo.window")
	if turboWindowStr == "" {
		turboWindowStr = "24h"
	}
	cfg.Quota.TurboWindow, err = time.ParseDuration(turboWindowStr)
	if err != nil {
		return nil, fmt.Errorf("parsing quota turbo window: %w", err)
	}

	passDurationStr := k.String("quota.pass.duration")
	if passDurationStr == "" {
		passDurationStr = "720h" // 30 days
	}
	cfg.Quota.PassDuration, err = time.ParseDuration(passDurationStr)
	if err != nil {
		return nil, fmt.Errorf("parsing quota pass duration: %w", err)
	}

	sweepStr := k.String("quota.expiry.sweep.interval")
	if sweepStr == "" {
		sweepStr = "10m"
	}
	cfg.Quota.ExpirySweepInterval, err = time.ParseDuration(sweepStr)
	if err != nil {
		return nil, fmt.Errorf("parsing expiry sweep interval: %w", err)
	}

	return cfg, nil
}

func splitOrigins(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
