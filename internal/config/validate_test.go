package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		DB: DBConfig{
			Host: "localhost", Port: 5432, User: "metering",
			Password: "secret", Name: "metering", SSLMode: "disable", MaxConns: 25,
		},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		JWT:   JWTConfig{AccessSecret: "access-secret-that-is-at-least-32-chars!"},
		Quota: QuotaConfig{
			TextDailyLimit:   600,
			TurboMinutes:     20,
			TurboWindow:      24 * time.Hour,
			BankMinutes:      100,
			PassDuration:     720 * time.Hour,
			MaxUpdateRetries: 5,
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
}

func TestValidate_JWTAccessSecretTooShort(t *testing.T) {
	cfg := validConfig()
	cfg.JWT.AccessSecret = "short"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "JWT_ACCESS_SECRET") {
		t.Fatalf("expected JWT_ACCESS_SECRET error, got: %v", err)
	}
}

func TestValidate_DBPasswordRequired(t *testing.T) {
	cfg := validConfig()
	cfg.DB.Password = ""
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "DB_PASSWORD") {
		t.Fatalf("expected DB_PASSWORD error, got: %v", err)
	}
}

func TestValidate_PortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 70000
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "SERVER_PORT") {
		t.Fatalf("expected SERVER_PORT error, got: %v", err)
	}
}

func TestValidate_QuotaLimitsPositive(t *testing.T) {
	cfg := validConfig()
	cfg.Quota.TextDailyLimit = 0
	cfg.Quota.TurboWindow = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"QUOTA_TEXT_DAILY_LIMIT", "QUOTA_TURBO_WINDOW"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s error, got: %v", want, err)
		}
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.JWT.AccessSecret = ""
	cfg.DB.Password = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "JWT_ACCESS_SECRET") || !strings.Contains(err.Error(), "DB_PASSWORD") {
		t.Fatalf("expected both errors reported, got: %v", err)
	}
}
