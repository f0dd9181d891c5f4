package config

import (
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		App:      AppConfig{Env: "local", Port: 8080},
		DB:       DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "autopilot", SSLMode: ""},
		Redis:    RedisConfig{Host: "localhost", Port: 6379},
		Auth:     AuthConfig{JWTSecret: "secret"},
		Provider: ProviderConfig{Tag: "gemini", GeminiAPIKey: "k"},
		Channel:  ChannelConfig{RelayBaseURL: "http://relay.local"},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validConfig()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "autopilot"
	c.Auth.JWTAudience = "api"
	c.Channel.RelayToken = "t"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Scheduler.DeliveryTick != 5*time.Minute {
		t.Fatalf("expected 5m delivery tick default, got %v", c.Scheduler.DeliveryTick)
	}
	if c.Scheduler.LifecycleTick != 24*time.Hour {
		t.Fatalf("expected 24h lifecycle tick default, got %v", c.Scheduler.LifecycleTick)
	}
	if c.Scheduler.WorkerCap != 8 {
		t.Fatalf("expected worker cap default 8, got %d", c.Scheduler.WorkerCap)
	}
}

func TestValidate_UnknownProviderTagRejected(t *testing.T) {
	c := validConfig()
	c.Provider.Tag = "mystery"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for unknown provider tag")
	}
}

func TestValidate_ProviderKeyRequiredForSelectedTag(t *testing.T) {
	c := validConfig()
	c.Provider = ProviderConfig{Tag: "openai"}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for openai tag without key")
	}
}
