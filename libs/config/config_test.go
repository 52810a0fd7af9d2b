package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidatePort(t *testing.T) {
	if err := ValidatePort("PORT", "8083"); err != nil {
		t.Fatalf("expected valid port, got %v", err)
	}
	for _, bad := range []string{"", "0", "70000", "http"} {
		if err := ValidatePort("PORT", bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestProcess(t *testing.T) {
	var cfg struct {
		Driver  string        `envconfig:"STORAGE_DRIVER" default:"sqlite"`
		Timeout time.Duration `envconfig:"STORE_TIMEOUT" default:"5s"`
		URL     string        `envconfig:"DATABASE_URL" required:"true"`
		Origins []string      `envconfig:"CORS_ALLOWED_ORIGINS"`
	}
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("STORE_TIMEOUT", "2s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.test,https://b.test")
	if err := Process("", &cfg); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if cfg.Driver != "sqlite" || cfg.Timeout != 2*time.Second || cfg.URL == "" || len(cfg.Origins) != 2 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestProcessRequired(t *testing.T) {
	var cfg struct {
		URL string `envconfig:"CONFIG_TEST_REQUIRED_URL" required:"true"`
	}
	err := Process("", &cfg)
	if err == nil || !strings.Contains(err.Error(), "load config") {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
