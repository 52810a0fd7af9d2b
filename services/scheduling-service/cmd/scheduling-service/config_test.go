package main

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "SQLite")
	t.Setenv("EVENTS_SINK", "none")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.StorageDriver != "sqlite" || cfg.Port != "8083" || cfg.GRPCPort != "9093" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.StoreTimeout != 5*time.Second || cfg.OutboxBatchSize != 50 || cfg.CacheSize != 1024 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadConfigRejects(t *testing.T) {
	cases := map[string]map[string]string{
		"postgres without url": {"STORAGE_DRIVER": "postgres", "DATABASE_URL": ""},
		"unknown driver":       {"STORAGE_DRIVER": "mysql"},
		"amqp without url":     {"STORAGE_DRIVER": "sqlite", "EVENTS_SINK": "amqp", "AMQP_URL": ""},
		"unknown sink":         {"STORAGE_DRIVER": "sqlite", "EVENTS_SINK": "sns"},
		"bad port":             {"STORAGE_DRIVER": "sqlite", "PORT": "99999"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := loadConfig(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
