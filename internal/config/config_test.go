package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Hold.DefaultTTL != 48*time.Hour {
		t.Errorf("expected default hold ttl 48h, got %s", cfg.Hold.DefaultTTL)
	}
	if cfg.Hold.Isolation != "READ COMMITTED" {
		t.Errorf("expected READ COMMITTED, got %q", cfg.Hold.Isolation)
	}
	if len(cfg.Events.KafkaBrokers) != 1 || cfg.Events.KafkaBrokers[0] != "localhost:9092" {
		t.Errorf("unexpected kafka brokers %v", cfg.Events.KafkaBrokers)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HOLD_TTL", "2h")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("EVENT_BROKER", "kafka")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Hold.DefaultTTL != 2*time.Hour {
		t.Errorf("expected 2h, got %s", cfg.Hold.DefaultTTL)
	}
	if len(cfg.Events.KafkaBrokers) != 2 {
		t.Errorf("expected 2 brokers, got %v", cfg.Events.KafkaBrokers)
	}
	if cfg.Events.Broker != "kafka" {
		t.Errorf("expected kafka broker, got %q", cfg.Events.Broker)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"isolation", "HOLD_TX_ISOLATION", "REPEATABLE READ"},
		{"broker", "EVENT_BROKER", "nats"},
		{"ttl", "HOLD_TTL", "-1h"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}
