package config

import (
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.HTTPPort != 8080 {
		t.Errorf("HTTPPort = %d, want 8080", cfg.HTTPPort)
	}
	if cfg.UDPPort != 33000 {
		t.Errorf("UDPPort = %d, want 33000", cfg.UDPPort)
	}
	if cfg.MaxChannels != 100 {
		t.Errorf("MaxChannels = %d, want 100", cfg.MaxChannels)
	}
	if cfg.ChannelTimeout != 300*time.Second {
		t.Errorf("ChannelTimeout = %v, want 300s", cfg.ChannelTimeout)
	}
	if cfg.SyncInterval != 30*time.Second {
		t.Errorf("SyncInterval = %v, want 30s", cfg.SyncInterval)
	}
	if cfg.ServerKey != "" {
		t.Errorf("ServerKey = %q, want empty", cfg.ServerKey)
	}
}

func TestParseOverrides(t *testing.T) {
	cfg, err := Parse([]string{"-http-port=9090", "-max-channels=5", "-server-key=secret"})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.HTTPPort != 9090 {
		t.Errorf("HTTPPort = %d, want 9090", cfg.HTTPPort)
	}
	if cfg.MaxChannels != 5 {
		t.Errorf("MaxChannels = %d, want 5", cfg.MaxChannels)
	}
	if cfg.ServerKey != "secret" {
		t.Errorf("ServerKey = %q, want secret", cfg.ServerKey)
	}
}

func TestParseRejectsInvalidMaxChannels(t *testing.T) {
	if _, err := Parse([]string{"-max-channels=0"}); err == nil {
		t.Fatal("expected error for -max-channels=0")
	}
}
