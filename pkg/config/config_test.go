package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_ValidConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")

	content := `
[agent]
  log_level = "debug"
  log_format = "json"
  host = "edge-1"
  shutdown_timeout = "3s"
  metrics_addr = ":9464"

[publisher]
  kind = "nats"
  schema_version = 1
  [publisher.nats]
    url = "nats://10.0.0.5:4222"
    stream = "JMX"
    subject = "jmx"
    create_stream = false
    retry_attempts = 5

[jmx.kafka1]
  address = "http://127.0.0.1:8778/jolokia"
  query.scope = "kafka.server:*"
  query.interval.s = 15
  tag.env = "prod"
`
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Agent.LogLevel != "debug" {
		t.Errorf("Agent.LogLevel: got %s, want debug", cfg.Agent.LogLevel)
	}
	if cfg.Agent.Host != "edge-1" {
		t.Errorf("Agent.Host: got %s, want edge-1", cfg.Agent.Host)
	}
	if cfg.Publisher.Kind != "nats" {
		t.Errorf("Publisher.Kind: got %s, want nats", cfg.Publisher.Kind)
	}
	if cfg.Publisher.SchemaVersion != 1 {
		t.Errorf("Publisher.SchemaVersion: got %d, want 1", cfg.Publisher.SchemaVersion)
	}
	if cfg.Publisher.NATS.URL != "nats://10.0.0.5:4222" {
		t.Errorf("NATS.URL: got %s", cfg.Publisher.NATS.URL)
	}
	if cfg.Publisher.NATS.CreateStream {
		t.Error("NATS.CreateStream: expected false")
	}
	if cfg.Publisher.NATS.RetryAttempts != 5 {
		t.Errorf("NATS.RetryAttempts: got %d, want 5", cfg.Publisher.NATS.RetryAttempts)
	}

	props := cfg.ScanProperties()
	want := map[string]string{
		"jmx.kafka1.address":          "http://127.0.0.1:8778/jolokia",
		"jmx.kafka1.query.scope":      "kafka.server:*",
		"jmx.kafka1.query.interval.s": "15",
		"jmx.kafka1.tag.env":          "prod",
	}
	if len(props) != len(want) {
		t.Fatalf("ScanProperties: got %v", props)
	}
	for k, v := range want {
		if props[k] != v {
			t.Errorf("%s: got %q, want %q", k, props[k], v)
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")

	// Minimal config, all defaults should apply
	content := `
[agent]
  host = "test"
`
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Agent.LogLevel != "info" {
		t.Errorf("default LogLevel: got %s, want info", cfg.Agent.LogLevel)
	}
	if cfg.Agent.LogFormat != "auto" {
		t.Errorf("default LogFormat: got %s, want auto", cfg.Agent.LogFormat)
	}
	if cfg.Publisher.Kind != "log" {
		t.Errorf("default Kind: got %s, want log", cfg.Publisher.Kind)
	}
	if cfg.Publisher.NATS.Subject != "_metrics" {
		t.Errorf("default Subject: got %s, want _metrics", cfg.Publisher.NATS.Subject)
	}
	if !cfg.Publisher.NATS.CreateStream {
		t.Error("default CreateStream: expected true")
	}
	if cfg.Publisher.NATS.RetryAttempts != 2 {
		t.Errorf("default RetryAttempts: got %d, want 2", cfg.Publisher.NATS.RetryAttempts)
	}
	if cfg.Publisher.Spool.MaxRecords != 100000 {
		t.Errorf("default MaxRecords: got %d, want 100000", cfg.Publisher.Spool.MaxRecords)
	}
	if len(cfg.ScanProperties()) != 0 {
		t.Errorf("expected no scan properties, got %v", cfg.ScanProperties())
	}
}

func TestLoad_NonexistentFile(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")

	if err := os.WriteFile(cfgPath, []byte("invalid [[[ toml"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := Load(cfgPath)
	if err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestParseShutdownTimeout(t *testing.T) {
	cfg := &AgentConfig{ShutdownTimeout: "2s"}
	d, err := cfg.ParseShutdownTimeout()
	if err != nil {
		t.Fatalf("parse timeout: %v", err)
	}
	if d.Seconds() != 2 {
		t.Errorf("Timeout: got %v, want 2s", d)
	}
}

func TestParseDurations_Default(t *testing.T) {
	if d, _ := (&AgentConfig{}).ParseShutdownTimeout(); d.Seconds() != 10 {
		t.Errorf("default shutdown timeout: got %v, want 10s", d)
	}
	if d, _ := (&NATSConfig{}).ParsePublishTimeout(); d.Seconds() != 5 {
		t.Errorf("default publish timeout: got %v, want 5s", d)
	}
	if d, _ := (&SpoolConfig{}).ParseRetentionCheck(); d.Seconds() != 30 {
		t.Errorf("default retention check: got %v, want 30s", d)
	}
}

func TestParseRetentionCheck_Invalid(t *testing.T) {
	cfg := &SpoolConfig{RetentionCheck: "soon"}
	if _, err := cfg.ParseRetentionCheck(); err == nil {
		t.Error("expected error for invalid duration")
	}
}
