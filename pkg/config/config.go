// Package config provides TOML configuration loading for scanrelay.
package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// DefaultPath is used when no --config flag is given.
const DefaultPath = "/etc/scanrelay/config.toml"

// Config is the top-level configuration structure.
type Config struct {
	Agent     AgentConfig     `toml:"agent"`
	Publisher PublisherConfig `toml:"publisher"`

	// Scan holds the [jmx] tables verbatim; see ScanProperties.
	Scan map[string]any `toml:"jmx"`
}

// AgentConfig holds process-wide settings for the scan agent.
type AgentConfig struct {
	LogLevel        string `toml:"log_level"`
	LogFormat       string `toml:"log_format"`
	Host            string `toml:"host"`
	PropertiesFile  string `toml:"properties_file"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
	MetricsAddr     string `toml:"metrics_addr"`
}

// PublisherConfig selects and configures the downstream transport.
type PublisherConfig struct {
	Kind          string      `toml:"kind"`
	SchemaVersion int         `toml:"schema_version"`
	NATS          NATSConfig  `toml:"nats"`
	Spool         SpoolConfig `toml:"spool"`
}

// NATSConfig holds JetStream publisher settings.
type NATSConfig struct {
	URL            string `toml:"url"`
	ClientName     string `toml:"client_name"`
	Stream         string `toml:"stream"`
	Subject        string `toml:"subject"`
	CreateStream   bool   `toml:"create_stream"`
	PublishTimeout string `toml:"publish_timeout"`
	RetryAttempts  int    `toml:"retry_attempts"`
}

// SpoolConfig holds local bbolt spool settings.
type SpoolConfig struct {
	Path           string `toml:"path"`
	MaxRecords     int    `toml:"max_records"`
	RetentionCheck string `toml:"retention_check"`
}

// ParseShutdownTimeout parses the agent shutdown timeout string to a time.Duration.
func (a *AgentConfig) ParseShutdownTimeout() (time.Duration, error) {
	if a.ShutdownTimeout == "" {
		return 10 * time.Second, nil
	}
	return time.ParseDuration(a.ShutdownTimeout)
}

// ParsePublishTimeout parses the per-publish timeout string to a time.Duration.
func (n *NATSConfig) ParsePublishTimeout() (time.Duration, error) {
	if n.PublishTimeout == "" {
		return 5 * time.Second, nil
	}
	return time.ParseDuration(n.PublishTimeout)
}

// ParseRetentionCheck parses the spool retention interval string to a time.Duration.
func (s *SpoolConfig) ParseRetentionCheck() (time.Duration, error) {
	if s.RetentionCheck == "" {
		return 30 * time.Second, nil
	}
	return time.ParseDuration(s.RetentionCheck)
}

// Load reads and parses a TOML config file, applying defaults for unset values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes TOML config data, applying defaults for unset values.
func Parse(data []byte) (*Config, error) {
	// Fields whose zero value is meaningful are seeded before decoding.
	cfg := &Config{
		Publisher: PublisherConfig{
			NATS:  NATSConfig{CreateStream: true, RetryAttempts: 2},
			Spool: SpoolConfig{MaxRecords: 100000},
		},
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(cfg)
	cfg.expandPaths()
	return cfg, nil
}

func (cfg *Config) expandPaths() {
	cfg.Agent.PropertiesFile = ExpandPath(cfg.Agent.PropertiesFile)
	cfg.Publisher.Spool.Path = ExpandPath(cfg.Publisher.Spool.Path)
}

// ExpandPath expands tilde (~) to the user's home directory.
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	usr, err := user.Current()
	if err != nil {
		return path
	}
	if path == "~" {
		return usr.HomeDir
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(usr.HomeDir, path[2:])
	}
	return path
}

func applyDefaults(cfg *Config) {

	// Agent defaults
	if cfg.Agent.LogLevel == "" {
		cfg.Agent.LogLevel = "info"
	}
	if cfg.Agent.LogFormat == "" {
		cfg.Agent.LogFormat = "auto"
	}
	if cfg.Agent.ShutdownTimeout == "" {
		cfg.Agent.ShutdownTimeout = "10s"
	}

	// Publisher defaults
	if cfg.Publisher.Kind == "" {
		cfg.Publisher.Kind = "log"
	}
	if cfg.Publisher.NATS.URL == "" {
		cfg.Publisher.NATS.URL = "nats://127.0.0.1:4222"
	}
	if cfg.Publisher.NATS.ClientName == "" {
		cfg.Publisher.NATS.ClientName = "scanrelay"
	}
	if cfg.Publisher.NATS.Stream == "" {
		cfg.Publisher.NATS.Stream = "METRICS"
	}
	if cfg.Publisher.NATS.Subject == "" {
		cfg.Publisher.NATS.Subject = "_metrics"
	}
	if cfg.Publisher.NATS.PublishTimeout == "" {
		cfg.Publisher.NATS.PublishTimeout = "5s"
	}
	if cfg.Publisher.Spool.Path == "" {
		cfg.Publisher.Spool.Path = "/var/lib/scanrelay/spool.db"
	}
	if cfg.Publisher.Spool.RetentionCheck == "" {
		cfg.Publisher.Spool.RetentionCheck = "30s"
	}
}
