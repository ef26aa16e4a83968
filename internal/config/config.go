// Package config loads the optional YAML startup configuration described
// in SPEC_FULL.md §4.9. Every section is optional; an absent file, an
// absent section, or a zero field all fall back to spec.md §6's hardcoded
// defaults.
package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Auth          AuthConfig          `yaml:"auth"`
	Backup        BackupConfig        `yaml:"backup"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	Events        EventsConfig        `yaml:"events"`
	PingCache     PingCacheConfig     `yaml:"pingcache"`
	SnapshotStore SnapshotStoreConfig `yaml:"snapshotstore"`
}

// PeerMaster is one federation target.
type PeerMaster struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type ServerConfig struct {
	TCPPort     int          `yaml:"tcp_port"`
	PeerMasters []PeerMaster `yaml:"peer_masters"`
}

// GetTCPPort returns the configured port, falling back to QMASTER_TCP_PORT
// then to spec.md §6's default of 28800.
func (s *ServerConfig) GetTCPPort() int {
	return getPortWithEnvFallback(s.TCPPort, "QMASTER_TCP_PORT", 28800)
}

type MongoAuthConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

type MySQLAuthConfig struct {
	DSN string `yaml:"dsn"`
}

type AuthConfig struct {
	UsersFile string          `yaml:"users_file"`
	Mongo     MongoAuthConfig `yaml:"mongo"`
	MySQL     MySQLAuthConfig `yaml:"mysql"`
}

type BackupConfig struct {
	Path string `yaml:"path"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

func (m *MetricsConfig) GetListen() string {
	if m.Listen != "" {
		return m.Listen
	}
	return ":9090"
}

type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`
}

type EventsConfig struct {
	NATSURL string `yaml:"nats_url"`
	Stream  string `yaml:"stream"`
}

func (e *EventsConfig) GetStream() string {
	if e.Stream != "" {
		return e.Stream
	}
	return "REGISTRY"
}

type PingCacheConfig struct {
	RedisURL string `yaml:"redis_url"`
}

type SnapshotStoreConfig struct {
	BadgerPath string `yaml:"badger_path"`
}

func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}
	return defaultPort
}

// Load reads the YAML file at path. An empty path falls back to the
// QMASTER_CONFIG environment variable; if that too is unset, Load returns
// a zero-value Config (all defaults apply) with a nil error — an absent
// config file is not an error, matching the teacher's Load.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("QMASTER_CONFIG")
		if path == "" {
			return &Config{}, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
