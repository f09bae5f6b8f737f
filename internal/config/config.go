// Package config loads the capture orchestrator's YAML configuration.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// PingCfg configures one of the device-side or host-side ping children.
type PingCfg struct {
	Enabled     bool    `yaml:"enabled"`
	HostIP      string  `yaml:"host_ip"`
	IntervalSec float64 `yaml:"interval_sec"`
	SSHHost     string  `yaml:"ssh_host,omitempty"`
	SSHUser     string  `yaml:"ssh_user,omitempty"`
	SSHKeyFile  string  `yaml:"ssh_key_file,omitempty"`
}

// SinkCfg configures the optional report-phase export sinks (C13-C16).
// Every field is off unless its required values are set.
type SinkCfg struct {
	RemoteWriteURL   string   `yaml:"remote_write_url,omitempty"`
	WeaviateURL      string   `yaml:"weaviate_url,omitempty"`
	WeaviateClass    string   `yaml:"weaviate_class,omitempty"`
	OTLPLogsGRPCAddr string   `yaml:"otlp_logs_grpc_addr,omitempty"`
	FleetKafkaBrokers []string `yaml:"fleet_kafka_brokers,omitempty"`
	FleetKafkaTopic  string   `yaml:"fleet_kafka_topic,omitempty"`
	FleetPulsarURL   string   `yaml:"fleet_pulsar_url,omitempty"`
	FleetPulsarTopic string   `yaml:"fleet_pulsar_topic,omitempty"`
}

// Config is the flat capture configuration, intentionally thin: one
// struct, no plugin registry, since the capture phase has a fixed set of
// children rather than a configurable pipeline.
type Config struct {
	Minutes         int       `yaml:"minutes"`
	OutDir          string    `yaml:"out_dir"`
	DeviceSerial    string    `yaml:"device_serial,omitempty"`
	Ping            PingCfg   `yaml:"ping"`
	HostSidePing    PingCfg   `yaml:"host_side_ping"`
	PingLogTzOffset string    `yaml:"ping_log_tz_offset,omitempty"`
	MetricsAddr     string    `yaml:"metrics_addr,omitempty"`
	Sinks           SinkCfg   `yaml:"sinks"`
}

var tzOffsetPattern = regexp.MustCompile(`^[+-]\d{2}:\d{2}$`)

// Load reads and validates the YAML config at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if cfg.Minutes <= 0 {
		return nil, fmt.Errorf("config: minutes must be positive, got %d", cfg.Minutes)
	}
	if cfg.OutDir == "" {
		cfg.OutDir = "logs"
	}
	if cfg.PingLogTzOffset != "" {
		if err := ValidateTZOffset(cfg.PingLogTzOffset); err != nil {
			return nil, err
		}
	}
	if cfg.Ping.Enabled && cfg.Ping.IntervalSec <= 0 {
		return nil, fmt.Errorf("config: ping.interval_sec must be positive when ping is enabled")
	}
	if cfg.HostSidePing.Enabled && cfg.HostSidePing.IntervalSec <= 0 {
		return nil, fmt.Errorf("config: host_side_ping.interval_sec must be positive when enabled")
	}
	return &cfg, nil
}

// ValidateTZOffset checks the `^[+-]\d{2}:\d{2}$` shape and a magnitude of
// at most 14 hours.
func ValidateTZOffset(s string) error {
	if !tzOffsetPattern.MatchString(s) {
		return fmt.Errorf("config: ping_log_tz_offset %q does not match ^[+-]\\d{2}:\\d{2}$", s)
	}
	d, err := parseOffsetDuration(s)
	if err != nil {
		return err
	}
	if d > 14*time.Hour || d < -14*time.Hour {
		return fmt.Errorf("config: ping_log_tz_offset %q exceeds 14h magnitude", s)
	}
	return nil
}

func parseOffsetDuration(s string) (time.Duration, error) {
	sign := time.Duration(1)
	if s[0] == '-' {
		sign = -1
	}
	var h, m int
	if _, err := fmt.Sscanf(s[1:], "%02d:%02d", &h, &m); err != nil {
		return 0, fmt.Errorf("config: ping_log_tz_offset %q unparseable: %w", s, err)
	}
	return sign * (time.Duration(h)*time.Hour + time.Duration(m)*time.Minute), nil
}
