// Package config loads and validates the YAML configuration for a
// kvreplicad node: the listen address, TLS material, replication
// timing knobs, and the optional snapshot-archival and maintenance
// sections.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration of a kvreplicad node.
type Config struct {
	Server      ServerSection      `yaml:"server"`
	TLS         TLSSection         `yaml:"tls"`
	Logging     LoggingSection     `yaml:"logging"`
	Replication ReplicationSection `yaml:"replication"`
	Snapshot    SnapshotSection    `yaml:"snapshot"`
	Observability ObservabilitySection `yaml:"observability"`
}

// ServerSection controls the TCP address replicas connect to.
type ServerSection struct {
	Listen string `yaml:"listen"` // e.g. "0.0.0.0:7701"
}

// TLSSection optionally wraps the replication link in mTLS, reusing
// internal/pki the same way the original protocol's control channel
// did.
type TLSSection struct {
	Enabled    bool   `yaml:"enabled"`
	CACert     string `yaml:"ca_cert"`
	ServerCert string `yaml:"server_cert"`
	ServerKey  string `yaml:"server_key"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
}

// LoggingSection mirrors the teacher's logging configuration shape.
type LoggingSection struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // json|text
	File   string `yaml:"file"`   // empty = stdout only
}

// ReplicationSection holds the timing and identity knobs the
// replication engine's periodic driver and sessions consult.
type ReplicationSection struct {
	AuthPassword string `yaml:"auth_password"`

	BacklogSize    string `yaml:"backlog_size"` // e.g. "1mb"
	BacklogSizeRaw int64  `yaml:"-"`

	Hz                  int           `yaml:"hz"`
	PingPeriod          time.Duration `yaml:"ping_period"`
	ReplTimeout         time.Duration `yaml:"repl_timeout"`
	BacklogTimeLimit    time.Duration `yaml:"backlog_time_limit"`
	MinSlavesMaxLag     time.Duration `yaml:"min_slaves_max_lag"`
	DurableLogging      bool          `yaml:"durable_logging"`
	Compression         string        `yaml:"compression"` // none|gzip|zstd
	CompressionRaw      byte          `yaml:"-"`

	// ReplicaOf, when set, makes this node boot directly as a replica
	// instead of a standalone primary.
	ReplicaOf string `yaml:"replica_of"` // "host:port"
	ListenPort int    `yaml:"listen_port"`

	// SnapshotRateLimitBytesPerSec caps outbound full-resync transfer
	// bandwidth per replica. Zero disables throttling.
	SnapshotRateLimitBytesPerSec int `yaml:"snapshot_rate_limit_bytes_per_sec"`
}

// SnapshotSection configures where full-resync payloads are staged and
// (optionally) archived.
type SnapshotSection struct {
	Dir     string         `yaml:"dir"`
	Archive *ArchiveSection `yaml:"archive"`

	MaintenanceSchedule string `yaml:"maintenance_schedule"` // cron expression
}

// ArchiveSection mirrors snapshot.ArchiveConfig in YAML form.
type ArchiveSection struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// ObservabilitySection controls the read-only HTTP status surface.
type ObservabilitySection struct {
	Enabled      bool     `yaml:"enabled"`
	Listen       string   `yaml:"listen"`        // default: "127.0.0.1:7780"
	AllowedCIDRs []string `yaml:"allowed_cidrs"` // empty allows everyone
	HostPollInterval time.Duration `yaml:"host_poll_interval"`
}

// ParseCIDRs parses ObservabilitySection.AllowedCIDRs into net.IPNet,
// rejecting the whole configuration on the first bad entry.
func (o ObservabilitySection) ParseCIDRs() ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(o.AllowedCIDRs))
	for _, raw := range o.AllowedCIDRs {
		_, n, err := net.ParseCIDR(raw)
		if err != nil {
			return nil, fmt.Errorf("observability.allowed_cidrs: invalid CIDR %q: %w", raw, err)
		}
		nets = append(nets, n)
	}
	return nets, nil
}

// Load reads, parses, and validates a Config from path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Listen == "" {
		c.Server.Listen = "0.0.0.0:7701"
	}
	if c.Replication.Hz <= 0 {
		c.Replication.Hz = 10
	}
	if c.Replication.PingPeriod <= 0 {
		c.Replication.PingPeriod = 10 * time.Second
	}
	if c.Replication.ReplTimeout <= 0 {
		c.Replication.ReplTimeout = 60 * time.Second
	}
	if c.Replication.BacklogTimeLimit <= 0 {
		c.Replication.BacklogTimeLimit = 1 * time.Hour
	}
	if c.Replication.MinSlavesMaxLag <= 0 {
		c.Replication.MinSlavesMaxLag = 10 * time.Second
	}
	if c.Snapshot.Dir == "" {
		c.Snapshot.Dir = "./data/snapshots"
	}
	if c.Snapshot.MaintenanceSchedule == "" {
		c.Snapshot.MaintenanceSchedule = "@every 1h"
	}
	if c.Observability.Listen == "" {
		c.Observability.Listen = "127.0.0.1:7780"
	}

	if c.Replication.BacklogSize == "" {
		c.Replication.BacklogSizeRaw = 1 * 1024 * 1024
	} else {
		n, err := ParseByteSize(c.Replication.BacklogSize)
		if err != nil {
			return fmt.Errorf("replication.backlog_size: %w", err)
		}
		c.Replication.BacklogSizeRaw = n
	}

	switch strings.ToLower(c.Replication.Compression) {
	case "", "none":
		c.Replication.CompressionRaw = 0
	case "gzip":
		c.Replication.CompressionRaw = 1
	case "zstd":
		c.Replication.CompressionRaw = 2
	default:
		return fmt.Errorf("replication.compression: unknown mode %q", c.Replication.Compression)
	}

	return nil
}

// ParseByteSize converts human-readable sizes like "256mb" or "1gb"
// into a byte count. A bare number is interpreted as bytes.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	type suffix struct {
		s string
		m int64
	}
	suffixes := []suffix{
		{"gb", 1024 * 1024 * 1024},
		{"mb", 1024 * 1024},
		{"kb", 1024},
		{"b", 1},
	}

	for _, sfx := range suffixes {
		if strings.HasSuffix(s, sfx.s) {
			numStr := strings.TrimSuffix(s, sfx.s)
			num, err := strconv.ParseInt(numStr, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid number %q: %w", numStr, err)
			}
			return num * sfx.m, nil
		}
	}

	num, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unknown size format %q", s)
	}
	return num, nil
}
