// Package config holds the YAML configuration of a reprise node.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/reprisedb/go-reprise/hasher"
	"github.com/reprisedb/go-reprise/marshaller"
)

// Journal kinds.
const (
	JournalSegment = "segment"
	JournalSQLite  = "sqlite"
	JournalMemory  = "memory"
)

// Head state kinds.
const (
	HeadStateFile   = "file"
	HeadStateSQLite = "sqlite"
	HeadStateEtcd   = "etcd"
	HeadStateMemory = "memory"
)

// Config is the complete configuration of a node.
type Config struct {
	Node        NodeConfig        `yaml:"node"`
	Journal     JournalConfig     `yaml:"journal"`
	HeadState   HeadStateConfig   `yaml:"head_state"`
	Replication ReplicationConfig `yaml:"replication"`
	Archive     ArchiveConfig     `yaml:"archive"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// NodeConfig identifies the node.
type NodeConfig struct {
	// ID names the coordinator in the epochs it assumes. A random UUID is
	// used when empty.
	ID      string `yaml:"id"`
	DataDir string `yaml:"data_dir"`
	// Hasher is the audit chain hash function.
	Hasher string `yaml:"hasher"`
}

// JournalConfig selects the durable commit log.
type JournalConfig struct {
	Kind string `yaml:"kind"`
	// Dir is used by the segment journal.
	Dir string `yaml:"dir"`
	// Path is used by the sqlite journal.
	Path        string `yaml:"path"`
	SegmentSize int64  `yaml:"segment_size"`
	SyncWrites  bool   `yaml:"sync_writes"`
}

// HeadStateConfig selects where the head record and epoch are kept.
type HeadStateConfig struct {
	Kind string     `yaml:"kind"`
	Path string     `yaml:"path"`
	Etcd EtcdConfig `yaml:"etcd"`
}

// EtcdConfig configures the etcd head state.
type EtcdConfig struct {
	Endpoints   []string      `yaml:"endpoints,omitempty"`
	Key         string        `yaml:"key"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
}

// ReplicationConfig configures delivery to peers.
type ReplicationConfig struct {
	Mode string `yaml:"mode"`
	// Quorum is the number of peers that must acknowledge a synchronous
	// commit. Zero means every peer.
	Quorum  int           `yaml:"quorum"`
	Timeout time.Duration `yaml:"timeout"`
	Retry   RetryConfig   `yaml:"retry"`
	Peers   []PeerConfig  `yaml:"peers,omitempty"`
}

// RetryConfig configures background redelivery.
type RetryConfig struct {
	Workers    int           `yaml:"workers"`
	QueueSize  int           `yaml:"queue_size"`
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
	Attempts   int           `yaml:"attempts"`
}

// PeerConfig is a Tarantool replication peer.
type PeerConfig struct {
	Name              string `yaml:"name"`
	Address           string `yaml:"address"`
	User              string `yaml:"user"`
	Password          string `yaml:"password"`
	ReplicateFunction string `yaml:"replicate_function"`
	TruncateFunction  string `yaml:"truncate_function"`
}

// ArchiveConfig configures the archive store.
type ArchiveConfig struct {
	Dir      string `yaml:"dir"`
	Codec    string `yaml:"codec"`
	Reverify bool   `yaml:"reverify"`
	// Mount lists archive files, relative to Dir, served read-only
	// beneath the live store.
	Mount []string `yaml:"mount,omitempty"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus collectors.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration used for empty input.
func Default() Config {
	var cfg Config

	setDefaults(&cfg)

	return cfg
}

// Load reads, defaults and validates the configuration file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML configuration. Unknown fields are rejected.
func Parse(data []byte) (Config, error) {
	cfg, err := marshaller.NewStrictYamlMarshaller[Config]().Unmarshal(data)
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Marshal encodes cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	return marshaller.NewTypedYamlMarshaller[Config]().Marshal(cfg) //nolint:wrapcheck
}

func setDefaults(cfg *Config) {
	if cfg.Node.DataDir == "" {
		cfg.Node.DataDir = "data"
	}

	if cfg.Node.Hasher == "" {
		cfg.Node.Hasher = "sha256"
	}

	if cfg.Journal.Kind == "" {
		cfg.Journal.Kind = JournalSegment
	}

	if cfg.Journal.Dir == "" {
		cfg.Journal.Dir = filepath.Join(cfg.Node.DataDir, "journal")
	}

	if cfg.Journal.Path == "" {
		cfg.Journal.Path = filepath.Join(cfg.Node.DataDir, "journal.db")
	}

	if cfg.Journal.SegmentSize == 0 {
		cfg.Journal.SegmentSize = 64 << 20 // 64MB
	}

	if cfg.HeadState.Kind == "" {
		cfg.HeadState.Kind = HeadStateFile
	}

	if cfg.HeadState.Path == "" {
		cfg.HeadState.Path = filepath.Join(cfg.Node.DataDir, "head")
	}

	if cfg.HeadState.Etcd.Key == "" {
		cfg.HeadState.Etcd.Key = "/reprise/head"
	}

	if cfg.HeadState.Etcd.DialTimeout == 0 {
		cfg.HeadState.Etcd.DialTimeout = 5 * time.Second
	}

	if cfg.Replication.Mode == "" {
		cfg.Replication.Mode = "sync"
	}

	if cfg.Replication.Timeout == 0 {
		cfg.Replication.Timeout = 5 * time.Second
	}

	if cfg.Replication.Retry.Workers == 0 {
		cfg.Replication.Retry.Workers = 4
	}

	if cfg.Replication.Retry.QueueSize == 0 {
		cfg.Replication.Retry.QueueSize = 1024
	}

	if cfg.Archive.Dir == "" {
		cfg.Archive.Dir = filepath.Join(cfg.Node.DataDir, "archive")
	}

	if cfg.Archive.Codec == "" {
		cfg.Archive.Codec = "snappy"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if _, err := hasher.ByName(c.Node.Hasher); err != nil {
		return fmt.Errorf("node.hasher: %w", err)
	}

	switch c.Journal.Kind {
	case JournalSegment, JournalSQLite, JournalMemory:
	default:
		return fmt.Errorf("journal.kind must be one of segment, sqlite, memory, got %q", c.Journal.Kind)
	}

	if c.Journal.SegmentSize < 0 {
		return errors.New("journal.segment_size must not be negative")
	}

	switch c.HeadState.Kind {
	case HeadStateFile, HeadStateEtcd, HeadStateMemory:
	case HeadStateSQLite:
		if c.Journal.Kind != JournalSQLite {
			return errors.New("head_state.kind sqlite requires journal.kind sqlite")
		}
	default:
		return fmt.Errorf("head_state.kind must be one of file, sqlite, etcd, memory, got %q", c.HeadState.Kind)
	}

	if c.HeadState.Kind == HeadStateEtcd && len(c.HeadState.Etcd.Endpoints) == 0 {
		return errors.New("head_state.etcd.endpoints is required")
	}

	switch c.Replication.Mode {
	case "sync", "async":
	default:
		return fmt.Errorf("replication.mode must be sync or async, got %q", c.Replication.Mode)
	}

	if c.Replication.Quorum < 0 || c.Replication.Quorum > len(c.Replication.Peers) {
		return fmt.Errorf("replication.quorum must be between 0 and %d", len(c.Replication.Peers))
	}

	names := make(map[string]struct{}, len(c.Replication.Peers))

	for i, p := range c.Replication.Peers {
		if p.Name == "" || p.Address == "" {
			return fmt.Errorf("replication.peers[%d]: name and address are required", i)
		}

		if _, ok := names[p.Name]; ok {
			return fmt.Errorf("replication.peers[%d]: duplicate name %q", i, p.Name)
		}

		names[p.Name] = struct{}{}
	}

	switch c.Archive.Codec {
	case "snappy", "lz4", "none":
	default:
		return fmt.Errorf("archive.codec must be one of snappy, lz4, none, got %q", c.Archive.Codec)
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}

	return nil
}
