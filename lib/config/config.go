// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads flotilla daemon configuration.
//
// Configuration comes from one YAML file named by FLOTILLA_CONFIG or a
// --config flag, with defaults for everything optional, then a fixed
// set of FLOTILLA_* environment overrides applied on top. There is no
// automatic file discovery: deployments state their configuration
// explicitly, and the override surface is the enumerated list below,
// nothing else.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flotilla-foundation/flotilla/lib/sealed"
	"github.com/flotilla-foundation/flotilla/lib/secret"
)

// EnvVar names the environment variable holding the config file path.
const EnvVar = "FLOTILLA_CONFIG"

// Duration is a time.Duration that unmarshals from YAML strings like
// "90s" or "10m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full flotilla configuration.
type Config struct {
	// Bus configures the message bus connection.
	Bus BusConfig `yaml:"bus"`

	// Store configures the task ledger.
	Store StoreConfig `yaml:"store"`

	// Node configures this worker node.
	Node NodeConfig `yaml:"node"`

	// Sweep configures dead-task recovery.
	Sweep SweepConfig `yaml:"sweep"`

	// Approval configures the gated-output registry.
	Approval ApprovalConfig `yaml:"approval"`

	// Archive configures transcript archival. Optional; an empty Dir
	// disables archival.
	Archive ArchiveConfig `yaml:"archive"`

	// Log configures daemon logging.
	Log LogConfig `yaml:"log"`
}

// BusConfig names the bus endpoint and the mesh credential.
type BusConfig struct {
	// URL is the NATS endpoint, nats://host:port.
	URL string `yaml:"url"`

	// MeshToken is the shared mesh token, inline. Prefer MeshTokenFile
	// in anything beyond local development.
	MeshToken string `yaml:"mesh_token"`

	// MeshTokenFile is an age-sealed token file; IdentityKeyFile holds
	// the node private key that opens it.
	MeshTokenFile   string `yaml:"mesh_token_file"`
	IdentityKeyFile string `yaml:"identity_key_file"`
}

// StoreConfig names the ledger backend by URL scheme: sqlite:///path
// or postgres://...
type StoreConfig struct {
	URL string `yaml:"url"`
}

// NodeConfig describes this node's runtime behavior.
type NodeConfig struct {
	// IdentityPath points at the JSONC identity file. Empty uses the
	// standard resolution chain.
	IdentityPath string `yaml:"identity_path"`

	// WorkerGroup is the bus queue group for directive intake. Nodes
	// sharing a group compete for tasks.
	WorkerGroup string `yaml:"worker_group"`

	// AgentCommand is the agent subprocess binary.
	AgentCommand string `yaml:"agent_command"`

	// HeartbeatInterval is the liveness publish period.
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`

	// WebhookURL receives messenger relays. Empty disables relaying.
	WebhookURL string `yaml:"webhook_url"`
}

// SweepConfig tunes the recovery sweeper.
type SweepConfig struct {
	// Timeout is how long a task may sit processing before a sweep
	// returns it to pending.
	Timeout Duration `yaml:"timeout"`

	// Interval is the sweep period.
	Interval Duration `yaml:"interval"`
}

// ApprovalConfig tunes the approval registry.
type ApprovalConfig struct {
	// TTL is the decision window for a pending proposal. Floor 30s.
	TTL Duration `yaml:"ttl"`
}

// ArchiveConfig configures transcript archival.
type ArchiveConfig struct {
	// Dir is the archive root. Empty disables archival.
	Dir string `yaml:"dir"`

	// KeyFile holds the 32-byte node archive key. Empty stores
	// transcripts unencrypted.
	KeyFile string `yaml:"key_file"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

// Default returns the configuration used before the file and
// environment are applied.
func Default() *Config {
	return &Config{
		Bus:   BusConfig{URL: "nats://127.0.0.1:4222"},
		Store: StoreConfig{URL: "sqlite:///var/lib/flotilla/ledger.db"},
		Node: NodeConfig{
			WorkerGroup:       "flotilla-workers",
			AgentCommand:      "flotilla-agent",
			HeartbeatInterval: Duration(30 * time.Second),
		},
		Sweep: SweepConfig{
			Timeout:  Duration(10 * time.Minute),
			Interval: Duration(time.Minute),
		},
		Approval: ApprovalConfig{TTL: Duration(15 * time.Minute)},
		Log:      LogConfig{Level: "info"},
	}
}

// Load reads the file named by FLOTILLA_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return nil, fmt.Errorf("config: %s is not set; point it at your flotilla.yaml or pass --config", EnvVar)
	}
	return LoadFile(path)
}

// LoadFile reads one YAML config file, applies the FLOTILLA_*
// environment overrides, and validates the result.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies the enumerated FLOTILLA_* overrides. String values
// replace; durations parse or fail loading.
func (c *Config) applyEnv() error {
	strings := map[string]*string{
		"FLOTILLA_BUS_URL":          &c.Bus.URL,
		"FLOTILLA_MESH_TOKEN":       &c.Bus.MeshToken,
		"FLOTILLA_MESH_TOKEN_FILE":  &c.Bus.MeshTokenFile,
		"FLOTILLA_IDENTITY_KEY":     &c.Bus.IdentityKeyFile,
		"FLOTILLA_STORE_URL":        &c.Store.URL,
		"FLOTILLA_IDENTITY":         &c.Node.IdentityPath,
		"FLOTILLA_WORKER_GROUP":     &c.Node.WorkerGroup,
		"FLOTILLA_AGENT_COMMAND":    &c.Node.AgentCommand,
		"FLOTILLA_WEBHOOK_URL":      &c.Node.WebhookURL,
		"FLOTILLA_ARCHIVE_DIR":      &c.Archive.Dir,
		"FLOTILLA_ARCHIVE_KEY_FILE": &c.Archive.KeyFile,
		"FLOTILLA_LOG_LEVEL":        &c.Log.Level,
	}
	for name, target := range strings {
		if value, ok := os.LookupEnv(name); ok {
			*target = value
		}
	}

	durations := map[string]*Duration{
		"FLOTILLA_HEARTBEAT_INTERVAL": &c.Node.HeartbeatInterval,
		"FLOTILLA_SWEEP_TIMEOUT":      &c.Sweep.Timeout,
		"FLOTILLA_SWEEP_INTERVAL":     &c.Sweep.Interval,
		"FLOTILLA_APPROVAL_TTL":       &c.Approval.TTL,
	}
	for name, target := range durations {
		value, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("config: %s: invalid duration %q: %w", name, value, err)
		}
		*target = Duration(parsed)
	}
	return nil
}

// Validate checks the assembled configuration. Errors name the YAML
// field path.
func (c *Config) Validate() error {
	if c.Bus.URL == "" {
		return fmt.Errorf("config: bus.url: required")
	}
	if parsed, err := url.Parse(c.Bus.URL); err != nil || parsed.Scheme == "" {
		return fmt.Errorf("config: bus.url: %q is not a valid URL", c.Bus.URL)
	}
	if c.Bus.MeshToken != "" && c.Bus.MeshTokenFile != "" {
		return fmt.Errorf("config: bus.mesh_token and bus.mesh_token_file are mutually exclusive")
	}
	if c.Bus.MeshTokenFile != "" && c.Bus.IdentityKeyFile == "" {
		return fmt.Errorf("config: bus.identity_key_file: required when bus.mesh_token_file is set")
	}
	if c.Store.URL == "" {
		return fmt.Errorf("config: store.url: required")
	}
	if c.Node.WorkerGroup == "" {
		return fmt.Errorf("config: node.worker_group: required")
	}
	if c.Node.AgentCommand == "" {
		return fmt.Errorf("config: node.agent_command: required")
	}
	if c.Node.HeartbeatInterval.Std() <= 0 {
		return fmt.Errorf("config: node.heartbeat_interval: must be positive")
	}
	if c.Sweep.Timeout.Std() <= 0 {
		return fmt.Errorf("config: sweep.timeout: must be positive")
	}
	if c.Sweep.Interval.Std() <= 0 {
		return fmt.Errorf("config: sweep.interval: must be positive")
	}
	if c.Approval.TTL.Std() <= 0 {
		return fmt.Errorf("config: approval.ttl: must be positive")
	}
	if c.Archive.KeyFile != "" && c.Archive.Dir == "" {
		return fmt.Errorf("config: archive.dir: required when archive.key_file is set")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level: %q is not one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}

// MeshToken resolves the bus credential into guarded memory: the
// inline token, or the sealed token file opened with the node key.
// Returns nil when neither is configured (an open mesh).
func (c *Config) MeshToken() (*secret.Buffer, error) {
	switch {
	case c.Bus.MeshToken != "":
		return secret.NewFromBytes([]byte(c.Bus.MeshToken))
	case c.Bus.MeshTokenFile != "":
		token, err := sealed.UnsealFile(c.Bus.MeshTokenFile, c.Bus.IdentityKeyFile)
		if err != nil {
			return nil, fmt.Errorf("config: unsealing mesh token: %w", err)
		}
		return token, nil
	default:
		return nil, nil
	}
}

// ArchiveKey reads the node archive key file into guarded memory.
// Returns nil when no key file is configured.
func (c *Config) ArchiveKey() (*secret.Buffer, error) {
	if c.Archive.KeyFile == "" {
		return nil, nil
	}
	key, err := secret.ReadFromPath(c.Archive.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("config: reading archive key: %w", err)
	}
	return key, nil
}

// ExampleYAML is a commented starting-point configuration, written by
// `flotilla config init`.
func ExampleYAML(root string) string {
	return fmt.Sprintf(`# flotilla node configuration
bus:
  url: nats://127.0.0.1:4222
  # mesh_token_file: %[1]s/mesh-token.sealed
  # identity_key_file: %[1]s/node.key

store:
  url: sqlite://%[1]s/ledger.db

node:
  worker_group: flotilla-workers
  agent_command: flotilla-agent
  heartbeat_interval: 30s

sweep:
  timeout: 10m
  interval: 1m

approval:
  ttl: 15m

archive:
  dir: %[1]s/archive

log:
  level: info
`, filepath.Clean(root))
}
