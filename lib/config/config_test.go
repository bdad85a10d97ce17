// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flotilla.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

// clearEnv unsets every FLOTILLA_* override so ambient environment
// does not leak into file-only tests.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, entry := range os.Environ() {
		name, _, _ := strings.Cut(entry, "=")
		if strings.HasPrefix(name, "FLOTILLA_") {
			t.Setenv(name, "")
			os.Unsetenv(name)
		}
	}
}

func TestLoadFileMergesOverDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
bus:
  url: nats://bus.internal:4222
store:
  url: postgres://flotilla@db.internal/ledger
sweep:
  timeout: 5m
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.Bus.URL != "nats://bus.internal:4222" {
		t.Errorf("Bus.URL = %q", cfg.Bus.URL)
	}
	if cfg.Store.URL != "postgres://flotilla@db.internal/ledger" {
		t.Errorf("Store.URL = %q", cfg.Store.URL)
	}
	if got := cfg.Sweep.Timeout.Std(); got != 5*time.Minute {
		t.Errorf("Sweep.Timeout = %v, want 5m", got)
	}
	// Untouched fields keep their defaults.
	if got := cfg.Sweep.Interval.Std(); got != time.Minute {
		t.Errorf("Sweep.Interval = %v, want default 1m", got)
	}
	if cfg.Node.WorkerGroup != "flotilla-workers" {
		t.Errorf("Node.WorkerGroup = %q, want default", cfg.Node.WorkerGroup)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
bus:
  url: nats://from-file:4222
`)
	t.Setenv("FLOTILLA_BUS_URL", "nats://from-env:4222")
	t.Setenv("FLOTILLA_SWEEP_TIMEOUT", "90s")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Bus.URL != "nats://from-env:4222" {
		t.Errorf("Bus.URL = %q, want env override", cfg.Bus.URL)
	}
	if got := cfg.Sweep.Timeout.Std(); got != 90*time.Second {
		t.Errorf("Sweep.Timeout = %v, want 90s", got)
	}
}

func TestEnvBadDuration(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "")
	t.Setenv("FLOTILLA_APPROVAL_TTL", "fifteen minutes")

	if _, err := LoadFile(path); err == nil {
		t.Fatal("LoadFile() with bad env duration error = nil, want error")
	}
}

func TestLoadRequiresEnvVar(t *testing.T) {
	clearEnv(t)
	if _, err := Load(); err == nil {
		t.Fatalf("Load() without %s error = nil, want error", EnvVar)
	}
}

func TestValidateFieldPaths(t *testing.T) {
	cases := map[string]struct {
		mutate func(*Config)
		want   string
	}{
		"missing bus url":       {func(c *Config) { c.Bus.URL = "" }, "bus.url"},
		"bad bus url":           {func(c *Config) { c.Bus.URL = "not a url" }, "bus.url"},
		"missing store url":     {func(c *Config) { c.Store.URL = "" }, "store.url"},
		"missing worker group":  {func(c *Config) { c.Node.WorkerGroup = "" }, "node.worker_group"},
		"missing agent command": {func(c *Config) { c.Node.AgentCommand = "" }, "node.agent_command"},
		"zero heartbeat":        {func(c *Config) { c.Node.HeartbeatInterval = 0 }, "node.heartbeat_interval"},
		"zero sweep timeout":    {func(c *Config) { c.Sweep.Timeout = 0 }, "sweep.timeout"},
		"zero sweep interval":   {func(c *Config) { c.Sweep.Interval = 0 }, "sweep.interval"},
		"zero approval ttl":     {func(c *Config) { c.Approval.TTL = 0 }, "approval.ttl"},
		"bad log level":         {func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
		"key file without dir":  {func(c *Config) { c.Archive.KeyFile = "/k"; c.Archive.Dir = "" }, "archive.dir"},
		"sealed token without identity key": {
			func(c *Config) { c.Bus.MeshTokenFile = "/t" },
			"bus.identity_key_file",
		},
		"inline and sealed token": {
			func(c *Config) { c.Bus.MeshToken = "x"; c.Bus.MeshTokenFile = "/t"; c.Bus.IdentityKeyFile = "/k" },
			"mutually exclusive",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Validate() error = %q, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestMeshTokenInline(t *testing.T) {
	cfg := Default()
	cfg.Bus.MeshToken = "inline-token"

	token, err := cfg.MeshToken()
	if err != nil {
		t.Fatalf("MeshToken() error = %v", err)
	}
	defer token.Close()
	if got := token.String(); got != "inline-token" {
		t.Errorf("MeshToken() = %q", got)
	}
}

func TestMeshTokenAbsent(t *testing.T) {
	token, err := Default().MeshToken()
	if err != nil {
		t.Fatalf("MeshToken() error = %v", err)
	}
	if token != nil {
		t.Error("MeshToken() with no credential configured returned a token")
	}
}

func TestArchiveKey(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "archive.key")
	if err := os.WriteFile(keyPath, []byte("0123456789abcdef0123456789abcdef\n"), 0o600); err != nil {
		t.Fatalf("writing key: %v", err)
	}

	cfg := Default()
	cfg.Archive.Dir = dir
	cfg.Archive.KeyFile = keyPath

	key, err := cfg.ArchiveKey()
	if err != nil {
		t.Fatalf("ArchiveKey() error = %v", err)
	}
	defer key.Close()
	if key.Len() != 32 {
		t.Errorf("ArchiveKey() length = %d, want 32", key.Len())
	}
}

func TestExampleYAMLParses(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, ExampleYAML("/var/lib/flotilla"))

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile(ExampleYAML) error = %v", err)
	}
	if cfg.Archive.Dir != "/var/lib/flotilla/archive" {
		t.Errorf("Archive.Dir = %q", cfg.Archive.Dir)
	}
}
