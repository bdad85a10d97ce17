// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

const fixture = `{
	// worker node on the build shelf
	"uuid": "7d40b7e6-93b2-4a6e-9f2e-0b6a8f7c1d22",
	"name": "shelf-03",
	"role": "worker",
	"capabilities": ["coder", "heartbeat",], // trailing comma is fine
}`

func writeIdentity(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "identity.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

func TestParseJSONC(t *testing.T) {
	id, err := Parse([]byte(fixture))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	want := Identity{
		UUID:         "7d40b7e6-93b2-4a6e-9f2e-0b6a8f7c1d22",
		Name:         "shelf-03",
		Role:         "worker",
		Capabilities: []string{"coder", "heartbeat"},
	}
	if !reflect.DeepEqual(id, want) {
		t.Errorf("Parse() = %+v, want %+v", id, want)
	}
}

func TestParseDefaults(t *testing.T) {
	id, err := Parse([]byte(`{"uuid": "u-1", "name": "bare"}`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if id.Role != "worker" {
		t.Errorf("Role = %q, want default %q", id.Role, "worker")
	}
	if id.Capabilities == nil || len(id.Capabilities) != 0 {
		t.Errorf("Capabilities = %v, want empty non-nil", id.Capabilities)
	}
}

func TestParseRejectsMissingFields(t *testing.T) {
	for name, content := range map[string]string{
		"no uuid":  `{"name": "x"}`,
		"no name":  `{"uuid": "u-1"}`,
		"not json": `capabilities: [coder]`,
	} {
		if _, err := Parse([]byte(content)); err == nil {
			t.Errorf("Parse(%s) error = nil, want error", name)
		}
	}
}

func TestLoadExplicitPath(t *testing.T) {
	path := writeIdentity(t, fixture)

	id := Load(path, nil)
	if id.Name != "shelf-03" {
		t.Errorf("Name = %q, want %q", id.Name, "shelf-03")
	}
}

func TestLoadExplicitPathMissingIsGhost(t *testing.T) {
	// An explicit path that does not exist must not fall through to
	// the environment or system chain.
	t.Setenv(EnvVar, writeIdentity(t, fixture))

	id := Load(filepath.Join(t.TempDir(), "absent.json"), nil)
	if !reflect.DeepEqual(id, Ghost()) {
		t.Errorf("Load(missing explicit) = %+v, want ghost", id)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv(EnvVar, writeIdentity(t, fixture))

	id := Load("", nil)
	if id.UUID != "7d40b7e6-93b2-4a6e-9f2e-0b6a8f7c1d22" {
		t.Errorf("UUID = %q, want fixture uuid", id.UUID)
	}
}

func TestLoadInvalidFileIsGhost(t *testing.T) {
	path := writeIdentity(t, `{"name": "no-uuid-here"}`)

	id := Load(path, nil)
	if !reflect.DeepEqual(id, Ghost()) {
		t.Errorf("Load(invalid) = %+v, want ghost", id)
	}
}

func TestGhost(t *testing.T) {
	ghost := Ghost()
	if ghost.UUID != "unknown" || ghost.Name != "ghost-node" || ghost.Role != "worker" {
		t.Errorf("Ghost() = %+v", ghost)
	}
	if len(ghost.Capabilities) != 0 {
		t.Errorf("Ghost().Capabilities = %v, want none", ghost.Capabilities)
	}
	if ghost.HasCapability("coder") {
		t.Error("ghost claims coder capability")
	}
}

func TestHasCapability(t *testing.T) {
	id := Identity{Capabilities: []string{"coder", "messenger"}}
	if !id.HasCapability("coder") {
		t.Error("HasCapability(coder) = false, want true")
	}
	if id.HasCapability("strategist") {
		t.Error("HasCapability(strategist) = true, want false")
	}
}
