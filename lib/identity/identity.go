// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity loads the node identity file: a JSONC document
// (JSON extended with comments and trailing commas) naming the node
// and the agent capabilities it may execute.
//
// Resolution walks a fixed chain — explicit path, $FLOTILLA_IDENTITY,
// ~/.flotilla/identity.json, /etc/flotilla/identity.json — and falls
// back to the ghost identity when no file resolves. The ghost node can
// join the mesh and heartbeat but claims no capabilities, so it never
// receives directives.
package identity

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/tidwall/jsonc"
)

// EnvVar names the environment override for the identity file path.
const EnvVar = "FLOTILLA_IDENTITY"

// Identity is one node's durable self-description. Immutable once
// loaded; capability grants change by editing the file and restarting
// the node.
type Identity struct {
	UUID         string   `json:"uuid"`
	Name         string   `json:"name"`
	Role         string   `json:"role"`
	Capabilities []string `json:"capabilities"`
}

// HasCapability reports whether the node may run agents of the given
// capability.
func (id Identity) HasCapability(capability string) bool {
	return slices.Contains(id.Capabilities, capability)
}

// Ghost is the fallback identity for nodes with no identity file. It
// claims no capabilities.
func Ghost() Identity {
	return Identity{
		UUID:         "unknown",
		Name:         "ghost-node",
		Role:         "worker",
		Capabilities: []string{},
	}
}

// Load resolves and parses the node identity. explicitPath, when
// non-empty, is the only location tried; otherwise the chain is
// $FLOTILLA_IDENTITY, ~/.flotilla/identity.json, then
// /etc/flotilla/identity.json. A missing or unreadable chain ends in
// the ghost identity with a warning — a node must always be able to
// come up and report itself, even misconfigured.
//
// A file that resolves but does not parse is also a ghost fallback:
// refusing to start over a typo would take the node silent, which is
// worse than running capability-less and visible.
func Load(explicitPath string, logger *slog.Logger) Identity {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	for _, candidate := range candidates(explicitPath) {
		data, err := os.ReadFile(candidate)
		if err != nil {
			if !os.IsNotExist(err) {
				logger.Warn("identity file unreadable", "path", candidate, "error", err)
			}
			continue
		}

		id, err := Parse(data)
		if err != nil {
			logger.Warn("identity file invalid, using ghost identity", "path", candidate, "error", err)
			return Ghost()
		}
		logger.Info("node identity loaded", "path", candidate, "name", id.Name, "uuid", id.UUID, "capabilities", id.Capabilities)
		return id
	}

	logger.Warn("no identity file found, using ghost identity")
	return Ghost()
}

// Parse strips JSONC comments and trailing commas, unmarshals, and
// validates the identity.
func Parse(data []byte) (Identity, error) {
	var id Identity
	if err := json.Unmarshal(jsonc.ToJSON(data), &id); err != nil {
		return Identity{}, fmt.Errorf("identity: parsing: %w", err)
	}
	if id.UUID == "" {
		return Identity{}, fmt.Errorf("identity: uuid is required")
	}
	if id.Name == "" {
		return Identity{}, fmt.Errorf("identity: name is required")
	}
	if id.Role == "" {
		id.Role = "worker"
	}
	if id.Capabilities == nil {
		id.Capabilities = []string{}
	}
	return id, nil
}

// candidates returns the resolution chain. An explicit path short-
// circuits everything else: pointing the node at a file that is not
// there should not silently pick up a system-wide identity instead.
func candidates(explicitPath string) []string {
	if explicitPath != "" {
		return []string{explicitPath}
	}

	var chain []string
	if fromEnv := os.Getenv(EnvVar); fromEnv != "" {
		chain = append(chain, fromEnv)
	}
	if home, err := os.UserHomeDir(); err == nil {
		chain = append(chain, filepath.Join(home, ".flotilla", "identity.json"))
	}
	chain = append(chain, filepath.Join("/etc", "flotilla", "identity.json"))
	return chain
}
