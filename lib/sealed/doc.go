// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed wraps filippo.io/age for the mesh token lifecycle:
// generate a node keypair, seal the token to one or more node public
// keys, and unseal it on the node that holds the matching private key.
//
// Ciphertext is base64-encoded so the sealed token file stays a plain
// text file. Private keys and unsealed plaintext travel in
// secret.Buffer values (mmap-backed, locked against swap, excluded
// from core dumps, zeroed on close) — the token reaches the Go heap
// only at the age API boundary.
package sealed
