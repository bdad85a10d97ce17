// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command tree, help rendering, and typo
// suggestions for the flotilla operator CLI.
package cli
