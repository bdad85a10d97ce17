// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

// Package archive stores finished session transcripts on disk,
// content-addressed and compressed.
//
// A transcript is CBOR-encoded with Core Deterministic Encoding, so
// the same transcript always produces the same bytes and therefore the
// same reference. The record is compressed (zstd for the usual texty
// transcripts, lz4 when the ratio is marginal, none when probing finds
// the data incompressible) and written to <dir>/<2hex>/<ref>.fta under
// a fixed binary header carrying the compression tag, the encryption
// flag, and the record digest.
//
// References are BLAKE3 digests of the canonical record, domain
// separated from any other digest in the system and rendered
// txn-<12hex>. When the archive is configured with a node key, the
// digest is keyed (references reveal nothing about content to anyone
// without the key) and each record is encrypted at rest with
// XChaCha20-Poly1305 under an HKDF per-record subkey, with the record
// digest as additional authenticated data so a blob cannot be swapped
// for another.
//
// Corrupt, truncated, or swapped blobs surface as decode errors from
// Get; nothing in this package panics on bad input bytes.
package archive
