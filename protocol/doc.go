// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the wire contract of the Flotilla mesh: the
// subject taxonomy and the envelope format every component publishes
// and consumes.
//
// Subjects are dot-delimited hierarchies. A trailing ">" matches every
// subject below a prefix and "*" matches exactly one token, mirroring
// the broker's own matching rules so in-process fakes and the real bus
// agree. The taxonomy has four roots: "tasks." for the work pipeline
// (intake, per-capability execution requests, results, status, and the
// approval exchange), "node." for fleet liveness, "core." for
// administrative requests, and "log." for relayed agent output.
//
// The envelope is a flat JSON object with exactly four fields:
// sender_id, type, data, and an optional auth_token. The data field is
// always a JSON object; senders with a bare string or other non-object
// payload get it wrapped under a "raw_text" key so consumers can rely
// on mapping semantics. Decode rejects envelopes missing sender_id or
// type with an error matching ErrMalformedEnvelope — such messages are
// dropped by consumers, never acked, never turned into task failures,
// because no task can be identified from a frame that does not parse.
//
// Everything here is pure: encode, decode, match, and the typed payload
// conversions have no side effects and no dependencies beyond the
// standard library.
package protocol
