// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret provides a memory-safe buffer for sensitive material:
// the mesh token, the archive node key, broker credentials.
//
// [Buffer] allocates memory outside the Go heap via mmap(MAP_ANONYMOUS),
// locks it into physical RAM via mlock (preventing swap), and marks it
// excluded from core dumps via madvise(MADV_DONTDUMP). On Close, the
// memory is zeroed, unlocked, and unmapped. Because the memory lives
// outside the Go heap, the garbage collector cannot copy or relocate
// it, so secret material does not linger after release.
//
// Constructors:
//
//   - [New] — allocates a zero-filled buffer of a given size
//   - [NewFromBytes] — copies into protected memory, zeros the source
//
// Access via [Buffer.Bytes] (slice into the mmap region) or
// [Buffer.String] (heap copy for API boundaries that demand a string).
// [Buffer.Equal] compares in constant time, for token verification.
// After Close, any access panics. Close is idempotent.
//
// [ReadFromPath] loads a secret from a file or stdin directly into a
// buffer, zeroing the intermediate read.
//
// Depends on golang.org/x/sys/unix only. Imported by lib/sealed for
// the sealed mesh token and by archive for the node key.
package secret
