// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// refDomain prefixes every reference digest. Domain separation keeps
// transcript refs from ever colliding with any other BLAKE3 use in the
// system, keyed or not.
const refDomain = "flotilla.archive.ref.v1"

// refHexLen is the rendered digest length: 12 hex characters, the
// first 6 bytes of the 32-byte digest.
const refHexLen = 12

// refPrefix tags rendered references.
const refPrefix = "txn-"

// Ref names one archived transcript. The zero value is invalid; refs
// come from Put, List, or ParseRef.
type Ref string

// ParseRef validates the txn-<12hex> form.
func ParseRef(raw string) (Ref, error) {
	rest, ok := strings.CutPrefix(raw, refPrefix)
	if !ok {
		return "", fmt.Errorf("archive: ref %q: missing %q prefix", raw, refPrefix)
	}
	if len(rest) != refHexLen {
		return "", fmt.Errorf("archive: ref %q: digest is %d hex chars, want %d", raw, len(rest), refHexLen)
	}
	if _, err := hex.DecodeString(rest); err != nil {
		return "", fmt.Errorf("archive: ref %q: digest is not hex", raw)
	}
	if strings.ToLower(rest) != rest {
		return "", fmt.Errorf("archive: ref %q: digest must be lowercase", raw)
	}
	return Ref(raw), nil
}

// String returns the rendered form.
func (r Ref) String() string { return string(r) }

// shard returns the two-hex fan-out directory for this ref.
func (r Ref) shard() string {
	return string(r[len(refPrefix) : len(refPrefix)+2])
}

// digest is the full 32-byte content digest of a canonical record.
type digest [32]byte

// ref renders the reference for this digest.
func (d digest) ref() Ref {
	return Ref(refPrefix + hex.EncodeToString(d[:refHexLen/2]))
}

// matches reports whether d renders to r.
func (d digest) matches(r Ref) bool {
	return d.ref() == r
}

// digestRecord computes the reference digest of canonical record
// bytes. With a 32-byte key the hash is keyed; without one it is a
// plain hash over the domain tag and the record.
func digestRecord(canonical []byte, key []byte) digest {
	var hasher *blake3.Hasher
	if key != nil {
		keyed, err := blake3.NewKeyed(key)
		if err != nil {
			// Keys are HKDF output, always 32 bytes.
			panic("archive: BLAKE3 keyed hasher: " + err.Error())
		}
		hasher = keyed
	} else {
		hasher = blake3.New()
	}
	hasher.Write([]byte(refDomain))
	hasher.Write(canonical)

	var d digest
	copy(d[:], hasher.Sum(nil))
	return d
}
