// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/flotilla-foundation/flotilla/lib/secret"
)

// keySize is the size of the node archive key and every key derived
// from it.
const keySize = 32

// blobVersion is the version byte prepended to every encrypted
// payload. It rides in the AAD too, so tampering with it fails
// authentication rather than selecting a different parse.
const blobVersion byte = 0x01

// encryptedOverhead is the fixed per-payload cost: version byte,
// XChaCha20 nonce, Poly1305 tag.
const encryptedOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// HKDF info strings, one per derivation path. Changing either
// invalidates everything written under it.
var (
	hkdfInfoRef     = []byte("flotilla.archive.ref.v1")
	hkdfInfoEncrypt = []byte("flotilla.archive.enc.v1")
)

// keySet derives per-purpose keys from the node archive key. The
// master key lives in guarded memory and is owned by the set.
type keySet struct {
	master *secret.Buffer
}

func newKeySet(master *secret.Buffer) (*keySet, error) {
	if master.Len() != keySize {
		return nil, fmt.Errorf("archive: node key must be %d bytes, got %d", keySize, master.Len())
	}
	return &keySet{master: master}, nil
}

func (k *keySet) Close() error {
	return k.master.Close()
}

// refKey derives the BLAKE3 keying material for reference digests.
// One derivation per archive open; the caller owns the buffer.
func (k *keySet) refKey() (*secret.Buffer, error) {
	return deriveKey(k.master.Bytes(), hkdfInfoRef)
}

// recordKey derives the encryption key for one record. Binding the
// derivation to the record digest gives every blob its own key.
func (k *keySet) recordKey(d digest) (*secret.Buffer, error) {
	info := make([]byte, 0, len(hkdfInfoEncrypt)+len(d))
	info = append(info, hkdfInfoEncrypt...)
	info = append(info, d[:]...)
	return deriveKey(k.master.Bytes(), info)
}

// encrypt seals a compressed payload under the record's derived key:
//
//	[version: 1 byte] [nonce: 24 bytes, random] [ciphertext+tag]
//
// The record digest is the AAD, so an encrypted payload copied over
// another ref fails to open.
func (k *keySet) encrypt(payload []byte, d digest) ([]byte, error) {
	key, err := k.recordKey(d)
	if err != nil {
		return nil, err
	}
	defer key.Close()

	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("archive: creating cipher: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("archive: generating nonce: %w", err)
	}

	out := make([]byte, 1+len(nonce), 1+len(nonce)+len(payload)+aead.Overhead())
	out[0] = blobVersion
	copy(out[1:], nonce[:])
	return aead.Seal(out, nonce[:], payload, buildAAD(blobVersion, d)), nil
}

// decrypt reverses encrypt.
func (k *keySet) decrypt(sealed []byte, d digest) ([]byte, error) {
	if len(sealed) < encryptedOverhead {
		return nil, fmt.Errorf("archive: encrypted payload is %d bytes, minimum is %d", len(sealed), encryptedOverhead)
	}
	if sealed[0] != blobVersion {
		return nil, fmt.Errorf("archive: encrypted payload version %d is not supported", sealed[0])
	}

	key, err := k.recordKey(d)
	if err != nil {
		return nil, err
	}
	defer key.Close()

	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("archive: creating cipher: %w", err)
	}

	nonce := sealed[1 : 1+chacha20poly1305.NonceSizeX]
	ciphertext := sealed[1+chacha20poly1305.NonceSizeX:]
	payload, err := aead.Open(nil, nonce, ciphertext, buildAAD(sealed[0], d))
	if err != nil {
		return nil, fmt.Errorf("archive: authentication failed (wrong key, tampered blob, or mismatched ref): %w", err)
	}
	return payload, nil
}

// deriveKey is the shared HKDF-SHA256 step. The salt is nil: the node
// key is required to be uniformly random key material, so the extract
// phase with a zero salt is appropriate per RFC 5869.
func deriveKey(inputKeyMaterial, info []byte) (*secret.Buffer, error) {
	reader := hkdf.New(sha256.New, inputKeyMaterial, nil, info)
	derived := make([]byte, keySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		secret.Zero(derived)
		return nil, fmt.Errorf("archive: HKDF derivation failed: %w", err)
	}
	return secret.NewFromBytes(derived)
}

// buildAAD binds a ciphertext to its format version and record digest.
func buildAAD(version byte, d digest) []byte {
	aad := make([]byte, 1+len(d))
	aad[0] = version
	copy(aad[1:], d[:])
	return aad
}
