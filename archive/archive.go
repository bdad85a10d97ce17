// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"encoding/binary"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/flotilla-foundation/flotilla/lib/secret"
	"github.com/flotilla-foundation/flotilla/session"
)

// blobMagic opens every archive file.
var blobMagic = [4]byte{'F', 'T', 'A', '1'}

// headerSize is the fixed blob header: magic(4), compression tag(1),
// flags(1), uncompressed size(8), record digest(32).
const headerSize = 4 + 1 + 1 + 8 + 32

// flagEncrypted marks payloads sealed under the node key.
const flagEncrypted byte = 1 << 0

// fileSuffix names archive blobs on disk.
const fileSuffix = ".fta"

// Config holds the archive's options. Dir is required.
type Config struct {
	// Dir is the archive root. Created on open if absent.
	Dir string

	// Key is the 32-byte node archive key. When set, records are
	// encrypted at rest and refs are keyed; the archive owns the
	// buffer and closes it with Close. Nil stores plaintext records
	// with unkeyed refs.
	Key *secret.Buffer

	// Logger receives put/get activity. Default discards.
	Logger *slog.Logger
}

// Archive is a content-addressed transcript store rooted at one
// directory. Safe for concurrent use: writes are atomic
// (temp + rename) and a ref, once written, is never rewritten.
type Archive struct {
	dir    string
	keys   *keySet
	refKey *secret.Buffer
	logger *slog.Logger
}

var _ session.Archiver = (*Archive)(nil)

// Open validates the configuration, creates the root directory, and
// returns the archive. The caller must Close it.
func Open(cfg Config) (*Archive, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("archive: config: Dir is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("archive: creating %s: %w", cfg.Dir, err)
	}

	a := &Archive{
		dir:    cfg.Dir,
		logger: cfg.Logger.With("component", "archive"),
	}
	if cfg.Key != nil {
		keys, err := newKeySet(cfg.Key)
		if err != nil {
			return nil, err
		}
		refKey, err := keys.refKey()
		if err != nil {
			keys.Close()
			return nil, err
		}
		a.keys = keys
		a.refKey = refKey
	}
	return a, nil
}

// Close releases the derived and master keys. Idempotent for archives
// opened without a key.
func (a *Archive) Close() error {
	if a.keys == nil {
		return nil
	}
	refErr := a.refKey.Close()
	if err := a.keys.Close(); err != nil {
		return err
	}
	return refErr
}

// Put stores one transcript and returns its ref. Storing the same
// transcript twice returns the same ref and leaves the existing blob
// in place.
func (a *Archive) Put(ctx context.Context, transcript session.TranscriptRecord) (Ref, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("archive: put: %w", err)
	}

	canonical, err := encMode.Marshal(newRecord(transcript))
	if err != nil {
		return "", fmt.Errorf("archive: encoding record: %w", err)
	}

	d := digestRecord(canonical, a.refKeyBytes())
	ref := d.ref()
	path := a.blobPath(ref)

	if _, err := os.Stat(path); err == nil {
		// Content-addressed: the blob is already this record.
		return ref, nil
	}

	payload, tag := compress(canonical)
	flags := byte(0)
	if a.keys != nil {
		sealedPayload, err := a.keys.encrypt(payload, d)
		if err != nil {
			return "", err
		}
		payload = sealedPayload
		flags |= flagEncrypted
	}

	header := make([]byte, headerSize)
	copy(header[0:4], blobMagic[:])
	header[4] = byte(tag)
	header[5] = flags
	binary.BigEndian.PutUint64(header[6:14], uint64(len(canonical)))
	copy(header[14:46], d[:])

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("archive: creating shard dir: %w", err)
	}
	if err := writeAtomic(path, header, payload); err != nil {
		return "", err
	}

	a.logger.Info("transcript archived",
		"ref", ref,
		"session", transcript.Session,
		"lines", len(transcript.Lines),
		"compression", tag.String(),
		"encrypted", flags&flagEncrypted != 0,
	)
	return ref, nil
}

// Get loads one transcript by ref. The record digest in the header and
// the recomputed digest of the decoded record must both match the ref;
// a mismatch means a corrupt or swapped blob.
func (a *Archive) Get(ctx context.Context, ref Ref) (session.TranscriptRecord, error) {
	if err := ctx.Err(); err != nil {
		return session.TranscriptRecord{}, fmt.Errorf("archive: get: %w", err)
	}
	if _, err := ParseRef(ref.String()); err != nil {
		return session.TranscriptRecord{}, err
	}

	blob, err := os.ReadFile(a.blobPath(ref))
	if err != nil {
		return session.TranscriptRecord{}, fmt.Errorf("archive: reading %s: %w", ref, err)
	}
	if len(blob) < headerSize {
		return session.TranscriptRecord{}, fmt.Errorf("archive: %s: blob is %d bytes, header alone is %d", ref, len(blob), headerSize)
	}
	if [4]byte(blob[0:4]) != blobMagic {
		return session.TranscriptRecord{}, fmt.Errorf("archive: %s: bad magic", ref)
	}

	tag := compressionTag(blob[4])
	flags := blob[5]
	uncompressedSize := binary.BigEndian.Uint64(blob[6:14])
	var headerDigest digest
	copy(headerDigest[:], blob[14:46])
	payload := blob[headerSize:]

	if !headerDigest.matches(ref) {
		return session.TranscriptRecord{}, fmt.Errorf("archive: %s: header digest does not match ref", ref)
	}

	if flags&flagEncrypted != 0 {
		if a.keys == nil {
			return session.TranscriptRecord{}, fmt.Errorf("archive: %s: blob is encrypted and no node key is configured", ref)
		}
		payload, err = a.keys.decrypt(payload, headerDigest)
		if err != nil {
			return session.TranscriptRecord{}, err
		}
	}

	canonical, err := decompress(payload, tag, int(uncompressedSize))
	if err != nil {
		return session.TranscriptRecord{}, err
	}

	if got := digestRecord(canonical, a.refKeyBytes()); got != headerDigest {
		return session.TranscriptRecord{}, fmt.Errorf("archive: %s: record digest mismatch (corrupt blob)", ref)
	}

	var rec record
	if err := decMode.Unmarshal(canonical, &rec); err != nil {
		return session.TranscriptRecord{}, fmt.Errorf("archive: %s: decoding record: %w", ref, err)
	}
	return rec.transcript(), nil
}

// List returns every ref in the archive, sorted. Files that do not
// parse as refs are skipped.
func (a *Archive) List(ctx context.Context) ([]Ref, error) {
	var refs []Ref
	err := filepath.WalkDir(a.dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileSuffix) {
			return nil
		}
		ref, err := ParseRef(strings.TrimSuffix(entry.Name(), fileSuffix))
		if err != nil {
			return nil
		}
		refs = append(refs, ref)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive: listing: %w", err)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })
	return refs, nil
}

// ArchiveTranscript implements session.Archiver.
func (a *Archive) ArchiveTranscript(ctx context.Context, transcript session.TranscriptRecord) (string, error) {
	ref, err := a.Put(ctx, transcript)
	if err != nil {
		return "", err
	}
	return ref.String(), nil
}

// refKeyBytes returns the digest keying material, nil when unkeyed.
func (a *Archive) refKeyBytes() []byte {
	if a.refKey == nil {
		return nil
	}
	return a.refKey.Bytes()
}

// blobPath maps a ref to its on-disk location.
func (a *Archive) blobPath(ref Ref) string {
	return filepath.Join(a.dir, ref.shard(), ref.String()+fileSuffix)
}

// writeAtomic writes header+payload to path via a temp file and
// rename, so readers never observe a partial blob.
func writeAtomic(path string, header, payload []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("archive: creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(header); err != nil {
		cleanup()
		return fmt.Errorf("archive: writing header: %w", err)
	}
	if _, err := tmp.Write(payload); err != nil {
		cleanup()
		return fmt.Errorf("archive: writing payload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("archive: closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("archive: renaming blob into place: %w", err)
	}
	return nil
}
