// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/flotilla-foundation/flotilla/session"
)

// record is the archived form of a finished session. Field keys are
// part of the on-disk format; renaming one breaks old archives.
type record struct {
	Session   string       `cbor:"session"`
	State     string       `cbor:"state"`
	ExitCode  int          `cbor:"exit_code"`
	StartedAt int64        `cbor:"started_at"` // Unix nanoseconds, UTC
	EndedAt   int64        `cbor:"ended_at"`
	Lines     []recordLine `cbor:"lines"`
}

type recordLine struct {
	Offset uint64 `cbor:"o"`
	Text   string `cbor:"t"`
}

func newRecord(tr session.TranscriptRecord) record {
	lines := make([]recordLine, len(tr.Lines))
	for i, line := range tr.Lines {
		lines[i] = recordLine{Offset: line.Offset, Text: line.Text}
	}
	return record{
		Session:   tr.Session,
		State:     string(tr.State),
		ExitCode:  tr.ExitCode,
		StartedAt: tr.StartedAt.UnixNano(),
		EndedAt:   tr.EndedAt.UnixNano(),
		Lines:     lines,
	}
}

func (r record) transcript() session.TranscriptRecord {
	lines := make([]session.Line, len(r.Lines))
	for i, line := range r.Lines {
		lines[i] = session.Line{Offset: line.Offset, Text: line.Text}
	}
	return session.TranscriptRecord{
		Session:   r.Session,
		State:     session.State(r.State),
		ExitCode:  r.ExitCode,
		StartedAt: time.Unix(0, r.StartedAt).UTC(),
		EndedAt:   time.Unix(0, r.EndedAt).UTC(),
		Lines:     lines,
	}
}

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding (RFC 8949 §4.2): sorted map keys, smallest integer
// encoding, no indefinite-length items. Determinism is what makes the
// record content-addressable — the same transcript always encodes to
// the same bytes and therefore the same ref.
var encMode cbor.EncMode

// decMode accepts standard CBOR and ignores unknown fields, so newer
// writers stay readable by older readers.
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("archive: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("archive: CBOR decoder initialization failed: " + err.Error())
	}
}

// compressionTag identifies the compression applied to a record
// payload. Stored in the blob header; the values are format constants.
type compressionTag uint8

const (
	compressionNone compressionTag = 0
	compressionLZ4  compressionTag = 1
	compressionZstd compressionTag = 2
)

func (tag compressionTag) String() string {
	switch tag {
	case compressionNone:
		return "none"
	case compressionLZ4:
		return "lz4"
	case compressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(tag))
	}
}

// zstdEncoder and zstdDecoder are shared across calls; both are safe
// for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("archive: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("archive: zstd decoder initialization failed: " + err.Error())
	}
}

// compress picks a compression by probing: transcripts are usually
// text and compress well under zstd, but a transcript full of base64
// or binary noise is not worth the cycles. Ratio at or above 1.5
// keeps the zstd output, at or above 1.1 switches to lz4, anything
// less stores the record raw.
func compress(canonical []byte) ([]byte, compressionTag) {
	if len(canonical) == 0 {
		return canonical, compressionNone
	}

	zstdOut := zstdEncoder.EncodeAll(canonical, nil)
	ratio := float64(len(canonical)) / float64(len(zstdOut))
	switch {
	case ratio >= 1.5:
		return zstdOut, compressionZstd
	case ratio >= 1.1:
		bound := lz4.CompressBlockBound(len(canonical))
		lz4Out := make([]byte, bound)
		written, err := lz4.CompressBlock(canonical, lz4Out, nil)
		if err != nil || written == 0 || written >= len(canonical) {
			// Incompressible under lz4 despite the zstd probe; the
			// zstd output is still smaller than raw, keep it.
			return zstdOut, compressionZstd
		}
		return lz4Out[:written], compressionLZ4
	default:
		return canonical, compressionNone
	}
}

// decompress reverses compress. The expanded size must match the
// header's recorded size exactly.
func decompress(payload []byte, tag compressionTag, uncompressedSize int) ([]byte, error) {
	switch tag {
	case compressionNone:
		if len(payload) != uncompressedSize {
			return nil, fmt.Errorf("archive: raw payload is %d bytes, header says %d", len(payload), uncompressedSize)
		}
		return payload, nil

	case compressionLZ4:
		out := make([]byte, uncompressedSize)
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, fmt.Errorf("archive: lz4 decompress: %w", err)
		}
		if n != uncompressedSize {
			return nil, fmt.Errorf("archive: lz4 decompress: got %d bytes, header says %d", n, uncompressedSize)
		}
		return out, nil

	case compressionZstd:
		out, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, uncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("archive: zstd decompress: %w", err)
		}
		if len(out) != uncompressedSize {
			return nil, fmt.Errorf("archive: zstd decompress: got %d bytes, header says %d", len(out), uncompressedSize)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("archive: unsupported compression tag %d", uint8(tag))
	}
}
