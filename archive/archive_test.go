// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/flotilla-foundation/flotilla/lib/secret"
	"github.com/flotilla-foundation/flotilla/session"
)

func testTranscript(name string, lineCount int) session.TranscriptRecord {
	lines := make([]session.Line, lineCount)
	for i := range lines {
		lines[i] = session.Line{
			Offset: uint64(i),
			Text:   fmt.Sprintf("directive step %d: probing ledger for stale claims", i),
		}
	}
	return session.TranscriptRecord{
		Session:   name,
		State:     session.StateCompleted,
		ExitCode:  0,
		StartedAt: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		EndedAt:   time.Date(2026, 3, 14, 9, 4, 30, 0, time.UTC),
		Lines:     lines,
	}
}

func openTestArchive(t *testing.T, keyed bool) *Archive {
	t.Helper()
	cfg := Config{Dir: t.TempDir()}
	if keyed {
		key := make([]byte, keySize)
		if _, err := rand.Read(key); err != nil {
			t.Fatalf("generating key: %v", err)
		}
		buffer, err := secret.NewFromBytes(key)
		if err != nil {
			t.Fatalf("secret.NewFromBytes() error = %v", err)
		}
		cfg.Key = buffer
	}
	a, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestPutGetRoundTrip(t *testing.T) {
	for _, keyed := range []bool{false, true} {
		name := "plaintext"
		if keyed {
			name = "encrypted"
		}
		t.Run(name, func(t *testing.T) {
			a := openTestArchive(t, keyed)
			want := testTranscript("agent-coder-01", 40)

			ref, err := a.Put(context.Background(), want)
			if err != nil {
				t.Fatalf("Put() error = %v", err)
			}
			if !strings.HasPrefix(ref.String(), "txn-") {
				t.Errorf("Put() ref = %q, want txn- prefix", ref)
			}

			got, err := a.Get(context.Background(), ref)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("Get() = %+v, want %+v", got, want)
			}
		})
	}
}

func TestPutIsIdempotent(t *testing.T) {
	a := openTestArchive(t, false)
	transcript := testTranscript("agent-strategist-02", 10)

	first, err := a.Put(context.Background(), transcript)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	second, err := a.Put(context.Background(), transcript)
	if err != nil {
		t.Fatalf("second Put() error = %v", err)
	}
	if first != second {
		t.Errorf("second Put() ref = %q, want %q", second, first)
	}

	refs, err := a.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(refs) != 1 {
		t.Errorf("List() returned %d refs after duplicate Put, want 1", len(refs))
	}
}

func TestDistinctTranscriptsGetDistinctRefs(t *testing.T) {
	a := openTestArchive(t, false)

	first, err := a.Put(context.Background(), testTranscript("agent-a", 5))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	second, err := a.Put(context.Background(), testTranscript("agent-b", 5))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if first == second {
		t.Errorf("distinct transcripts share ref %q", first)
	}
}

func TestKeyedRefsDifferFromUnkeyed(t *testing.T) {
	plain := openTestArchive(t, false)
	keyed := openTestArchive(t, true)
	transcript := testTranscript("agent-coder-03", 8)

	plainRef, err := plain.Put(context.Background(), transcript)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	keyedRef, err := keyed.Put(context.Background(), transcript)
	if err != nil {
		t.Fatalf("keyed Put() error = %v", err)
	}
	if plainRef == keyedRef {
		t.Errorf("keyed and unkeyed refs both %q; keyed refs must not leak content identity", plainRef)
	}
}

func TestGetUnknownRef(t *testing.T) {
	a := openTestArchive(t, false)
	if _, err := a.Get(context.Background(), Ref("txn-0123456789ab")); err == nil {
		t.Fatal("Get(unknown) error = nil, want error")
	}
}

func TestGetRejectsMalformedRef(t *testing.T) {
	a := openTestArchive(t, false)
	for _, raw := range []string{"", "txn-short", "0123456789ab", "txn-0123456789AB", "txn-0123456789zz"} {
		if _, err := a.Get(context.Background(), Ref(raw)); err == nil {
			t.Errorf("Get(%q) error = nil, want error", raw)
		}
	}
}

func TestGetDetectsCorruption(t *testing.T) {
	a := openTestArchive(t, false)
	ref, err := a.Put(context.Background(), testTranscript("agent-coder-04", 30))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	path := a.blobPath(ref)
	blob, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading blob: %v", err)
	}

	t.Run("flipped payload byte", func(t *testing.T) {
		corrupt := append([]byte(nil), blob...)
		corrupt[len(corrupt)-1] ^= 0xff
		if err := os.WriteFile(path, corrupt, 0o600); err != nil {
			t.Fatalf("writing corrupt blob: %v", err)
		}
		if _, err := a.Get(context.Background(), ref); err == nil {
			t.Error("Get(corrupt payload) error = nil, want error")
		}
	})

	t.Run("truncated below header", func(t *testing.T) {
		if err := os.WriteFile(path, blob[:headerSize-1], 0o600); err != nil {
			t.Fatalf("writing truncated blob: %v", err)
		}
		if _, err := a.Get(context.Background(), ref); err == nil {
			t.Error("Get(truncated) error = nil, want error")
		}
	})

	t.Run("bad magic", func(t *testing.T) {
		corrupt := append([]byte(nil), blob...)
		copy(corrupt[0:4], "NOPE")
		if err := os.WriteFile(path, corrupt, 0o600); err != nil {
			t.Fatalf("writing bad-magic blob: %v", err)
		}
		if _, err := a.Get(context.Background(), ref); err == nil {
			t.Error("Get(bad magic) error = nil, want error")
		}
	})
}

func TestEncryptedBlobNeedsKey(t *testing.T) {
	keyed := openTestArchive(t, true)
	ref, err := keyed.Put(context.Background(), testTranscript("agent-coder-05", 12))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	// A keyless archive over the same directory can see the blob but
	// must refuse to open it.
	plain, err := Open(Config{Dir: keyed.dir})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer plain.Close()

	if _, err := plain.Get(context.Background(), ref); err == nil {
		t.Fatal("Get(encrypted blob, no key) error = nil, want error")
	}
}

func TestList(t *testing.T) {
	a := openTestArchive(t, false)

	want := make(map[Ref]bool)
	for i := 0; i < 5; i++ {
		ref, err := a.Put(context.Background(), testTranscript(fmt.Sprintf("agent-%02d", i), 3+i))
		if err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		want[ref] = true
	}

	// Stray files in the tree are ignored.
	if err := os.WriteFile(filepath.Join(a.dir, "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatalf("writing stray file: %v", err)
	}

	refs, err := a.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(refs) != len(want) {
		t.Fatalf("List() returned %d refs, want %d", len(refs), len(want))
	}
	for i := 1; i < len(refs); i++ {
		if refs[i-1] >= refs[i] {
			t.Errorf("List() not sorted: %q before %q", refs[i-1], refs[i])
		}
	}
	for _, ref := range refs {
		if !want[ref] {
			t.Errorf("List() returned unexpected ref %q", ref)
		}
	}
}

func TestArchiveTranscriptImplementsArchiver(t *testing.T) {
	a := openTestArchive(t, true)
	var archiver session.Archiver = a

	ref, err := archiver.ArchiveTranscript(context.Background(), testTranscript("agent-coder-06", 6))
	if err != nil {
		t.Fatalf("ArchiveTranscript() error = %v", err)
	}
	parsed, err := ParseRef(ref)
	if err != nil {
		t.Fatalf("ParseRef(%q) error = %v", ref, err)
	}
	if _, err := a.Get(context.Background(), parsed); err != nil {
		t.Errorf("Get() after ArchiveTranscript error = %v", err)
	}
}

func TestOpenRequiresDir(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Fatal("Open(empty dir) error = nil, want error")
	}
}

func TestOpenRejectsShortKey(t *testing.T) {
	buffer, err := secret.NewFromBytes([]byte("short"))
	if err != nil {
		t.Fatalf("secret.NewFromBytes() error = %v", err)
	}
	defer buffer.Close()

	if _, err := Open(Config{Dir: t.TempDir(), Key: buffer}); err == nil {
		t.Fatal("Open(short key) error = nil, want error")
	}
}
