package store

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return s
}

func TestWriterCommit(t *testing.T) {
	s := openStore(t)
	data := bytes.Repeat([]byte("firmware"), 300)
	tag := wire.MustTag("MAIN")

	w, err := s.Create(0, tag, uint32(len(data)))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	for off := 0; off < len(data); off += 1000 {
		end := min(off+1000, len(data))
		if _, err := w.Write(data[off:end]); err != nil {
			t.Fatalf("Write(%d) error = %v", off, err)
		}
	}
	if w.Remaining() != 0 || w.Written() != uint32(len(data)) {
		t.Errorf("Written = %d, Remaining = %d", w.Written(), w.Remaining())
	}

	e, err := w.Commit()
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if e.Digest != Sum(data) {
		t.Errorf("Digest = %s, want %s", e.Digest, Sum(data))
	}
	got, err := os.ReadFile(e.Path)
	if err != nil || !bytes.Equal(got, data) {
		t.Errorf("staged file content mismatch: %v", err)
	}
	if err := s.Verify(0, tag, Sum(data)); err != nil {
		t.Errorf("Verify() error = %v", err)
	}

	if _, err := w.Commit(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Commit() = %v, want ErrClosed", err)
	}
	w.Abort() // no-op after commit
	if _, err := s.Lookup(0, tag); err != nil {
		t.Errorf("Lookup() after Abort on committed writer = %v", err)
	}
}

func TestWriterOverflowAndIncomplete(t *testing.T) {
	s := openStore(t)
	w, _ := s.Create(1, wire.MustTag("BOOT"), 10)

	if _, err := w.Write(make([]byte, 6)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, err := w.Write(make([]byte, 5)); !errors.Is(err, ErrOverflow) {
		t.Errorf("Write() past length = %v, want ErrOverflow", err)
	}
	if w.Written() != 6 {
		t.Errorf("Written = %d after rejected write, want 6", w.Written())
	}
	if _, err := w.Commit(); !errors.Is(err, ErrIncomplete) {
		t.Errorf("Commit() = %v, want ErrIncomplete", err)
	}

	w.Abort()
	if _, err := w.Write([]byte{1}); !errors.Is(err, ErrClosed) {
		t.Errorf("Write() after Abort = %v, want ErrClosed", err)
	}
	incoming, _ := os.ReadDir(filepath.Join(s.Dir(), incomingDir))
	if len(incoming) != 0 {
		t.Errorf("incoming has %d files after Abort", len(incoming))
	}
}

func TestStagedListAndClear(t *testing.T) {
	s := openStore(t)
	payloads := []struct {
		index int
		tag   string
		data  []byte
	}{
		{2, "DSP", []byte("dsp image")},
		{0, "MAIN", []byte("main image")},
		{1, "\x00\x01\x02\x03", []byte("binary tag")},
	}
	for _, p := range payloads {
		w, err := s.Create(p.index, wire.MustTag(p.tag), uint32(len(p.data)))
		if err != nil {
			t.Fatalf("Create(%d) error = %v", p.index, err)
		}
		_, _ = w.Write(p.data)
		if _, err := w.Commit(); err != nil {
			t.Fatalf("Commit(%d) error = %v", p.index, err)
		}
	}
	// A stray file is ignored.
	_ = os.WriteFile(filepath.Join(s.Dir(), stagedDir, "notes.txt"), []byte("x"), 0644)

	entries, err := s.Staged()
	if err != nil {
		t.Fatalf("Staged() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(Staged()) = %d, want 3", len(entries))
	}
	for i, e := range entries {
		if e.Index != i {
			t.Errorf("entries[%d].Index = %d", i, e.Index)
		}
	}
	if entries[1].Tag != wire.MustTag("\x00\x01\x02\x03") || entries[1].Digest != Sum([]byte("binary tag")) {
		t.Errorf("entries[1] = %+v", entries[1])
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if entries, _ := s.Staged(); len(entries) != 0 {
		t.Errorf("Staged() after Clear = %d entries", len(entries))
	}
	if _, err := s.Lookup(0, wire.MustTag("MAIN")); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup() after Clear = %v, want ErrNotFound", err)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	s := openStore(t)
	tag := wire.MustTag("MAIN")
	w, _ := s.Create(0, tag, 4)
	_, _ = w.Write([]byte{1, 2, 3, 4})
	e, _ := w.Commit()

	_ = os.WriteFile(e.Path, []byte{1, 2, 3, 5}, 0644)
	if err := s.Verify(0, tag, e.Digest); !errors.Is(err, ErrDigestMismatch) {
		t.Errorf("Verify() = %v, want ErrDigestMismatch", err)
	}
}

func TestDigestParse(t *testing.T) {
	d := Sum([]byte("abc"))
	got, err := ParseDigest(d.String())
	if err != nil || got != d {
		t.Errorf("ParseDigest(%s) = %s, %v", d, got, err)
	}
	for _, bad := range []string{"", "zz", d.String()[:10]} {
		if _, err := ParseDigest(bad); err == nil {
			t.Errorf("ParseDigest(%q) succeeded", bad)
		}
	}
}
