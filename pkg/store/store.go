// Package store keeps staged payload bytes on disk.
//
// Payloads are written to an incoming directory while the accessory pulls
// them and moved to the staged directory once complete. Every payload is
// hashed with BLAKE2b-256 on the way in; the digest is recorded in the
// accessory state and checked again before apply.
package store

import (
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/uarp-protocol/uarp-go/pkg/wire"
)

// Directory layout below the store root.
const (
	incomingDir = "incoming"
	stagedDir   = "staged"
	fileSuffix  = ".bin"
)

// Store errors.
var (
	ErrOverflow       = errors.New("write exceeds payload length")
	ErrIncomplete     = errors.New("payload incomplete")
	ErrDigestMismatch = errors.New("payload digest mismatch")
	ErrNotFound       = errors.New("payload not found")
	ErrClosed         = errors.New("writer closed")
)

// DigestSize is the size of a payload digest.
const DigestSize = 32

// Digest is a BLAKE2b-256 digest.
type Digest [DigestSize]byte

// Sum returns the digest of data.
func Sum(data []byte) Digest {
	return blake2b.Sum256(data)
}

// String returns the digest as lowercase hex.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// ParseDigest parses a hex digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != DigestSize {
		return d, fmt.Errorf("invalid digest %q", s)
	}
	copy(d[:], b)
	return d, nil
}

func newHash() hash.Hash {
	// New256 only fails for keys longer than 64 bytes.
	h, _ := blake2b.New256(nil)
	return h
}

// Entry describes a staged payload.
type Entry struct {
	// Index is the payload's position in its SuperBinary.
	Index  int
	Tag    wire.Tag
	Length uint32
	Digest Digest
	Path   string
}

// Store is a directory of staged payloads. It is safe for concurrent use.
type Store struct {
	mu  sync.Mutex
	dir string
}

// Open opens or creates the store rooted at dir.
func Open(dir string) (*Store, error) {
	for _, sub := range []string{incomingDir, stagedDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store root.
func (s *Store) Dir() string { return s.dir }

func fileName(index int, tag wire.Tag) string {
	return fmt.Sprintf("%03d-%s%s", index, hex.EncodeToString(tag[:]), fileSuffix)
}

func parseFileName(name string) (int, wire.Tag, bool) {
	var tag wire.Tag
	base, ok := strings.CutSuffix(name, fileSuffix)
	if !ok {
		return 0, tag, false
	}
	idx, tagHex, ok := strings.Cut(base, "-")
	if !ok {
		return 0, tag, false
	}
	index, err := strconv.Atoi(idx)
	if err != nil {
		return 0, tag, false
	}
	b, err := hex.DecodeString(tagHex)
	if err != nil || len(b) != len(tag) {
		return 0, tag, false
	}
	copy(tag[:], b)
	return index, tag, true
}

// Create starts receiving payload index. An earlier partial or staged copy
// of the same payload is replaced once the new one is committed.
func (s *Store) Create(index int, tag wire.Tag, length uint32) (*Writer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, incomingDir, fileName(index, tag))
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create payload file: %w", err)
	}
	return &Writer{
		store:  s,
		file:   f,
		hash:   newHash(),
		index:  index,
		tag:    tag,
		length: length,
	}, nil
}

// Lookup returns the staged payload index.
func (s *Store) Lookup(index int, tag wire.Tag) (Entry, error) {
	path := filepath.Join(s.dir, stagedDir, fileName(index, tag))
	d, n, err := digestFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Entry{}, fmt.Errorf("%w: %d %s", ErrNotFound, index, tag)
		}
		return Entry{}, err
	}
	return Entry{Index: index, Tag: tag, Length: n, Digest: d, Path: path}, nil
}

// Verify re-reads a staged payload and checks its digest.
func (s *Store) Verify(index int, tag wire.Tag, want Digest) error {
	e, err := s.Lookup(index, tag)
	if err != nil {
		return err
	}
	if e.Digest != want {
		return fmt.Errorf("%w: %s: have %s, want %s", ErrDigestMismatch, tag, e.Digest, want)
	}
	return nil
}

// Staged lists the staged payloads in index order.
func (s *Store) Staged() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dirents, err := os.ReadDir(filepath.Join(s.dir, stagedDir))
	if err != nil {
		return nil, err
	}
	var entries []Entry
	for _, de := range dirents {
		index, tag, ok := parseFileName(de.Name())
		if !ok || de.IsDir() {
			continue
		}
		path := filepath.Join(s.dir, stagedDir, de.Name())
		d, n, err := digestFile(path)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Index: index, Tag: tag, Length: n, Digest: d, Path: path})
	}
	slices.SortFunc(entries, func(a, b Entry) int { return a.Index - b.Index })
	return entries, nil
}

// Clear removes every staged and incoming payload.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range []string{incomingDir, stagedDir} {
		dir := filepath.Join(s.dir, sub)
		if err := os.RemoveAll(dir); err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

func digestFile(path string) (Digest, uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, 0, err
	}
	defer f.Close()

	h := newHash()
	n, err := io.Copy(h, f)
	if err != nil {
		return Digest{}, 0, err
	}
	var d Digest
	h.Sum(d[:0])
	return d, uint32(n), nil
}

// Writer receives one payload in order.
type Writer struct {
	store   *Store
	file    *os.File
	hash    hash.Hash
	index   int
	tag     wire.Tag
	length  uint32
	written uint32
	closed  bool
}

// Write appends p. Writing past the announced length fails without
// writing anything.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrClosed
	}
	if uint64(w.written)+uint64(len(p)) > uint64(w.length) {
		return 0, fmt.Errorf("%w: %d + %d > %d", ErrOverflow, w.written, len(p), w.length)
	}
	n, err := io.MultiWriter(w.file, w.hash).Write(p)
	w.written += uint32(n)
	return n, err
}

// Written returns the number of bytes received so far.
func (w *Writer) Written() uint32 { return w.written }

// Remaining returns the number of bytes still expected.
func (w *Writer) Remaining() uint32 { return w.length - w.written }

// Commit moves the complete payload to the staged directory.
func (w *Writer) Commit() (Entry, error) {
	if w.closed {
		return Entry{}, ErrClosed
	}
	if w.written != w.length {
		return Entry{}, fmt.Errorf("%w: %d of %d bytes", ErrIncomplete, w.written, w.length)
	}
	w.closed = true

	if err := w.file.Sync(); err != nil {
		w.discard()
		return Entry{}, err
	}
	if err := w.file.Close(); err != nil {
		_ = os.Remove(w.file.Name())
		return Entry{}, err
	}

	w.store.mu.Lock()
	defer w.store.mu.Unlock()

	path := filepath.Join(w.store.dir, stagedDir, fileName(w.index, w.tag))
	if err := os.Rename(w.file.Name(), path); err != nil {
		_ = os.Remove(w.file.Name())
		return Entry{}, fmt.Errorf("failed to stage payload: %w", err)
	}

	var d Digest
	w.hash.Sum(d[:0])
	return Entry{Index: w.index, Tag: w.tag, Length: w.length, Digest: d, Path: path}, nil
}

// Abort discards the partial payload. Aborting a committed writer is a no-op.
func (w *Writer) Abort() {
	if w.closed {
		return
	}
	w.closed = true
	w.discard()
}

func (w *Writer) discard() {
	_ = w.file.Close()
	_ = os.Remove(w.file.Name())
}
