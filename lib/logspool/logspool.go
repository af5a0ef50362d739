// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

// Package logspool captures the supervised client's log output. Recent
// lines stay in a fixed-size memory ring for heartbeat attachment and
// quick tailing; accumulated lines are sealed into chunk files on disk
// so logs survive restarts.
//
// Voice-adjacent logs are privacy sensitive: plaintext never touches
// disk. A sealed chunk is CBOR-encoded lines, compressed (zstd or LZ4,
// whichever a probe picks; incompressible data is stored raw), then
// encrypted with XChaCha20-Poly1305 under a per-chunk key derived by
// HKDF from the spool master key. The chunk sequence number is bound
// into the AEAD as additional authenticated data, so chunk files cannot
// be swapped or renumbered without detection.
//
// The spool master key is itself derived from the device's seal key
// ([DeriveSpoolKey]); reading spooled logs off a pulled SD card requires
// the identity directory.
//
// Append never blocks on disk: when sealing falls behind (disk full),
// the oldest pending lines are dropped rather than growing without
// bound.
package logspool

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lyra-voice/lyra/lib/clock"
	"github.com/lyra-voice/lyra/lib/secret"
)

const (
	defaultRingLines  = 1024
	defaultChunkLines = 512
	defaultMaxChunks  = 64

	// pendingHighWater caps unsealed lines in memory when sealing
	// fails; beyond it the oldest pending lines are dropped.
	pendingHighWater = 4 * defaultChunkLines

	chunkPrefix = "chunk-"
	chunkSuffix = ".sealed"
)

// Line is one captured log line.
type Line struct {
	// Time is when the line was captured, UTC.
	Time time.Time `json:"time"`

	// Source is the stream the line came from: "stdout" or "stderr".
	Source string `json:"source"`

	// Text is the line content without the trailing newline.
	Text string `json:"text"`
}

// Options configures a Spool. Zero values take the defaults.
type Options struct {
	// RingLines is the memory ring capacity (default 1024). Tail can
	// never return more than this many lines without touching disk.
	RingLines int

	// ChunkLines is how many lines accumulate before a chunk is sealed
	// to disk (default 512).
	ChunkLines int

	// MaxChunks caps sealed chunks on disk; the oldest are removed
	// first (default 64).
	MaxChunks int

	// Clock stamps appended lines (default system clock).
	Clock clock.Clock
}

// Spool is the capture buffer plus its sealed on-disk chunks.
type Spool struct {
	dir       string
	masterKey *secret.Buffer
	clk       clock.Clock

	ringLines  int
	chunkLines int
	maxChunks  int

	mu      sync.Mutex
	recent  []Line // tail cache for Tail, bounded by ringLines
	pending []Line // appended but not yet sealed
	nextSeq uint64
	closed  bool
}

// Open opens the spool at dir. The master key is borrowed for the life
// of the Spool and not closed by it. Existing chunk files determine the
// next sequence number.
func Open(dir string, masterKey *secret.Buffer, opts Options) (*Spool, error) {
	if opts.RingLines <= 0 {
		opts.RingLines = defaultRingLines
	}
	if opts.ChunkLines <= 0 {
		opts.ChunkLines = defaultChunkLines
	}
	if opts.MaxChunks <= 0 {
		opts.MaxChunks = defaultMaxChunks
	}
	if opts.Clock == nil {
		opts.Clock = clock.System()
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating spool dir: %w", err)
	}

	spool := &Spool{
		dir:        dir,
		masterKey:  masterKey,
		clk:        opts.Clock,
		ringLines:  opts.RingLines,
		chunkLines: opts.ChunkLines,
		maxChunks:  opts.MaxChunks,
	}

	sequences, err := spool.chunkSequences()
	if err != nil {
		return nil, err
	}
	if len(sequences) > 0 {
		spool.nextSeq = sequences[len(sequences)-1] + 1
	}

	return spool, nil
}

// Append records one line. Sealing happens inline once ChunkLines have
// accumulated; a sealing failure drops the oldest pending lines past
// the high-water mark instead of failing the append.
func (s *Spool) Append(source, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	line := Line{Time: s.clk.Now().UTC(), Source: source, Text: text}

	s.recent = append(s.recent, line)
	if len(s.recent) > s.ringLines {
		s.recent = s.recent[len(s.recent)-s.ringLines:]
	}

	s.pending = append(s.pending, line)
	if len(s.pending) >= s.chunkLines {
		if err := s.sealPendingLocked(); err != nil && len(s.pending) > pendingHighWater {
			s.pending = s.pending[len(s.pending)-pendingHighWater:]
		}
	}
}

// Tail returns the most recent n lines from memory. Fewer are returned
// when fewer have been captured since startup.
func (s *Spool) Tail(n int) []Line {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 || len(s.recent) == 0 {
		return nil
	}
	if n > len(s.recent) {
		n = len(s.recent)
	}
	out := make([]Line, n)
	copy(out, s.recent[len(s.recent)-n:])
	return out
}

// TailText is Tail formatted one line per entry, for heartbeat
// payloads: "2026-08-25T07:31:02Z stderr: text".
func (s *Spool) TailText(n int) []string {
	lines := s.Tail(n)
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = line.Time.Format(time.RFC3339) + " " + line.Source + ": " + line.Text
	}
	return out
}

// ReadBack returns the last n lines including sealed chunks, oldest
// first. Used by the logs command when the request exceeds the memory
// ring.
func (s *Spool) ReadBack(n int) ([]Line, error) {
	s.mu.Lock()
	pending := make([]Line, len(s.pending))
	copy(pending, s.pending)
	s.mu.Unlock()

	if n <= 0 {
		return nil, nil
	}

	collected := pending
	if len(collected) < n {
		sequences, err := s.chunkSequences()
		if err != nil {
			return nil, err
		}
		// Newest chunk first, prepending until we have enough.
		for i := len(sequences) - 1; i >= 0 && len(collected) < n; i-- {
			lines, err := s.readChunk(sequences[i])
			if err != nil {
				return nil, fmt.Errorf("reading chunk %d: %w", sequences[i], err)
			}
			collected = append(lines, collected...)
		}
	}

	if len(collected) > n {
		collected = collected[len(collected)-n:]
	}
	return collected, nil
}

// Flush seals any pending lines to disk.
func (s *Spool) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sealPendingLocked()
}

// PendingLines reports how many captured lines await sealing.
func (s *Spool) PendingLines() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Rotate removes the oldest sealed chunks beyond max. Zero max means
// the spool's configured maximum. Returns how many files were removed.
func (s *Spool) Rotate(max int) (int, error) {
	if max <= 0 {
		max = s.maxChunks
	}

	sequences, err := s.chunkSequences()
	if err != nil {
		return 0, err
	}
	if len(sequences) <= max {
		return 0, nil
	}

	removed := 0
	for _, seq := range sequences[:len(sequences)-max] {
		if err := os.Remove(s.chunkPath(seq)); err != nil {
			return removed, fmt.Errorf("removing chunk %d: %w", seq, err)
		}
		removed++
	}
	return removed, nil
}

// ChunkCount returns the number of sealed chunks on disk.
func (s *Spool) ChunkCount() (int, error) {
	sequences, err := s.chunkSequences()
	if err != nil {
		return 0, err
	}
	return len(sequences), nil
}

// Close flushes pending lines. The master key is not closed; it belongs
// to the caller.
func (s *Spool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	err := s.sealPendingLocked()
	s.closed = true
	return err
}

// Writer returns a WriteCloser that splits its input into lines and
// appends them tagged with source. Wire it to the client process's
// stdout or stderr pipe. Close flushes a trailing partial line.
func (s *Spool) Writer(source string) io.WriteCloser {
	return &lineWriter{spool: s, source: source}
}

type lineWriter struct {
	spool   *Spool
	source  string
	partial []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.partial = append(w.partial, p...)
	for {
		idx := -1
		for i, b := range w.partial {
			if b == '\n' {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}
		line := strings.TrimRight(string(w.partial[:idx]), "\r")
		w.spool.Append(w.source, line)
		w.partial = w.partial[idx+1:]
	}
	return len(p), nil
}

func (w *lineWriter) Close() error {
	if len(w.partial) > 0 {
		w.spool.Append(w.source, string(w.partial))
		w.partial = nil
	}
	return nil
}

// sealPendingLocked writes pending lines as one sealed chunk. The
// caller holds s.mu. No-op when nothing is pending.
func (s *Spool) sealPendingLocked() error {
	if len(s.pending) == 0 {
		return nil
	}

	if err := s.writeChunk(s.nextSeq, s.pending); err != nil {
		return err
	}
	s.nextSeq++
	s.pending = s.pending[:0]

	// Inline rotation keeps the disk bound without waiting for the
	// maintenance job.
	sequences, err := s.chunkSequences()
	if err != nil {
		return err
	}
	if len(sequences) > s.maxChunks {
		for _, seq := range sequences[:len(sequences)-s.maxChunks] {
			if err := os.Remove(s.chunkPath(seq)); err != nil {
				return fmt.Errorf("rotating chunk %d: %w", seq, err)
			}
		}
	}
	return nil
}

func (s *Spool) chunkPath(seq uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s%06d%s", chunkPrefix, seq, chunkSuffix))
}

// chunkSequences lists sealed chunk sequence numbers in ascending
// order. Files that don't match the chunk naming pattern are ignored.
func (s *Spool) chunkSequences() ([]uint64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing spool dir: %w", err)
	}

	var sequences []uint64
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, chunkPrefix) || !strings.HasSuffix(name, chunkSuffix) {
			continue
		}
		var seq uint64
		if _, err := fmt.Sscanf(name, chunkPrefix+"%d"+chunkSuffix, &seq); err != nil {
			continue
		}
		sequences = append(sequences, seq)
	}
	sort.Slice(sequences, func(i, j int) bool { return sequences[i] < sequences[j] })
	return sequences, nil
}
