// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package apprepo

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 keyed digest of the client binary.
type Hash [32]byte

// binaryDomainKey is the BLAKE3 key for binary integrity hashes. A
// fixed constant — changing it invalidates every recorded hash. The
// bytes are the ASCII domain name zero-padded to 32, readable in hex
// dumps without weakening the keyed mode.
var binaryDomainKey = [32]byte{
	'l', 'y', 'r', 'a', '.', 'a', 'p', 'p', '.', 'b', 'i', 'n', 'a', 'r', 'y', 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// HashBinary computes the keyed BLAKE3 digest of the file at path. The
// file is streamed through the hasher so memory stays constant whatever
// the binary size.
func HashBinary(path string) (Hash, error) {
	file, err := os.Open(path)
	if err != nil {
		return Hash{}, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	hasher, err := blake3.NewKeyed(binaryDomainKey[:])
	if err != nil {
		panic("apprepo: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	if _, err := io.Copy(hasher, file); err != nil {
		return Hash{}, fmt.Errorf("hashing %s: %w", path, err)
	}

	var digest Hash
	copy(digest[:], hasher.Sum(nil))
	return digest, nil
}

// FormatHash returns the hex-encoded string form of a digest, the
// canonical format in records, journal entries, and CLI output.
func FormatHash(hash Hash) string {
	return hex.EncodeToString(hash[:])
}

// ParseHash parses a 64-character hex string into a Hash.
func ParseHash(hexString string) (Hash, error) {
	var hash Hash
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return hash, fmt.Errorf("parsing binary hash: %w", err)
	}
	if len(decoded) != 32 {
		return hash, fmt.Errorf("binary hash is %d bytes, want 32", len(decoded))
	}
	copy(hash[:], decoded)
	return hash, nil
}

// Record pins the installed client binary: the manifest-declared path,
// its digest, and the commit it was installed from. Written at install
// and on reinstall interventions; verify re-hashes the file on disk and
// compares.
type Record struct {
	// Binary is the manifest binary path, relative to the checkout.
	Binary string `json:"binary"`

	// Hash is the hex BLAKE3 digest of the binary at record time.
	Hash string `json:"hash"`

	// Commit is the app repository commit the binary came from.
	Commit string `json:"commit"`

	// RecordedAt is when the record was written.
	RecordedAt time.Time `json:"recorded_at"`
}

// WriteRecord writes the record as JSON, atomically via a temp file
// rename so a power pull mid-write leaves the previous record intact.
func WriteRecord(path string, record Record) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding binary record: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing binary record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("committing binary record: %w", err)
	}
	return nil
}

// ReadRecord reads a record written by WriteRecord.
func ReadRecord(path string) (Record, error) {
	var record Record
	data, err := os.ReadFile(path)
	if err != nil {
		return record, fmt.Errorf("reading binary record: %w", err)
	}
	if err := json.Unmarshal(data, &record); err != nil {
		return record, fmt.Errorf("parsing binary record %s: %w", path, err)
	}
	return record, nil
}

// VerifyBinary re-hashes the file at binaryPath and compares it against
// the recorded digest. A mismatch means the binary changed since
// install: corruption, partial sync, or tampering.
func VerifyBinary(binaryPath string, record Record) error {
	want, err := ParseHash(record.Hash)
	if err != nil {
		return err
	}
	got, err := HashBinary(binaryPath)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("binary %s hash mismatch: have %s, recorded %s",
			binaryPath, FormatHash(got), record.Hash)
	}
	return nil
}
