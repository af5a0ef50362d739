// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestNewFromBytesZerosSource(t *testing.T) {
	source := []byte("device-private-key-material")
	want := append([]byte(nil), source...)

	buffer, err := NewFromBytes(source)
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	defer buffer.Close()

	if !bytes.Equal(buffer.Bytes(), want) {
		t.Errorf("Bytes() = %q, want %q", buffer.Bytes(), want)
	}
	for i, b := range source {
		if b != 0 {
			t.Fatalf("source[%d] = %d, want 0 (source not zeroed)", i, b)
		}
	}
}

func TestNewRejectsNonPositiveSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		if _, err := New(size); err == nil {
			t.Errorf("New(%d) = nil error, want error", size)
		}
	}
}

func TestBufferAccessAfterClosePanics(t *testing.T) {
	buffer, err := NewFromString("token")
	if err != nil {
		t.Fatalf("NewFromString: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Close is idempotent.
	if err := buffer.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("Bytes() after Close did not panic")
		}
	}()
	buffer.Bytes()
}

func TestConcat(t *testing.T) {
	token, err := NewFromString("tok3n")
	if err != nil {
		t.Fatalf("NewFromString: %v", err)
	}
	defer token.Close()

	combined, err := Concat("lyra-device:", "pi-01", ":", token)
	if err != nil {
		t.Fatalf("Concat: %v", err)
	}
	defer combined.Close()

	want := "lyra-device:pi-01:tok3n"
	if got := combined.String(); got != want {
		t.Errorf("Concat = %q, want %q", got, want)
	}
}

func TestConcatRejectsUnknownType(t *testing.T) {
	if _, err := Concat("a", 42); err == nil {
		t.Error("Concat with int = nil error, want error")
	}
}

func TestEqualConstantTime(t *testing.T) {
	buffer, err := NewFromString("pairing-code")
	if err != nil {
		t.Fatalf("NewFromString: %v", err)
	}
	defer buffer.Close()

	if !buffer.Equal([]byte("pairing-code")) {
		t.Error("Equal(same) = false, want true")
	}
	if buffer.Equal([]byte("pairing-codE")) {
		t.Error("Equal(different) = true, want false")
	}
	if buffer.Equal([]byte("short")) {
		t.Error("Equal(short) = true, want false")
	}
}

func TestReadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")
	if err := os.WriteFile(path, []byte("  abc123\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	buffer, err := ReadFromPath(path)
	if err != nil {
		t.Fatalf("ReadFromPath: %v", err)
	}
	defer buffer.Close()

	if got := buffer.String(); got != "abc123" {
		t.Errorf("ReadFromPath = %q, want %q (whitespace trimmed)", got, "abc123")
	}
}

func TestReadFromPathEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty")
	if err := os.WriteFile(path, []byte("  \n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := ReadFromPath(path); err == nil {
		t.Error("ReadFromPath(whitespace-only) = nil error, want error")
	}
}

func TestReadFromPathMissing(t *testing.T) {
	if _, err := ReadFromPath(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Error("ReadFromPath(missing) = nil error, want error")
	}
}
