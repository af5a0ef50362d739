// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
)

// ReadFromPath loads key material from a file into a locked Buffer.
// This is how the device's signing and seal keys come off the SD card:
// the plaintext bytes read from disk are zeroed once copied into the
// buffer, and the caller owns the Close. A path of "-" reads one line
// from stdin instead, for piping a key in during provisioning.
// Surrounding whitespace, including the trailing newline a text editor
// leaves, is trimmed; an empty or whitespace-only source is an error.
func ReadFromPath(path string) (*Buffer, error) {
	var data []byte

	if path == "-" {
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return nil, fmt.Errorf("reading stdin: %w", err)
			}
			return nil, fmt.Errorf("stdin is empty")
		}
		data = scanner.Bytes()
	} else {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, err
		}
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		Zero(data)
		return nil, fmt.Errorf("secret is empty")
	}

	buffer, err := NewFromBytes(trimmed)
	// NewFromBytes zeroed trimmed; data still holds the whitespace
	// bytes around it.
	Zero(data)
	if err != nil {
		return nil, err
	}
	return buffer, nil
}
