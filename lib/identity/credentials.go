// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lyra-voice/lyra/lib/secret"
)

const credentialsFile = "credentials.age"

// ErrNotPaired reports that no credential bundle exists: the device has
// not completed pairing.
var ErrNotPaired = errors.New("device is not paired")

// Credentials is the bundle the backend issues at pairing. The agent
// unseals it at startup to learn who it is.
type Credentials struct {
	// DeviceID is the backend's identifier for this device, carried in
	// every authentication exchange and heartbeat.
	DeviceID string `json:"device_id"`

	// PairedAt records when the user claimed the device.
	PairedAt time.Time `json:"paired_at"`

	// BackendURL optionally pins the device to a specific API root,
	// overriding the configured one. Empty means use config.
	BackendURL string `json:"backend_url,omitempty"`
}

// SaveCredentials seals the bundle to the device's age public key and
// writes it to the identity directory. The file is 0600 even though the
// content is ciphertext.
func SaveCredentials(dir string, creds *Credentials, sealPublicKey string) error {
	if creds.DeviceID == "" {
		return fmt.Errorf("credentials have no device ID")
	}

	payload, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}

	sealed, err := Seal(payload, sealPublicKey)
	if err != nil {
		return fmt.Errorf("sealing credentials: %w", err)
	}

	path := filepath.Join(dir, credentialsFile)
	if err := os.WriteFile(path, []byte(sealed+"\n"), 0600); err != nil {
		return fmt.Errorf("writing credential bundle: %w", err)
	}
	return nil
}

// LoadCredentials unseals the credential bundle from the identity
// directory. Returns ErrNotPaired when no bundle exists.
func LoadCredentials(dir string, sealKey *secret.Buffer) (*Credentials, error) {
	path := filepath.Join(dir, credentialsFile)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotPaired
		}
		return nil, fmt.Errorf("reading credential bundle: %w", err)
	}

	plaintext, err := Unseal(strings.TrimSpace(string(raw)), sealKey)
	if err != nil {
		return nil, fmt.Errorf("unsealing credential bundle: %w", err)
	}
	defer plaintext.Close()

	var creds Credentials
	if err := json.Unmarshal(plaintext.Bytes(), &creds); err != nil {
		return nil, fmt.Errorf("decoding credentials: %w", err)
	}
	if creds.DeviceID == "" {
		return nil, fmt.Errorf("credential bundle has no device ID")
	}
	return &creds, nil
}

// RemoveCredentials deletes the bundle, returning the device to the
// unpaired state. Missing bundle is not an error.
func RemoveCredentials(dir string) error {
	err := os.Remove(filepath.Join(dir, credentialsFile))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
