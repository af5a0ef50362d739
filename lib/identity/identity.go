// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"github.com/zeebo/blake3"

	"github.com/lyra-voice/lyra/lib/secret"
)

const (
	signingKeyFile = "device-key"
	signingPubFile = "device-key.pub"
	sealKeyFile    = "seal-key"
	sealPubFile    = "seal-key.pub"
)

// fingerprintKey is the BLAKE3 keyed-hash domain for device
// fingerprints. The bytes are the ASCII domain name zero-padded to 32,
// readable in hex dumps without costing any cryptographic property.
var fingerprintKey = [32]byte{
	'l', 'y', 'r', 'a', '.', 'd', 'e', 'v', 'i', 'c', 'e', '.',
	'f', 'i', 'n', 'g', 'e', 'r', 'p', 'r', 'i', 'n', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Identity holds the device's key material.
//
// The caller must call Close when the identity is no longer needed to
// release the seal key's locked memory.
type Identity struct {
	// SigningKey signs authentication challenges. Never leaves the
	// device.
	SigningKey ed25519.PrivateKey

	// PublicKey is registered with the backend at pairing; the backend
	// verifies challenge signatures against it.
	PublicKey ed25519.PublicKey

	// SealKey is the age secret key (AGE-SECRET-KEY-1... format) in
	// mmap-backed memory. Unseals the credential bundle.
	SealKey *secret.Buffer

	// SealPublicKey is the age recipient (age1... format). Safe to
	// publish; the pairing flow encrypts the credential bundle to it.
	SealPublicKey string
}

// Close releases the seal key memory (zeros, unlocks, unmaps).
// Idempotent.
func (id *Identity) Close() error {
	if id.SealKey != nil {
		return id.SealKey.Close()
	}
	return nil
}

// Sign signs the message with the device signing key.
func (id *Identity) Sign(message []byte) []byte {
	return ed25519.Sign(id.SigningKey, message)
}

// Fingerprint returns the short device fingerprint: "dev-" followed by
// the first 12 hex characters of the keyed BLAKE3 hash of the signing
// public key. Used to identify an unpaired device in logs and pairing
// UI without publishing the raw key.
func (id *Identity) Fingerprint() string {
	hasher, err := blake3.NewKeyed(fingerprintKey[:])
	if err != nil {
		panic("identity: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(id.PublicKey)
	sum := hasher.Sum(nil)
	return "dev-" + hex.EncodeToString(sum[:6])
}

// Load loads the device identity from dir. Returns an error if any key
// file is missing or malformed.
func Load(dir string) (*Identity, error) {
	privateBytes, err := os.ReadFile(filepath.Join(dir, signingKeyFile))
	if err != nil {
		return nil, fmt.Errorf("reading signing key: %w", err)
	}
	if len(privateBytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signing key has %d bytes, want %d", len(privateBytes), ed25519.PrivateKeySize)
	}

	publicBytes, err := os.ReadFile(filepath.Join(dir, signingPubFile))
	if err != nil {
		return nil, fmt.Errorf("reading signing public key: %w", err)
	}
	if len(publicBytes) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("signing public key has %d bytes, want %d", len(publicBytes), ed25519.PublicKeySize)
	}

	sealKey, err := secret.ReadFromPath(filepath.Join(dir, sealKeyFile))
	if err != nil {
		return nil, fmt.Errorf("reading seal key: %w", err)
	}
	if _, err := age.ParseX25519Identity(sealKey.String()); err != nil {
		sealKey.Close()
		return nil, fmt.Errorf("invalid seal key: %w", err)
	}

	sealPubBytes, err := os.ReadFile(filepath.Join(dir, sealPubFile))
	if err != nil {
		sealKey.Close()
		return nil, fmt.Errorf("reading seal public key: %w", err)
	}
	sealPub := strings.TrimSpace(string(sealPubBytes))
	if _, err := age.ParseX25519Recipient(sealPub); err != nil {
		sealKey.Close()
		return nil, fmt.Errorf("invalid seal public key: %w", err)
	}

	return &Identity{
		SigningKey:    ed25519.PrivateKey(privateBytes),
		PublicKey:     ed25519.PublicKey(publicBytes),
		SealKey:       sealKey,
		SealPublicKey: sealPub,
	}, nil
}

// Generate creates a fresh identity and writes it to dir. Private key
// files are 0600, public key files 0644.
func Generate(dir string) (*Identity, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating signing keypair: %w", err)
	}

	ageIdentity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating seal keypair: %w", err)
	}

	// Move the age secret into mmap-backed memory immediately. The
	// string returned by age is on the heap and will be GC'd; the mmap
	// buffer is the durable copy.
	sealKeyBytes := []byte(ageIdentity.String())
	sealKey, err := secret.NewFromBytes(sealKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("protecting seal key: %w", err)
	}
	sealPub := ageIdentity.Recipient().String()

	if err := os.WriteFile(filepath.Join(dir, signingKeyFile), private, 0600); err != nil {
		sealKey.Close()
		return nil, fmt.Errorf("writing signing key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, signingPubFile), public, 0644); err != nil {
		sealKey.Close()
		return nil, fmt.Errorf("writing signing public key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, sealKeyFile), sealKey.Bytes(), 0600); err != nil {
		sealKey.Close()
		return nil, fmt.Errorf("writing seal key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, sealPubFile), []byte(sealPub+"\n"), 0644); err != nil {
		sealKey.Close()
		return nil, fmt.Errorf("writing seal public key: %w", err)
	}

	return &Identity{
		SigningKey:    private,
		PublicKey:     public,
		SealKey:       sealKey,
		SealPublicKey: sealPub,
	}, nil
}

// LoadOrGenerate loads the identity from dir, generating and saving a
// fresh one if no keys exist yet. Returns the identity and whether it
// was newly generated.
func LoadOrGenerate(dir string) (*Identity, bool, error) {
	id, err := Load(dir)
	if err == nil {
		return id, false, nil
	}

	// Missing files mean first boot; anything else (corruption, odd
	// sizes, permissions) is surfaced rather than silently regenerated,
	// because regenerating unpairs the device.
	if _, statErr := os.Stat(filepath.Join(dir, signingKeyFile)); statErr == nil {
		return nil, false, err
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, false, fmt.Errorf("creating identity dir: %w", err)
	}

	id, err = Generate(dir)
	if err != nil {
		return nil, false, err
	}
	return id, true, nil
}
