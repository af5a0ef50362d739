// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity manages the device's cryptographic identity: an
// Ed25519 signing keypair used for challenge-response authentication
// against the backend, and an age x25519 keypair used to seal the
// credential bundle at rest.
//
// Keys live under the identity directory (0700). Private key files are
// 0600; public key files are 0644. The age private key is held in a
// secret.Buffer (mmap-backed, locked against swap, excluded from core
// dumps, zeroed on close); the Ed25519 key signs on every token refresh
// and stays a plain ed25519.PrivateKey.
//
// The credential bundle (device ID plus auth parameters, issued by the
// backend at pairing) is stored age-encrypted to the device's own seal
// key. An SD card pulled from a device does not leak credentials in
// plaintext.
//
// Key exports:
//
//   - [Identity] -- the loaded keys, with Sign and Fingerprint
//   - [LoadOrGenerate] -- first-boot key creation, load thereafter
//   - [Credentials], [SaveCredentials], [LoadCredentials] -- the bundle
//
// This package depends only on lib/secret.
package identity
