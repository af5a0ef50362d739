// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

// Package deviceauth implements the device side of challenge-response
// authentication: signing backend challenges with the device key and
// tracking the bearer token the exchange yields.
//
// The flow, driven by the heartbeat poller:
//
//  1. Request a challenge for the device ID.
//  2. Sign challenge || device ID with the Ed25519 device key
//     ([SignChallenge]).
//  3. Exchange the signature for a bearer token.
//  4. Cache the token in a [Store]; refresh when it is absent or within
//     [RefreshSkew] of expiry.
//
// Token expiry comes from the auth response when the backend provides
// it. When it does not, [ResolveExpiry] reads the JWT exp claim with an
// unverified parse — the device only needs the timestamp, it is not the
// token's verifier — and falls back to [DefaultTTL] for opaque tokens.
package deviceauth

import (
	"crypto/ed25519"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// RefreshSkew is how close to expiry a token may get before the
	// poller re-authenticates. Covers clock drift between device and
	// backend plus request latency.
	RefreshSkew = 30 * time.Second

	// DefaultTTL is assumed for tokens that carry no expiry at all
	// (opaque value, no exp claim).
	DefaultTTL = 15 * time.Minute
)

// ChallengeMessage builds the exact byte string the device signs: the
// raw challenge bytes followed by the device ID. Both sides must agree
// on this layout; it is fixed wire contract, not a convention.
func ChallengeMessage(challenge []byte, deviceID string) []byte {
	message := make([]byte, 0, len(challenge)+len(deviceID))
	message = append(message, challenge...)
	message = append(message, deviceID...)
	return message
}

// SignChallenge signs challenge || deviceID with the device key.
func SignChallenge(key ed25519.PrivateKey, challenge []byte, deviceID string) []byte {
	return ed25519.Sign(key, ChallengeMessage(challenge, deviceID))
}

// VerifyChallenge checks a challenge signature against the device
// public key. The backend runs this for real; tests and fake backends
// use it here.
func VerifyChallenge(publicKey ed25519.PublicKey, challenge []byte, deviceID string, signature []byte) bool {
	return ed25519.Verify(publicKey, ChallengeMessage(challenge, deviceID), signature)
}

// Token is a bearer token with its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Usable reports whether the token can still front a request: present,
// and not within RefreshSkew of expiry.
func (t Token) Usable(now time.Time) bool {
	if t.Value == "" {
		return false
	}
	return now.Add(RefreshSkew).Before(t.ExpiresAt)
}

// ResolveExpiry determines a token's expiry. An explicit timestamp from
// the auth response wins; otherwise the JWT exp claim is read without
// signature verification; otherwise DefaultTTL from now.
func ResolveExpiry(tokenValue string, explicit time.Time, now time.Time) time.Time {
	if !explicit.IsZero() {
		return explicit
	}

	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenValue, &claims); err == nil {
		if claims.ExpiresAt != nil {
			return claims.ExpiresAt.Time
		}
	}

	return now.Add(DefaultTTL)
}

// Store holds the current token behind a mutex. The poller writes it on
// refresh; the control socket reads it for status reporting.
type Store struct {
	mu    sync.Mutex
	token Token
}

// Get returns the current token and whether one is present.
func (s *Store) Get() (Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.token.Value != ""
}

// Put replaces the current token.
func (s *Store) Put(token Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// Clear drops the current token, forcing re-authentication on the next
// cycle. Called when the backend rejects the token early (revocation).
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = Token{}
}

// Usable reports whether the stored token can front a request now.
func (s *Store) Usable(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token.Usable(now)
}
