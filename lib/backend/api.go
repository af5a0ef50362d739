// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/lyra-voice/lyra/lib/deviceauth"
	"github.com/lyra-voice/lyra/lib/hostinfo"
)

// Fixed API paths under the configured base URL.
const (
	pathChallenge = "/v1/device/challenge"
	pathToken     = "/v1/device/token"
	pathHeartbeat = "/v1/device/heartbeat"
	pathPair      = "/v1/device/pair"
)

type challengeRequest struct {
	DeviceID string `json:"device_id"`
}

type challengeResponse struct {
	// Challenge is base64 of the server's random challenge bytes.
	Challenge string    `json:"challenge"`
	ExpiresAt time.Time `json:"expires_at"`
}

type tokenRequest struct {
	DeviceID  string `json:"device_id"`
	Challenge string `json:"challenge"`
	// Signature is base64 of the Ed25519 signature over
	// challenge || device_id.
	Signature string `json:"signature"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Authenticate obtains a bearer token via the challenge/signature
// flow: request a challenge for the device ID, sign it with the device
// key, exchange the signature for a token. Expiry comes from the
// response when present, otherwise from the token's JWT exp claim,
// otherwise a default TTL.
func (c *Client) Authenticate(ctx context.Context, deviceID string, key ed25519.PrivateKey) (deviceauth.Token, error) {
	body, err := c.doRetry(ctx, http.MethodPost, pathChallenge, "", challengeRequest{DeviceID: deviceID})
	if err != nil {
		return deviceauth.Token{}, fmt.Errorf("requesting challenge: %w", err)
	}
	var challenge challengeResponse
	if err := json.Unmarshal(body, &challenge); err != nil {
		return deviceauth.Token{}, fmt.Errorf("backend: parse challenge response: %w", err)
	}
	challengeBytes, err := base64.StdEncoding.DecodeString(challenge.Challenge)
	if err != nil {
		return deviceauth.Token{}, fmt.Errorf("backend: challenge is not valid base64: %w", err)
	}
	if len(challengeBytes) == 0 {
		return deviceauth.Token{}, fmt.Errorf("backend: challenge response has no challenge")
	}

	signature := deviceauth.SignChallenge(key, challengeBytes, deviceID)

	body, err = c.doRetry(ctx, http.MethodPost, pathToken, "", tokenRequest{
		DeviceID:  deviceID,
		Challenge: challenge.Challenge,
		Signature: base64.StdEncoding.EncodeToString(signature),
	})
	if err != nil {
		return deviceauth.Token{}, fmt.Errorf("exchanging challenge for token: %w", err)
	}
	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return deviceauth.Token{}, fmt.Errorf("backend: parse token response: %w", err)
	}
	if token.Token == "" {
		return deviceauth.Token{}, fmt.Errorf("backend: token response has no token")
	}

	return deviceauth.Token{
		Value:     token.Token,
		ExpiresAt: deviceauth.ResolveExpiry(token.Token, token.ExpiresAt, c.clk.Now()),
	}, nil
}

// Heartbeat is the payload POSTed every interval.
type Heartbeat struct {
	DeviceID     string `json:"device_id"`
	AgentVersion string `json:"agent_version"`

	// SessionID is a UUID minted once per agent process. It changes on
	// every agent start, so the backend can tell a reboot from a
	// connectivity gap between two heartbeats.
	SessionID string `json:"session_id,omitempty"`

	// ClientState is the supervised client's state: "running",
	// "stopped", "crash_loop".
	ClientState string `json:"client_state"`

	// AppRef and AppHash identify the deployed app build.
	AppRef  string `json:"app_ref,omitempty"`
	AppHash string `json:"app_hash,omitempty"`

	Metrics *hostinfo.Metrics `json:"metrics,omitempty"`

	// LogTail is the last N captured client log lines.
	LogTail []string `json:"log_tail,omitempty"`
}

// Intervention kinds the backend can request.
const (
	InterventionRestart   = "restart"
	InterventionReinstall = "reinstall"
)

// Intervention is one pending action from a heartbeat response.
// Executed in response order.
type Intervention struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// HeartbeatResponse carries pending interventions, oldest first.
type HeartbeatResponse struct {
	Interventions []Intervention `json:"interventions"`
}

// Heartbeat POSTs one heartbeat and returns any pending interventions.
func (c *Client) Heartbeat(ctx context.Context, token string, heartbeat Heartbeat) (*HeartbeatResponse, error) {
	body, err := c.doRetry(ctx, http.MethodPost, pathHeartbeat, token, heartbeat)
	if err != nil {
		return nil, fmt.Errorf("sending heartbeat: %w", err)
	}
	var response HeartbeatResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("backend: parse heartbeat response: %w", err)
	}
	return &response, nil
}

// Intervention report statuses.
const (
	ReportOK     = "ok"
	ReportFailed = "failed"
)

// InterventionReport tells the backend how an intervention went.
type InterventionReport struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// ReportIntervention POSTs the completion report for one intervention.
func (c *Client) ReportIntervention(ctx context.Context, token, interventionID string, report InterventionReport) error {
	if interventionID == "" {
		return fmt.Errorf("backend: intervention ID is required")
	}
	path := "/v1/device/interventions/" + url.PathEscape(interventionID) + "/report"
	if _, err := c.doRetry(ctx, http.MethodPost, path, token, report); err != nil {
		return fmt.Errorf("reporting intervention %s: %w", interventionID, err)
	}
	return nil
}

// PairRequest registers the device's public keys and asks for a
// pairing code.
type PairRequest struct {
	Fingerprint string `json:"fingerprint"`
	// PublicKey is base64 of the Ed25519 device public key; the
	// backend verifies future challenge signatures against it.
	PublicKey string `json:"public_key"`
	// SealPublicKey is the device's age recipient, for credentials
	// the backend wants only this device to read.
	SealPublicKey string `json:"seal_public_key"`
}

// PairResponse carries the code the user enters (or scans) to claim
// the device.
type PairResponse struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Pairing claim states.
const (
	PairPending = "pending"
	PairClaimed = "claimed"
	PairExpired = "expired"
)

// PairStatus is the poll result for a pairing code.
type PairStatus struct {
	Status string `json:"status"`
	// DeviceID is set once the device is claimed.
	DeviceID string `json:"device_id,omitempty"`
}

// StartPairing requests a pairing code for this device.
func (c *Client) StartPairing(ctx context.Context, request PairRequest) (*PairResponse, error) {
	body, err := c.doRetry(ctx, http.MethodPost, pathPair, "", request)
	if err != nil {
		return nil, fmt.Errorf("starting pairing: %w", err)
	}
	var response PairResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("backend: parse pair response: %w", err)
	}
	if response.Code == "" {
		return nil, fmt.Errorf("backend: pair response has no code")
	}
	return &response, nil
}

// PairingStatus polls the claim state of a pairing code.
func (c *Client) PairingStatus(ctx context.Context, code string) (*PairStatus, error) {
	body, err := c.doRetry(ctx, http.MethodGet, pathPair+"/"+url.PathEscape(code), "", nil)
	if err != nil {
		return nil, fmt.Errorf("polling pairing status: %w", err)
	}
	var status PairStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("backend: parse pairing status: %w", err)
	}
	return &status, nil
}
