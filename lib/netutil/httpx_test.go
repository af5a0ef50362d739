// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"strings"
	"testing"
)

func TestDecodeResponse(t *testing.T) {
	body := strings.NewReader(`{"token":"abc","expires_in":900}`)

	var payload struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expires_in"`
	}
	if err := DecodeResponse(body, &payload); err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if payload.Token != "abc" {
		t.Errorf("Token = %q, want %q", payload.Token, "abc")
	}
	if payload.ExpiresIn != 900 {
		t.Errorf("ExpiresIn = %d, want 900", payload.ExpiresIn)
	}
}

func TestDecodeResponseInvalidJSON(t *testing.T) {
	var v map[string]any
	if err := DecodeResponse(strings.NewReader("{broken"), &v); err == nil {
		t.Error("DecodeResponse(invalid) = nil error, want error")
	}
}

func TestReadResponseBounded(t *testing.T) {
	oversized := strings.NewReader(strings.Repeat("x", int(MaxResponseSize)+1024))
	data, err := ReadResponse(oversized)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if int64(len(data)) != MaxResponseSize {
		t.Errorf("read %d bytes, want exactly %d", len(data), MaxResponseSize)
	}
}

func TestErrorBody(t *testing.T) {
	if got := ErrorBody(strings.NewReader("device not paired")); got != "device not paired" {
		t.Errorf("ErrorBody = %q, want %q", got, "device not paired")
	}
}
