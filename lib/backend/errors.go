// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthorized is matched by errors.Is for any 401 response. The
// poller treats it as "token expired server-side": clear the cached
// token and re-authenticate on the next cycle.
var ErrUnauthorized = errors.New("backend: unauthorized")

// APIError is a structured error response from the backend. All error
// responses share the same JSON shape.
type APIError struct {
	// Code is the backend error code (e.g. "unauthorized",
	// "unknown_device", "pairing_expired").
	Code string `json:"code"`
	// Message is the human-readable description from the server.
	Message string `json:"message"`
	// StatusCode is the HTTP status code of the response.
	StatusCode int `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Is makes errors.Is(err, ErrUnauthorized) true for 401 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}
