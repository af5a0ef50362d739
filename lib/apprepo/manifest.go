// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package apprepo

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
)

// ManifestName is the manifest filename at the app repository root.
const ManifestName = "manifest.jsonc"

// Manifest describes how to launch the client application. It is
// authored at the app repository root as JSONC: JSON extended with //
// line comments, /* block comments */, and trailing commas, so release
// engineers can annotate entries without breaking the parser.
type Manifest struct {
	// Binary is the client executable, a slash-separated path relative
	// to the repository root.
	Binary string `json:"binary"`

	// Args are passed to the binary verbatim.
	Args []string `json:"args,omitempty"`

	// Env is extra environment for the client, merged over the agent's
	// own environment.
	Env map[string]string `json:"env,omitempty"`

	// WorkDir is the client working directory relative to the
	// repository root. Empty means the root itself.
	WorkDir string `json:"work_dir,omitempty"`

	// IdleTimeout overrides the configured idle-restart window for
	// this client. Zero means use the agent default.
	IdleTimeout Duration `json:"idle_timeout,omitempty"`
}

// Duration is a time.Duration that unmarshals from JSON strings like
// "90s" or "5m".
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("duration must be a string like \"90s\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ParseManifest strips JSONC comments and trailing commas from data,
// unmarshals the result, and validates it.
func ParseManifest(data []byte) (*Manifest, error) {
	stripped := jsonc.ToJSON(data)

	var manifest Manifest
	if err := json.Unmarshal(stripped, &manifest); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	return &manifest, nil
}

// ReadManifest reads and parses the manifest at the root of the app
// checkout dir.
func ReadManifest(dir string) (*Manifest, error) {
	manifestPath := filepath.Join(dir, ManifestName)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", manifestPath, err)
	}
	manifest, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", manifestPath, err)
	}
	return manifest, nil
}

// Validate checks structural requirements: the binary is declared and
// stays inside the repository, as does the working directory, and no
// environment key is empty. The manifest comes from a remote repo, so
// paths that escape the checkout are rejected rather than trusted.
func (m *Manifest) Validate() error {
	if m.Binary == "" {
		return fmt.Errorf("manifest: binary is required")
	}
	if err := checkRepoRelative("binary", m.Binary); err != nil {
		return err
	}
	if m.WorkDir != "" {
		if err := checkRepoRelative("work_dir", m.WorkDir); err != nil {
			return err
		}
	}
	for key := range m.Env {
		if key == "" {
			return fmt.Errorf("manifest: env has an empty key")
		}
	}
	if m.IdleTimeout < 0 {
		return fmt.Errorf("manifest: idle_timeout is negative")
	}
	return nil
}

// BinaryPath returns the absolute path of the client binary inside the
// checkout dir.
func (m *Manifest) BinaryPath(dir string) string {
	return filepath.Join(dir, filepath.FromSlash(m.Binary))
}

// WorkDirPath returns the absolute client working directory inside the
// checkout dir.
func (m *Manifest) WorkDirPath(dir string) string {
	if m.WorkDir == "" {
		return dir
	}
	return filepath.Join(dir, filepath.FromSlash(m.WorkDir))
}

func checkRepoRelative(field, value string) error {
	if path.IsAbs(value) || filepath.IsAbs(value) {
		return fmt.Errorf("manifest: %s %q must be relative to the repository root", field, value)
	}
	cleaned := path.Clean(value)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Errorf("manifest: %s %q escapes the repository root", field, value)
	}
	return nil
}
