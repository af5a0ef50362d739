// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package apprepo

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseManifestJSONC(t *testing.T) {
	data := []byte(`{
		// how to launch the client
		"binary": "bin/client",         // relative to the repo root
		"args": ["--mode", "device"],
		"env": {"CLIENT_LOG": "info"},
		"work_dir": "run",
		"idle_timeout": "90s",          /* restart when idle this long */
	}`)

	manifest, err := ParseManifest(data)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if manifest.Binary != "bin/client" {
		t.Errorf("Binary = %q, want %q", manifest.Binary, "bin/client")
	}
	if len(manifest.Args) != 2 || manifest.Args[0] != "--mode" || manifest.Args[1] != "device" {
		t.Errorf("Args = %v, want [--mode device]", manifest.Args)
	}
	if manifest.Env["CLIENT_LOG"] != "info" {
		t.Errorf("Env = %v, want CLIENT_LOG=info", manifest.Env)
	}
	if manifest.WorkDir != "run" {
		t.Errorf("WorkDir = %q, want %q", manifest.WorkDir, "run")
	}
	if manifest.IdleTimeout.Std() != 90*time.Second {
		t.Errorf("IdleTimeout = %v, want 90s", manifest.IdleTimeout.Std())
	}
}

func TestParseManifestMinimal(t *testing.T) {
	manifest, err := ParseManifest([]byte(`{"binary": "client"}`))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if manifest.Binary != "client" {
		t.Errorf("Binary = %q, want %q", manifest.Binary, "client")
	}
	if manifest.Args != nil || manifest.Env != nil || manifest.WorkDir != "" {
		t.Errorf("optional fields not empty: args=%v env=%v work_dir=%q",
			manifest.Args, manifest.Env, manifest.WorkDir)
	}
	if manifest.IdleTimeout != 0 {
		t.Errorf("IdleTimeout = %v, want 0", manifest.IdleTimeout.Std())
	}
}

func TestParseManifestRejects(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"missing binary", `{}`, "binary is required"},
		{"absolute binary", `{"binary": "/usr/bin/client"}`, "must be relative"},
		{"parent escape", `{"binary": "../client"}`, "escapes the repository root"},
		{"nested escape", `{"binary": "bin/../../client"}`, "escapes the repository root"},
		{"work_dir escape", `{"binary": "client", "work_dir": ".."}`, "escapes the repository root"},
		{"absolute work_dir", `{"binary": "client", "work_dir": "/tmp"}`, "must be relative"},
		{"empty env key", `{"binary": "client", "env": {"": "x"}}`, "empty key"},
		{"negative idle_timeout", `{"binary": "client", "idle_timeout": "-5s"}`, "negative"},
		{"numeric idle_timeout", `{"binary": "client", "idle_timeout": 90}`, "must be a string"},
		{"malformed", `{"binary": `, "parsing manifest"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(test.data))
			if err == nil {
				t.Fatal("ParseManifest succeeded, want error")
			}
			if !strings.Contains(err.Error(), test.wantErr) {
				t.Errorf("error = %q, want substring %q", err, test.wantErr)
			}
		})
	}
}

func TestParseManifestAcceptsDotSegments(t *testing.T) {
	manifest, err := ParseManifest([]byte(`{"binary": "bin/./client"}`))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if manifest.Binary != "bin/./client" {
		t.Errorf("Binary = %q, want raw value preserved", manifest.Binary)
	}
}

func TestBinaryAndWorkDirPaths(t *testing.T) {
	manifest := &Manifest{Binary: "bin/client", WorkDir: "run"}
	dir := filepath.Join("/var/lib/lyra", "app")

	if got, want := manifest.BinaryPath(dir), filepath.Join(dir, "bin", "client"); got != want {
		t.Errorf("BinaryPath = %q, want %q", got, want)
	}
	if got, want := manifest.WorkDirPath(dir), filepath.Join(dir, "run"); got != want {
		t.Errorf("WorkDirPath = %q, want %q", got, want)
	}

	manifest.WorkDir = ""
	if got := manifest.WorkDirPath(dir); got != dir {
		t.Errorf("WorkDirPath with empty work_dir = %q, want checkout dir %q", got, dir)
	}
}

func TestReadManifest(t *testing.T) {
	dir := t.TempDir()
	data := []byte(`{
		// minimal client
		"binary": "client",
	}`)
	if err := os.WriteFile(filepath.Join(dir, ManifestName), data, 0644); err != nil {
		t.Fatalf("writing manifest: %v", err)
	}

	manifest, err := ReadManifest(dir)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if manifest.Binary != "client" {
		t.Errorf("Binary = %q, want %q", manifest.Binary, "client")
	}
}

func TestReadManifestMissing(t *testing.T) {
	_, err := ReadManifest(t.TempDir())
	if err == nil {
		t.Fatal("ReadManifest on empty dir succeeded, want error")
	}
	if !strings.Contains(err.Error(), ManifestName) {
		t.Errorf("error = %q, want mention of %s", err, ManifestName)
	}
}
