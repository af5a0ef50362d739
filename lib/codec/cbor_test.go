// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

func TestMarshalDeterministic(t *testing.T) {
	// Map key order must not affect the encoding.
	a := map[string]int{"cpu": 42, "mem": 512, "disk": 9000}
	b := map[string]int{"disk": 9000, "mem": 512, "cpu": 42}

	encodedA, err := Marshal(a)
	if err != nil {
		t.Fatalf("Marshal(a): %v", err)
	}
	encodedB, err := Marshal(b)
	if err != nil {
		t.Fatalf("Marshal(b): %v", err)
	}
	if !bytes.Equal(encodedA, encodedB) {
		t.Errorf("deterministic encoding differs:\n a = %x\n b = %x", encodedA, encodedB)
	}
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	type wire struct {
		Action string `cbor:"action"`
		Extra  int    `cbor:"extra"`
	}
	type narrow struct {
		Action string `cbor:"action"`
	}

	data, err := Marshal(wire{Action: "status", Extra: 7})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got narrow
	if err := Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Action != "status" {
		t.Errorf("Action = %q, want %q", got.Action, "status")
	}
}

func TestAnyTargetDecodesToStringKeyedMap(t *testing.T) {
	data, err := Marshal(map[string]any{"state": "running", "restarts": 3})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	m, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
	if m["state"] != "running" {
		t.Errorf("state = %v, want running", m["state"])
	}
}

func TestEncoderDecoderStream(t *testing.T) {
	type request struct {
		Action string `cbor:"action"`
	}

	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	if err := encoder.Encode(request{Action: "restart-client"}); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var got request
	decoder := NewDecoder(&buffer)
	if err := decoder.Decode(&got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Action != "restart-client" {
		t.Errorf("Action = %q, want %q", got.Action, "restart-client")
	}
}
