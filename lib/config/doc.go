// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the Lyra agent and CLI.
//
// Configuration comes from three layers, lowest precedence first:
//
//  1. Built-in defaults ([Default]), tuned for a provisioned device.
//  2. The agent config file (/etc/lyra/agent.yaml, or LYRA_CONFIG),
//     including an environment-specific override section.
//  3. LYRA_* environment variables. The device .env file
//     (/etc/lyra/lyra.env) is loaded into the process environment first,
//     so its keys behave exactly like exported variables. Variables
//     already set in the environment keep their values; the file never
//     overrides a live export.
//
// [Load] applies all three layers. [LoadFile] skips the .env step and is
// used by commands that take an explicit --config flag.
//
// The default config path is optional: a device that has not completed
// install yet runs on defaults plus whatever LYRA_* variables are set.
// An explicitly named file (LYRA_CONFIG or --config) must exist.
//
// Variable expansion is performed on the three path roots after loading:
// ${HOME}, ${LYRA_STATE}, and ${VAR:-default} patterns are expanded.
//
// Key exports:
//
//   - [Config] -- master struct with Paths, Backend, Heartbeat, Supervisor
//   - [Default] -- returns a Config with production device defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other Lyra packages.
package config
