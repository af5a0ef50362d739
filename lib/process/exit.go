// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"os"
)

// Fatal prints err to stderr and exits with code 1. It is for startup
// failures in lyra-agent's main, before the log spool and slog handler
// exist; once the agent is running, errors go through the logger and
// the journal instead.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
