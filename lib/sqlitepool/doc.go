// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides a SQLite connection pool tuned for the
// device.
//
// It wraps zombiezen.com/go/sqlite with pragmas sized for a Raspberry
// Pi running off an SD card: WAL journal mode, NORMAL synchronous (a
// power pull can lose the last few transactions but never corrupts the
// file, and FULL would thrash the card), a small page cache, and a
// busy timeout so the agent's few concurrent users wait for the write
// lock instead of surfacing SQLITE_BUSY.
//
// The pool is built on zombiezen's sqlitex.Pool. Callers [Pool.Take] a
// connection, perform work, and [Pool.Put] it back. Connections are
// NOT safe for concurrent use; each goroutine must hold its own
// connection for the duration of its work.
//
// # Pragmas
//
// Every connection in the pool is initialized with these pragmas:
//
//   - journal_mode=WAL: concurrent readers and a single writer. Reads
//     never block writes; writes never block reads.
//   - synchronous=NORMAL: transactions survive process crashes. Not
//     durable across power failure, which is the right trade for a
//     journal of operational events.
//   - busy_timeout=5000: wait up to 5 seconds for a write lock.
//   - foreign_keys=OFF: referential integrity is managed explicitly.
//   - cache_size=-2048: 2 MB page cache per connection. The device
//     shares its memory with the voice client.
//   - mmap_size=67108864: 64 MB memory-mapped I/O for reads.
//   - temp_store=MEMORY: temporary tables and indexes in memory,
//     sparing the SD card.
//
// # Design
//
// This package is intentionally thin: it applies standard pragmas and
// exposes the underlying zombiezen types directly. Callers write SQL,
// use sqlitex.Execute for cached statements, and manage transactions
// with sqlitex.ImmediateTransaction. There is no query builder and no
// ORM layer.
package sqlitepool
