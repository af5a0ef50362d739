// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

// Package journal records the agent's operational history in SQLite:
// heartbeat outcomes, interventions received and executed, supervision
// events such as client restarts, app updates, and pairing. The status
// and changelog commands read from it; maintenance prunes it.
//
// A device journal is small (a heartbeat a minute is ~1500 rows a
// day), so events live in a single table and retention is a DELETE
// with a time cutoff rather than anything partitioned.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/lyra-voice/lyra/lib/clock"
	"github.com/lyra-voice/lyra/lib/sqlitepool"
)

// Kind classifies a journal event.
type Kind string

const (
	// KindHeartbeat is one heartbeat attempt, successful or not.
	KindHeartbeat Kind = "heartbeat"

	// KindIntervention is a backend intervention received and acted on.
	KindIntervention Kind = "intervention"

	// KindSupervision is a client lifecycle event: start, crash,
	// restart, idle stop, idle wake.
	KindSupervision Kind = "supervision"

	// KindUpdate is an app repository update (fetch, verify, install).
	KindUpdate Kind = "update"

	// KindPairing is a pairing attempt or completion.
	KindPairing Kind = "pairing"

	// KindMaintenance is a scheduled maintenance run.
	KindMaintenance Kind = "maintenance"
)

// Outcome values shared across kinds. Detail carries the specifics.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Event is one journal entry.
type Event struct {
	// ID is assigned by the database. Zero on Record.
	ID int64 `json:"id"`

	// Time is when the event happened. Zero means "now" on Record.
	Time time.Time `json:"time"`

	Kind    Kind   `json:"kind"`
	Outcome string `json:"outcome"`

	// Detail is a human-readable one-liner: "restart requested by
	// backend", "client exited with code 1".
	Detail string `json:"detail,omitempty"`

	// Attributes hold structured extras: intervention IDs, commit
	// hashes, exit codes.
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Config holds the parameters for opening a journal.
type Config struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory must exist. Required.
	Path string

	// PoolSize is the connection pool size. Defaults per sqlitepool.
	PoolSize int

	// Clock stamps events recorded without an explicit time. Defaults
	// to the system clock.
	Clock clock.Clock

	// Logger receives operational messages. Defaults to a no-op
	// logger.
	Logger *slog.Logger
}

// Journal is the SQLite-backed event log.
type Journal struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

const schema = `
	CREATE TABLE IF NOT EXISTS events (
		id         INTEGER PRIMARY KEY,
		time       INTEGER NOT NULL,
		kind       TEXT NOT NULL,
		outcome    TEXT NOT NULL,
		detail     TEXT,
		attributes TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_events_time ON events(time);
	CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind, time);
`

// Open opens (creating if needed) the journal database at cfg.Path.
// The caller must call Close when done.
func Open(cfg Config) (*Journal, error) {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.System()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}

	return &Journal{pool: pool, clock: clk, logger: logger}, nil
}

// Close closes the underlying connection pool.
func (j *Journal) Close() error {
	return j.pool.Close()
}

// Record inserts one event. A zero Time is stamped with the journal's
// clock.
func (j *Journal) Record(ctx context.Context, event Event) error {
	if event.Kind == "" {
		return fmt.Errorf("journal: event kind is required")
	}
	if event.Outcome == "" {
		return fmt.Errorf("journal: event outcome is required")
	}
	if event.Time.IsZero() {
		event.Time = j.clock.Now()
	}

	var attributesJSON any
	if len(event.Attributes) > 0 {
		data, err := json.Marshal(event.Attributes)
		if err != nil {
			return fmt.Errorf("journal: marshal attributes: %w", err)
		}
		attributesJSON = string(data)
	}

	conn, err := j.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("journal: record: %w", err)
	}
	defer j.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO events (time, kind, outcome, detail, attributes)
		 VALUES (?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				event.Time.UTC().UnixNano(),
				string(event.Kind),
				event.Outcome,
				event.Detail,
				attributesJSON,
			},
		})
	if err != nil {
		return fmt.Errorf("journal: insert event: %w", err)
	}
	return nil
}

// Filter specifies the criteria for querying events. Zero-valued
// fields are not applied.
type Filter struct {
	Kind    Kind      // Exact match on kind.
	Outcome string    // Exact match on outcome.
	Since   time.Time // Earliest event time, inclusive.
	Limit   int       // Maximum events to return (default 50).
}

// Recent returns events matching the filter, newest first.
func (j *Journal) Recent(ctx context.Context, filter Filter) ([]Event, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var conditions []string
	var args []any

	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, filter.Outcome)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "time >= ?")
		args = append(args, filter.Since.UTC().UnixNano())
	}

	query := "SELECT id, time, kind, outcome, detail, attributes FROM events"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY time DESC, id DESC LIMIT ?"
	args = append(args, limit)

	conn, err := j.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	defer j.pool.Put(conn)

	var events []Event
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			event, err := scanEvent(stmt)
			if err != nil {
				return err
			}
			events = append(events, event)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("journal: query events: %w", err)
	}
	return events, nil
}

// Counts returns per-kind event counts since the given time. A zero
// since counts everything.
func (j *Journal) Counts(ctx context.Context, since time.Time) (map[Kind]int64, error) {
	conn, err := j.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("journal: counts: %w", err)
	}
	defer j.pool.Put(conn)

	query := "SELECT kind, COUNT(*) FROM events"
	var args []any
	if !since.IsZero() {
		query += " WHERE time >= ?"
		args = append(args, since.UTC().UnixNano())
	}
	query += " GROUP BY kind"

	counts := make(map[Kind]int64)
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			counts[Kind(stmt.ColumnText(0))] = stmt.ColumnInt64(1)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("journal: count events: %w", err)
	}
	return counts, nil
}

// Prune deletes events older than the retention period. Returns how
// many rows were removed. Safe to call from the maintenance job.
func (j *Journal) Prune(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := j.clock.Now().Add(-retention).UTC().UnixNano()

	conn, err := j.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("journal: prune: %w", err)
	}
	defer j.pool.Put(conn)

	err = sqlitex.Execute(conn, "DELETE FROM events WHERE time < ?", &sqlitex.ExecOptions{
		Args: []any{cutoff},
	})
	if err != nil {
		return 0, fmt.Errorf("journal: delete old events: %w", err)
	}

	removed := conn.Changes()
	if removed > 0 {
		j.logger.Info("journal pruned",
			"removed", removed,
			"retention", retention.String(),
		)
	}
	return removed, nil
}

func scanEvent(stmt *sqlite.Stmt) (Event, error) {
	event := Event{
		ID:      stmt.ColumnInt64(0),
		Time:    time.Unix(0, stmt.ColumnInt64(1)).UTC(),
		Kind:    Kind(stmt.ColumnText(2)),
		Outcome: stmt.ColumnText(3),
		Detail:  stmt.ColumnText(4),
	}

	if !stmt.ColumnIsNull(5) {
		attributesJSON := stmt.ColumnText(5)
		if err := json.Unmarshal([]byte(attributesJSON), &event.Attributes); err != nil {
			return event, fmt.Errorf("journal: unmarshal attributes: %w", err)
		}
	}

	return event, nil
}
