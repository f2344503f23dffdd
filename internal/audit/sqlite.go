package audit

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Store persists audit logs in SQLite. The table is append-only by
// convention; the chain hashes make any after-the-fact edit detectable
// regardless.
type Store struct {
	db *sql.DB
}

// Open creates or opens an audit database at the given path.
//
// The database is configured with WAL mode for concurrent readers,
// NORMAL synchronous mode, a 5-second busy timeout, and foreign key
// enforcement. Safe to call repeatedly on the same path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect audit database: %w", err)
	}

	// SQLite allows one writer; a single connection avoids
	// SQLITE_BUSY from our own pool.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply audit schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save writes the log's entries in a single transaction. Entries
// already present (by index) must be identical; a changed row is a
// corruption of the persistence layer and fails the save.
func (s *Store) Save(ctx context.Context, log *Log) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entries (idx, kind, epoch, event_id, payload, state_id, gas_remaining, prev_hash, entry_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(idx) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare save: %w", err)
	}
	defer stmt.Close()

	for _, e := range log.entries {
		if _, err := stmt.ExecContext(ctx,
			e.Index, string(e.Kind), e.Epoch, e.EventID, e.Payload,
			e.StateID, e.GasRemaining, e.PrevHash, e.EntryHash,
		); err != nil {
			return fmt.Errorf("save entry %d: %w", e.Index, err)
		}

		var existing string
		if err := tx.QueryRowContext(ctx,
			"SELECT entry_hash FROM entries WHERE idx = ?", e.Index,
		).Scan(&existing); err != nil {
			return fmt.Errorf("verify entry %d: %w", e.Index, err)
		}
		if existing != e.EntryHash {
			return fmt.Errorf("entry %d already persisted with different hash", e.Index)
		}
	}

	return tx.Commit()
}

// Load reads all persisted entries in chain order and reconstructs the
// log.
func (s *Store) Load(ctx context.Context) (*Log, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, kind, epoch, event_id, payload, state_id, gas_remaining, prev_hash, entry_hash
		FROM entries ORDER BY idx ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var kind string
		if err := rows.Scan(&e.Index, &kind, &e.Epoch, &e.EventID, &e.Payload,
			&e.StateID, &e.GasRemaining, &e.PrevHash, &e.EntryHash); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Kind = EntryKind(kind)
		if e.Index != int64(len(entries)) {
			return nil, fmt.Errorf("entry index gap: expected %d, found %d", len(entries), e.Index)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}

	return FromEntries(entries)
}
