// Package draftstore provides the durable draft stores: a SQLite table
// and a directory of files that other processes can watch and share.
package draftstore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kangrianai89/catatan/internal/apperr"
	"github.com/kangrianai89/catatan/internal/compression"
	"github.com/kangrianai89/catatan/internal/draft"
)

// CompressAbove is the payload size from which SQLite rows are stored
// zstd-compressed.
const CompressAbove = 1 << 10

const schemaSQL = `
CREATE TABLE IF NOT EXISTS drafts (
	key        TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLite is a durable draft.Store backed by one table.
type SQLite struct {
	conn *sql.DB
}

var (
	_ draft.Store  = (*SQLite)(nil)
	_ draft.Lister = (*SQLite)(nil)
)

// OpenSQLite opens (or creates) the draft database at path.
func OpenSQLite(path string) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("draftstore: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("draftstore: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("draftstore: apply schema: %w", err)
	}
	return &SQLite{conn: conn}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.conn.Close()
}

// Get returns the payload stored under key.
func (s *SQLite) Get(key draft.Key) ([]byte, bool, error) {
	var payload []byte
	err := s.conn.QueryRow(`SELECT payload FROM drafts WHERE key = ?`, string(key)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: get: %v", apperr.ErrStorageUnavailable, err)
	}
	data, err := compression.Decompress(payload)
	if err != nil {
		// Unreadable frames surface as corrupt JSON and get self-healed
		// by the adapter.
		return payload, true, nil
	}
	return data, true, nil
}

// Set upserts the payload under key.
func (s *SQLite) Set(key draft.Key, value []byte) error {
	payload := value
	if len(value) >= CompressAbove {
		payload = compression.Compress(value)
	}
	_, err := s.conn.Exec(`
		INSERT INTO drafts (key, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			payload    = excluded.payload,
			updated_at = excluded.updated_at
	`, string(key), payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%w: set: %v", apperr.ErrStorageUnavailable, err)
	}
	return nil
}

// Delete removes key. A missing key is not an error.
func (s *SQLite) Delete(key draft.Key) error {
	if _, err := s.conn.Exec(`DELETE FROM drafts WHERE key = ?`, string(key)); err != nil {
		return fmt.Errorf("%w: delete: %v", apperr.ErrStorageUnavailable, err)
	}
	return nil
}

// Keys lists stored keys starting with prefix, sorted.
func (s *SQLite) Keys(prefix string) ([]draft.Key, error) {
	rows, err := s.conn.Query(`SELECT key FROM drafts WHERE substr(key, 1, ?) = ? ORDER BY key`, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: keys: %v", apperr.ErrStorageUnavailable, err)
	}
	defer rows.Close()
	var out []draft.Key
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, draft.Key(k))
	}
	return out, rows.Err()
}

// Purge removes drafts not written since before, returning how many.
func (s *SQLite) Purge(before time.Time) (int, error) {
	res, err := s.conn.Exec(`DELETE FROM drafts WHERE updated_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: purge: %v", apperr.ErrStorageUnavailable, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
