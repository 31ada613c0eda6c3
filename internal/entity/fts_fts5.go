//go:build sqlite_fts5

package entity

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// The FTS table mirrors entities through triggers, so writers never touch
// it directly.
const ftsSQL = `
CREATE VIRTUAL TABLE IF NOT EXISTS entities_fts USING fts5(
	id UNINDEXED,
	owner_id UNINDEXED,
	title,
	body,
	tags,
	tokenize = 'unicode61 remove_diacritics 2'
);

CREATE TRIGGER IF NOT EXISTS entities_fts_insert AFTER INSERT ON entities BEGIN
	INSERT INTO entities_fts (id, owner_id, title, body, tags)
	VALUES (new.id, new.owner_id, new.title, new.body, new.tags);
END;

CREATE TRIGGER IF NOT EXISTS entities_fts_update AFTER UPDATE OF title, body, tags ON entities BEGIN
	DELETE FROM entities_fts WHERE id = old.id AND owner_id = old.owner_id;
	INSERT INTO entities_fts (id, owner_id, title, body, tags)
	VALUES (new.id, new.owner_id, new.title, new.body, new.tags);
END;

CREATE TRIGGER IF NOT EXISTS entities_fts_delete AFTER DELETE ON entities BEGIN
	DELETE FROM entities_fts WHERE id = old.id AND owner_id = old.owner_id;
END;

INSERT INTO entities_fts (id, owner_id, title, body, tags)
SELECT id, owner_id, title, body, tags FROM entities
WHERE NOT EXISTS (SELECT 1 FROM entities_fts f WHERE f.id = entities.id AND f.owner_id = entities.owner_id);
`

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(ftsSQL)
	return err
}

// Search performs an FTS5 full-text search and returns matching results with snippets.
func (db *DB) Search(ctx context.Context, owner, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT e.id, e.kind, e.title, snippet(entities_fts, 3, '<b>', '</b>', '...', 32)
		FROM entities_fts
		JOIN entities e ON e.id = entities_fts.id AND e.owner_id = entities_fts.owner_id
		WHERE entities_fts MATCH ? AND entities_fts.owner_id = ?
		ORDER BY rank
		LIMIT ?
	`, match, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("entity: search: %w", err)
	}
	defer rows.Close()

	return scanResults(rows)
}

// ftsQuery quotes each term as a prefix phrase so user input cannot use
// FTS5 query syntax.
func ftsQuery(q string) string {
	terms := strings.Fields(q)
	for i, t := range terms {
		terms[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"*`
	}
	return strings.Join(terms, " ")
}
