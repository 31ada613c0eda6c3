//go:build !sqlite_fts5

package entity

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// initFTS is a no-op without FTS5; Search scans the body column.
func initFTS(_ *sql.DB) error { return nil }

// Search performs a LIKE match over titles, bodies and tags.
func (db *DB) Search(ctx context.Context, owner, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + escapeLike(query) + "%"
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, kind, title, substr(body, 1, 200)
		FROM entities
		WHERE owner_id = ? AND (title LIKE ? ESCAPE '\' OR body LIKE ? ESCAPE '\' OR tags LIKE ? ESCAPE '\')
		ORDER BY updated_at DESC
		LIMIT ?
	`, owner, like, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("entity: search: %w", err)
	}
	defer rows.Close()
	return scanResults(rows)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
