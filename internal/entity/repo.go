package entity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kangrianai89/catatan/internal/apperr"
	"github.com/kangrianai89/catatan/internal/draft"
)

// Entity is one row of the entities table.
type Entity struct {
	ID        string
	OwnerID   string
	Kind      draft.Kind
	ParentID  string
	Title     string
	Fields    draft.Record
	Tags      []string
	Body      string
	BlobPath  string
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ListQuery filters List.
type ListQuery struct {
	Kind     draft.Kind
	ParentID string
	Tag      string
	// Sort is "title" or "updated" (newest first, the default).
	Sort   string
	Limit  int
	Offset int
}

// SearchResult is one search hit.
type SearchResult struct {
	ID      string
	Kind    draft.Kind
	Title   string
	Snippet string
}

// Repository is the entity persistence contract. Consumers depend on it
// rather than *DB so services can be tested against fakes.
type Repository interface {
	Get(ctx context.Context, owner, id string) (*Entity, error)
	Insert(ctx context.Context, e *Entity) error
	Update(ctx context.Context, e *Entity, ifVersion int64) error
	SetBlobPath(ctx context.Context, owner, id, path string) error
	Delete(ctx context.Context, owner, id string) error
	CountChildren(ctx context.Context, owner, parentID string) (int, error)
	List(ctx context.Context, owner string, q ListQuery) ([]Entity, int, error)
	Search(ctx context.Context, owner, query string, limit int) ([]SearchResult, error)
}

var _ Repository = (*DB)(nil)

const columns = `id, owner_id, kind, parent_id, title, data, tags, body, blob_path, version, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(row scanner) (*Entity, error) {
	var (
		e          Entity
		kind       string
		data, tags string
	)
	if err := row.Scan(&e.ID, &e.OwnerID, &kind, &e.ParentID, &e.Title, &data, &tags, &e.Body, &e.BlobPath, &e.Version, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Kind = draft.Kind(kind)
	if err := json.Unmarshal([]byte(data), &e.Fields); err != nil {
		return nil, fmt.Errorf("entity: decode fields of %s: %w", e.ID, err)
	}
	_ = json.Unmarshal([]byte(tags), &e.Tags)
	return &e, nil
}

// Get returns the entity owned by owner, or apperr.ErrNotFound.
func (db *DB) Get(ctx context.Context, owner, id string) (*Entity, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+columns+` FROM entities WHERE owner_id = ? AND id = ?`, owner, id)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("entity: get: %w", err)
	}
	return e, nil
}

// Insert stores a new entity at version 1.
func (db *DB) Insert(ctx context.Context, e *Entity) error {
	data, tags, err := encode(e)
	if err != nil {
		return err
	}
	e.Version = 1
	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO entities (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.OwnerID, string(e.Kind), e.ParentID, e.Title, data, tags, e.Body, e.BlobPath, e.Version, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: entity %s", apperr.ErrAlreadyExists, e.ID)
		}
		return fmt.Errorf("entity: insert: %w", err)
	}
	return nil
}

// Update rewrites the editable columns and bumps the version. A non-zero
// ifVersion must match the stored version or apperr.ErrConflict is
// returned.
func (db *DB) Update(ctx context.Context, e *Entity, ifVersion int64) error {
	data, tags, err := encode(e)
	if err != nil {
		return err
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("entity: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	var current int64
	err = tx.QueryRowContext(ctx, `SELECT version FROM entities WHERE owner_id = ? AND id = ?`, e.OwnerID, e.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("entity: read version: %w", err)
	}
	if ifVersion != 0 && ifVersion != current {
		return fmt.Errorf("%w: %s is at version %d, not %d", apperr.ErrConflict, e.ID, current, ifVersion)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE entities SET
			parent_id  = ?,
			title      = ?,
			data       = ?,
			tags       = ?,
			body       = ?,
			version    = version + 1,
			updated_at = ?
		WHERE owner_id = ? AND id = ?
	`, e.ParentID, e.Title, data, tags, e.Body, e.UpdatedAt, e.OwnerID, e.ID)
	if err != nil {
		return fmt.Errorf("entity: update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("entity: commit: %w", err)
	}
	e.Version = current + 1
	return nil
}

// SetBlobPath records the attachment of an entity without bumping its
// version; attachments are not editable fields.
func (db *DB) SetBlobPath(ctx context.Context, owner, id, path string) error {
	res, err := db.conn.ExecContext(ctx, `UPDATE entities SET blob_path = ? WHERE owner_id = ? AND id = ?`, path, owner, id)
	if err != nil {
		return fmt.Errorf("entity: set blob: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// Delete removes an entity.
func (db *DB) Delete(ctx context.Context, owner, id string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM entities WHERE owner_id = ? AND id = ?`, owner, id)
	if err != nil {
		return fmt.Errorf("entity: delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// CountChildren returns how many entities name parentID as their parent.
func (db *DB) CountChildren(ctx context.Context, owner, parentID string) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM entities WHERE owner_id = ? AND parent_id = ?`, owner, parentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("entity: count children: %w", err)
	}
	return n, nil
}

// List returns a page of entities and the total matching count.
func (db *DB) List(ctx context.Context, owner string, q ListQuery) ([]Entity, int, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	where := []string{"owner_id = ?"}
	args := []any{owner}
	if q.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(q.Kind))
	}
	if q.ParentID != "" {
		where = append(where, "parent_id = ?")
		args = append(args, q.ParentID)
	}
	if q.Tag != "" {
		where = append(where, "EXISTS (SELECT 1 FROM json_each(entities.tags) WHERE json_each.value = ?)")
		args = append(args, q.Tag)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM entities WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("entity: count: %w", err)
	}

	order := "updated_at DESC, id"
	if q.Sort == "title" {
		order = "title COLLATE NOCASE, id"
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+columns+` FROM entities WHERE `+cond+` ORDER BY `+order+` LIMIT ? OFFSET ?`,
		append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("entity: list: %w", err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *e)
	}
	return out, total, rows.Err()
}

func encode(e *Entity) (string, string, error) {
	fields := e.Fields
	if fields == nil {
		fields = draft.Record{}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", "", fmt.Errorf("%w: encode fields: %v", apperr.ErrInvalid, err)
	}
	tags := e.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, _ := json.Marshal(tags)
	return string(data), string(tagsJSON), nil
}

func scanResults(rows *sql.Rows) ([]SearchResult, error) {
	var out []SearchResult
	for rows.Next() {
		var (
			r    SearchResult
			kind string
		)
		if err := rows.Scan(&r.ID, &kind, &r.Title, &r.Snippet); err != nil {
			return nil, err
		}
		r.Kind = draft.Kind(kind)
		out = append(out, r)
	}
	return out, rows.Err()
}
