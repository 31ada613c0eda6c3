// Package entityservice is the authoritative persistence service: it
// validates and indexes entity writes, owns attachment swaps and exposes
// itself to editors as a draft.Remote.
package entityservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kangrianai89/catatan/internal/apperr"
	"github.com/kangrianai89/catatan/internal/blob"
	"github.com/kangrianai89/catatan/internal/draft"
	"github.com/kangrianai89/catatan/internal/entity"
	"github.com/kangrianai89/catatan/internal/models"
	"github.com/kangrianai89/catatan/internal/parser"
)

// Change ops passed to a Notifier.
const (
	OpCreated = "created"
	OpUpdated = "updated"
	OpDeleted = "deleted"
)

// Notifier is told about committed entity changes.
type Notifier func(op, owner string, e *models.Entity)

// Service coordinates the entity repository and the blob store.
type Service struct {
	repo     entity.Repository
	blobs    blob.Store
	registry *draft.Registry
	logger   *slog.Logger
	notify   Notifier
	now      func() time.Time
}

// New creates the service. blobs may be nil when attachments are not
// configured.
func New(repo entity.Repository, blobs blob.Store, registry *draft.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{repo: repo, blobs: blobs, registry: registry, logger: logger, now: time.Now}
}

// SetNotifier installs the change callback.
func (s *Service) SetNotifier(n Notifier) { s.notify = n }

// Registry returns the kind registry the service validates against.
func (s *Service) Registry() *draft.Registry { return s.registry }

// CreateInput describes a new entity.
type CreateInput struct {
	Kind     draft.Kind
	ParentID string
	Fields   draft.Record
}

// UpdateInput describes a change. Fields is merged over the stored
// fields; a nil ParentID keeps the parent.
type UpdateInput struct {
	Fields    draft.Record
	ParentID  *string
	IfVersion int64
}

// Get returns one entity.
func (s *Service) Get(ctx context.Context, owner, id string) (*models.Entity, error) {
	e, err := s.repo.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	return s.detail(e), nil
}

// Create validates and stores a new entity.
func (s *Service) Create(ctx context.Context, owner string, in CreateInput) (*models.Entity, error) {
	schema, err := s.registry.Lookup(in.Kind)
	if err != nil {
		return nil, err
	}
	fields, err := schema.Normalize(in.Fields)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(fields); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalid, err)
	}
	parentID := in.ParentID
	if parentID == draft.RootParent {
		parentID = ""
	}
	if err := s.checkParent(ctx, owner, parentID, ""); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	e := &entity.Entity{
		ID:        uuid.NewString(),
		OwnerID:   owner,
		Kind:      in.Kind,
		ParentID:  parentID,
		Fields:    fields,
		CreatedAt: now,
		UpdatedAt: now,
	}
	index(e)
	if err := s.repo.Insert(ctx, e); err != nil {
		return nil, err
	}
	s.logger.Info("entity created", slog.String("id", e.ID), slog.String("kind", string(e.Kind)))
	out := s.detail(e)
	s.emit(OpCreated, owner, out)
	return out, nil
}

// Update merges fields into an entity with an optional version check.
func (s *Service) Update(ctx context.Context, owner, id string, in UpdateInput) (*models.Entity, error) {
	e, err := s.repo.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	schema, err := s.registry.Lookup(e.Kind)
	if err != nil {
		return nil, err
	}
	fields, err := schema.Merge(e.Fields, in.Fields)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(fields); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalid, err)
	}
	if in.ParentID != nil && *in.ParentID != e.ParentID {
		parentID := *in.ParentID
		if parentID == draft.RootParent {
			parentID = ""
		}
		if err := s.checkParent(ctx, owner, parentID, e.ID); err != nil {
			return nil, err
		}
		e.ParentID = parentID
	}
	e.Fields = fields
	e.UpdatedAt = s.now().UTC()
	index(e)
	if err := s.repo.Update(ctx, e, in.IfVersion); err != nil {
		return nil, err
	}
	out := s.detail(e)
	s.emit(OpUpdated, owner, out)
	return out, nil
}

// Delete removes an entity and its attachment. Folders must be empty.
func (s *Service) Delete(ctx context.Context, owner, id string) error {
	e, err := s.repo.Get(ctx, owner, id)
	if err != nil {
		return err
	}
	if e.Kind == draft.KindFolder {
		n, err := s.repo.CountChildren(ctx, owner, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: folder %s has %d entries", apperr.ErrConflict, id, n)
		}
	}
	if err := s.repo.Delete(ctx, owner, id); err != nil {
		return err
	}
	if e.BlobPath != "" && s.blobs != nil {
		if err := s.blobs.Delete(ctx, e.BlobPath); err != nil {
			s.logger.Warn("entity: attachment not removed", slog.String("path", e.BlobPath), slog.String("error", err.Error()))
		}
	}
	s.emit(OpDeleted, owner, s.detail(e))
	return nil
}

// List returns a page of entities.
func (s *Service) List(ctx context.Context, owner string, q entity.ListQuery) ([]models.EntityListItem, int, error) {
	rows, total, err := s.repo.List(ctx, owner, q)
	if err != nil {
		return nil, 0, err
	}
	items := make([]models.EntityListItem, len(rows))
	for i, r := range rows {
		items[i] = models.EntityListItem{
			ID:        r.ID,
			Kind:      r.Kind,
			ParentID:  r.ParentID,
			Title:     r.Title,
			Tags:      nonNilSlice(r.Tags),
			Version:   r.Version,
			UpdatedAt: r.UpdatedAt,
		}
	}
	return items, total, nil
}

// Search runs a text search.
func (s *Service) Search(ctx context.Context, owner, query string, limit int) ([]models.SearchHit, error) {
	res, err := s.repo.Search(ctx, owner, query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.SearchHit, len(res))
	for i, r := range res {
		out[i] = models.SearchHit{ID: r.ID, Kind: r.Kind, Title: r.Title, Snippet: r.Snippet}
	}
	return out, nil
}

// SwapBlob replaces an entity's attachment. The new object is written
// first and the old one removed only after the entity points at the new
// one. Editable fields and any draft are untouched.
func (s *Service) SwapBlob(ctx context.Context, owner, id, filename string, data []byte) (*models.Entity, error) {
	if s.blobs == nil {
		return nil, fmt.Errorf("%w: attachments are not configured", apperr.ErrInvalid)
	}
	e, err := s.repo.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	filename = blob.Sanitize(filename)
	if err := blob.Check(filename, data); err != nil {
		return nil, err
	}
	key := blob.EntityKey(owner, id, filename)
	if err := s.blobs.Put(ctx, key, data, blob.ContentType(filename)); err != nil {
		return nil, err
	}
	if err := s.repo.SetBlobPath(ctx, owner, id, key); err != nil {
		_ = s.blobs.Delete(ctx, key)
		return nil, err
	}
	if old := e.BlobPath; old != "" {
		if err := s.blobs.Delete(ctx, old); err != nil {
			s.logger.Warn("entity: old attachment not removed", slog.String("path", old), slog.String("error", err.Error()))
		}
	}
	e.BlobPath = key
	out := s.detail(e)
	s.emit(OpUpdated, owner, out)
	return out, nil
}

// PutAsset stores a standalone attachment (not bound to an entity) and
// returns its key and URL.
func (s *Service) PutAsset(ctx context.Context, owner, filename string, data []byte) (string, string, error) {
	if s.blobs == nil {
		return "", "", fmt.Errorf("%w: attachments are not configured", apperr.ErrInvalid)
	}
	filename = blob.Sanitize(filename)
	if err := blob.Check(filename, data); err != nil {
		return "", "", err
	}
	key := blob.EntityKey(owner, "assets", filename)
	if err := s.blobs.Put(ctx, key, data, blob.ContentType(filename)); err != nil {
		return "", "", err
	}
	return key, s.blobs.URL(key), nil
}

// checkParent verifies parentID names an existing folder and that moving
// self under it would not create a cycle.
func (s *Service) checkParent(ctx context.Context, owner, parentID, self string) error {
	for id, depth := parentID, 0; id != ""; depth++ {
		if id == self || depth > 64 {
			return fmt.Errorf("%w: %s cannot be moved under itself", apperr.ErrInvalid, self)
		}
		p, err := s.repo.Get(ctx, owner, id)
		if errors.Is(err, apperr.ErrNotFound) {
			return fmt.Errorf("%w: parent %s", apperr.ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		if depth == 0 && p.Kind != draft.KindFolder {
			return fmt.Errorf("%w: parent %s is a %s, not a folder", apperr.ErrInvalid, id, p.Kind)
		}
		if self == "" {
			return nil
		}
		id = p.ParentID
	}
	return nil
}

func (s *Service) emit(op, owner string, e *models.Entity) {
	if s.notify != nil {
		s.notify(op, owner, e)
	}
}

// index fills the derived columns from the fields.
func index(e *entity.Entity) {
	res := parser.Parse(e.Fields)
	e.Title = res.Title
	e.Body = res.Body
	e.Tags = nonNilSlice(res.Tags)
}

func (s *Service) detail(e *entity.Entity) *models.Entity {
	res := parser.Parse(e.Fields)
	out := &models.Entity{
		ID:        e.ID,
		Kind:      e.Kind,
		ParentID:  e.ParentID,
		Title:     e.Title,
		Fields:    e.Fields,
		Tags:      nonNilSlice(e.Tags),
		Links:     nonNilSlice(res.Links),
		Version:   e.Version,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
	if e.BlobPath != "" && s.blobs != nil {
		out.BlobURL = s.blobs.URL(e.BlobPath)
	}
	return out
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
