package api

import (
	"github.com/kangrianai89/catatan/internal/draft"
	"github.com/kangrianai89/catatan/internal/editor"
	"github.com/kangrianai89/catatan/internal/models"
)

// CreateEntityRequest is the request body for creating an entity.
type CreateEntityRequest struct {
	Kind     draft.Kind   `json:"kind" example:"note" validate:"required"`
	ParentID string       `json:"parent_id,omitempty" example:"root"`
	Fields   draft.Record `json:"fields"`
}

// UpdateEntityRequest is the request body for updating an entity. Fields
// are merged over the stored ones; version 0 skips the version check.
type UpdateEntityRequest struct {
	Fields   draft.Record `json:"fields"`
	ParentID *string      `json:"parent_id,omitempty"`
	Version  int64        `json:"version,omitempty" example:"3"`
}

// EntityDetail is the full entity response type (aliased from the domain layer).
type EntityDetail = models.Entity

// EntityListResponse wraps paginated entity listings.
type EntityListResponse struct {
	Entities []models.EntityListItem `json:"entities" validate:"required"`
	Total    int                     `json:"total" example:"42" validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []models.SearchHit `json:"results" validate:"required"`
}

// KindInfo describes one entity kind.
type KindInfo struct {
	Kind     draft.Kind   `json:"kind" example:"quick-note"`
	Scope    draft.Scope  `json:"scope" example:"durable"`
	Defaults draft.Record `json:"defaults"`
}

// OpenEditorRequest selects what an editor edits. Leave entity_id empty
// (or "new") to create under parent_id.
type OpenEditorRequest = editor.OpenRequest

// UpdateEditorRequest is a field patch.
type UpdateEditorRequest struct {
	Fields draft.Record `json:"fields" validate:"required"`
}

// EditorView is the state of an editor.
type EditorView = editor.View

// DraftSummary describes a pending draft (aliased from the domain layer).
type DraftSummary = models.DraftSummary

// DraftListResponse wraps pending drafts.
type DraftListResponse struct {
	Drafts []models.DraftSummary `json:"drafts" validate:"required"`
}
