// Package models defines the domain views shared by the HTTP API, the MCP
// server and SSE payloads.
package models

import (
	"time"

	"github.com/kangrianai89/catatan/internal/draft"
)

// Entity is the full representation of an authoritative entity.
type Entity struct {
	ID        string       `json:"id"`
	Kind      draft.Kind   `json:"kind"`
	ParentID  string       `json:"parent_id,omitempty"`
	Title     string       `json:"title"`
	Fields    draft.Record `json:"fields"`
	Tags      []string     `json:"tags"`
	Links     []string     `json:"links"`
	Version   int64        `json:"version"`
	BlobURL   string       `json:"blob_url,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// EntityListItem is a lightweight item in a list response.
type EntityListItem struct {
	ID        string     `json:"id"`
	Kind      draft.Kind `json:"kind"`
	ParentID  string     `json:"parent_id,omitempty"`
	Title     string     `json:"title"`
	Tags      []string   `json:"tags"`
	Version   int64      `json:"version"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// SearchHit is one search result.
type SearchHit struct {
	ID      string     `json:"id"`
	Kind    draft.Kind `json:"kind"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
}

// DraftSummary describes a pending draft without its fields.
type DraftSummary struct {
	Key      draft.Key  `json:"key"`
	Kind     draft.Kind `json:"kind"`
	EntityID string     `json:"entity_id"`
	ParentID string     `json:"parent_id,omitempty"`
	BasedOn  string     `json:"based_on,omitempty"`
	SavedAt  time.Time  `json:"saved_at"`
}
