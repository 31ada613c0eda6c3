package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kangrianai89/catatan/internal/blob"
	"github.com/kangrianai89/catatan/internal/draft"
	"github.com/kangrianai89/catatan/internal/entity"
	"github.com/kangrianai89/catatan/internal/entityservice"
)

// ListEntities handles GET /api/entities.
//
//	@Summary		List entities with optional filtering and pagination
//	@Tags			entities
//	@Produce		json
//	@Param			kind	query		string	false	"Entity kind"
//	@Param			parent	query		string	false	"Parent folder id"
//	@Param			tag		query		string	false	"Filter by tag"
//	@Param			sort	query		string	false	"Sort field"	Enums(updated, title)
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Success		200		{object}	EntityListResponse
//	@Security		BearerAuth
//	@Router			/entities [get]
func (h *Handler) ListEntities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	items, total, err := h.entities.List(r.Context(), Owner(r), entity.ListQuery{
		Kind:     draft.Kind(q.Get("kind")),
		ParentID: q.Get("parent"),
		Tag:      q.Get("tag"),
		Sort:     q.Get("sort"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		writeError(w, "list entities", err)
		return
	}
	writeJSON(w, http.StatusOK, EntityListResponse{Entities: items, Total: total})
}

// GetEntity handles GET /api/entities/{id}.
//
//	@Summary		Get a single entity
//	@Tags			entities
//	@Produce		json
//	@Param			id	path		string	true	"Entity id"
//	@Success		200	{object}	EntityDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entities/{id} [get]
func (h *Handler) GetEntity(w http.ResponseWriter, r *http.Request) {
	e, err := h.entities.Get(r.Context(), Owner(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get entity", err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// CreateEntity handles POST /api/entities. It writes straight to the
// authoritative store; editors save through /editors instead.
//
//	@Summary		Create an entity
//	@Tags			entities
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateEntityRequest	true	"Entity to create"
//	@Success		201		{object}	EntityDetail
//	@Failure		404		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entities [post]
func (h *Handler) CreateEntity(w http.ResponseWriter, r *http.Request) {
	var req CreateEntityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	e, err := h.entities.Create(r.Context(), Owner(r), entityservice.CreateInput{
		Kind:     req.Kind,
		ParentID: req.ParentID,
		Fields:   req.Fields,
	})
	if err != nil {
		writeError(w, "create entity", err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

// UpdateEntity handles PUT /api/entities/{id}.
//
//	@Summary		Update an entity with optimistic concurrency
//	@Tags			entities
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Entity id"
//	@Param			If-Match	header	string				false	"Expected version"
//	@Param			body	body		UpdateEntityRequest	true	"Changed fields"
//	@Success		200		{object}	EntityDetail
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entities/{id} [put]
func (h *Handler) UpdateEntity(w http.ResponseWriter, r *http.Request) {
	var req UpdateEntityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ifVersion := req.Version
	if m := trimETag(r.Header.Get("If-Match")); m != "" {
		v, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("If-Match must be a version number"))
			return
		}
		ifVersion = v
	}
	e, err := h.entities.Update(r.Context(), Owner(r), chi.URLParam(r, "id"), entityservice.UpdateInput{
		Fields:    req.Fields,
		ParentID:  req.ParentID,
		IfVersion: ifVersion,
	})
	if err != nil {
		writeError(w, "update entity", err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// DeleteEntity handles DELETE /api/entities/{id}.
//
//	@Summary		Delete an entity
//	@Tags			entities
//	@Param			id	path	string	true	"Entity id"
//	@Success		204	"Entity deleted"
//	@Failure		404	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entities/{id} [delete]
func (h *Handler) DeleteEntity(w http.ResponseWriter, r *http.Request) {
	if err := h.entities.Delete(r.Context(), Owner(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, "delete entity", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SwapBlob handles PUT /api/entities/{id}/blob (multipart/form-data,
// field "file"). Editable fields and drafts are not touched.
//
//	@Summary		Replace the image of an entity
//	@Tags			entities
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			id		path		string	true	"Entity id"
//	@Param			file	formData	file	true	"Image"
//	@Success		200		{object}	EntityDetail
//	@Failure		404		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entities/{id}/blob [put]
func (h *Handler) SwapBlob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, blob.MaxSize+1<<20)
	if err := r.ParseMultipartForm(blob.MaxSize); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read file"))
		return
	}

	e, err := h.entities.SwapBlob(r.Context(), Owner(r), chi.URLParam(r, "id"), header.Filename, data)
	if err != nil {
		writeError(w, "swap blob", err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// Search handles GET /api/search.
//
//	@Summary		Search entity titles and text
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.entities.Search(r.Context(), Owner(r), q, limit)
	if err != nil {
		writeError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// Kinds handles GET /api/kinds.
//
//	@Summary		List entity kinds with their fields and draft scope
//	@Tags			meta
//	@Produce		json
//	@Success		200	{array}	KindInfo
//	@Security		BearerAuth
//	@Router			/kinds [get]
func (h *Handler) Kinds(w http.ResponseWriter, r *http.Request) {
	reg := h.editors.Registry()
	out := []KindInfo{}
	for _, k := range reg.Kinds() {
		s, err := reg.Lookup(k)
		if err != nil {
			continue
		}
		info := KindInfo{Kind: k, Scope: s.Scope, Defaults: s.EmptyRecord()}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, out)
}

func trimETag(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
