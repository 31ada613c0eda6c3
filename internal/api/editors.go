package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kangrianai89/catatan/internal/draft"
	"github.com/kangrianai89/catatan/internal/editor"
)

// OpenEditor handles POST /api/editors. The draft held for the target key
// is preferred over the authoritative fields.
//
//	@Summary		Open an editor session
//	@Tags			editors
//	@Accept			json
//	@Produce		json
//	@Param			body	body		OpenEditorRequest	true	"What to edit"
//	@Success		201		{object}	EditorView
//	@Failure		404		{object}	errResponse	"Entity no longer exists; its draft is kept"
//	@Failure		422		{object}	errResponse
//	@Failure		502		{object}	errResponse	"Entity could not be fetched and there is no draft"
//	@Security		BearerAuth
//	@Router			/editors [post]
func (h *Handler) OpenEditor(w http.ResponseWriter, r *http.Request) {
	var req OpenEditorRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	e, err := h.editors.Open(r.Context(), Owner(r), ClientSession(r), req)
	if err != nil {
		writeError(w, "open editor", err)
		return
	}
	writeJSON(w, http.StatusCreated, e.View())
}

// GetEditor handles GET /api/editors/{id}.
//
//	@Summary		Get editor state
//	@Tags			editors
//	@Produce		json
//	@Param			id	path		string	true	"Editor id"
//	@Success		200	{object}	EditorView
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/editors/{id} [get]
func (h *Handler) GetEditor(w http.ResponseWriter, r *http.Request) {
	e, ok := h.editor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, e.View())
}

// UpdateEditor handles PATCH /api/editors/{id}. The patch is merged and
// a debounced draft write is scheduled.
//
//	@Summary		Edit fields
//	@Tags			editors
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Editor id"
//	@Param			body	body		UpdateEditorRequest	true	"Field patch"
//	@Success		200		{object}	EditorView
//	@Failure		409		{object}	errResponse	"Editor closed or saving"
//	@Failure		422		{object}	errResponse	"Unknown field"
//	@Security		BearerAuth
//	@Router			/editors/{id} [patch]
func (h *Handler) UpdateEditor(w http.ResponseWriter, r *http.Request) {
	e, ok := h.editor(w, r)
	if !ok {
		return
	}
	var req UpdateEditorRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := e.Session().Update(req.Fields); err != nil {
		writeError(w, "update editor", err)
		return
	}
	writeJSON(w, http.StatusOK, e.View())
}

// FlushEditor handles POST /api/editors/{id}/flush.
//
//	@Summary		Write the pending draft now
//	@Tags			editors
//	@Produce		json
//	@Param			id	path		string	true	"Editor id"
//	@Success		200	{object}	EditorView
//	@Security		BearerAuth
//	@Router			/editors/{id}/flush [post]
func (h *Handler) FlushEditor(w http.ResponseWriter, r *http.Request) {
	e, ok := h.editor(w, r)
	if !ok {
		return
	}
	if err := e.Session().Flush(); err != nil {
		writeError(w, "flush editor", err)
		return
	}
	writeJSON(w, http.StatusOK, e.View())
}

// SaveEditor handles POST /api/editors/{id}/save. On success the draft is
// removed; on failure it is kept for a retry.
//
//	@Summary		Save the editor to the authoritative store
//	@Tags			editors
//	@Produce		json
//	@Param			id		path		string	true	"Editor id"
//	@Param			force	query		bool	false	"Skip the version check"
//	@Success		200		{object}	EditorView
//	@Failure		409		{object}	errResponse	"Entity changed since the editor opened"
//	@Failure		422		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/editors/{id}/save [post]
func (h *Handler) SaveEditor(w http.ResponseWriter, r *http.Request) {
	e, ok := h.editor(w, r)
	if !ok {
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	if _, err := e.Session().Save(r.Context(), draft.SaveOptions{Force: force}); err != nil {
		writeError(w, "save editor", err)
		return
	}
	writeJSON(w, http.StatusOK, e.View())
}

// CancelEditor handles POST /api/editors/{id}/cancel.
//
//	@Summary		Discard the draft and restore authoritative fields
//	@Tags			editors
//	@Produce		json
//	@Param			id	path		string	true	"Editor id"
//	@Success		200	{object}	EditorView
//	@Security		BearerAuth
//	@Router			/editors/{id}/cancel [post]
func (h *Handler) CancelEditor(w http.ResponseWriter, r *http.Request) {
	e, ok := h.editor(w, r)
	if !ok {
		return
	}
	if err := e.Session().Cancel(r.Context()); err != nil {
		writeError(w, "cancel editor", err)
		return
	}
	writeJSON(w, http.StatusOK, e.View())
}

// CloseEditor handles DELETE /api/editors/{id}. Pending edits are flushed
// and the draft is kept.
//
//	@Summary		Tear an editor down
//	@Tags			editors
//	@Param			id	path	string	true	"Editor id"
//	@Success		204	"Editor closed"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/editors/{id} [delete]
func (h *Handler) CloseEditor(w http.ResponseWriter, r *http.Request) {
	if err := h.editors.Close(Owner(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, "close editor", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EndSession handles DELETE /api/session: the client browsing session
// ends, taking its editors and session-scope drafts with it.
//
//	@Summary		End the client session
//	@Tags			editors
//	@Success		204	"Session ended"
//	@Security		BearerAuth
//	@Router			/session [delete]
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	h.editors.EndClient(Owner(r), ClientSession(r))
	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "", Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}

// ListDrafts handles GET /api/drafts.
//
//	@Summary		List pending drafts
//	@Tags			drafts
//	@Produce		json
//	@Success		200	{object}	DraftListResponse
//	@Security		BearerAuth
//	@Router			/drafts [get]
func (h *Handler) ListDrafts(w http.ResponseWriter, r *http.Request) {
	drafts, err := h.editors.ListDrafts(Owner(r), ClientSession(r))
	if err != nil {
		writeError(w, "list drafts", err)
		return
	}
	writeJSON(w, http.StatusOK, DraftListResponse{Drafts: drafts})
}

// GetDraft handles GET /api/drafts/{kind}/{id}. Use id "new" with
// ?parent= for creation flows.
//
//	@Summary		Check for a pending draft
//	@Tags			drafts
//	@Produce		json
//	@Param			kind	path		string	true	"Entity kind"
//	@Param			id		path		string	true	"Entity id or new"
//	@Param			parent	query		string	false	"Parent of a creation flow"
//	@Success		200		{object}	DraftSummary
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/drafts/{kind}/{id} [get]
func (h *Handler) GetDraft(w http.ResponseWriter, r *http.Request) {
	d, err := h.editors.PendingDraft(Owner(r), ClientSession(r),
		draft.Kind(chi.URLParam(r, "kind")), chi.URLParam(r, "id"), r.URL.Query().Get("parent"))
	if err != nil {
		writeError(w, "get draft", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// DiscardDraft handles DELETE /api/drafts/{kind}/{id}.
//
//	@Summary		Discard a pending draft
//	@Tags			drafts
//	@Param			kind	path	string	true	"Entity kind"
//	@Param			id		path	string	true	"Entity id or new"
//	@Param			parent	query	string	false	"Parent of a creation flow"
//	@Success		204		"Draft discarded"
//	@Security		BearerAuth
//	@Router			/drafts/{kind}/{id} [delete]
func (h *Handler) DiscardDraft(w http.ResponseWriter, r *http.Request) {
	err := h.editors.DiscardDraft(Owner(r), ClientSession(r),
		draft.Kind(chi.URLParam(r, "kind")), chi.URLParam(r, "id"), r.URL.Query().Get("parent"))
	if err != nil {
		writeError(w, "discard draft", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) editor(w http.ResponseWriter, r *http.Request) (*editor.Editor, bool) {
	e, err := h.editors.Get(Owner(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get editor", err)
		return nil, false
	}
	return e, true
}
