package api

import (
	"bytes"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kangrianai89/catatan/internal/apperr"
	"github.com/kangrianai89/catatan/internal/blob"
)

// AttachmentHandler serves stored attachments for backends without a
// public URL of their own.
type AttachmentHandler struct {
	store blob.Store
}

// NewAttachmentHandler creates a handler reading from store.
func NewAttachmentHandler(store blob.Store) *AttachmentHandler {
	return &AttachmentHandler{store: store}
}

// ServeFile handles GET /attachments/*.
func (h *AttachmentHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	key, err := url.PathUnescape(strings.TrimPrefix(chi.URLParam(r, "*"), "/"))
	if err != nil || key == "" {
		http.Error(w, "invalid attachment path", http.StatusBadRequest)
		return
	}
	data, err := h.store.Get(r.Context(), key)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		http.NotFound(w, r)
		return
	case errors.Is(err, apperr.ErrInvalid):
		http.Error(w, "invalid attachment path", http.StatusBadRequest)
		return
	case err != nil:
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	ctype := blob.ContentType(key)
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if strings.HasSuffix(key, ".svg") {
		w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
	}
	http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
}
