package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/kangrianai89/catatan/internal/ai"
	"github.com/kangrianai89/catatan/internal/apperr"
)

// Generate handles POST /api/ai/generate. Generated text is returned to
// the caller and never drafted.
//
//	@Summary		Generate text with the configured AI model
//	@Tags			ai
//	@Accept			json
//	@Produce		json
//	@Param			body	body		GenerateRequest	true	"Prompt with optional image and history"
//	@Success		200		{object}	GenerateResponse
//	@Failure		422		{object}	errResponse
//	@Failure		503		{object}	errResponse	"AI is not configured"
//	@Security		BearerAuth
//	@Router			/ai/generate [post]
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.ai.Generate(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ai.ErrNotConfigured), errors.Is(err, apperr.ErrInvalid):
			writeError(w, "generate", err)
		default:
			slog.Warn("ai generation failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusBadGateway, errorBody("generation failed"))
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Meta handles GET /api/meta?url=.
//
//	@Summary		Scrape title, description and image of a web page
//	@Tags			ai
//	@Produce		json
//	@Param			url	query		string	true	"Page URL"
//	@Success		200	{object}	Meta
//	@Failure		422	{object}	errResponse
//	@Failure		502	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/meta [get]
func (h *Handler) Meta(w http.ResponseWriter, r *http.Request) {
	m, err := h.meta.ScrapeMeta(r.Context(), r.URL.Query().Get("url"))
	if err != nil {
		writeError(w, "scrape meta", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GenerateRequest is the request body of POST /api/ai/generate.
type GenerateRequest = ai.GenerateRequest

// GenerateResponse is the response of POST /api/ai/generate.
type GenerateResponse = ai.GenerateResponse

// Meta is the response of GET /api/meta.
type Meta = ai.Meta
