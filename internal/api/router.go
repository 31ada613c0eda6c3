package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kangrianai89/catatan/internal/ai"
	"github.com/kangrianai89/catatan/internal/editor"
	"github.com/kangrianai89/catatan/internal/entityservice"
)

// Deps are the services behind the API. AI and Meta may be nil, which
// disables their routes.
type Deps struct {
	Entities *entityservice.Service
	Editors  *editor.Manager
	AI       *ai.Client
	Meta     *ai.Scraper
	// Events, if non-nil, is mounted at GET /events inside the auth group.
	Events http.Handler
}

// AuthOptions configure AuthMiddleware.
type AuthOptions struct {
	Enabled bool
	Token   string
	User    string
}

// NewRouter creates a chi router with all API routes mounted.
func NewRouter(d Deps, auth AuthOptions) chi.Router {
	h := &Handler{entities: d.Entities, editors: d.Editors, ai: d.AI, meta: d.Meta}

	r := chi.NewRouter()
	r.Use(AuthMiddleware(auth.Enabled, auth.Token, auth.User))
	r.Use(ClientSessionMiddleware)

	// Entities.
	r.Get("/entities", h.ListEntities)
	r.Post("/entities", h.CreateEntity)
	r.Get("/entities/{id}", h.GetEntity)
	r.Put("/entities/{id}", h.UpdateEntity)
	r.Delete("/entities/{id}", h.DeleteEntity)
	r.Put("/entities/{id}/blob", h.SwapBlob)
	r.Get("/search", h.Search)

	// Pending drafts.
	r.Get("/drafts", h.ListDrafts)
	r.Get("/drafts/{kind}/{id}", h.GetDraft)
	r.Delete("/drafts/{kind}/{id}", h.DiscardDraft)

	// Editor sessions.
	r.Post("/editors", h.OpenEditor)
	r.Get("/editors/{id}", h.GetEditor)
	r.Patch("/editors/{id}", h.UpdateEditor)
	r.Post("/editors/{id}/flush", h.FlushEditor)
	r.Post("/editors/{id}/save", h.SaveEditor)
	r.Post("/editors/{id}/cancel", h.CancelEditor)
	r.Delete("/editors/{id}", h.CloseEditor)
	r.Delete("/session", h.EndSession)

	// Utilities.
	r.Get("/kinds", h.Kinds)
	if d.AI != nil {
		r.Post("/ai/generate", h.Generate)
	}
	if d.Meta != nil {
		r.Get("/meta", h.Meta)
	}

	if d.Events != nil {
		r.Get("/events", d.Events.ServeHTTP)
	}

	return r
}

// Handler holds API route handlers.
type Handler struct {
	entities *entityservice.Service
	editors  *editor.Manager
	ai       *ai.Client
	meta     *ai.Scraper
}
