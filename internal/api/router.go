package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/librarian/internal/tagservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *tagservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Queries.
	r.Get("/tags", h.ListTags)
	r.Get("/tags/{tag}/files", h.FilesForTag)
	r.Get("/files", h.ListFiles)
	r.Get("/files/*", h.GetFile)
	r.Get("/search", h.Search)
	r.Get("/resolve", h.ResolveLink)
	r.Get("/status", h.Status)

	// Index maintenance.
	r.Post("/rescan", h.RescanAll)
	r.Post("/rescan/*", h.RescanFile)
	r.Delete("/index/*", h.RemoveFromIndex)

	// File actions.
	r.Post("/rename", h.Rename)
	r.Post("/move", h.Move)
	r.Delete("/files/*", h.DeleteFile)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
