package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/blockedby/tgparser/internal/auth"
)

// NewRouter creates the /api/v1 routes. authn must put the user in the
// request context (auth.Middleware).
func NewRouter(h *Handler, authn func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(authn)

	// parse endpoints
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireParse)
		r.Post("/parse/group", h.StartGroupParse)
		r.Post("/parse/channel", h.StartChannelParse)
		r.Get("/parse/progress", h.Progress)
		r.Post("/parse/cancel", h.CancelParse)
		r.Get("/lookup", h.Lookup)
	})

	r.Route("/groups", func(r chi.Router) {
		r.Get("/", h.ListGroups)
		r.Get("/{id}", h.GetGroup)
		r.Delete("/{id}", h.DeleteGroup)
		r.Get("/{id}/members", h.ListMembers)
		r.Get("/{id}/posts", h.ListPosts)
	})
	r.Get("/posts/{id}/comments", h.ListComments)

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.ListSessions)
		r.Post("/", h.CreateSession)
		r.Delete("/{id}", h.DeleteSession)
		r.Post("/{id}/activate", h.ActivateSession)
	})

	return r
}
