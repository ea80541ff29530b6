package inbox

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the read API routes with the chi router
func RegisterRoutes(r chi.Router, handler *Handler) {
	r.Route("/api", func(r chi.Router) {
		// GET /api/inboxes/{inbox}/emails - list an inbox, newest first
		r.Get("/inboxes/{inbox}/emails", handler.List)

		// GET /api/emails/{id} - fetch one message
		r.Get("/emails/{id}", handler.GetByID)

		// DELETE /api/emails/{id} - remove one message
		r.Delete("/emails/{id}", handler.Delete)
	})
}
