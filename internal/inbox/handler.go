// Package inbox exposes the HTTP read API over stored messages.
package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/welldanyogia/dispomail/internal/repository"
)

// EmailStore is the slice of the storage writer the API serves from
type EmailStore interface {
	ListByInbox(ctx context.Context, inbox string) ([]repository.Email, error)
	GetByID(ctx context.Context, id int64) (*repository.Email, error)
	Delete(ctx context.Context, id int64) error
}

// errorResponse is the structured error body: {"message": "..."}
type errorResponse struct {
	Message string `json:"message"`
}

// Handler handles HTTP requests for inbox and message endpoints
type Handler struct {
	store  EmailStore
	logger *slog.Logger
}

// NewHandler creates a new Handler instance
func NewHandler(store EmailStore, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:  store,
		logger: logger,
	}
}

// List handles GET /api/inboxes/{inbox}/emails.
// The inbox key is case-normalized before lookup, so "Demo" and "demo"
// address the same mailbox. An unknown inbox is an empty list, not an
// error.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	inbox := repository.NormalizeInbox(chi.URLParam(r, "inbox"))

	emails, err := h.store.ListByInbox(r.Context(), inbox)
	if err != nil {
		h.logger.Error("failed to list emails",
			slog.String("inbox", inbox),
			slog.String("error", err.Error()),
		)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, emails)
}

// GetByID handles GET /api/emails/{id}
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid ID")
		return
	}

	email, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrEmailNotFound) {
			h.writeError(w, http.StatusNotFound, "Email not found")
			return
		}
		h.logger.Error("failed to get email",
			slog.Int64("id", id),
			slog.String("error", err.Error()),
		)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, email)
}

// Delete handles DELETE /api/emails/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid ID")
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrEmailNotFound) {
			h.writeError(w, http.StatusNotFound, "Email not found")
			return
		}
		h.logger.Error("failed to delete email",
			slog.Int64("id", id),
			slog.String("error", err.Error()),
		)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeJSON writes a JSON response with the given status
func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeError writes a structured {"message": ...} error body
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, errorResponse{Message: message})
}
