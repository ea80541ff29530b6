// Package health provides the health check endpoint.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
)

// SMTPStatus reports on the mail listener
type SMTPStatus interface {
	IsRunning() bool
	ActiveConnections() int64
}

// ServiceStatus represents the status of a single dependency
type ServiceStatus struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Response is the structured health check body
type Response struct {
	Status    string                   `json:"status"`
	Timestamp string                   `json:"timestamp"`
	Services  map[string]ServiceStatus `json:"services"`
}

// Handler handles health check requests
type Handler struct {
	db      *sqlx.DB
	smtp    SMTPStatus
	timeout time.Duration
}

// NewHandler creates a health handler. smtp may be nil for processes that
// run without the listener.
func NewHandler(db *sqlx.DB, smtp SMTPStatus) *Handler {
	return &Handler{
		db:      db,
		smtp:    smtp,
		timeout: 5 * time.Second,
	}
}

// ServeHTTP answers GET /health
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := Response{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  make(map[string]ServiceStatus),
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	start := time.Now()
	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "unhealthy"
		resp.Services["database"] = ServiceStatus{Status: "down", Error: err.Error()}
	} else {
		resp.Services["database"] = ServiceStatus{
			Status:  "up",
			Latency: time.Since(start).String(),
		}
	}

	if h.smtp != nil {
		status := "up"
		if !h.smtp.IsRunning() {
			status = "down"
			resp.Status = "unhealthy"
		}
		resp.Services["smtp"] = ServiceStatus{Status: status}
	}

	code := http.StatusOK
	if resp.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}
