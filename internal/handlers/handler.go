package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/eldtechnologies/beechat/internal/models"
	"github.com/eldtechnologies/beechat/internal/registry"
)

// Sessions is the registry view the HTTP handlers read.
type Sessions interface {
	Counts() registry.Counts
	Children(parentID string) ([]models.Session, bool)
}

// Messages counts delivered messages.
type Messages interface {
	CountMessages(ctx context.Context) (int64, error)
}

// Locations returns a user's most recent location sample.
type Locations interface {
	Latest(ctx context.Context, userID string) (*models.LocationSample, error)
}

// Pinger is a backend the health check pings.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	sessions  Sessions
	messages  Messages
	locations Locations
	backends  map[string]Pinger
}

// NewHandler creates a new Handler. backends are reported by name in the
// health checks.
func NewHandler(sessions Sessions, messages Messages, locations Locations, backends map[string]Pinger) *Handler {
	return &Handler{
		sessions:  sessions,
		messages:  messages,
		locations: locations,
		backends:  backends,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}
