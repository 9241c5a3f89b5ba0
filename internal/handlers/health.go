package handlers

import (
	"context"
	"net/http"
	"time"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Check represents the status of a health check.
type Check struct {
	Status  string `json:"status"`            // "pass" or "fail"
	Latency string `json:"latency,omitempty"` // e.g., "2ms"
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status        string           `json:"status"` // "healthy" or "degraded"
	UsersCount    int              `json:"usersCount"`
	ChildrenCount int              `json:"childrenCount"`
	ParentsCount  int              `json:"parentsCount"`
	MessagesCount int64            `json:"messagesCount"`
	Version       string           `json:"version"`
	Checks        map[string]Check `json:"checks"`
	Timestamp     string           `json:"timestamp"`
}

// Health handles the health check endpoint.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]Check, len(h.backends))
	allHealthy := true

	for name, backend := range h.backends {
		start := time.Now()
		if err := backend.Ping(ctx); err != nil {
			checks[name] = Check{Status: "fail", Message: "connection failed"}
			allHealthy = false
			continue
		}
		checks[name] = Check{Status: "pass", Latency: time.Since(start).String()}
	}

	messages, err := h.messages.CountMessages(ctx)
	if err != nil {
		checks["messages"] = Check{Status: "fail", Message: "count failed"}
		allHealthy = false
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	counts := h.sessions.Counts()
	h.JSON(w, statusCode, HealthResponse{
		Status:        status,
		UsersCount:    counts.Users,
		ChildrenCount: counts.Children,
		ParentsCount:  counts.Parents,
		MessagesCount: messages,
		Version:       Version,
		Checks:        checks,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	})
}
