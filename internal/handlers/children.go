package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/beechat/internal/models"
)

// ChildSummary is one entry of the parent dashboard's child list.
type ChildSummary struct {
	ID           string                 `json:"id"`
	Username     string                 `json:"username"`
	Age          int                    `json:"age"`
	Status       models.Status          `json:"status"`
	Restrictions *models.Restrictions   `json:"restrictions,omitempty"`
	Location     *models.LocationSample `json:"location,omitempty"`
}

// ParentChildren lists the children registered under a parent with their
// latest known location.
func (h *Handler) ParentChildren(w http.ResponseWriter, r *http.Request) {
	parentID := chi.URLParam(r, "parentId")

	children, ok := h.sessions.Children(parentID)
	if !ok {
		h.Error(w, http.StatusNotFound, "Parent non trouvé")
		return
	}

	out := make([]ChildSummary, 0, len(children))
	for _, child := range children {
		profile, _ := child.Child()
		loc, err := h.locations.Latest(r.Context(), child.ID)
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "Erreur interne")
			return
		}
		out = append(out, ChildSummary{
			ID:           child.ID,
			Username:     child.Username,
			Age:          profile.Age,
			Status:       child.Status,
			Restrictions: profile.Restrictions,
			Location:     loc,
		})
	}

	h.JSON(w, http.StatusOK, out)
}
