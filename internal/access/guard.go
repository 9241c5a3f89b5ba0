// Package access gates every parent read of a child's data.
package access

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/beechat/internal/models"
)

// Links answers whether a parent owns a child.
type Links interface {
	IsChildOf(parentID, childID string) bool
}

// SafetyLogReader is the read side of the safety log.
type SafetyLogReader interface {
	Query(ctx context.Context, parentID, childID string, limit int) ([]models.SafetyLogEntry, error)
}

// LocationReader is the read side of the location tracker.
type LocationReader interface {
	Latest(ctx context.Context, userID string) (*models.LocationSample, error)
	History(ctx context.Context, userID string, window time.Duration) ([]models.LocationSample, error)
}

// LocationView is what a parent sees of a child's position.
type LocationView struct {
	ChildID string                  `json:"childId"`
	Current *models.LocationSample  `json:"current"`
	History []models.LocationSample `json:"history"`
}

// AuthorizeParentToChild reports whether parentID may read childID's data.
func AuthorizeParentToChild(links Links, parentID, childID string) bool {
	if parentID == "" || childID == "" {
		return false
	}
	return links.IsChildOf(parentID, childID)
}

// Guard wraps the parent-facing reads with an ownership check.
type Guard struct {
	links     Links
	logs      SafetyLogReader
	locations LocationReader
	logger    zerolog.Logger
}

// NewGuard creates a Guard.
func NewGuard(links Links, logs SafetyLogReader, locations LocationReader, logger zerolog.Logger) *Guard {
	return &Guard{
		links:     links,
		logs:      logs,
		locations: locations,
		logger:    logger.With().Str("component", "access").Logger(),
	}
}

// authorize returns ErrAccessDenied for every failure. The log line is the
// same whether the parent, the child or the link is missing.
func (g *Guard) authorize(parentID, childID, resource string) error {
	if AuthorizeParentToChild(g.links, parentID, childID) {
		return nil
	}
	g.logger.Warn().
		Str("event", "access_denied").
		Str("resource", resource).
		Str("parent_id", parentID).
		Str("child_id", childID).
		Msg("parent read denied")
	return models.ErrAccessDenied
}

// SafetyLogs returns the child's recent safety log entries.
func (g *Guard) SafetyLogs(ctx context.Context, parentID, childID string) ([]models.SafetyLogEntry, error) {
	if err := g.authorize(parentID, childID, "safety_logs"); err != nil {
		return nil, err
	}
	return g.logs.Query(ctx, parentID, childID, 0)
}

// Location returns the child's latest position and recent history.
func (g *Guard) Location(ctx context.Context, parentID, childID string) (LocationView, error) {
	if err := g.authorize(parentID, childID, "location"); err != nil {
		return LocationView{}, err
	}

	current, err := g.locations.Latest(ctx, childID)
	if err != nil {
		return LocationView{}, err
	}
	history, err := g.locations.History(ctx, childID, 0)
	if err != nil {
		return LocationView{}, err
	}
	return LocationView{ChildID: childID, Current: current, History: history}, nil
}
