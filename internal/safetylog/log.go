// Package safetylog records flagged messages sent by children so that their
// parents can review them.
package safetylog

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/beechat/internal/ids"
	"github.com/eldtechnologies/beechat/internal/models"
	"github.com/eldtechnologies/beechat/internal/store"
)

// DefaultLimit is the number of entries Query returns when asked for zero.
const DefaultLimit = 50

// ParentResolver maps a child to the parent who owns its log.
type ParentResolver interface {
	ParentOf(childID string) (string, error)
}

// Log is the append-only safety event log.
type Log struct {
	store   store.SafetyLogStore
	parents ParentResolver
	logger  zerolog.Logger
	limit   int
	newID   func() string
	now     func() time.Time
}

// New creates a Log. limit is the default Query size; zero means DefaultLimit.
func New(s store.SafetyLogStore, parents ParentResolver, logger zerolog.Logger, limit int) *Log {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Log{
		store:   s,
		parents: parents,
		logger:  logger.With().Str("component", "safetylog").Logger(),
		limit:   limit,
		newID:   ids.NewEntryID,
		now:     time.Now,
	}
}

// Record appends entry to the log of the child's parent and returns that
// parent's id. If no parent can be resolved the entry is not written and
// ErrParentNotFound is returned.
func (l *Log) Record(ctx context.Context, entry models.SafetyLogEntry) (string, error) {
	if entry.ChildID == "" {
		return "", fmt.Errorf("%w: child id is required", models.ErrValidation)
	}

	parentID, err := l.parents.ParentOf(entry.ChildID)
	if err != nil {
		l.logger.Error().
			Str("event", "safety_log_unresolved").
			Str("child_id", entry.ChildID).
			Strs("flags", entry.Flags).
			Msg("no parent for safety incident")
		return "", fmt.Errorf("record safety log for %s: %w", entry.ChildID, err)
	}

	if entry.ID == "" {
		entry.ID = l.newID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now()
	}
	if entry.Flags == nil {
		entry.Flags = []string{}
	}

	if err := l.store.AppendSafetyLog(ctx, parentID, &entry); err != nil {
		return parentID, fmt.Errorf("%w: append safety log: %w", models.ErrInternal, err)
	}

	l.logger.Warn().
		Str("event", "safety_incident").
		Str("child_id", entry.ChildID).
		Str("parent_id", parentID).
		Str("severity", string(entry.Severity)).
		Strs("flags", entry.Flags).
		Str("chat_with", entry.ChatWith).
		Msg("safety incident recorded")

	return parentID, nil
}

// Query returns the child's last limit entries under parentID, oldest first.
// A non-positive limit uses the configured default. Query performs no
// authorisation; callers go through access.Guard.
func (l *Log) Query(ctx context.Context, parentID, childID string, limit int) ([]models.SafetyLogEntry, error) {
	if limit <= 0 {
		limit = l.limit
	}
	entries, err := l.store.ListSafetyLogs(ctx, parentID, childID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list safety logs: %w", models.ErrInternal, err)
	}
	if entries == nil {
		entries = []models.SafetyLogEntry{}
	}
	return entries, nil
}
