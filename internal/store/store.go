package store

import (
	"context"

	"github.com/eldtechnologies/beechat/internal/models"
)

// MessageStore persists delivered messages.
type MessageStore interface {
	// SaveMessage stores msg if its ID is new. created is false when a
	// message with the same ID already exists; the stored copy is untouched.
	SaveMessage(ctx context.Context, msg *models.Message) (created bool, err error)
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	CountMessages(ctx context.Context) (int64, error)
}

// SafetyLogStore persists safety log entries, partitioned by parent.
type SafetyLogStore interface {
	AppendSafetyLog(ctx context.Context, parentID string, entry *models.SafetyLogEntry) error
	// ListSafetyLogs returns the most recent limit entries for childID under
	// parentID, oldest first.
	ListSafetyLogs(ctx context.Context, parentID, childID string, limit int) ([]models.SafetyLogEntry, error)
}

// LocationStore persists per-user location history.
type LocationStore interface {
	// AppendLocation appends sample to the user's history and evicts the
	// oldest samples until at most limit remain.
	AppendLocation(ctx context.Context, sample *models.LocationSample, limit int) error
	// ListLocations returns the user's history, oldest first.
	ListLocations(ctx context.Context, userID string) ([]models.LocationSample, error)
}

// DataStore is a complete backend. MemoryStore, RedisStore, PostgresStore
// and SQLiteStore all implement it.
type DataStore interface {
	MessageStore
	SafetyLogStore
	LocationStore

	// Connection management
	Close()
	Ping(ctx context.Context) error
}
