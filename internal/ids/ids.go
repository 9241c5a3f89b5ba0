// Package ids generates identifiers for sessions, messages and log entries.
package ids

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewSessionID generates a time-ordered UUID v7 for a session.
func NewSessionID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewEntryID generates a random UUID for a safety log entry.
func NewEntryID() string {
	return uuid.NewString()
}

// NewMessageID generates a ULID. ULIDs sort by creation time, which keeps
// message keys ordered in the Redis and SQL stores.
func NewMessageID() string {
	return ulid.Make().String()
}
