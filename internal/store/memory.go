package store

import (
	"context"
	"sync"

	"github.com/eldtechnologies/beechat/internal/models"
)

// MemoryStore keeps everything in process memory. Each user's location
// history and each parent's safety log has its own lock, so writers for
// different keys never contend beyond the map lookup.
type MemoryStore struct {
	msgMu    sync.RWMutex
	messages map[string]models.Message

	logMu sync.Mutex
	logs  map[string]*logSeq

	locMu     sync.Mutex
	locations map[string]*locationSeq
}

type logSeq struct {
	mu      sync.Mutex
	entries []models.SafetyLogEntry
}

type locationSeq struct {
	mu      sync.Mutex
	samples []models.LocationSample
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages:  make(map[string]models.Message),
		logs:      make(map[string]*logSeq),
		locations: make(map[string]*locationSeq),
	}
}

// Close is a no-op.
func (s *MemoryStore) Close() {}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// SaveMessage stores a message unless its ID is already taken.
func (s *MemoryStore) SaveMessage(_ context.Context, msg *models.Message) (bool, error) {
	s.msgMu.Lock()
	defer s.msgMu.Unlock()

	if _, exists := s.messages[msg.ID]; exists {
		return false, nil
	}
	s.messages[msg.ID] = *msg
	return true, nil
}

// GetMessage returns a copy of a stored message, or nil.
func (s *MemoryStore) GetMessage(_ context.Context, id string) (*models.Message, error) {
	s.msgMu.RLock()
	defer s.msgMu.RUnlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, nil
	}
	return &msg, nil
}

// CountMessages returns the number of stored messages.
func (s *MemoryStore) CountMessages(_ context.Context) (int64, error) {
	s.msgMu.RLock()
	defer s.msgMu.RUnlock()
	return int64(len(s.messages)), nil
}

func (s *MemoryStore) logFor(parentID string, create bool) *logSeq {
	s.logMu.Lock()
	defer s.logMu.Unlock()

	seq, ok := s.logs[parentID]
	if !ok && create {
		seq = &logSeq{}
		s.logs[parentID] = seq
	}
	return seq
}

// AppendSafetyLog appends an entry to the parent's log.
func (s *MemoryStore) AppendSafetyLog(_ context.Context, parentID string, entry *models.SafetyLogEntry) error {
	e := *entry
	e.Flags = append([]string(nil), entry.Flags...)

	seq := s.logFor(parentID, true)
	seq.mu.Lock()
	seq.entries = append(seq.entries, e)
	seq.mu.Unlock()
	return nil
}

// ListSafetyLogs returns the child's last limit entries, oldest first.
func (s *MemoryStore) ListSafetyLogs(_ context.Context, parentID, childID string, limit int) ([]models.SafetyLogEntry, error) {
	seq := s.logFor(parentID, false)
	if seq == nil {
		return nil, nil
	}
	seq.mu.Lock()
	defer seq.mu.Unlock()

	var out []models.SafetyLogEntry
	for _, e := range seq.entries {
		if e.ChildID == childID {
			e.Flags = append([]string(nil), e.Flags...)
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *MemoryStore) locationsFor(userID string, create bool) *locationSeq {
	s.locMu.Lock()
	defer s.locMu.Unlock()

	seq, ok := s.locations[userID]
	if !ok && create {
		seq = &locationSeq{}
		s.locations[userID] = seq
	}
	return seq
}

// AppendLocation appends a sample and evicts from the front down to limit.
func (s *MemoryStore) AppendLocation(_ context.Context, sample *models.LocationSample, limit int) error {
	seq := s.locationsFor(sample.UserID, true)
	seq.mu.Lock()
	defer seq.mu.Unlock()

	seq.samples = append(seq.samples, cloneSample(*sample))
	if limit > 0 && len(seq.samples) > limit {
		// copy so the evicted prefix can be collected
		seq.samples = append([]models.LocationSample(nil), seq.samples[len(seq.samples)-limit:]...)
	}
	return nil
}

// ListLocations returns a copy of the user's history.
func (s *MemoryStore) ListLocations(_ context.Context, userID string) ([]models.LocationSample, error) {
	seq := s.locationsFor(userID, false)
	if seq == nil {
		return nil, nil
	}
	seq.mu.Lock()
	defer seq.mu.Unlock()

	out := make([]models.LocationSample, len(seq.samples))
	for i, sample := range seq.samples {
		out[i] = cloneSample(sample)
	}
	return out, nil
}

// cloneSample copies the optional accuracy so callers never share it.
func cloneSample(sample models.LocationSample) models.LocationSample {
	if sample.Accuracy != nil {
		acc := *sample.Accuracy
		sample.Accuracy = &acc
	}
	return sample
}
