// Package location keeps a bounded history of children's device positions.
package location

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/eldtechnologies/beechat/internal/models"
	"github.com/eldtechnologies/beechat/internal/store"
)

// Defaults used when Config leaves a field zero.
const (
	DefaultCap          = 100
	DefaultHistoryLimit = 20
	DefaultWindow       = 24 * time.Hour
)

// Config bounds what the tracker keeps and returns.
type Config struct {
	Cap          int           // samples kept per user
	HistoryLimit int           // samples returned by History
	Window       time.Duration // default History window
}

func (c Config) withDefaults() Config {
	if c.Cap <= 0 {
		c.Cap = DefaultCap
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	return c
}

// Tracker records and reads location samples.
type Tracker struct {
	store store.LocationStore
	cfg   Config
	now   func() time.Time
}

// NewTracker creates a tracker over s.
func NewTracker(s store.LocationStore, cfg Config) *Tracker {
	return &Tracker{
		store: s,
		cfg:   cfg.withDefaults(),
		now:   time.Now,
	}
}

// Record validates sample, stamps it if it carries no time, and appends it.
// The oldest samples are evicted once the user's history exceeds the cap.
func (t *Tracker) Record(ctx context.Context, sample models.LocationSample) (models.LocationSample, error) {
	if err := validate(sample); err != nil {
		return models.LocationSample{}, err
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = t.now()
	}
	if sample.Accuracy != nil {
		acc := *sample.Accuracy
		sample.Accuracy = &acc
	}

	if err := t.store.AppendLocation(ctx, &sample, t.cfg.Cap); err != nil {
		return models.LocationSample{}, fmt.Errorf("%w: append location: %w", models.ErrInternal, err)
	}
	return sample, nil
}

// Latest returns the user's most recent sample, or nil if there is none.
func (t *Tracker) Latest(ctx context.Context, userID string) (*models.LocationSample, error) {
	samples, err := t.store.ListLocations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: list locations: %w", models.ErrInternal, err)
	}
	if len(samples) == 0 {
		return nil, nil
	}
	latest := samples[len(samples)-1]
	return &latest, nil
}

// History returns samples newer than now-window in chronological order,
// keeping only the most recent HistoryLimit. A non-positive window uses the
// configured default.
func (t *Tracker) History(ctx context.Context, userID string, window time.Duration) ([]models.LocationSample, error) {
	if window <= 0 {
		window = t.cfg.Window
	}
	samples, err := t.store.ListLocations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: list locations: %w", models.ErrInternal, err)
	}

	cutoff := t.now().Add(-window)
	out := make([]models.LocationSample, 0, len(samples))
	for _, s := range samples {
		if s.Timestamp.After(cutoff) {
			out = append(out, s)
		}
	}
	if len(out) > t.cfg.HistoryLimit {
		out = out[len(out)-t.cfg.HistoryLimit:]
	}
	return out, nil
}

func validate(s models.LocationSample) error {
	switch {
	case s.UserID == "":
		return fmt.Errorf("%w: user id is required", models.ErrValidation)
	case math.IsNaN(s.Lat) || s.Lat < -90 || s.Lat > 90:
		return fmt.Errorf("%w: latitude %v out of range", models.ErrValidation, s.Lat)
	case math.IsNaN(s.Lng) || s.Lng < -180 || s.Lng > 180:
		return fmt.Errorf("%w: longitude %v out of range", models.ErrValidation, s.Lng)
	case s.Accuracy != nil && (math.IsNaN(*s.Accuracy) || *s.Accuracy < 0):
		return fmt.Errorf("%w: accuracy must be non-negative", models.ErrValidation)
	}
	return nil
}
