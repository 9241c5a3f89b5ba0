package location

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/beechat/internal/models"
	"github.com/eldtechnologies/beechat/internal/store"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestTracker(cfg Config) (*Tracker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	tr := NewTracker(store.NewMemoryStore(), cfg)
	tr.now = clock.Now
	return tr, clock
}

func ptr(f float64) *float64 { return &f }

func TestRecord_validation(t *testing.T) {
	tr, _ := newTestTracker(Config{})
	ctx := context.Background()

	tests := []struct {
		name   string
		sample models.LocationSample
		ok     bool
	}{
		{name: "montreal", sample: models.LocationSample{UserID: "c", Lat: 45.5017, Lng: -73.5673}, ok: true},
		{name: "poles and antimeridian", sample: models.LocationSample{UserID: "c", Lat: -90, Lng: 180}, ok: true},
		{name: "zero accuracy", sample: models.LocationSample{UserID: "c", Accuracy: ptr(0)}, ok: true},
		{name: "missing user", sample: models.LocationSample{Lat: 1, Lng: 1}},
		{name: "lat too high", sample: models.LocationSample{UserID: "c", Lat: 90.01}},
		{name: "lng too low", sample: models.LocationSample{UserID: "c", Lng: -180.5}},
		{name: "nan lat", sample: models.LocationSample{UserID: "c", Lat: math.NaN()}},
		{name: "negative accuracy", sample: models.LocationSample{UserID: "c", Accuracy: ptr(-1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tr.Record(ctx, tt.sample)
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, models.ErrValidation)
		})
	}
}

func TestRecord_stampsTime(t *testing.T) {
	tr, clock := newTestTracker(Config{})
	ctx := context.Background()

	got, err := tr.Record(ctx, models.LocationSample{UserID: "c", Lat: 1, Lng: 2})
	require.NoError(t, err)
	require.Equal(t, clock.t, got.Timestamp)

	explicit := clock.t.Add(-time.Minute)
	got, err = tr.Record(ctx, models.LocationSample{UserID: "c", Lat: 1, Lng: 2, Timestamp: explicit})
	require.NoError(t, err)
	require.Equal(t, explicit, got.Timestamp)
}

func TestRecord_evictsOldest(t *testing.T) {
	tr, clock := newTestTracker(Config{})
	ctx := context.Background()

	for i := range DefaultCap + 1 {
		_, err := tr.Record(ctx, models.LocationSample{
			UserID:    "c",
			Lat:       float64(i) / 10,
			Timestamp: clock.t.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	samples, err := tr.store.ListLocations(ctx, "c")
	require.NoError(t, err)
	require.Len(t, samples, DefaultCap)
	// the first sample is gone, the 101st is last
	require.InDelta(t, 0.1, samples[0].Lat, 1e-9)
	require.InDelta(t, 10.0, samples[len(samples)-1].Lat, 1e-9)
}

func TestLatest(t *testing.T) {
	tr, clock := newTestTracker(Config{})
	ctx := context.Background()

	none, err := tr.Latest(ctx, "c")
	require.NoError(t, err)
	require.Nil(t, none)

	for i := range 3 {
		_, err := tr.Record(ctx, models.LocationSample{UserID: "c", Lat: float64(i), Timestamp: clock.t.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
	}
	latest, err := tr.Latest(ctx, "c")
	require.NoError(t, err)
	require.InDelta(t, 2.0, latest.Lat, 1e-9)
}

func TestHistory(t *testing.T) {
	tr, clock := newTestTracker(Config{HistoryLimit: 3})
	ctx := context.Background()

	offsets := []time.Duration{-30 * time.Hour, -25 * time.Hour, -5 * time.Hour, -3 * time.Hour, -2 * time.Hour, -time.Hour}
	for i, off := range offsets {
		_, err := tr.Record(ctx, models.LocationSample{UserID: "c", Lat: float64(i), Timestamp: clock.t.Add(off)})
		require.NoError(t, err)
	}

	tests := []struct {
		name   string
		window time.Duration
		want   []float64
	}{
		{name: "default window tail", window: 0, want: []float64{3, 4, 5}},
		{name: "short window", window: 150 * time.Minute, want: []float64{4, 5}},
		{name: "empty window", window: time.Minute, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tr.History(ctx, "c", tt.window)
			require.NoError(t, err)
			var lats []float64
			for _, s := range got {
				lats = append(lats, s.Lat)
			}
			require.Equal(t, tt.want, lats)
		})
	}

	// reading never changes the stored sequence
	first, err := tr.History(ctx, "c", 0)
	require.NoError(t, err)
	second, err := tr.History(ctx, "c", 0)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestHistory_excludesBoundary(t *testing.T) {
	tr, clock := newTestTracker(Config{})
	ctx := context.Background()

	_, err := tr.Record(ctx, models.LocationSample{UserID: "c", Timestamp: clock.t.Add(-DefaultWindow)})
	require.NoError(t, err)

	got, err := tr.History(ctx, "c", 0)
	require.NoError(t, err)
	require.Empty(t, got)
}

type failingStore struct{ store.LocationStore }

func (failingStore) AppendLocation(context.Context, *models.LocationSample, int) error {
	return errors.New("disk full")
}

func (failingStore) ListLocations(context.Context, string) ([]models.LocationSample, error) {
	return nil, errors.New("disk full")
}

func TestStoreErrorsAreInternal(t *testing.T) {
	tr := NewTracker(failingStore{}, Config{})
	ctx := context.Background()

	_, err := tr.Record(ctx, models.LocationSample{UserID: "c"})
	require.ErrorIs(t, err, models.ErrInternal)

	_, err = tr.Latest(ctx, "c")
	require.ErrorIs(t, err, models.ErrInternal)

	_, err = tr.History(ctx, "c", 0)
	require.ErrorIs(t, err, models.ErrInternal)
}
