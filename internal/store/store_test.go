package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/beechat/internal/models"
)

var backends = map[string]func(t *testing.T) DataStore{
	"memory": func(t *testing.T) DataStore {
		return NewMemoryStore()
	},
	"sqlite": func(t *testing.T) DataStore {
		s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "test.db"))
		require.NoError(t, err)
		t.Cleanup(s.Close)
		return s
	},
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s DataStore)) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			fn(t, open(t))
		})
	}
}

func TestSaveMessage(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s DataStore) {
		ctx := context.Background()
		ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		msg := &models.Message{
			ID:            "01HZX0000000000000000000AA",
			Content:       "salut",
			SenderID:      "child-1",
			SenderName:    "ti-loup",
			RecipientID:   "friend-1",
			Timestamp:     ts,
			Kind:          models.KindText,
			SafetyChecked: true,
		}

		created, err := s.SaveMessage(ctx, msg)
		require.NoError(t, err)
		require.True(t, created)

		dup := *msg
		dup.Content = "autre chose"
		created, err = s.SaveMessage(ctx, &dup)
		require.NoError(t, err)
		require.False(t, created)

		got, err := s.GetMessage(ctx, msg.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Equal(t, "salut", got.Content)
		require.Equal(t, models.KindText, got.Kind)
		require.True(t, got.SafetyChecked)
		require.True(t, ts.Equal(got.Timestamp))

		n, err := s.CountMessages(ctx)
		require.NoError(t, err)
		require.EqualValues(t, 1, n)

		missing, err := s.GetMessage(ctx, "nope")
		require.NoError(t, err)
		require.Nil(t, missing)
	})
}

func TestSaveVoiceMessage(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s DataStore) {
		ctx := context.Background()

		msg := &models.Message{
			ID:             "01HZX0000000000000000000VV",
			Content:        "🎙️ Message vocal",
			SenderID:       "child-1",
			RecipientID:    "friend-1",
			ConversationID: "conv-1",
			Timestamp:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			Kind:           models.KindVoice,
			SafetyChecked:  true,
			AudioURL:       "https://cdn.example.com/audio/1.webm",
			Duration:       4.5,
		}
		created, err := s.SaveMessage(ctx, msg)
		require.NoError(t, err)
		require.True(t, created)

		got, err := s.GetMessage(ctx, msg.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Equal(t, models.KindVoice, got.Kind)
		require.Equal(t, msg.AudioURL, got.AudioURL)
		require.InDelta(t, 4.5, got.Duration, 1e-9)
		require.Equal(t, "conv-1", got.ConversationID)
	})
}

func TestSafetyLogs(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s DataStore) {
		ctx := context.Background()
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		for i := range 5 {
			err := s.AppendSafetyLog(ctx, "parent-1", &models.SafetyLogEntry{
				ID:        fmt.Sprintf("e%d", i),
				ChildID:   "child-1",
				Content:   fmt.Sprintf("merde %d", i),
				Flags:     []string{"bad_word:merde"},
				Severity:  models.SeverityMedium,
				Timestamp: base.Add(time.Duration(i) * time.Minute),
				ChatWith:  "ami",
			})
			require.NoError(t, err)
		}
		require.NoError(t, s.AppendSafetyLog(ctx, "parent-1", &models.SafetyLogEntry{
			ID: "other", ChildID: "child-2", Content: "x", Severity: models.SeverityHigh, Timestamp: base,
		}))
		require.NoError(t, s.AppendSafetyLog(ctx, "parent-2", &models.SafetyLogEntry{
			ID: "foreign", ChildID: "child-1", Content: "x", Severity: models.SeverityHigh, Timestamp: base,
		}))

		tests := []struct {
			name  string
			limit int
			want  []string
		}{
			{name: "tail", limit: 3, want: []string{"e2", "e3", "e4"}},
			{name: "larger than log", limit: 50, want: []string{"e0", "e1", "e2", "e3", "e4"}},
			{name: "no limit", limit: 0, want: []string{"e0", "e1", "e2", "e3", "e4"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				entries, err := s.ListSafetyLogs(ctx, "parent-1", "child-1", tt.limit)
				require.NoError(t, err)
				var ids []string
				for _, e := range entries {
					ids = append(ids, e.ID)
				}
				require.Equal(t, tt.want, ids)
			})
		}

		entries, err := s.ListSafetyLogs(ctx, "parent-1", "child-1", 1)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.Equal(t, []string{"bad_word:merde"}, entries[0].Flags)
		require.Equal(t, models.SeverityMedium, entries[0].Severity)
		require.Equal(t, "ami", entries[0].ChatWith)

		empty, err := s.ListSafetyLogs(ctx, "ghost", "child-1", 10)
		require.NoError(t, err)
		require.Empty(t, empty)
	})
}

func TestLocations(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s DataStore) {
		ctx := context.Background()
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		acc := 12.5

		for i := range 6 {
			sample := &models.LocationSample{
				UserID:    "child-1",
				Lat:       45.5 + float64(i)/100,
				Lng:       -73.56,
				Timestamp: base.Add(time.Duration(i) * time.Minute),
			}
			if i == 5 {
				sample.Accuracy = &acc
			}
			require.NoError(t, s.AppendLocation(ctx, sample, 4))
		}

		samples, err := s.ListLocations(ctx, "child-1")
		require.NoError(t, err)
		require.Len(t, samples, 4)
		require.InDelta(t, 45.52, samples[0].Lat, 1e-9)
		require.InDelta(t, 45.55, samples[3].Lat, 1e-9)
		require.Nil(t, samples[0].Accuracy)
		require.NotNil(t, samples[3].Accuracy)
		require.InDelta(t, acc, *samples[3].Accuracy, 1e-9)
		require.True(t, base.Add(5*time.Minute).Equal(samples[3].Timestamp))

		none, err := s.ListLocations(ctx, "ghost")
		require.NoError(t, err)
		require.Empty(t, none)
	})
}

func TestLocationsConcurrentCap(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s DataStore) {
		ctx := context.Background()

		var wg sync.WaitGroup
		errs := make([]error, 40)
		for i := range 40 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = s.AppendLocation(ctx, &models.LocationSample{
					UserID:    "child-1",
					Lat:       float64(i),
					Timestamp: time.Now(),
				}, 10)
			}()
		}
		wg.Wait()
		for _, err := range errs {
			require.NoError(t, err)
		}

		samples, err := s.ListLocations(ctx, "child-1")
		require.NoError(t, err)
		require.Len(t, samples, 10)
	})
}

func TestLocationsDefaultCap(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s DataStore) {
		ctx := context.Background()
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		for i := range 101 {
			require.NoError(t, s.AppendLocation(ctx, &models.LocationSample{
				UserID:    "child-1",
				Lat:       float64(i),
				Timestamp: base.Add(time.Duration(i) * time.Second),
			}, 100))
		}

		samples, err := s.ListLocations(ctx, "child-1")
		require.NoError(t, err)
		require.Len(t, samples, 100)
		require.InDelta(t, 1, samples[0].Lat, 1e-9)
		require.InDelta(t, 100, samples[99].Lat, 1e-9)
		for i := 1; i < len(samples); i++ {
			require.True(t, samples[i-1].Timestamp.Before(samples[i].Timestamp))
		}
	})
}

func TestLocationAccuracyNotShared(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s DataStore) {
		ctx := context.Background()
		acc := 8.0

		require.NoError(t, s.AppendLocation(ctx, &models.LocationSample{
			UserID:    "child-1",
			Lat:       45.5,
			Lng:       -73.56,
			Accuracy:  &acc,
			Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		}, 10))
		acc = 999

		first, err := s.ListLocations(ctx, "child-1")
		require.NoError(t, err)
		require.Len(t, first, 1)
		require.InDelta(t, 8.0, *first[0].Accuracy, 1e-9)

		*first[0].Accuracy = 500
		again, err := s.ListLocations(ctx, "child-1")
		require.NoError(t, err)
		require.InDelta(t, 8.0, *again[0].Accuracy, 1e-9)
	})
}

func TestMemoryStoreCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	flags := []string{"bad_word:merde"}
	require.NoError(t, s.AppendSafetyLog(ctx, "p", &models.SafetyLogEntry{ID: "a", ChildID: "c", Flags: flags}))
	flags[0] = "tampered"

	entries, err := s.ListSafetyLogs(ctx, "p", "c", 0)
	require.NoError(t, err)
	require.Equal(t, "bad_word:merde", entries[0].Flags[0])

	entries[0].Flags[0] = "tampered"
	again, err := s.ListSafetyLogs(ctx, "p", "c", 0)
	require.NoError(t, err)
	require.Equal(t, "bad_word:merde", again[0].Flags[0])
}
