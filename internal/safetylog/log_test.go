package safetylog

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/beechat/internal/models"
	"github.com/eldtechnologies/beechat/internal/registry"
	"github.com/eldtechnologies/beechat/internal/store"
)

func setup(t *testing.T) (*Log, *registry.Registry, models.Session, models.Session) {
	t.Helper()
	reg := registry.New()
	parent := reg.RegisterParent(registry.ParentRegistration{Username: "maman"})
	child, err := reg.RegisterChild(registry.ChildRegistration{Username: "ti-loup", ParentID: parent.ID})
	require.NoError(t, err)
	return New(store.NewMemoryStore(), reg, zerolog.Nop(), 0), reg, parent, child
}

func TestRecord(t *testing.T) {
	log, _, parent, child := setup(t)
	ctx := context.Background()

	parentID, err := log.Record(ctx, models.SafetyLogEntry{
		ChildID:       child.ID,
		ChildUsername: child.Username,
		Content:       "fuck off",
		Flags:         []string{"bad_word:fuck"},
		Severity:      models.SeverityHigh,
		ChatWith:      "ami",
	})
	require.NoError(t, err)
	require.Equal(t, parent.ID, parentID)

	entries, err := log.Query(ctx, parent.ID, child.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotEmpty(t, entries[0].ID)
	require.False(t, entries[0].Timestamp.IsZero())
	require.Equal(t, models.SeverityHigh, entries[0].Severity)
	require.Equal(t, "ami", entries[0].ChatWith)
}

func TestRecord_unresolvedParent(t *testing.T) {
	log, reg, parent, _ := setup(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		childID string
		want    error
	}{
		{name: "unknown child", childID: "ghost", want: models.ErrParentNotFound},
		{name: "parent as child", childID: parent.ID, want: models.ErrParentNotFound},
		{name: "missing child id", childID: "", want: models.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := log.Record(ctx, models.SafetyLogEntry{ChildID: tt.childID, Content: "merde"})
			require.ErrorIs(t, err, tt.want)
		})
	}

	counts := reg.Counts()
	require.Equal(t, 1, counts.Children)
	entries, err := log.Query(ctx, parent.ID, parent.ID, 0)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRecord_afterDisconnect(t *testing.T) {
	log, reg, parent, child := setup(t)
	ctx := context.Background()

	reg.MarkOffline(parent.ID)
	reg.MarkOffline(child.ID)

	parentID, err := log.Record(ctx, models.SafetyLogEntry{ChildID: child.ID, Content: "merde"})
	require.NoError(t, err)
	require.Equal(t, parent.ID, parentID)
}

func TestQuery_limit(t *testing.T) {
	reg := registry.New()
	parent := reg.RegisterParent(registry.ParentRegistration{Username: "maman"})
	child, err := reg.RegisterChild(registry.ChildRegistration{Username: "ti-loup", ParentID: parent.ID})
	require.NoError(t, err)
	log := New(store.NewMemoryStore(), reg, zerolog.Nop(), 5)
	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	ctx := context.Background()
	for i := range 8 {
		_, err := log.Record(ctx, models.SafetyLogEntry{
			ChildID:   child.ID,
			Content:   fmt.Sprintf("msg %d", i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	entries, err := log.Query(ctx, parent.ID, child.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	require.Equal(t, "msg 3", entries[0].Content)
	require.Equal(t, "msg 7", entries[4].Content)

	entries, err = log.Query(ctx, parent.ID, child.ID, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "msg 6", entries[0].Content)
}

type brokenStore struct{ store.SafetyLogStore }

func (brokenStore) AppendSafetyLog(context.Context, string, *models.SafetyLogEntry) error {
	return errors.New("connection reset")
}

func TestRecord_storeFailure(t *testing.T) {
	reg := registry.New()
	parent := reg.RegisterParent(registry.ParentRegistration{Username: "maman"})
	child, err := reg.RegisterChild(registry.ChildRegistration{Username: "ti-loup", ParentID: parent.ID})
	require.NoError(t, err)
	log := New(brokenStore{}, reg, zerolog.Nop(), 0)

	parentID, err := log.Record(context.Background(), models.SafetyLogEntry{ChildID: child.ID})
	require.ErrorIs(t, err, models.ErrInternal)
	require.Equal(t, parent.ID, parentID)
}
