package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/beechat/internal/companion"
	"github.com/eldtechnologies/beechat/internal/metrics"
	"github.com/eldtechnologies/beechat/internal/models"
	"github.com/eldtechnologies/beechat/internal/registry"
	"github.com/eldtechnologies/beechat/internal/safety"
	"github.com/eldtechnologies/beechat/internal/safetylog"
	"github.com/eldtechnologies/beechat/internal/store"
)

type event struct {
	session string
	name    string
	payload any
}

type outbox struct {
	mu     sync.Mutex
	events []event
}

func (o *outbox) Notify(sessionID, name string, payload any) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, event{session: sessionID, name: name, payload: payload})
	return nil
}

func (o *outbox) to(sessionID, name string) []event {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []event
	for _, e := range o.events {
		if e.session == sessionID && e.name == name {
			out = append(out, e)
		}
	}
	return out
}

type rooms map[string][]string

func (r rooms) Members(roomID string) []string { return r[roomID] }

type replies struct {
	mu   sync.Mutex
	msgs []models.Message
}

func (r *replies) OnDelivered(msg models.Message, _ []string) *companion.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

type fixture struct {
	router  *Router
	reg     *registry.Registry
	store   *store.MemoryStore
	log     *safetylog.Log
	out     *outbox
	rooms   rooms
	replies *replies

	parent models.Session
	child  models.Session
	friend models.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := registry.New()
	parent := reg.RegisterParent(registry.ParentRegistration{Username: "maman", Email: "maman@example.com"})
	child, err := reg.RegisterChild(registry.ChildRegistration{Username: "ti-loup", Age: 11, ParentID: parent.ID})
	require.NoError(t, err)
	friend := reg.RegisterParent(registry.ParentRegistration{Username: "ami"})

	s := store.NewMemoryStore()
	f := &fixture{
		reg:     reg,
		store:   s,
		log:     safetylog.New(s, reg, zerolog.Nop(), 0),
		out:     &outbox{},
		rooms:   rooms{},
		replies: &replies{},
		parent:  parent,
		child:   child,
		friend:  friend,
	}
	f.router = New(Deps{
		Sessions: reg,
		Checker:  safety.MustDefault(),
		Messages: s,
		Log:      f.log,
		Notifier: f.out,
		Rooms:    f.rooms,
		Replier:  f.replies,
		Logger:   zerolog.Nop(),
	})
	return f
}

func (f *fixture) logs(t *testing.T) []models.SafetyLogEntry {
	t.Helper()
	entries, err := f.log.Query(context.Background(), f.parent.ID, f.child.ID, 0)
	require.NoError(t, err)
	return entries
}

func (f *fixture) messageCount(t *testing.T) int64 {
	t.Helper()
	n, err := f.store.CountMessages(context.Background())
	require.NoError(t, err)
	return n
}

func TestSend_endToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.router.Send(ctx, SendRequest{SenderID: f.child.ID, RecipientID: f.friend.ID, Content: "salut"})
	require.NoError(t, err)
	require.Equal(t, Delivered, out.Kind)
	require.NotNil(t, out.Message)
	require.True(t, out.Message.SafetyChecked)
	require.Equal(t, models.KindText, out.Message.Kind)

	received := f.out.to(f.friend.ID, models.EventMessageReceived)
	require.Len(t, received, 1)
	require.Equal(t, "salut", received[0].payload.(models.Message).Content)
	require.Len(t, f.out.to(f.child.ID, models.EventMessageSent), 1)
	require.Empty(t, f.logs(t))

	out, err = f.router.Send(ctx, SendRequest{SenderID: f.child.ID, RecipientID: f.friend.ID, Content: "fuck off"})
	require.NoError(t, err)
	require.Equal(t, Blocked, out.Kind)
	require.Nil(t, out.Message)
	require.Equal(t, BlockedReason, out.Reason)
	require.Equal(t, []string{"bad_word:fuck"}, out.Flags)
	require.NoError(t, out.LogErr)

	require.Len(t, f.out.to(f.friend.ID, models.EventMessageReceived), 1)
	require.EqualValues(t, 1, f.messageCount(t))

	blocked := f.out.to(f.child.ID, models.EventMessageBlocked)
	require.Len(t, blocked, 1)
	notice := blocked[0].payload.(BlockedNotice)
	require.Equal(t, companion.BlockedLine, notice.TiGuyMessage)

	entries := f.logs(t)
	require.Len(t, entries, 1)
	require.Equal(t, models.SeverityHigh, entries[0].Severity)
	require.Equal(t, "fuck off", entries[0].Content)
	require.Equal(t, "ti-loup", entries[0].ChildUsername)
	require.Equal(t, "ami", entries[0].ChatWith)
}

func TestSend_warning(t *testing.T) {
	f := newFixture(t)

	out, err := f.router.Send(context.Background(), SendRequest{
		SenderID:    f.child.ID,
		RecipientID: f.friend.ID,
		Content:     "osti que c'est beau",
	})
	require.NoError(t, err)
	require.Equal(t, DeliveredWithWarning, out.Kind)
	require.Equal(t, WarningText, out.Warning)
	require.Len(t, f.out.to(f.friend.ID, models.EventMessageReceived), 1)

	warnings := f.out.to(f.child.ID, models.EventMessageWarning)
	require.Len(t, warnings, 1)
	require.Equal(t, WarningNotice{Message: WarningText, TiGuyMessage: companion.WarningLine}, warnings[0].payload)

	entries := f.logs(t)
	require.Len(t, entries, 1)
	require.Equal(t, models.SeverityMedium, entries[0].Severity)
	require.Equal(t, []string{"bad_word:osti"}, entries[0].Flags)

	// the companion only follows clean messages
	require.Empty(t, f.replies.msgs)
}

func TestSend_parentSenderIsNotLogged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.router.Send(ctx, SendRequest{SenderID: f.parent.ID, RecipientID: f.child.ID, Content: "merde alors"})
	require.NoError(t, err)
	require.Equal(t, DeliveredWithWarning, out.Kind)

	out, err = f.router.Send(ctx, SendRequest{SenderID: f.parent.ID, RecipientID: f.child.ID, Content: "porn"})
	require.NoError(t, err)
	require.Equal(t, Blocked, out.Kind)

	entries, err := f.log.Query(ctx, f.parent.ID, f.parent.ID, 0)
	require.NoError(t, err)
	require.Empty(t, entries)
	require.Empty(t, f.logs(t))
}

func TestSend_rejected(t *testing.T) {
	f := newFixture(t)
	offline := f.reg.RegisterParent(registry.ParentRegistration{Username: "parti"})
	f.reg.MarkOffline(offline.ID)

	tests := []struct {
		name string
		req  SendRequest
		want error
	}{
		{name: "unknown sender", req: SendRequest{SenderID: "ghost", RecipientID: f.friend.ID, Content: "salut"}, want: models.ErrSenderUnknown},
		{name: "offline sender", req: SendRequest{SenderID: offline.ID, RecipientID: f.friend.ID, Content: "salut"}, want: models.ErrSenderUnknown},
		{name: "empty content", req: SendRequest{SenderID: f.child.ID, RecipientID: f.friend.ID, Content: "   "}, want: models.ErrValidation},
		{name: "oversized content", req: SendRequest{SenderID: f.child.ID, RecipientID: f.friend.ID, Content: strings.Repeat("é", MaxContentLength+1)}, want: models.ErrValidation},
		{name: "no recipient", req: SendRequest{SenderID: f.child.ID, Content: "salut"}, want: models.ErrValidation},
		{name: "bad kind", req: SendRequest{SenderID: f.child.ID, RecipientID: f.friend.ID, Content: "salut", Kind: "video"}, want: models.ErrValidation},
		{name: "voice without audio", req: SendRequest{SenderID: f.child.ID, RecipientID: f.friend.ID, Kind: models.KindVoice}, want: models.ErrValidation},
		{name: "voice with relative audio url", req: SendRequest{SenderID: f.child.ID, RecipientID: f.friend.ID, Kind: models.KindVoice, AudioURL: "/audio/1.webm"}, want: models.ErrValidation},
		{name: "voice with negative duration", req: SendRequest{SenderID: f.child.ID, RecipientID: f.friend.ID, Kind: models.KindVoice, AudioURL: "https://cdn.example.com/a.webm", Duration: -1}, want: models.ErrValidation},
		{name: "bad message id", req: SendRequest{SenderID: f.child.ID, RecipientID: f.friend.ID, Content: "salut", MessageID: "not-a-ulid"}, want: models.ErrValidation},
		{name: "room not joined", req: SendRequest{SenderID: f.child.ID, ConversationID: "room-x", Content: "salut"}, want: models.ErrAccessDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.router.Send(context.Background(), tt.req)
			require.ErrorIs(t, err, tt.want)
		})
	}

	require.EqualValues(t, 0, f.messageCount(t))
	require.Empty(t, f.logs(t))
}

func TestSend_voiceAtMaxLength(t *testing.T) {
	f := newFixture(t)

	out, err := f.router.Send(context.Background(), SendRequest{
		SenderID:    f.child.ID,
		RecipientID: f.friend.ID,
		Content:     strings.Repeat("é", MaxContentLength),
		Kind:        models.KindVoice,
		AudioURL:    "https://cdn.example.com/audio/1.webm",
	})
	require.NoError(t, err)
	require.Equal(t, models.KindVoice, out.Message.Kind)
}

func TestSend_voice(t *testing.T) {
	f := newFixture(t)

	out, err := f.router.Send(context.Background(), SendRequest{
		SenderID:       f.child.ID,
		ConversationID: "room-1",
		Kind:           models.KindVoice,
		AudioURL:       "https://cdn.example.com/audio/1.webm",
		Duration:       3.2,
	})
	require.ErrorIs(t, err, models.ErrAccessDenied)
	require.Zero(t, out.Kind)

	f.rooms["room-1"] = []string{f.child.ID, f.friend.ID}
	out, err = f.router.Send(context.Background(), SendRequest{
		SenderID:       f.child.ID,
		ConversationID: "room-1",
		Kind:           models.KindVoice,
		AudioURL:       "https://cdn.example.com/audio/1.webm",
		Duration:       3.2,
	})
	require.NoError(t, err)
	require.Equal(t, Delivered, out.Kind)
	require.Equal(t, VoiceContent, out.Message.Content)
	require.Equal(t, "https://cdn.example.com/audio/1.webm", out.Message.AudioURL)
	require.InDelta(t, 3.2, out.Message.Duration, 1e-9)

	received := f.out.to(f.friend.ID, models.EventMessageReceived)
	require.Len(t, received, 1)
	require.Equal(t, models.KindVoice, received[0].payload.(models.Message).Kind)

	stored, err := f.store.GetMessage(context.Background(), out.Message.ID)
	require.NoError(t, err)
	require.Equal(t, out.Message.AudioURL, stored.AudioURL)

	// audio fields are dropped from text messages
	out, err = f.router.Send(context.Background(), SendRequest{
		SenderID:    f.child.ID,
		RecipientID: f.friend.ID,
		Content:     "salut",
		AudioURL:    "https://cdn.example.com/audio/2.webm",
		Duration:    1,
	})
	require.NoError(t, err)
	require.Empty(t, out.Message.AudioURL)
	require.Zero(t, out.Message.Duration)
}

type countingChecker struct {
	inner Checker
	calls atomic.Int32
}

func (c *countingChecker) Check(content string) models.SafetyCheckResult {
	c.calls.Add(1)
	return c.inner.Check(content)
}

func TestSend_roomFanOut(t *testing.T) {
	f := newFixture(t)
	other := f.reg.RegisterParent(registry.ParentRegistration{Username: "autre"})
	f.rooms["room-1"] = []string{f.child.ID, f.friend.ID, other.ID}

	checker := &countingChecker{inner: safety.MustDefault()}
	f.router.deps.Checker = checker

	out, err := f.router.Send(context.Background(), SendRequest{SenderID: f.child.ID, ConversationID: "room-1", Content: "allo la gang"})
	require.NoError(t, err)
	require.Equal(t, Delivered, out.Kind)
	require.Equal(t, "room-1", out.Message.ConversationID)
	require.EqualValues(t, 1, checker.calls.Load())

	require.Len(t, f.out.to(f.friend.ID, models.EventMessageReceived), 1)
	require.Len(t, f.out.to(other.ID, models.EventMessageReceived), 1)
	require.Empty(t, f.out.to(f.child.ID, models.EventMessageReceived))

	out, err = f.router.Send(context.Background(), SendRequest{SenderID: f.child.ID, ConversationID: "room-1", Content: "calisse de tabarnak de merde"})
	require.NoError(t, err)
	require.Equal(t, Blocked, out.Kind)
	require.Len(t, f.out.to(f.friend.ID, models.EventMessageReceived), 1)

	entries := f.logs(t)
	require.Len(t, entries, 1)
	require.Equal(t, "room-1", entries[0].ChatWith)
}

func TestSend_idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := ulid.Make().String()

	req := SendRequest{SenderID: f.child.ID, RecipientID: f.friend.ID, Content: "salut", MessageID: id}
	first, err := f.router.Send(ctx, req)
	require.NoError(t, err)
	require.False(t, first.Duplicate)
	require.Equal(t, id, first.Message.ID)

	second, err := f.router.Send(ctx, req)
	require.NoError(t, err)
	require.True(t, second.Duplicate)
	require.Equal(t, Delivered, second.Kind)
	require.Equal(t, first.Message.Timestamp, second.Message.Timestamp)

	require.Len(t, f.out.to(f.friend.ID, models.EventMessageReceived), 1)
	require.Len(t, f.out.to(f.child.ID, models.EventMessageSent), 2)
	require.EqualValues(t, 1, f.messageCount(t))
	require.Len(t, f.replies.msgs, 1)

	// another sender cannot reuse the id
	_, err = f.router.Send(ctx, SendRequest{SenderID: f.friend.ID, RecipientID: f.child.ID, Content: "salut", MessageID: id})
	require.ErrorIs(t, err, models.ErrValidation)
}

func TestSend_retryWithDifferentContent(t *testing.T) {
	tests := []struct {
		name  string
		retry string
	}{
		{name: "warning content", retry: "merde"},
		{name: "blocked content", retry: "calisse de tabarnak de merde"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			id := ulid.Make().String()

			first, err := f.router.Send(ctx, SendRequest{SenderID: f.child.ID, RecipientID: f.friend.ID, Content: "salut", MessageID: id})
			require.NoError(t, err)
			require.Equal(t, Delivered, first.Kind)

			second, err := f.router.Send(ctx, SendRequest{SenderID: f.child.ID, RecipientID: f.friend.ID, Content: tt.retry, MessageID: id})
			require.NoError(t, err)
			require.True(t, second.Duplicate)
			require.Equal(t, Delivered, second.Kind)
			require.Equal(t, models.ActionAllow, second.Verdict.Action)
			require.Equal(t, "salut", second.Message.Content)

			require.Empty(t, f.logs(t))
			require.Empty(t, f.out.to(f.child.ID, models.EventMessageWarning))
			require.Empty(t, f.out.to(f.child.ID, models.EventMessageBlocked))
			require.Len(t, f.out.to(f.friend.ID, models.EventMessageReceived), 1)
			require.EqualValues(t, 1, f.messageCount(t))
		})
	}
}

func TestSend_retryOfWarnedMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := ulid.Make().String()

	first, err := f.router.Send(ctx, SendRequest{SenderID: f.child.ID, RecipientID: f.friend.ID, Content: "merde", MessageID: id})
	require.NoError(t, err)
	require.Equal(t, DeliveredWithWarning, first.Kind)

	second, err := f.router.Send(ctx, SendRequest{SenderID: f.child.ID, RecipientID: f.friend.ID, Content: "salut", MessageID: id})
	require.NoError(t, err)
	require.True(t, second.Duplicate)
	require.Equal(t, DeliveredWithWarning, second.Kind)
	require.Equal(t, "merde", second.Message.Content)

	require.Len(t, f.logs(t), 1)
	require.Len(t, f.out.to(f.child.ID, models.EventMessageWarning), 1)
}

func TestSend_generatedIDsAreUnique(t *testing.T) {
	f := newFixture(t)
	seen := make(map[string]bool)
	for range 20 {
		out, err := f.router.Send(context.Background(), SendRequest{SenderID: f.child.ID, RecipientID: f.friend.ID, Content: "allo"})
		require.NoError(t, err)
		require.False(t, seen[out.Message.ID])
		seen[out.Message.ID] = true
	}
	require.EqualValues(t, 20, f.messageCount(t))
}

type failingLog struct{}

func (failingLog) Record(context.Context, models.SafetyLogEntry) (string, error) {
	return "", errors.New("store unavailable")
}

func TestSend_logFailureDoesNotChangeDecision(t *testing.T) {
	f := newFixture(t)
	f.router.deps.Log = failingLog{}
	ctx := context.Background()

	before := testutil.ToFloat64(metrics.SafetyLogFailures)

	out, err := f.router.Send(ctx, SendRequest{SenderID: f.child.ID, RecipientID: f.friend.ID, Content: "fuck off"})
	require.NoError(t, err)
	require.Equal(t, Blocked, out.Kind)
	require.Error(t, out.LogErr)
	require.Len(t, f.out.to(f.child.ID, models.EventMessageBlocked), 1)

	out, err = f.router.Send(ctx, SendRequest{SenderID: f.child.ID, RecipientID: f.friend.ID, Content: "merde"})
	require.NoError(t, err)
	require.Equal(t, DeliveredWithWarning, out.Kind)
	require.Error(t, out.LogErr)
	require.Len(t, f.out.to(f.friend.ID, models.EventMessageReceived), 1)

	require.Equal(t, before+2, testutil.ToFloat64(metrics.SafetyLogFailures))
}

type slowChecker struct {
	inner    Checker
	inflight atomic.Int32
	maxSeen  atomic.Int32
}

func (c *slowChecker) Check(content string) models.SafetyCheckResult {
	n := c.inflight.Add(1)
	for {
		m := c.maxSeen.Load()
		if n <= m || c.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	c.inflight.Add(-1)
	return c.inner.Check(content)
}

func TestSend_serialisedPerSender(t *testing.T) {
	f := newFixture(t)
	checker := &slowChecker{inner: safety.MustDefault()}
	f.router.deps.Checker = checker

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.router.Send(context.Background(), SendRequest{SenderID: f.child.ID, RecipientID: f.friend.ID, Content: "allo"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.EqualValues(t, 1, checker.maxSeen.Load())
	require.Equal(t, 0, f.router.senders.size())
	require.EqualValues(t, 10, f.messageCount(t))
}
