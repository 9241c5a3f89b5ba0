// Package realtime is the websocket gateway: it decodes client events,
// drives the registry, router, tracker and access guard, and pushes the
// resulting events back to connected sessions.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/net/websocket"

	"github.com/eldtechnologies/beechat/internal/access"
	"github.com/eldtechnologies/beechat/internal/metrics"
	"github.com/eldtechnologies/beechat/internal/models"
	"github.com/eldtechnologies/beechat/internal/registry"
	"github.com/eldtechnologies/beechat/internal/router"
)

const (
	maxFrameBytes          = 16 << 10
	maxFramesPerSecond     = 20
	maxDecodeErrorsPerConn = 3
)

// Sessions is the registry surface the gateway needs.
type Sessions interface {
	RegisterParent(reg registry.ParentRegistration) models.Session
	RegisterChild(reg registry.ChildRegistration) (models.Session, error)
	Lookup(id string) (models.Session, bool)
	MarkOffline(id string) bool
	Children(parentID string) ([]models.Session, bool)
}

// Sender routes messages.
type Sender interface {
	Send(ctx context.Context, req router.SendRequest) (router.Outcome, error)
}

// LocationRecorder stores location samples.
type LocationRecorder interface {
	Record(ctx context.Context, sample models.LocationSample) (models.LocationSample, error)
}

// ParentReads are the guarded parent queries.
type ParentReads interface {
	SafetyLogs(ctx context.Context, parentID, childID string) ([]models.SafetyLogEntry, error)
	Location(ctx context.Context, parentID, childID string) (access.LocationView, error)
}

// TaskCanceller drops scheduled work for a session.
type TaskCanceller interface {
	CancelSession(sessionID string)
}

// Deps are the collaborators of a Gateway.
type Deps struct {
	Hub       *Hub
	Sessions  Sessions
	Router    Sender
	Locations LocationRecorder
	Guard     ParentReads
	Tasks     TaskCanceller
	Logger    zerolog.Logger
}

// Gateway serves the /ws endpoint.
type Gateway struct {
	deps     Deps
	validate *validator.Validate
	logger   zerolog.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
	wg    sync.WaitGroup
}

// New creates a Gateway.
func New(d Deps) *Gateway {
	return &Gateway{
		deps:     d,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   d.Logger.With().Str("component", "realtime").Logger(),
		conns:    make(map[*websocket.Conn]struct{}),
	}
}

// Handler returns the websocket HTTP handler.
func (g *Gateway) Handler() http.Handler {
	ws := websocket.Server{
		Handler: g.serve,
		// any Origin: the dashboard is served from another host
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ws.ServeHTTP(w, r)
	})
}

// Shutdown closes every open connection and waits for their handlers to
// finish disconnecting, or for ctx to end.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	for ws := range g.conns {
		_ = ws.Close()
	}
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) track(ws *websocket.Conn) func() {
	g.mu.Lock()
	g.conns[ws] = struct{}{}
	g.wg.Add(1)
	g.mu.Unlock()
	return func() {
		g.mu.Lock()
		delete(g.conns, ws)
		g.mu.Unlock()
		g.wg.Done()
	}
}

// conn is the per-connection state.
type conn struct {
	g         *Gateway
	peer      *peer
	sessionID string
	log       zerolog.Logger
}

func (g *Gateway) serve(ws *websocket.Conn) {
	defer g.track(ws)()
	defer ws.Close()

	ws.MaxPayloadBytes = maxFrameBytes
	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()

	c := &conn{g: g, peer: newPeer(ws), log: g.logger}
	defer c.disconnect()

	ctx := context.Background()
	if req := ws.Request(); req != nil {
		ctx = req.Context()
		c.log = c.log.With().Str("remote_addr", req.RemoteAddr).Logger()
	}

	decoder := json.NewDecoder(ws)
	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var f frame
		if err := decoder.Decode(&f); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return
			}
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if !errors.As(err, &syntaxErr) && !errors.As(err, &typeErr) {
				// transport failure: the decoder cannot recover
				return
			}
			decodeErrors++
			c.fail(msgInvalidFrame)
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			decoder = json.NewDecoder(ws)
			continue
		}
		decodeErrors = 0

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			metrics.RateLimitHits.WithLabelValues("ws").Inc()
			c.log.Warn().
				Str("type", "ratelimit").
				Str("session_id", c.sessionID).
				Msg("websocket frame rate exceeded")
			c.fail(msgRateLimited)
			return
		}

		c.dispatch(ctx, f)
	}
}

func (c *conn) dispatch(ctx context.Context, f frame) {
	switch f.Event {
	case models.EventParentRegister:
		c.registerParent(f.Data)
	case models.EventChildRegister:
		c.registerChild(f.Data)
	case models.EventMessageSend:
		c.send(ctx, f.Data)
	case models.EventMessageVoice:
		c.sendVoice(ctx, f.Data)
	case models.EventLocationUpdate:
		c.updateLocation(ctx, f.Data)
	case models.EventParentGetLocation:
		c.getLocation(ctx, f.Data)
	case models.EventParentGetSafetyLog:
		c.getSafetyLogs(ctx, f.Data)
	case models.EventConversationJoin:
		c.joinConversation(f.Data)
	case models.EventTypingStart, models.EventTypingStop:
		c.typing(f.Event, f.Data)
	default:
		c.fail(msgUnknownEvent)
	}
}

func (c *conn) emit(event string, data any) {
	if err := c.peer.write(event, data); err != nil {
		c.log.Debug().Err(err).Str("event", event).Msg("write failed")
	}
}

func (c *conn) fail(message string) {
	c.emit(models.EventError, errorPayload{Message: message})
}

// decode unmarshals and validates a payload, answering with an error event
// on failure.
func (c *conn) decode(data json.RawMessage, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		c.fail(msgInvalid)
		return false
	}
	if err := c.g.validate.Struct(v); err != nil {
		c.fail(msgInvalid)
		return false
	}
	return true
}

// session returns the connection's live session, or answers with an error.
func (c *conn) session() (models.Session, bool) {
	if c.sessionID == "" {
		c.fail(msgUnknownSession)
		return models.Session{}, false
	}
	s, ok := c.g.deps.Sessions.Lookup(c.sessionID)
	if !ok || !s.Online() {
		c.fail(msgUnknownSession)
		return models.Session{}, false
	}
	return s, true
}

func (c *conn) bind(s models.Session) {
	c.sessionID = s.ID
	c.g.deps.Hub.attach(s.ID, c.peer)
	c.log = c.log.With().Str("session_id", s.ID).Logger()
	metrics.SessionsRegistered.WithLabelValues(string(s.Role())).Inc()
	c.log.Info().Str("role", string(s.Role())).Str("username", s.Username).Msg("session registered")
}

func (c *conn) registerParent(data json.RawMessage) {
	if c.sessionID != "" {
		c.fail(msgAlreadyJoined)
		return
	}
	var p parentRegisterPayload
	if !c.decode(data, &p) {
		return
	}

	s := c.g.deps.Sessions.RegisterParent(registry.ParentRegistration{Username: p.Username, Email: p.Email})
	c.bind(s)
	c.emit(models.EventParentRegistered, registeredPayload{ID: s.ID, Username: s.Username})
}

func (c *conn) registerChild(data json.RawMessage) {
	if c.sessionID != "" {
		c.fail(msgAlreadyJoined)
		return
	}
	var p childRegisterPayload
	if !c.decode(data, &p) {
		return
	}

	s, err := c.g.deps.Sessions.RegisterChild(registry.ChildRegistration{
		Username:     p.Username,
		Age:          p.Age,
		ParentID:     p.ParentID,
		Restrictions: p.Restrictions.model(),
	})
	if err != nil {
		c.fail(msgParentNotFound)
		return
	}
	c.bind(s)

	profile, _ := s.Child()
	c.emit(models.EventChildRegistered, registeredPayload{ID: s.ID, Username: s.Username, ParentID: profile.ParentID})
	_ = c.g.deps.Hub.Notify(profile.ParentID, models.EventParentChildRegistered, childRegisteredNotice{
		ID:           s.ID,
		Username:     s.Username,
		Age:          profile.Age,
		Restrictions: profile.Restrictions,
	})

	_ = c.g.deps.Hub.Notify(profile.ParentID, models.EventUserJoined, presenceOf(s))
	if parent, ok := c.g.deps.Sessions.Lookup(profile.ParentID); ok && parent.Online() {
		c.emit(models.EventUserJoined, presenceOf(parent))
	}
}

// family returns the ids of the sessions linked to s: a child's parent, or
// a parent's children. Presence never travels outside a family.
func (c *conn) family(s models.Session) []string {
	if profile, ok := s.Child(); ok {
		return []string{profile.ParentID}
	}
	children, _ := c.g.deps.Sessions.Children(s.ID)
	ids := make([]string, 0, len(children))
	for _, child := range children {
		ids = append(ids, child.ID)
	}
	return ids
}

func (c *conn) send(ctx context.Context, data json.RawMessage) {
	s, ok := c.session()
	if !ok {
		return
	}
	var p sendPayload
	if !c.decode(data, &p) {
		return
	}

	c.route(ctx, router.SendRequest{
		SenderID:       s.ID,
		RecipientID:    p.RecipientID,
		ConversationID: p.ConversationID,
		Content:        p.Content,
		Kind:           models.MessageKind(p.Type),
		MessageID:      p.ClientMessageID,
	})
}

func (c *conn) sendVoice(ctx context.Context, data json.RawMessage) {
	s, ok := c.session()
	if !ok {
		return
	}
	var p voicePayload
	if !c.decode(data, &p) {
		return
	}

	c.route(ctx, router.SendRequest{
		SenderID:       s.ID,
		RecipientID:    p.RecipientID,
		ConversationID: p.ConversationID,
		Content:        p.Content,
		Kind:           models.KindVoice,
		MessageID:      p.ClientMessageID,
		AudioURL:       p.AudioURL,
		Duration:       p.Duration,
	})
}

// route hands a send to the router, which emits message:sent,
// message:received and the notices itself.
func (c *conn) route(ctx context.Context, req router.SendRequest) {
	_, err := c.g.deps.Router.Send(ctx, req)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrValidation):
		c.fail(msgInvalid)
	case errors.Is(err, models.ErrAccessDenied):
		c.fail(msgAccessDenied)
	case errors.Is(err, models.ErrSenderUnknown):
		c.fail(msgUnknownSession)
	default:
		c.log.Error().Err(err).Msg("send failed")
		c.fail(msgInternal)
	}
}

func (c *conn) updateLocation(ctx context.Context, data json.RawMessage) {
	s, ok := c.session()
	if !ok {
		return
	}
	if s.Role() != models.RoleChild {
		return
	}
	var p locationPayload
	if !c.decode(data, &p) {
		metrics.LocationUpdates.WithLabelValues("rejected").Inc()
		return
	}

	_, err := c.g.deps.Locations.Record(ctx, models.LocationSample{
		UserID:   s.ID,
		Lat:      *p.Lat,
		Lng:      *p.Lng,
		Accuracy: p.Accuracy,
	})
	if err != nil {
		metrics.LocationUpdates.WithLabelValues("rejected").Inc()
		if errors.Is(err, models.ErrValidation) {
			c.fail(msgInvalid)
			return
		}
		c.log.Error().Err(err).Msg("location record failed")
		c.fail(msgInternal)
		return
	}
	metrics.LocationUpdates.WithLabelValues("recorded").Inc()
}

// parentRead resolves the caller and the child id argument. Every failure
// answers "Accès refusé" so that the reply does not reveal which part was
// wrong.
func (c *conn) parentRead(data json.RawMessage) (parentID, childID string, ok bool) {
	childID, _ = idArgument(data)
	if c.sessionID == "" {
		c.fail(msgAccessDenied)
		return "", "", false
	}
	return c.sessionID, childID, true
}

func (c *conn) getLocation(ctx context.Context, data json.RawMessage) {
	parentID, childID, ok := c.parentRead(data)
	if !ok {
		return
	}
	view, err := c.g.deps.Guard.Location(ctx, parentID, childID)
	if err != nil {
		c.readFailed(err)
		return
	}
	if view.History == nil {
		view.History = []models.LocationSample{}
	}
	c.emit(models.EventParentLocationData, locationDataPayload(view))
}

func (c *conn) getSafetyLogs(ctx context.Context, data json.RawMessage) {
	parentID, childID, ok := c.parentRead(data)
	if !ok {
		return
	}
	logs, err := c.g.deps.Guard.SafetyLogs(ctx, parentID, childID)
	if err != nil {
		c.readFailed(err)
		return
	}
	c.emit(models.EventParentSafetyLogs, safetyLogsPayload{ChildID: childID, Logs: logs})
}

func (c *conn) readFailed(err error) {
	if errors.Is(err, models.ErrAccessDenied) {
		c.fail(msgAccessDenied)
		return
	}
	c.log.Error().Err(err).Msg("parent read failed")
	c.fail(msgInternal)
}

func (c *conn) joinConversation(data json.RawMessage) {
	if _, ok := c.session(); !ok {
		return
	}
	roomID, ok := idArgument(data)
	if !ok {
		c.fail(msgInvalid)
		return
	}
	c.g.deps.Hub.Join(roomID, c.sessionID)
	c.log.Debug().Str("conversation_id", roomID).Msg("joined conversation")
}

func (c *conn) typing(event string, data json.RawMessage) {
	s, ok := c.session()
	if !ok {
		return
	}
	roomID, ok := idArgument(data)
	if !ok {
		c.fail(msgInvalid)
		return
	}

	payload := typingPayload{UserID: s.ID, ConversationID: roomID}
	if event == models.EventTypingStart {
		payload.Username = s.Username
	}
	for _, id := range c.g.deps.Hub.Members(roomID) {
		if id != s.ID {
			_ = c.g.deps.Hub.Notify(id, event, payload)
		}
	}
}

// disconnect drops everything tied to the session and marks it offline.
// Pending companion replies are cancelled so that no timer outlives the
// session.
func (c *conn) disconnect() {
	if c.sessionID == "" {
		return
	}
	if c.g.deps.Tasks != nil {
		c.g.deps.Tasks.CancelSession(c.sessionID)
	}
	c.g.deps.Hub.detach(c.sessionID)
	c.g.deps.Sessions.MarkOffline(c.sessionID)

	if s, ok := c.g.deps.Sessions.Lookup(c.sessionID); ok {
		left := presenceOf(s)
		for _, id := range c.family(s) {
			_ = c.g.deps.Hub.Notify(id, models.EventUserLeft, left)
		}
	}
	c.log.Info().Msg("session disconnected")
}
