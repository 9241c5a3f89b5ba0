// Package router runs every outbound message through the safety classifier
// and acts on the verdict: deliver, deliver with a warning, or block.
package router

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/beechat/internal/companion"
	"github.com/eldtechnologies/beechat/internal/ids"
	"github.com/eldtechnologies/beechat/internal/metrics"
	"github.com/eldtechnologies/beechat/internal/models"
	"github.com/eldtechnologies/beechat/internal/store"
)

// MaxContentLength is the longest message accepted, in runes.
const MaxContentLength = 2000

// Notices shown to the sender.
const (
	BlockedReason = "Message bloqué: contenu inapproprié détecté"
	WarningText   = "Attention à ton langage!"
)

// VoiceContent is the text of a voice message sent without a caption.
const VoiceContent = "🎙️ Message vocal"

// Sessions resolves session ids.
type Sessions interface {
	Lookup(id string) (models.Session, bool)
}

// Checker classifies message content.
type Checker interface {
	Check(content string) models.SafetyCheckResult
}

// IncidentLog records flagged messages sent by children.
type IncidentLog interface {
	Record(ctx context.Context, entry models.SafetyLogEntry) (string, error)
}

// Notifier pushes an event to a connected session.
type Notifier interface {
	Notify(sessionID, event string, payload any) error
}

// RoomDirectory lists the sessions that joined a conversation.
type RoomDirectory interface {
	Members(roomID string) []string
}

// Replier reacts to delivered messages. The companion implements it.
type Replier interface {
	OnDelivered(msg models.Message, audience []string) *companion.Task
}

// Deps are the collaborators of a Router. Replier is optional.
type Deps struct {
	Sessions Sessions
	Checker  Checker
	Messages store.MessageStore
	Log      IncidentLog
	Notifier Notifier
	Rooms    RoomDirectory
	Replier  Replier
	Logger   zerolog.Logger
}

// SendRequest is one message:send or message:voice. MessageID is an
// optional client-chosen ULID that makes retries idempotent. ConversationID,
// when set, fans the message out to the room instead of RecipientID.
// AudioURL and Duration only apply to voice messages.
type SendRequest struct {
	SenderID       string
	RecipientID    string
	ConversationID string
	Content        string
	Kind           models.MessageKind
	MessageID      string
	AudioURL       string
	Duration       float64
}

// OutcomeKind is the result of a send.
type OutcomeKind string

const (
	Delivered            OutcomeKind = "delivered"
	DeliveredWithWarning OutcomeKind = "warned"
	Blocked              OutcomeKind = "blocked"
)

// Outcome describes what happened to a send.
type Outcome struct {
	Kind    OutcomeKind
	Verdict models.SafetyCheckResult

	// Message is nil when the send was blocked.
	Message *models.Message
	// Warning is set for DeliveredWithWarning.
	Warning string
	// Reason and Flags are set for Blocked.
	Reason string
	Flags  []string

	// Duplicate is set when MessageID had already been delivered; nothing was
	// delivered again.
	Duplicate bool
	// LogErr holds a failed safety log write. It never changes Kind.
	LogErr error
}

// WarningNotice is the payload of message:warning.
type WarningNotice struct {
	Message      string `json:"message"`
	TiGuyMessage string `json:"tiGuyMessage"`
}

// BlockedNotice is the payload of message:blocked.
type BlockedNotice struct {
	Reason       string   `json:"reason"`
	Flags        []string `json:"flags"`
	TiGuyMessage string   `json:"tiGuyMessage"`
}

// Router is the moderated delivery pipeline.
type Router struct {
	deps    Deps
	logger  zerolog.Logger
	senders *keyedMutex
	now     func() time.Time
}

// New creates a Router.
func New(d Deps) *Router {
	return &Router{
		deps:    d,
		logger:  d.Logger.With().Str("component", "router").Logger(),
		senders: newKeyedMutex(),
		now:     time.Now,
	}
}

// Send classifies and routes one message. Sends from the same sender are
// handled one at a time, in arrival order.
func (r *Router) Send(ctx context.Context, req SendRequest) (Outcome, error) {
	sender, ok := r.deps.Sessions.Lookup(req.SenderID)
	if !ok || !sender.Online() {
		metrics.MessagesRouted.WithLabelValues("rejected").Inc()
		return Outcome{}, models.ErrSenderUnknown
	}
	if err := validate(&req); err != nil {
		metrics.MessagesRouted.WithLabelValues("rejected").Inc()
		return Outcome{}, err
	}

	audience, err := r.audience(sender.ID, req)
	if err != nil {
		metrics.MessagesRouted.WithLabelValues("rejected").Inc()
		return Outcome{}, err
	}

	unlock := r.senders.Lock(sender.ID)
	defer unlock()

	// a retried id is acknowledged from the stored copy before anything
	// about the new content is classified or logged
	if req.MessageID != "" {
		stored, err := r.deps.Messages.GetMessage(ctx, req.MessageID)
		if err != nil {
			metrics.MessagesRouted.WithLabelValues("rejected").Inc()
			return Outcome{}, fmt.Errorf("%w: load message: %w", models.ErrInternal, err)
		}
		if stored != nil {
			return r.duplicate(sender, req.MessageID, stored)
		}
	}

	verdict := r.deps.Checker.Check(req.Content)
	metrics.SafetyVerdicts.WithLabelValues(string(verdict.Action)).Inc()

	if verdict.Action == models.ActionBlock {
		return r.block(ctx, sender, req, verdict), nil
	}

	msg := &models.Message{
		ID:             req.MessageID,
		Content:        req.Content,
		SenderID:       sender.ID,
		SenderName:     sender.Username,
		RecipientID:    req.RecipientID,
		ConversationID: req.ConversationID,
		Timestamp:      r.now(),
		Kind:           req.Kind,
		SafetyChecked:  true,
		AudioURL:       req.AudioURL,
		Duration:       req.Duration,
	}
	if msg.ID == "" {
		msg.ID = ids.NewMessageID()
	}

	created, err := r.deps.Messages.SaveMessage(ctx, msg)
	if err != nil {
		metrics.MessagesRouted.WithLabelValues("rejected").Inc()
		return Outcome{}, fmt.Errorf("%w: save message: %w", models.ErrInternal, err)
	}
	if !created {
		// another sender took the id between the lookup and the save
		stored, err := r.deps.Messages.GetMessage(ctx, msg.ID)
		if err != nil {
			metrics.MessagesRouted.WithLabelValues("rejected").Inc()
			return Outcome{}, fmt.Errorf("%w: load message: %w", models.ErrInternal, err)
		}
		return r.duplicate(sender, msg.ID, stored)
	}

	out := Outcome{Kind: Delivered, Verdict: verdict, Message: msg}

	r.notify(sender.ID, models.EventMessageSent, *msg)
	for _, id := range audience {
		r.notify(id, models.EventMessageReceived, *msg)
	}

	if verdict.Action == models.ActionWarn {
		out.Kind = DeliveredWithWarning
		out.Warning = WarningText
		out.LogErr = r.logIncident(ctx, sender, req, verdict)
		r.notify(sender.ID, models.EventMessageWarning, WarningNotice{
			Message:      WarningText,
			TiGuyMessage: companion.WarningLine,
		})
	} else if r.deps.Replier != nil {
		r.deps.Replier.OnDelivered(*msg, append([]string{sender.ID}, audience...))
	}

	metrics.MessagesRouted.WithLabelValues(string(out.Kind)).Inc()
	return out, nil
}

func (r *Router) block(ctx context.Context, sender models.Session, req SendRequest, verdict models.SafetyCheckResult) Outcome {
	out := Outcome{
		Kind:    Blocked,
		Verdict: verdict,
		Reason:  BlockedReason,
		Flags:   verdict.Flags,
	}
	// the log entry exists before the sender hears about the block
	out.LogErr = r.logIncident(ctx, sender, req, verdict)
	r.notify(sender.ID, models.EventMessageBlocked, BlockedNotice{
		Reason:       BlockedReason,
		Flags:        verdict.Flags,
		TiGuyMessage: companion.BlockedLine,
	})

	metrics.MessagesRouted.WithLabelValues(string(Blocked)).Inc()
	return out
}

// duplicate acknowledges a retried send. The stored copy wins: its content
// decides the verdict and nothing is delivered or logged again.
func (r *Router) duplicate(sender models.Session, id string, stored *models.Message) (Outcome, error) {
	if stored == nil || stored.SenderID != sender.ID {
		metrics.MessagesRouted.WithLabelValues("rejected").Inc()
		return Outcome{}, fmt.Errorf("%w: message id %s already in use", models.ErrValidation, id)
	}

	verdict := r.deps.Checker.Check(stored.Content)
	r.notify(sender.ID, models.EventMessageSent, *stored)
	metrics.MessagesRouted.WithLabelValues("duplicate").Inc()

	out := Outcome{Kind: Delivered, Verdict: verdict, Message: stored, Duplicate: true}
	if verdict.Action == models.ActionWarn {
		out.Kind = DeliveredWithWarning
		out.Warning = WarningText
	}
	return out, nil
}

// logIncident writes the safety log entry for child senders. Failures are
// reported and returned but never change the delivery decision.
func (r *Router) logIncident(ctx context.Context, sender models.Session, req SendRequest, verdict models.SafetyCheckResult) error {
	if sender.Role() != models.RoleChild {
		return nil
	}

	_, err := r.deps.Log.Record(ctx, models.SafetyLogEntry{
		ChildID:       sender.ID,
		ChildUsername: sender.Username,
		Content:       req.Content,
		Flags:         verdict.Flags,
		Severity:      verdict.Severity,
		ChatWith:      r.chatWith(req),
	})
	if err != nil {
		metrics.SafetyLogFailures.Inc()
		r.logger.Error().
			Err(err).
			Str("event", "safety_log_failed").
			Str("child_id", sender.ID).
			Str("action", string(verdict.Action)).
			Strs("flags", verdict.Flags).
			Msg("safety log write failed")
	}
	return err
}

func (r *Router) chatWith(req SendRequest) string {
	if req.ConversationID != "" {
		return req.ConversationID
	}
	if s, ok := r.deps.Sessions.Lookup(req.RecipientID); ok && s.Username != "" {
		return s.Username
	}
	return req.RecipientID
}

// audience returns the sessions that receive the message, sender excluded.
func (r *Router) audience(senderID string, req SendRequest) ([]string, error) {
	if req.ConversationID == "" {
		if req.RecipientID == senderID {
			return nil, nil
		}
		return []string{req.RecipientID}, nil
	}

	members := r.deps.Rooms.Members(req.ConversationID)
	out := make([]string, 0, len(members))
	joined := false
	for _, id := range members {
		if id == senderID {
			joined = true
			continue
		}
		out = append(out, id)
	}
	if !joined {
		return nil, fmt.Errorf("%w: not a member of %s", models.ErrAccessDenied, req.ConversationID)
	}
	return out, nil
}

func (r *Router) notify(sessionID, event string, payload any) {
	if err := r.deps.Notifier.Notify(sessionID, event, payload); err != nil {
		r.logger.Debug().Err(err).Str("session_id", sessionID).Str("event", event).Msg("notify failed")
	}
}

func validate(req *SendRequest) error {
	if req.Kind == "" {
		req.Kind = models.KindText
	}
	if !req.Kind.Valid() {
		return fmt.Errorf("%w: unknown message type %q", models.ErrValidation, req.Kind)
	}
	if req.Kind == models.KindVoice {
		if err := validateAudio(req.AudioURL, req.Duration); err != nil {
			return err
		}
		if strings.TrimSpace(req.Content) == "" {
			req.Content = VoiceContent
		}
	} else {
		req.AudioURL, req.Duration = "", 0
	}

	if strings.TrimSpace(req.Content) == "" {
		return fmt.Errorf("%w: content is required", models.ErrValidation)
	}
	if utf8.RuneCountInString(req.Content) > MaxContentLength {
		return fmt.Errorf("%w: content exceeds %d characters", models.ErrValidation, MaxContentLength)
	}
	if req.RecipientID == "" && req.ConversationID == "" {
		return fmt.Errorf("%w: recipient is required", models.ErrValidation)
	}
	if req.MessageID != "" {
		if _, err := ulid.ParseStrict(req.MessageID); err != nil {
			return fmt.Errorf("%w: message id: %w", models.ErrValidation, err)
		}
	}
	return nil
}

func validateAudio(audioURL string, duration float64) error {
	u, err := url.Parse(audioURL)
	if audioURL == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: voice messages need an http(s) audio url", models.ErrValidation)
	}
	if duration < 0 {
		return fmt.Errorf("%w: duration must not be negative", models.ErrValidation)
	}
	return nil
}
