// Package companion implements TI-GUY, the chat mascot that occasionally
// answers in a conversation and phrases the safety notices sent to children.
package companion

import (
	"math/rand/v2"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/beechat/internal/ids"
	"github.com/eldtechnologies/beechat/internal/metrics"
	"github.com/eldtechnologies/beechat/internal/models"
)

const (
	BotID   = "ti-guy"
	BotName = "TI-GUY"

	// OptOut in a message's content suppresses the reply.
	OptOut = "/nobot"

	WarningLine = "Hé, surveille ton langage un peu! 😅"
	BlockedLine = "Oups! Ce message-là passe pas. Essaie de le dire autrement! 🐝"
)

const (
	DefaultChance = 0.1
	DefaultDelay  = 2 * time.Second
)

// DefaultReplies are TI-GUY's canned lines.
var DefaultReplies = []string{
	"Salut mon chum! 🦫",
	"Osti que c'est beau ça!",
	"Tabarnouche, raconte-moi plus!",
	"C'est la vie au Québec! ⚜️",
	"T'as-tu essayé la poutine hier? 🍟",
	"Go Habs Go! 🏒",
	"Ben coudonc, c'est fou ça!",
	"Parle-moi de ton projet!",
	"Ça va bien mon ami?",
	"Qu'est-ce qui neuf au Québec?",
}

// Checker classifies outgoing text.
type Checker interface {
	Check(content string) models.SafetyCheckResult
}

// Notifier pushes an event to a connected session.
type Notifier interface {
	Notify(sessionID, event string, payload any) error
}

// Config controls how often and how fast TI-GUY answers.
type Config struct {
	Chance  float64
	Delay   time.Duration
	Replies []string
}

// Companion schedules TI-GUY's replies.
type Companion struct {
	sched    *Scheduler
	checker  Checker
	notifier Notifier
	cfg      Config
	logger   zerolog.Logger

	roll func() float64
	pick func(n int) int
	now  func() time.Time
}

// New creates a Companion. A zero Delay or empty Replies use the defaults.
// Chance is used as given, so zero disables replies.
func New(sched *Scheduler, checker Checker, notifier Notifier, cfg Config, logger zerolog.Logger) *Companion {
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	if len(cfg.Replies) == 0 {
		cfg.Replies = DefaultReplies
	}
	return &Companion{
		sched:    sched,
		checker:  checker,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With().Str("component", "companion").Logger(),
		roll:     rand.Float64,
		pick:     rand.IntN,
		now:      time.Now,
	}
}

// Scheduler returns the scheduler replies are queued on.
func (c *Companion) Scheduler() *Scheduler {
	return c.sched
}

// OnDelivered may schedule a reply to msg, sent to every session in
// audience. The task belongs to the sender's session. It returns nil when
// no reply was scheduled.
func (c *Companion) OnDelivered(msg models.Message, audience []string) *Task {
	if msg.IsBot || strings.Contains(msg.Content, OptOut) {
		return nil
	}
	if c.roll() >= c.cfg.Chance {
		return nil
	}

	to := append([]string(nil), audience...)
	return c.sched.Schedule(msg.SenderID, c.cfg.Delay, func() {
		c.reply(msg, to)
	})
}

func (c *Companion) reply(to models.Message, audience []string) {
	content := c.cfg.Replies[c.pick(len(c.cfg.Replies))]

	// canned lines still go through the classifier
	if verdict := c.checker.Check(content); verdict.Action != models.ActionAllow {
		metrics.CompanionReplies.WithLabelValues("filtered").Inc()
		c.logger.Debug().Strs("flags", verdict.Flags).Msg("reply withheld by classifier")
		return
	}

	bot := models.Message{
		ID:             ids.NewMessageID(),
		Content:        content,
		SenderID:       BotID,
		SenderName:     BotName,
		RecipientID:    to.SenderID,
		ConversationID: to.ConversationID,
		Timestamp:      c.now(),
		Kind:           models.KindText,
		SafetyChecked:  true,
		IsBot:          true,
	}
	for _, sessionID := range audience {
		if err := c.notifier.Notify(sessionID, models.EventMessageReceived, bot); err != nil {
			c.logger.Debug().Err(err).Str("session_id", sessionID).Msg("reply not delivered")
		}
	}
	metrics.CompanionReplies.WithLabelValues("sent").Inc()
}

// CancelSession drops the session's pending replies.
func (c *Companion) CancelSession(sessionID string) {
	if n := c.sched.CancelSession(sessionID); n > 0 {
		metrics.CompanionReplies.WithLabelValues("cancelled").Add(float64(n))
	}
}
