package realtime

import (
	"encoding/json"
	"strings"

	"github.com/eldtechnologies/beechat/internal/access"
	"github.com/eldtechnologies/beechat/internal/models"
)

// Error texts shown to users.
const (
	msgParentNotFound = "Parent non trouvé"
	msgAccessDenied   = "Accès refusé"
	msgUnknownSession = "Session inconnue"
	msgAlreadyJoined  = "Session déjà enregistrée"
	msgInvalid        = "Données invalides"
	msgInvalidFrame   = "Trame invalide"
	msgUnknownEvent   = "Événement inconnu"
	msgRateLimited    = "Trop de messages, ralentis un peu"
	msgInternal       = "Erreur interne"
)

type errorPayload struct {
	Message string `json:"message"`
}

type parentRegisterPayload struct {
	Username string `json:"username" validate:"required,max=50"`
	Email    string `json:"email" validate:"omitempty,email"`
}

type hourRangePayload struct {
	Start int `json:"start" validate:"gte=0,lte=23"`
	End   int `json:"end" validate:"gte=1,lte=24,gtfield=Start"`
}

type restrictionsPayload struct {
	TimeLimit     int               `json:"timeLimit" validate:"gte=0,lte=1440"`
	AllowedHours  *hourRangePayload `json:"allowedHours"`
	ContentFilter bool              `json:"contentFilter"`
}

func (r *restrictionsPayload) model() *models.Restrictions {
	if r == nil {
		return nil
	}
	out := &models.Restrictions{
		DailyTimeLimitMinutes: r.TimeLimit,
		ContentFilterOn:       r.ContentFilter,
	}
	if r.AllowedHours != nil {
		out.AllowedHours = &models.HourRange{Start: r.AllowedHours.Start, End: r.AllowedHours.End}
	}
	return out
}

type childRegisterPayload struct {
	Username     string               `json:"username" validate:"required,max=50"`
	Age          int                  `json:"age" validate:"gte=0,lte=17"`
	ParentID     string               `json:"parentId" validate:"required"`
	Restrictions *restrictionsPayload `json:"restrictions"`
}

type sendPayload struct {
	Content         string `json:"content" validate:"required"`
	RecipientID     string `json:"recipientId" validate:"required_without=ConversationID"`
	Type            string `json:"type" validate:"omitempty,oneof=text voice"`
	ConversationID  string `json:"conversationId"`
	ClientMessageID string `json:"clientMessageId"`
}

type voicePayload struct {
	AudioURL        string  `json:"audioUrl" validate:"required,http_url"`
	Duration        float64 `json:"duration" validate:"gte=0"`
	Content         string  `json:"content" validate:"max=2000"`
	RecipientID     string  `json:"recipientId" validate:"required_without=ConversationID"`
	ConversationID  string  `json:"conversationId"`
	ClientMessageID string  `json:"clientMessageId"`
}

type locationPayload struct {
	Lat      *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lng      *float64 `json:"lng" validate:"required,gte=-180,lte=180"`
	Accuracy *float64 `json:"accuracy" validate:"omitempty,gte=0"`
}

type registeredPayload struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	ParentID string `json:"parentId,omitempty"`
}

// presencePayload is the body of user:joined and user:left. It only ever
// goes to members of the same family.
type presencePayload struct {
	ID       string        `json:"id"`
	Username string        `json:"username"`
	Role     models.Role   `json:"role"`
	Status   models.Status `json:"status"`
}

func presenceOf(s models.Session) presencePayload {
	return presencePayload{ID: s.ID, Username: s.Username, Role: s.Role(), Status: s.Status}
}

type childRegisteredNotice struct {
	ID           string               `json:"id"`
	Username     string               `json:"username"`
	Age          int                  `json:"age"`
	Restrictions *models.Restrictions `json:"restrictions,omitempty"`
}

type safetyLogsPayload struct {
	ChildID string                  `json:"childId"`
	Logs    []models.SafetyLogEntry `json:"logs"`
}

type locationDataPayload = access.LocationView

type typingPayload struct {
	UserID         string `json:"userId"`
	Username       string `json:"username,omitempty"`
	ConversationID string `json:"conversationId"`
}

// idArgument decodes the bare-string argument of parent:getLocation,
// parent:getSafetyLogs, conversation:join and typing events. An object
// carrying childId or conversationId is accepted too.
func idArgument(data json.RawMessage) (string, bool) {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		id = strings.TrimSpace(id)
		return id, id != ""
	}

	var obj struct {
		ChildID        string `json:"childId"`
		ConversationID string `json:"conversationId"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", false
	}
	id = strings.TrimSpace(obj.ChildID)
	if id == "" {
		id = strings.TrimSpace(obj.ConversationID)
	}
	return id, id != ""
}
