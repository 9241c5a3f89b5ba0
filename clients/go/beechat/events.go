package beechat

import (
	"encoding/json"
	"time"
)

// Registered is the reply to parent:register and child:register.
type Registered struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	ParentID string `json:"parentId,omitempty"`
}

// HourRange bounds the hours a child may chat.
type HourRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Restrictions are the limits a parent attaches to a child account.
type Restrictions struct {
	TimeLimit     int        `json:"timeLimit"`
	AllowedHours  *HourRange `json:"allowedHours,omitempty"`
	ContentFilter bool       `json:"contentFilter"`
}

// ChildRegistration is the child:register payload.
type ChildRegistration struct {
	Username     string        `json:"username"`
	Age          int           `json:"age"`
	ParentID     string        `json:"parentId"`
	Restrictions *Restrictions `json:"restrictions,omitempty"`
}

// Message is a delivered chat message.
type Message struct {
	ID             string    `json:"id"`
	Content        string    `json:"content"`
	SenderID       string    `json:"senderId"`
	SenderName     string    `json:"senderName,omitempty"`
	RecipientID    string    `json:"recipientId,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Type           string    `json:"type"`
	SafetyChecked  bool      `json:"safetyChecked"`
	IsBot          bool      `json:"isBot,omitempty"`
	AudioURL       string    `json:"audioUrl,omitempty"`
	Duration       float64   `json:"duration,omitempty"`
}

// SendRequest is the message:send payload. ClientMessageID, a ULID, makes
// retries idempotent.
type SendRequest struct {
	Content         string `json:"content"`
	RecipientID     string `json:"recipientId,omitempty"`
	ConversationID  string `json:"conversationId,omitempty"`
	Type            string `json:"type,omitempty"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

// VoiceRequest is the message:voice payload. Content is an optional
// caption; the server fills in a default.
type VoiceRequest struct {
	AudioURL        string  `json:"audioUrl"`
	Duration        float64 `json:"duration"`
	Content         string  `json:"content,omitempty"`
	RecipientID     string  `json:"recipientId,omitempty"`
	ConversationID  string  `json:"conversationId,omitempty"`
	ClientMessageID string  `json:"clientMessageId,omitempty"`
}

// Presence is the user:joined and user:left payload. The server only sends
// it within a family.
type Presence struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Status   string `json:"status"`
}

// Blocked is the message:blocked notice.
type Blocked struct {
	Reason       string   `json:"reason"`
	Flags        []string `json:"flags"`
	TiGuyMessage string   `json:"tiGuyMessage"`
}

// SendResult is what the server answered to a send: either the stored
// message or a block notice.
type SendResult struct {
	Message *Message
	Blocked *Blocked
}

// SafetyLogEntry is one flagged message.
type SafetyLogEntry struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	ChildID       string    `json:"childId"`
	ChildUsername string    `json:"childUsername"`
	Content       string    `json:"content"`
	Flags         []string  `json:"flags"`
	Severity      string    `json:"severity"`
	ChatWith      string    `json:"chatWith"`
}

// LocationSample is one location reading.
type LocationSample struct {
	UserID    string    `json:"userId"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
}

// LocationView is the parent:locationData payload.
type LocationView struct {
	ChildID string           `json:"childId"`
	Current *LocationSample  `json:"current"`
	History []LocationSample `json:"history"`
}

// HealthCheck is the result of pinging one backend.
type HealthCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the /api/health body.
type HealthResponse struct {
	Status        string                 `json:"status"`
	UsersCount    int                    `json:"usersCount"`
	ChildrenCount int                    `json:"childrenCount"`
	ParentsCount  int                    `json:"parentsCount"`
	MessagesCount int64                  `json:"messagesCount"`
	Version       string                 `json:"version"`
	Checks        map[string]HealthCheck `json:"checks"`
	Timestamp     string                 `json:"timestamp"`
}

// ChildSummary is one entry of /api/parent/{id}/children.
type ChildSummary struct {
	ID           string          `json:"id"`
	Username     string          `json:"username"`
	Age          int             `json:"age"`
	Status       string          `json:"status"`
	Restrictions *Restrictions   `json:"restrictions,omitempty"`
	Location     *LocationSample `json:"location,omitempty"`
}

// RegisterParent registers the connection as a parent.
func (c *Client) RegisterParent(username, email string) (*Registered, error) {
	err := c.Emit("parent:register", map[string]string{"username": username, "email": email})
	if err != nil {
		return nil, err
	}
	var r Registered
	if err := c.Expect("parent:registered", &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// RegisterChild registers the connection as a child of reg.ParentID.
func (c *Client) RegisterChild(reg ChildRegistration) (*Registered, error) {
	if err := c.Emit("child:register", reg); err != nil {
		return nil, err
	}
	var r Registered
	if err := c.Expect("child:registered", &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Send sends a message and waits for the acknowledgement or the block
// notice. A warning, if any, arrives later as a message:warning event.
func (c *Client) Send(req SendRequest) (*SendResult, error) {
	return c.deliver("message:send", req)
}

// SendVoice sends a voice message and waits like Send.
func (c *Client) SendVoice(req VoiceRequest) (*SendResult, error) {
	return c.deliver("message:voice", req)
}

func (c *Client) deliver(event string, req any) (*SendResult, error) {
	if err := c.Emit(event, req); err != nil {
		return nil, err
	}
	var (
		msg     Message
		blocked Blocked
	)
	name, err := c.expectAny(map[string]any{"message:sent": &msg, "message:blocked": &blocked})
	if err != nil {
		return nil, err
	}
	if name == "message:blocked" {
		return &SendResult{Blocked: &blocked}, nil
	}
	return &SendResult{Message: &msg}, nil
}

// UpdateLocation reports the child's position. The server does not
// acknowledge updates.
func (c *Client) UpdateLocation(lat, lng float64, accuracy *float64) error {
	return c.Emit("location:update", struct {
		Lat      float64  `json:"lat"`
		Lng      float64  `json:"lng"`
		Accuracy *float64 `json:"accuracy,omitempty"`
	}{lat, lng, accuracy})
}

// SafetyLogs fetches a child's safety log.
func (c *Client) SafetyLogs(childID string) ([]SafetyLogEntry, error) {
	if err := c.Emit("parent:getSafetyLogs", childID); err != nil {
		return nil, err
	}
	var resp struct {
		ChildID string           `json:"childId"`
		Logs    []SafetyLogEntry `json:"logs"`
	}
	if err := c.Expect("parent:safetyLogs", &resp); err != nil {
		return nil, err
	}
	return resp.Logs, nil
}

// Location fetches a child's current location and recent history.
func (c *Client) Location(childID string) (*LocationView, error) {
	if err := c.Emit("parent:getLocation", childID); err != nil {
		return nil, err
	}
	var view LocationView
	if err := c.Expect("parent:locationData", &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// JoinConversation subscribes the connection to a room.
func (c *Client) JoinConversation(conversationID string) error {
	return c.Emit("conversation:join", conversationID)
}

// DecodeMessage decodes the data of a message:received event.
func DecodeMessage(ev Event) (*Message, error) {
	var m Message
	if err := json.Unmarshal(ev.Data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
