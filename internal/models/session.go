package models

import "time"

// Role identifies which side of a family link a session is on.
type Role string

const (
	RoleParent Role = "parent"
	RoleChild  Role = "child"
)

// Status is the connection state of a session.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Profile is the role-specific part of a session. Only ParentProfile and
// ChildProfile implement it.
type Profile interface {
	role() Role
}

// ParentProfile holds the state owned by a parent session.
type ParentProfile struct {
	Email    string   `json:"email,omitempty"`
	ChildIDs []string `json:"childIds"`
}

func (ParentProfile) role() Role { return RoleParent }

// ChildProfile holds the state owned by a child session.
type ChildProfile struct {
	Age          int           `json:"age"`
	ParentID     string        `json:"parentId"`
	Restrictions *Restrictions `json:"restrictions,omitempty"`
}

func (ChildProfile) role() Role { return RoleChild }

// HourRange is an inclusive-exclusive range of local hours, e.g. 7 to 21.
type HourRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Restrictions are the limits a parent attaches to a child account.
type Restrictions struct {
	DailyTimeLimitMinutes int        `json:"timeLimit"`
	AllowedHours          *HourRange `json:"allowedHours,omitempty"`
	ContentFilterOn       bool       `json:"contentFilter"`
}

// Session is a connected identity.
type Session struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	Status      Status    `json:"status"`
	ConnectedAt time.Time `json:"connectedAt"`
	Profile     Profile   `json:"-"`
}

// Role returns the role carried by the session's profile.
func (s Session) Role() Role {
	if s.Profile == nil {
		return ""
	}
	return s.Profile.role()
}

// Online reports whether the session is still connected.
func (s Session) Online() bool {
	return s.Status == StatusOnline
}

// Parent returns the parent profile, if the session is a parent.
func (s Session) Parent() (ParentProfile, bool) {
	p, ok := s.Profile.(ParentProfile)
	return p, ok
}

// Child returns the child profile, if the session is a child.
func (s Session) Child() (ChildProfile, bool) {
	c, ok := s.Profile.(ChildProfile)
	return c, ok
}

// Clone returns a deep copy of r; nil stays nil.
func (r *Restrictions) Clone() *Restrictions {
	if r == nil {
		return nil
	}
	c := *r
	if r.AllowedHours != nil {
		h := *r.AllowedHours
		c.AllowedHours = &h
	}
	return &c
}
