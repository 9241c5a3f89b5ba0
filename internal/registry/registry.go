// Package registry tracks connected sessions and the parent to child links
// between them. It is the single source of truth for family resolution.
package registry

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/eldtechnologies/beechat/internal/ids"
	"github.com/eldtechnologies/beechat/internal/models"
)

// ParentRegistration is the profile supplied by parent:register.
type ParentRegistration struct {
	Username string
	Email    string
}

// ChildRegistration is the profile supplied by child:register.
type ChildRegistration struct {
	Username     string
	Age          int
	ParentID     string
	Restrictions *models.Restrictions
}

// Counts summarises the registry for health reporting.
type Counts struct {
	Users    int
	Parents  int
	Children int
}

type entry struct {
	id          string
	username    string
	status      models.Status
	connectedAt time.Time

	// parent-only
	email    string
	children []string
	childSet map[string]struct{}

	// child-only
	age          int
	parentID     string
	restrictions *models.Restrictions

	role models.Role
}

// Registry is an in-memory session table.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	newID    func() string
	now      func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		sessions: make(map[string]*entry),
		newID:    ids.NewSessionID,
		now:      time.Now,
	}
}

// RegisterParent creates a parent session with an empty child set.
func (r *Registry) RegisterParent(reg ParentRegistration) models.Session {
	e := &entry{
		id:          r.newID(),
		role:        models.RoleParent,
		username:    strings.TrimSpace(reg.Username),
		email:       strings.TrimSpace(reg.Email),
		status:      models.StatusOnline,
		connectedAt: r.now(),
		childSet:    make(map[string]struct{}),
	}

	r.mu.Lock()
	r.sessions[e.id] = e
	s := e.snapshot()
	r.mu.Unlock()

	return s
}

// RegisterChild creates a child session linked to a live parent.
func (r *Registry) RegisterChild(reg ChildRegistration) (models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	parent, ok := r.sessions[reg.ParentID]
	if !ok || parent.role != models.RoleParent || parent.status != models.StatusOnline {
		return models.Session{}, fmt.Errorf("register child of %q: %w", reg.ParentID, models.ErrParentNotFound)
	}

	e := &entry{
		id:           r.newID(),
		role:         models.RoleChild,
		username:     strings.TrimSpace(reg.Username),
		status:       models.StatusOnline,
		connectedAt:  r.now(),
		age:          reg.Age,
		parentID:     parent.id,
		restrictions: reg.Restrictions.Clone(),
	}
	r.sessions[e.id] = e

	parent.childSet[e.id] = struct{}{}
	parent.children = append(parent.children, e.id)

	return e.snapshot(), nil
}

// Lookup returns a copy of the session, if present. Offline sessions are
// still returned.
func (r *Registry) Lookup(id string) (models.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.sessions[id]
	if !ok {
		return models.Session{}, false
	}
	return e.snapshot(), true
}

// MarkOffline moves a session to its terminal state. It reports whether the
// call changed anything; repeated calls are no-ops. Links are kept.
func (r *Registry) MarkOffline(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok || e.status == models.StatusOffline {
		return false
	}
	e.status = models.StatusOffline
	return true
}

// ParentOf resolves the parent of a child session. It fails with
// ErrParentNotFound when childID is not a child or its parent is gone.
func (r *Registry) ParentOf(childID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	child, ok := r.sessions[childID]
	if !ok || child.role != models.RoleChild {
		return "", fmt.Errorf("resolve parent of %q: %w", childID, models.ErrParentNotFound)
	}
	parent, ok := r.sessions[child.parentID]
	if !ok || parent.role != models.RoleParent {
		return "", fmt.Errorf("resolve parent of %q: %w", childID, models.ErrParentNotFound)
	}
	if _, linked := parent.childSet[childID]; !linked {
		return "", fmt.Errorf("resolve parent of %q: %w", childID, models.ErrParentNotFound)
	}
	return parent.id, nil
}

// IsChildOf reports whether childID is in parentID's child set.
func (r *Registry) IsChildOf(parentID, childID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	parent, ok := r.sessions[parentID]
	if !ok || parent.role != models.RoleParent {
		return false
	}
	_, linked := parent.childSet[childID]
	return linked
}

// Children returns the parent's children in registration order. The second
// result is false if parentID is not a known parent.
func (r *Registry) Children(parentID string) ([]models.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	parent, ok := r.sessions[parentID]
	if !ok || parent.role != models.RoleParent {
		return nil, false
	}

	children := make([]models.Session, 0, len(parent.children))
	for _, id := range parent.children {
		if child, ok := r.sessions[id]; ok {
			children = append(children, child.snapshot())
		}
	}
	return children, true
}

// Counts returns the number of known sessions by role.
func (r *Registry) Counts() Counts {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var c Counts
	for _, e := range r.sessions {
		c.Users++
		switch e.role {
		case models.RoleParent:
			c.Parents++
		case models.RoleChild:
			c.Children++
		}
	}
	return c
}

// snapshot must be called with the lock held.
func (e *entry) snapshot() models.Session {
	s := models.Session{
		ID:          e.id,
		Username:    e.username,
		Status:      e.status,
		ConnectedAt: e.connectedAt,
	}
	switch e.role {
	case models.RoleParent:
		ids := make([]string, len(e.children))
		copy(ids, e.children)
		s.Profile = models.ParentProfile{Email: e.email, ChildIDs: ids}
	case models.RoleChild:
		s.Profile = models.ChildProfile{
			Age:          e.age,
			ParentID:     e.parentID,
			Restrictions: e.restrictions.Clone(),
		}
	}
	return s
}
