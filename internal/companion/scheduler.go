package companion

import (
	"sync"
	"time"
)

// Scheduler runs delayed tasks that belong to a session and can be dropped
// in bulk when that session goes away.
type Scheduler struct {
	mu     sync.Mutex
	nextID uint64
	tasks  map[string]map[uint64]*time.Timer
}

// Task is a handle on one scheduled function.
type Task struct {
	s       *Scheduler
	session string
	id      uint64
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{tasks: make(map[string]map[uint64]*time.Timer)}
}

// Schedule runs fn after delay unless the task or its session is cancelled
// first.
func (s *Scheduler) Schedule(sessionID string, delay time.Duration, fn func()) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	task := &Task{s: s, session: sessionID, id: s.nextID}

	set, ok := s.tasks[sessionID]
	if !ok {
		set = make(map[uint64]*time.Timer)
		s.tasks[sessionID] = set
	}
	set[task.id] = time.AfterFunc(delay, func() {
		if task.claim() {
			fn()
		}
	})
	return task
}

// claim removes the task from the pending set. It reports false if the task
// was cancelled in the meantime.
func (t *Task) claim() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.s.remove(t.session, t.id) != nil
}

// Cancel stops the task. It reports whether the task was still pending.
func (t *Task) Cancel() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	timer := t.s.remove(t.session, t.id)
	if timer == nil {
		return false
	}
	timer.Stop()
	return true
}

// CancelSession stops every pending task of the session and returns how
// many were dropped.
func (s *Scheduler) CancelSession(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.tasks[sessionID]
	for _, timer := range set {
		timer.Stop()
	}
	delete(s.tasks, sessionID)
	return len(set)
}

// Pending returns the number of tasks waiting for the session.
func (s *Scheduler) Pending(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks[sessionID])
}

// remove must be called with s.mu held.
func (s *Scheduler) remove(sessionID string, id uint64) *time.Timer {
	set, ok := s.tasks[sessionID]
	if !ok {
		return nil
	}
	timer, ok := set[id]
	if !ok {
		return nil
	}
	delete(set, id)
	if len(set) == 0 {
		delete(s.tasks, sessionID)
	}
	return timer
}
