package realtime

import (
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

// ErrNotConnected is returned by Notify when the session has no live peer.
var ErrNotConnected = errors.New("session not connected")

const writeTimeout = 5 * time.Second

// frame is the wire envelope in both directions.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// peer serialises writes to one connection.
type peer struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	encoder *json.Encoder
}

func newPeer(conn *websocket.Conn) *peer {
	return &peer{conn: conn, encoder: json.NewEncoder(conn)}
}

func (p *peer) write(event string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return p.encoder.Encode(outFrame{Event: event, Data: data})
}

// Hub maps sessions to live connections and tracks conversation rooms.
type Hub struct {
	mu     sync.RWMutex
	peers  map[string]*peer
	rooms  map[string]map[string]struct{}
	joined map[string]map[string]struct{} // session -> rooms
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		peers:  make(map[string]*peer),
		rooms:  make(map[string]map[string]struct{}),
		joined: make(map[string]map[string]struct{}),
	}
}

func (h *Hub) attach(sessionID string, p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peers[sessionID] = p
}

// detach removes the session's peer and takes it out of every room.
func (h *Hub) detach(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.peers, sessionID)
	for roomID := range h.joined[sessionID] {
		members := h.rooms[roomID]
		delete(members, sessionID)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
	delete(h.joined, sessionID)
}

// Join adds the session to a room. Joining twice is a no-op.
func (h *Hub) Join(roomID, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[roomID] = members
	}
	members[sessionID] = struct{}{}

	rooms, ok := h.joined[sessionID]
	if !ok {
		rooms = make(map[string]struct{})
		h.joined[sessionID] = rooms
	}
	rooms[roomID] = struct{}{}
}

// Members returns the sessions in a room, sorted.
func (h *Hub) Members(roomID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.rooms[roomID]))
	for id := range h.rooms[roomID] {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Notify sends one event to a session.
func (h *Hub) Notify(sessionID, event string, payload any) error {
	h.mu.RLock()
	p, ok := h.peers[sessionID]
	h.mu.RUnlock()
	if !ok {
		return ErrNotConnected
	}
	return p.write(event, payload)
}

// Connected returns the number of attached sessions.
func (h *Hub) Connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}
