package websocket

import (
	"sort"
	"sync"

	"mentorline/pkg/interfaces"
)

// Registry manages WebSocket connections with thread-safe operations
// ARCHITECTURAL DISCOVERY: Pure connection management without chat or call logic
// maintains clean separation between connection tracking and connection operations
type Registry struct {
	mu          sync.RWMutex // TECHNICAL DISCOVERY: RWMutex optimizes for read-heavy lookup patterns
	byIdentity  map[string]interfaces.Connection
	byConn      map[interfaces.Connection]string
	rooms       map[string]map[interfaces.Connection]struct{} // room -> members
	memberships map[interfaces.Connection]map[string]struct{} // conn -> rooms
}

var _ interfaces.ConnectionRegistry = (*Registry)(nil)

// NewRegistry creates a new connection registry
// FUNCTIONAL DISCOVERY: Initialize all maps to prevent nil pointer access during concurrent operations
func NewRegistry() *Registry {
	return &Registry{
		byIdentity:  make(map[string]interfaces.Connection),
		byConn:      make(map[interfaces.Connection]string),
		rooms:       make(map[string]map[interfaces.Connection]struct{}),
		memberships: make(map[interfaces.Connection]map[string]struct{}),
	}
}

// Register binds the connection's identity
// ARCHITECTURAL DISCOVERY: The first session wins; a second connection for the
// same identity is refused instead of evicting the live one
func (r *Registry) Register(conn interfaces.Connection) bool {
	if conn == nil || !conn.IsAuthenticated() {
		return false
	}
	identity := conn.GetUserID()
	if identity == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byIdentity[identity]; ok {
		return existing == conn
	}
	if _, ok := r.byConn[conn]; ok {
		// Handle already bound to another identity
		return false
	}

	r.byIdentity[identity] = conn
	r.byConn[conn] = identity
	return true
}

// Unregister removes a connection from every map atomically
// FUNCTIONAL DISCOVERY: Idempotent operation safe for concurrent unregistration
// RACE CONDITION FIX: The identity entry is only removed if it still points at conn
func (r *Registry) Unregister(conn interfaces.Connection) ([]string, bool) {
	if conn == nil {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	wasRegistered := false
	if identity, ok := r.byConn[conn]; ok {
		delete(r.byConn, conn)
		if r.byIdentity[identity] == conn {
			delete(r.byIdentity, identity)
			wasRegistered = true
		}
	}

	var rooms []string
	for room := range r.memberships[conn] {
		rooms = append(rooms, room)
		r.removeMemberLocked(room, conn)
	}
	delete(r.memberships, conn)
	sort.Strings(rooms)

	return rooms, wasRegistered
}

// Resolve returns the live connection for an identity with O(1) lookup
func (r *Registry) Resolve(identity string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.byIdentity[identity]
	return conn, ok
}

// IsOnline reports whether identity has a live connection
func (r *Registry) IsOnline(identity string) bool {
	_, ok := r.Resolve(identity)
	return ok
}

// Join adds conn to room; true if it was not already a member
func (r *Registry) Join(room string, conn interfaces.Connection) bool {
	if conn == nil || room == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[interfaces.Connection]struct{})
		r.rooms[room] = members
	}
	if _, already := members[conn]; already {
		return false
	}
	members[conn] = struct{}{}

	joined, ok := r.memberships[conn]
	if !ok {
		joined = make(map[string]struct{})
		r.memberships[conn] = joined
	}
	joined[room] = struct{}{}
	return true
}

// Leave removes conn from room; true if it was a member
func (r *Registry) Leave(room string, conn interfaces.Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[room][conn]; !ok {
		return false
	}
	r.removeMemberLocked(room, conn)
	if joined, ok := r.memberships[conn]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(r.memberships, conn)
		}
	}
	return true
}

// removeMemberLocked drops conn from the room map and deletes empty rooms
// TECHNICAL DISCOVERY: Clean up empty maps to prevent memory leaks
func (r *Registry) removeMemberLocked(room string, conn interfaces.Connection) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, conn)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// Members returns a snapshot of the room's connections
func (r *Registry) Members(room string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	out := make([]interfaces.Connection, 0, len(members))
	for conn := range members {
		out = append(out, conn)
	}
	return out
}

// RoomSize returns the number of connections in room
func (r *Registry) RoomSize(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// IsMember reports whether conn is in room
func (r *Registry) IsMember(room string, conn interfaces.Connection) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room][conn]
	return ok
}

// GetStats returns registry statistics for monitoring and debugging
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	memberships := 0
	for _, members := range r.rooms {
		memberships += len(members)
	}

	return map[string]int{
		"total_connections": len(r.byIdentity),
		"active_rooms":      len(r.rooms),
		"room_memberships":  memberships,
	}
}
