package hub

import (
	"sort"
	"sync"
)

// Registry tracks live connections and the rooms they joined. It is owned
// by a Hub and emptied when the hub stops.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Connection
	rooms  map[string]map[string]*Connection
	joined map[string]map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]*Connection),
		rooms:  make(map[string]map[string]*Connection),
		joined: make(map[string]map[string]struct{}),
	}
}

// Add registers a connection with no rooms.
func (r *Registry) Add(c *Connection) error {
	if c == nil {
		return ErrNilConnection
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.id] = c
	r.joined[c.id] = make(map[string]struct{})
	return nil
}

// Remove drops a connection from the registry and every room, returning the
// rooms it was in. It reports false when the connection was not registered.
func (r *Registry) Remove(c *Connection) ([]string, bool) {
	if c == nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if registered, ok := r.conns[c.id]; !ok || registered != c {
		return nil, false
	}
	var left []string
	for room := range r.joined[c.id] {
		r.leaveLocked(c.id, room)
		left = append(left, room)
	}
	delete(r.conns, c.id)
	delete(r.joined, c.id)
	sort.Strings(left)
	return left, true
}

// Join adds the connection to room. It reports false when the connection
// was already a member.
func (r *Registry) Join(connID, room string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[connID]
	if !ok {
		return false, ErrUnknownConnection
	}
	if _, ok := r.joined[connID][room]; ok {
		return false, nil
	}
	members := r.rooms[room]
	if members == nil {
		members = make(map[string]*Connection)
		r.rooms[room] = members
	}
	members[connID] = c
	r.joined[connID][room] = struct{}{}
	return true, nil
}

// Leave removes the connection from room and reports whether it was there.
func (r *Registry) Leave(connID, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.joined[connID][room]; !ok {
		return false
	}
	r.leaveLocked(connID, room)
	return true
}

func (r *Registry) leaveLocked(connID, room string) {
	delete(r.joined[connID], room)
	if members, ok := r.rooms[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
}

// Members returns the connections currently in room.
func (r *Registry) Members(room string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[room]
	out := make([]*Connection, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// Rooms returns the rooms a connection has joined.
func (r *Registry) Rooms(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.joined[connID]))
	for room := range r.joined[connID] {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
}

// Stats returns registry counts.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{Connections: len(r.conns), Rooms: len(r.rooms)}
}

// Reset empties the registry and returns the connections it held.
func (r *Registry) Reset() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	r.conns = make(map[string]*Connection)
	r.rooms = make(map[string]map[string]*Connection)
	r.joined = make(map[string]map[string]struct{})
	return out
}
