package realtime

import (
	"errors"
	"sort"
	"sync"
)

var (
	ErrConnectionClosed    = errors.New("connection closed")
	ErrDuplicateConnection = errors.New("connection already registered")
)

// Client is a live connection handle. Send must not block for long and must
// fail once the connection is closed.
type Client interface {
	ID() string
	Send(event string, payload interface{}) error
}

type roomMembers struct {
	mu      sync.RWMutex
	members map[string]Client
	// dead is set once the room is pruned from the registry; joiners holding
	// a stale pointer retry on a fresh room.
	dead bool
}

type connEntry struct {
	mu     sync.Mutex
	client Client
	rooms  map[Room]struct{}
	closed bool
}

// Registry indexes live connections by room and rooms by connection.
//
// Locks are always taken in the order connection, registry, room, and no
// lock is held while a client is sent to.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*connEntry
	rooms map[Room]*roomMembers
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*connEntry),
		rooms: make(map[Room]*roomMembers),
	}
}

func (r *Registry) Add(c Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c.ID()]; ok {
		return ErrDuplicateConnection
	}
	r.conns[c.ID()] = &connEntry{client: c, rooms: make(map[Room]struct{})}
	return nil
}

// Remove unregisters the connection and drops it from every room it joined.
// It returns the rooms the connection was in.
func (r *Registry) Remove(connID string) []Room {
	r.mu.Lock()
	entry, ok := r.conns[connID]
	delete(r.conns, connID)
	r.mu.Unlock()
	if !ok {
		return nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.closed = true

	left := make([]Room, 0, len(entry.rooms))
	for room := range entry.rooms {
		r.leave(room, connID)
		left = append(left, room)
	}
	entry.rooms = nil
	sortRooms(left)
	return left
}

func (r *Registry) leave(room Room, connID string) {
	r.mu.RLock()
	rm := r.rooms[room]
	r.mu.RUnlock()
	if rm == nil {
		return
	}

	rm.mu.Lock()
	delete(rm.members, connID)
	empty := len(rm.members) == 0
	rm.mu.Unlock()
	if !empty {
		return
	}

	r.mu.Lock()
	rm.mu.Lock()
	if len(rm.members) == 0 && r.rooms[room] == rm {
		rm.dead = true
		delete(r.rooms, room)
	}
	rm.mu.Unlock()
	r.mu.Unlock()
}

// Join adds the connection to room. Joining a room twice is a no-op.
func (r *Registry) Join(connID string, room Room) error {
	r.mu.RLock()
	entry, ok := r.conns[connID]
	r.mu.RUnlock()
	if !ok {
		return ErrConnectionClosed
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.closed {
		return ErrConnectionClosed
	}
	if _, ok := entry.rooms[room]; ok {
		return nil
	}

	for {
		rm := r.room(room)
		rm.mu.Lock()
		if rm.dead {
			rm.mu.Unlock()
			continue
		}
		rm.members[connID] = entry.client
		rm.mu.Unlock()
		break
	}
	entry.rooms[room] = struct{}{}
	return nil
}

func (r *Registry) room(room Room) *roomMembers {
	r.mu.RLock()
	rm, ok := r.rooms[room]
	r.mu.RUnlock()
	if ok {
		return rm
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[room]; ok {
		return rm
	}
	rm = &roomMembers{members: make(map[string]Client)}
	r.rooms[room] = rm
	return rm
}

// Broadcast sends the event to every member of room and returns how many
// sends succeeded. Members that close during delivery are skipped.
func (r *Registry) Broadcast(room Room, event string, payload interface{}) int {
	r.mu.RLock()
	rm := r.rooms[room]
	r.mu.RUnlock()
	if rm == nil {
		return 0
	}

	rm.mu.RLock()
	snapshot := make([]Client, 0, len(rm.members))
	for _, c := range rm.members {
		snapshot = append(snapshot, c)
	}
	rm.mu.RUnlock()

	delivered := 0
	for _, c := range snapshot {
		if err := c.Send(event, payload); err == nil {
			delivered++
		}
	}
	return delivered
}

// Rooms lists the rooms a connection is in, sorted by String.
func (r *Registry) Rooms(connID string) []Room {
	r.mu.RLock()
	entry, ok := r.conns[connID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	rooms := make([]Room, 0, len(entry.rooms))
	for room := range entry.rooms {
		rooms = append(rooms, room)
	}
	sortRooms(rooms)
	return rooms
}

func (r *Registry) Members(room Room) int {
	r.mu.RLock()
	rm := r.rooms[room]
	r.mu.RUnlock()
	if rm == nil {
		return 0
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.members)
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Clients returns a snapshot of every registered client.
func (r *Registry) Clients() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Client, 0, len(r.conns))
	for _, entry := range r.conns {
		out = append(out, entry.client)
	}
	return out
}

func (r *Registry) roomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func sortRooms(rooms []Room) {
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].String() < rooms[j].String() })
}
