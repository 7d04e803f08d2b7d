package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hackgods/telehealth-realtime/internal/participant"
)

var (
	ErrNotRegistered = errors.New("connection not registered")
	ErrRebind        = errors.New("connection already bound to another participant")
)

type entry struct {
	conn  *Conn
	pid   string
	rooms map[string]struct{}
}

// Registry tracks live connections, their participant and their rooms.
// Room membership is derived from the connections' room sets.
type Registry struct {
	dir participant.Directory

	mu            sync.RWMutex
	conns         map[*Conn]*entry
	rooms         map[string]map[*Conn]struct{}
	byParticipant map[string]map[*Conn]struct{}
}

func New(dir participant.Directory) *Registry {
	return &Registry{
		dir:           dir,
		conns:         make(map[*Conn]*entry),
		rooms:         make(map[string]map[*Conn]struct{}),
		byParticipant: make(map[string]map[*Conn]struct{}),
	}
}

// Register binds c to participantID. first reports whether c is the
// participant's only live connection after the call.
func (r *Registry) Register(ctx context.Context, c *Conn, participantID string) (first bool, err error) {
	p, err := r.dir.Lookup(ctx, participantID)
	if err != nil {
		if errors.Is(err, participant.ErrInvalidParticipant) {
			return false, err
		}
		return false, fmt.Errorf("lookup participant: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.conns[c]; ok {
		if e.pid != participantID {
			return false, ErrRebind
		}
		return false, nil
	}

	c.bind(p)
	r.conns[c] = &entry{conn: c, pid: participantID, rooms: make(map[string]struct{})}
	set := r.byParticipant[participantID]
	if set == nil {
		set = make(map[*Conn]struct{})
		r.byParticipant[participantID] = set
	}
	set[c] = struct{}{}

	return len(set) == 1, nil
}

// Unregister removes c from every room and closes its outbound queue.
// last reports whether its participant has no live connection left.
func (r *Registry) Unregister(c *Conn) (participantID string, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[c]
	if !ok {
		return "", false
	}
	for room := range e.rooms {
		r.removeMember(room, c)
	}
	delete(r.conns, c)

	set := r.byParticipant[e.pid]
	delete(set, c)
	if len(set) == 0 {
		delete(r.byParticipant, e.pid)
		last = true
	}

	c.close()
	return e.pid, last
}

// Join adds c to room, creating the room implicitly. Joining twice is a no-op.
func (r *Registry) Join(c *Conn, room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[c]
	if !ok {
		return ErrNotRegistered
	}
	e.rooms[room] = struct{}{}
	members := r.rooms[room]
	if members == nil {
		members = make(map[*Conn]struct{})
		r.rooms[room] = members
	}
	members[c] = struct{}{}
	return nil
}

// Leave removes c from room. Leaving a room c is not in is a no-op.
func (r *Registry) Leave(c *Conn, room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[c]
	if !ok {
		return ErrNotRegistered
	}
	delete(e.rooms, room)
	r.removeMember(room, c)
	return nil
}

func (r *Registry) removeMember(room string, c *Conn) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// MembersOf returns a snapshot of the connections joined to room.
func (r *Registry) MembersOf(room string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot(r.rooms[room])
}

// ConnectionsOf returns a snapshot of the participant's live connections.
func (r *Registry) ConnectionsOf(participantID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot(r.byParticipant[participantID])
}

// Lookup resolves a participant through the directory, connected or not.
func (r *Registry) Lookup(ctx context.Context, participantID string) (participant.Participant, error) {
	return r.dir.Lookup(ctx, participantID)
}

func (r *Registry) IsConnected(participantID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byParticipant[participantID]) > 0
}

// Participants lists ids with at least one live connection, sorted.
func (r *Registry) Participants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byParticipant))
	for pid := range r.byParticipant {
		out = append(out, pid)
	}
	sort.Strings(out)
	return out
}

func snapshot(set map[*Conn]struct{}) []*Conn {
	if len(set) == 0 {
		return nil
	}
	out := make([]*Conn, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}
