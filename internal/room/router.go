package room

import (
	"hash/fnv"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hackgods/telehealth-realtime/internal/event"
	"github.com/hackgods/telehealth-realtime/internal/registry"
)

// SharedRoom is the general chat room. Connections join it explicitly.
const SharedRoom = "chat_room"

// Lobby is joined by every connection on attach and carries presence and
// availability broadcasts. Clients cannot publish to it or leave it.
const Lobby = "lobby"

// PairRoomKey is the two-party room of a and b. It is symmetric.
func PairRoomKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, "_")
}

// IsPairRoom reports whether key has the shape of a two-party room.
func IsPairRoom(key string) bool {
	return key != SharedRoom && strings.Contains(key, "_")
}

// IsPairRoomOf reports whether key is a pair room with participantID as one
// of its two parties.
func IsPairRoomOf(key, participantID string) bool {
	if participantID == "" || !IsPairRoom(key) {
		return false
	}
	if other, ok := strings.CutPrefix(key, participantID+"_"); ok && PairRoomKey(participantID, other) == key {
		return true
	}
	if other, ok := strings.CutSuffix(key, "_"+participantID); ok && PairRoomKey(participantID, other) == key {
		return true
	}
	return false
}

// UserRoom is the personal room joined by every connection of a participant.
func UserRoom(participantID string) string {
	return "user:" + participantID
}

const lockStripes = 64

// Router fans events out to room members. Publishes to the same room are
// serialized, so every member queue receives them in publish order.
type Router struct {
	reg   *registry.Registry
	log   *zap.Logger
	locks [lockStripes]sync.Mutex
}

func NewRouter(reg *registry.Registry, log *zap.Logger) *Router {
	return &Router{reg: reg, log: log}
}

func (r *Router) roomLock(room string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(room))
	return &r.locks[h.Sum32()%lockStripes]
}

// Publish delivers ev to the members of room at the moment of the call and
// returns how many queues accepted it. Publishing to an empty room is a no-op.
func (r *Router) Publish(room string, ev event.Event) int {
	frame, err := ev.Encode()
	if err != nil {
		r.log.Error("drop unencodable event", zap.String("room", room), zap.Error(err))
		return 0
	}

	mu := r.roomLock(room)
	mu.Lock()
	defer mu.Unlock()

	return r.deliver(r.reg.MembersOf(room), frame, ev.Name)
}

// Send delivers ev to the given connections only.
func (r *Router) Send(conns []*registry.Conn, ev event.Event) int {
	frame, err := ev.Encode()
	if err != nil {
		r.log.Error("drop unencodable event", zap.String("event", ev.Name), zap.Error(err))
		return 0
	}
	return r.deliver(conns, frame, ev.Name)
}

// SendToParticipant delivers ev to every live connection of participantID.
func (r *Router) SendToParticipant(participantID string, ev event.Event) int {
	return r.Send(r.reg.ConnectionsOf(participantID), ev)
}

func (r *Router) deliver(conns []*registry.Conn, frame []byte, name string) int {
	delivered := 0
	for _, c := range conns {
		if c.Enqueue(frame) {
			delivered++
			continue
		}
		r.log.Debug("outbound queue full, event dropped",
			zap.String("conn", c.ID()),
			zap.String("event", name),
		)
	}
	return delivered
}
