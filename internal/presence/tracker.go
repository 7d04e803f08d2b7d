package presence

import (
	"errors"
	"sort"
	"sync"

	"github.com/hackgods/telehealth-realtime/internal/event"
	"github.com/hackgods/telehealth-realtime/internal/room"
)

type Status string

const (
	Online  Status = "online"
	Offline Status = "offline"
	Busy    Status = "busy"
)

var ErrInvalidStatus = errors.New("invalid presence status")

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case Online, Offline, Busy:
		return Status(s), nil
	}
	return "", ErrInvalidStatus
}

type Publisher interface {
	Publish(room string, ev event.Event) int
}

type Liveness interface {
	IsConnected(participantID string) bool
}

type Entry struct {
	UserID string `json:"userId"`
	Status Status `json:"status"`
}

// Tracker holds each participant's status. Every change is published to the
// lobby while the tracker lock is held, so status events of one
// participant leave in the order they were applied.
type Tracker struct {
	pub  Publisher
	live Liveness

	mu     sync.Mutex
	status map[string]Status
}

func NewTracker(pub Publisher, live Liveness) *Tracker {
	return &Tracker{
		pub:    pub,
		live:   live,
		status: make(map[string]Status),
	}
}

// Connected is called when a participant gets its first live connection.
func (t *Tracker) Connected(participantID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.set(participantID, Online)
}

// Disconnected is called when a participant's last connection is gone. A
// connection registered since then keeps the participant online.
func (t *Tracker) Disconnected(participantID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.live.IsConnected(participantID) {
		return
	}
	t.set(participantID, Offline)
}

// EnterCall marks the participant busy while a call is calling or active.
func (t *Tracker) EnterCall(participantID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.live.IsConnected(participantID) {
		return
	}
	t.set(participantID, Busy)
}

// LeaveCall reverts a participant to online after a call, unless it has
// disconnected meanwhile.
func (t *Tracker) LeaveCall(participantID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.live.IsConnected(participantID) {
		t.set(participantID, Offline)
		return
	}
	t.set(participantID, Online)
}

// SetStatus applies a status chosen by the client itself.
func (t *Tracker) SetStatus(participantID string, s Status) error {
	if _, err := ParseStatus(string(s)); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.live.IsConnected(participantID) {
		return nil
	}
	t.set(participantID, s)
	return nil
}

func (t *Tracker) Status(participantID string) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.status[participantID]; ok {
		return s
	}
	return Offline
}

// Snapshot lists every participant not offline, sorted by id.
func (t *Tracker) Snapshot() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, 0, len(t.status))
	for id, s := range t.status {
		if s != Offline {
			out = append(out, Entry{UserID: id, Status: s})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (t *Tracker) set(participantID string, s Status) {
	prev, known := t.status[participantID]
	if known && prev == s {
		return
	}
	if s == Offline {
		delete(t.status, participantID)
	} else {
		t.status[participantID] = s
	}
	if !known && s == Offline {
		return
	}
	t.pub.Publish(room.Lobby, event.New(event.UserStatus, Entry{UserID: participantID, Status: s}))
}
