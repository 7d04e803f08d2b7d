package notification

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/telehealth-realtime/internal/event"
	"github.com/hackgods/telehealth-realtime/internal/room"
)

var ErrNotificationNotFound = errors.New("notification not found")

// maxPerParticipant bounds each inbox; the oldest entries fall off first.
const maxPerParticipant = 100

type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"read"`
}

type Publisher interface {
	Publish(room string, ev event.Event) int
}

// Inbox keeps per-participant notifications in memory and pushes new ones
// to the participant's personal room.
type Inbox struct {
	pub Publisher
	now func() time.Time

	mu    sync.Mutex
	items map[string][]*Notification
}

func NewInbox(pub Publisher) *Inbox {
	return &Inbox{
		pub:   pub,
		now:   time.Now,
		items: make(map[string][]*Notification),
	}
}

func (i *Inbox) Add(participantID, title, message string) Notification {
	n := &Notification{
		ID:        uuid.NewString(),
		UserID:    participantID,
		Title:     title,
		Message:   message,
		Timestamp: i.now().UTC(),
	}

	i.mu.Lock()
	list := append(i.items[participantID], n)
	if len(list) > maxPerParticipant {
		list = list[len(list)-maxPerParticipant:]
	}
	i.items[participantID] = list
	out := *n
	i.mu.Unlock()

	i.pub.Publish(room.UserRoom(participantID), event.New(event.NotificationNew, out))
	return out
}

// Notify adapts Add for components that only fire notes.
func (i *Inbox) Notify(participantID, title, message string) {
	i.Add(participantID, title, message)
}

// List returns the participant's notifications, newest first.
func (i *Inbox) List(participantID string) []Notification {
	i.mu.Lock()
	defer i.mu.Unlock()
	list := i.items[participantID]
	out := make([]Notification, 0, len(list))
	for k := len(list) - 1; k >= 0; k-- {
		out = append(out, *list[k])
	}
	return out
}

func (i *Inbox) Unread(participantID string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	n := 0
	for _, item := range i.items[participantID] {
		if !item.Read {
			n++
		}
	}
	return n
}

func (i *Inbox) MarkRead(participantID, id string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, item := range i.items[participantID] {
		if item.ID == id {
			item.Read = true
			return nil
		}
	}
	return ErrNotificationNotFound
}

func (i *Inbox) MarkAllRead(participantID string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	n := 0
	for _, item := range i.items[participantID] {
		if !item.Read {
			item.Read = true
			n++
		}
	}
	return n
}
