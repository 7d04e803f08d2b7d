package registry

import (
	"sync"

	"github.com/google/uuid"

	"github.com/hackgods/telehealth-realtime/internal/participant"
)

// Conn is one live transport channel. Outbound frames are queued on a
// buffered channel drained by the transport's write loop.
type Conn struct {
	id   string
	send chan []byte

	mu          sync.Mutex
	closed      bool
	participant participant.Participant
}

func NewConn(buffer int) *Conn {
	if buffer <= 0 {
		buffer = 1
	}
	return &Conn{
		id:   uuid.NewString(),
		send: make(chan []byte, buffer),
	}
}

func (c *Conn) ID() string { return c.id }

// Participant returns the identity bound by Register.
func (c *Conn) Participant() participant.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.participant
}

// Send is the outbound queue. It is closed when the connection is unregistered.
func (c *Conn) Send() <-chan []byte { return c.send }

// Enqueue queues a frame without blocking. A full buffer or a closed
// connection drops the frame and reports false.
func (c *Conn) Enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Conn) bind(p participant.Participant) {
	c.mu.Lock()
	c.participant = p
	c.mu.Unlock()
}
