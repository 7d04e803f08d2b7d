package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-realtime/internal/event"
	"github.com/hackgods/telehealth-realtime/internal/participant"
)

type State string

const (
	StateCalling  State = "calling"
	StateActive   State = "active"
	StateEnded    State = "ended"
	StateRejected State = "rejected"
)

var (
	ErrAlreadyInCall     = errors.New("participant already in a call")
	ErrCallNotFound      = errors.New("call not found")
	ErrInvalidTransition = errors.New("invalid call transition")
	ErrNotReceiver       = errors.New("only the receiver may answer this call")
	ErrNotParty          = errors.New("not a party of this call")
)

type Party struct {
	ID   string           `json:"id"`
	Name string           `json:"name"`
	Role participant.Role `json:"role"`
}

// Data is the CallSession as exchanged with clients.
type Data struct {
	CallID    string    `json:"callId"`
	Caller    Party     `json:"caller"`
	Receiver  Party     `json:"receiver"`
	Timestamp time.Time `json:"timestamp"`
	Status    State     `json:"status"`
}

func (d Data) other(participantID string) string {
	if d.Caller.ID == participantID {
		return d.Receiver.ID
	}
	return d.Caller.ID
}

// Deliverer routes an event to every connection of one participant.
type Deliverer interface {
	SendToParticipant(participantID string, ev event.Event) int
}

type Presence interface {
	EnterCall(participantID string)
	LeaveCall(participantID string)
}

// Liveness reports whether a participant still has a live connection.
type Liveness interface {
	IsConnected(participantID string) bool
}

type Notifier interface {
	Notify(participantID, title, message string)
}

// Relay holds the transient call sessions. A participant takes part in at
// most one calling or active call; terminal calls are discarded.
type Relay struct {
	dir         participant.Directory
	out         Deliverer
	presence    Presence
	live        Liveness
	log         *zap.Logger
	ringTimeout time.Duration
	notify      Notifier
	now         func() time.Time

	mu      sync.Mutex
	calls   map[string]*Data
	byParty map[string]string
}

func NewRelay(dir participant.Directory, out Deliverer, presence Presence, live Liveness, ringTimeout time.Duration, log *zap.Logger) *Relay {
	return &Relay{
		dir:         dir,
		out:         out,
		presence:    presence,
		live:        live,
		log:         log,
		ringTimeout: ringTimeout,
		now:         time.Now,
		calls:       make(map[string]*Data),
		byParty:     make(map[string]string),
	}
}

func (r *Relay) SetNotifier(n Notifier) {
	r.notify = n
}

// Initiate opens a call from callerID to req.Receiver.ID. The caller identity
// always comes from the connection, never from the payload.
func (r *Relay) Initiate(ctx context.Context, callerID string, req Data) (Data, error) {
	caller, err := r.dir.Lookup(ctx, callerID)
	if err != nil {
		return Data{}, fmt.Errorf("caller: %w", err)
	}
	receiver, err := r.dir.Lookup(ctx, req.Receiver.ID)
	if err != nil {
		return Data{}, fmt.Errorf("receiver: %w", err)
	}
	if caller.ID == receiver.ID {
		return Data{}, fmt.Errorf("%w: cannot call yourself", participant.ErrInvalidParticipant)
	}

	callID := req.CallID
	if callID == "" {
		callID = "call-" + uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.calls[callID]; exists {
		return Data{}, fmt.Errorf("%w: call %s already exists", ErrInvalidTransition, callID)
	}
	if _, busy := r.byParty[caller.ID]; busy {
		return Data{}, ErrAlreadyInCall
	}
	if _, busy := r.byParty[receiver.ID]; busy {
		return Data{}, ErrAlreadyInCall
	}

	c := &Data{
		CallID:    callID,
		Caller:    Party{ID: caller.ID, Name: caller.Name, Role: caller.Role},
		Receiver:  Party{ID: receiver.ID, Name: receiver.Name, Role: receiver.Role},
		Timestamp: r.now().UTC(),
		Status:    StateCalling,
	}
	r.calls[callID] = c
	r.byParty[caller.ID] = callID
	r.byParty[receiver.ID] = callID

	r.presence.EnterCall(caller.ID)
	r.out.SendToParticipant(receiver.ID, event.New(event.CallIncoming, *c))

	r.log.Info("call initiated",
		zap.String("call_id", callID),
		zap.String("caller", caller.ID),
		zap.String("receiver", receiver.ID),
	)
	return *c, nil
}

func (r *Relay) Accept(participantID, callID string) (Data, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.lookup(callID)
	if err != nil {
		return Data{}, err
	}
	if c.Receiver.ID != participantID {
		return Data{}, ErrNotReceiver
	}
	if c.Status != StateCalling {
		return Data{}, fmt.Errorf("%w: accept from %s", ErrInvalidTransition, c.Status)
	}

	c.Status = StateActive
	r.presence.EnterCall(c.Caller.ID)
	r.presence.EnterCall(c.Receiver.ID)
	r.out.SendToParticipant(c.Caller.ID, event.New(event.CallAccepted, *c))

	r.log.Info("call accepted", zap.String("call_id", callID))
	return *c, nil
}

func (r *Relay) Reject(participantID, callID string) (Data, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.lookup(callID)
	if err != nil {
		return Data{}, err
	}
	if c.Receiver.ID != participantID {
		return Data{}, ErrNotReceiver
	}
	if c.Status != StateCalling {
		return Data{}, fmt.Errorf("%w: reject from %s", ErrInvalidTransition, c.Status)
	}

	c.Status = StateRejected
	r.finish(c)
	r.out.SendToParticipant(c.Caller.ID, event.New(event.CallRejected, *c))

	r.log.Info("call rejected", zap.String("call_id", callID))
	return *c, nil
}

// End terminates a calling or active call on behalf of either party.
func (r *Relay) End(participantID, callID string) (Data, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.lookup(callID)
	if err != nil {
		return Data{}, err
	}
	if c.Caller.ID != participantID && c.Receiver.ID != participantID {
		return Data{}, ErrNotParty
	}

	c.Status = StateEnded
	r.finish(c)
	r.out.SendToParticipant(c.other(participantID), event.New(event.CallEnded, *c))

	r.log.Info("call ended", zap.String("call_id", callID), zap.String("by", participantID))
	return *c, nil
}

// Sweep ends calls that rang longer than the ring timeout: the caller sees a
// rejection, the receiver an ended call and a missed-call notification.
func (r *Relay) Sweep(now time.Time) int {
	if r.ringTimeout <= 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	swept := 0
	for _, c := range r.calls {
		if c.Status != StateCalling || now.Sub(c.Timestamp) < r.ringTimeout {
			continue
		}
		c.Status = StateRejected
		r.finish(c)
		r.out.SendToParticipant(c.Caller.ID, event.New(event.CallRejected, *c))
		ended := *c
		ended.Status = StateEnded
		r.out.SendToParticipant(c.Receiver.ID, event.New(event.CallEnded, ended))
		if r.notify != nil {
			r.notify.Notify(c.Receiver.ID, "Missed call", "Missed call from "+c.Caller.Name)
		}
		r.log.Info("call timed out", zap.String("call_id", c.CallID))
		swept++
	}
	return swept
}

// Run sweeps timed out calls on every tick until ctx is done.
func (r *Relay) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("call sweeper stopped")
			return
		case now := <-ticker.C:
			r.Sweep(now)
		}
	}
}

// DropParticipant ends the call of a participant whose last connection is gone.
// It is a no-op when the participant has reconnected in the meantime.
func (r *Relay) DropParticipant(participantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.live.IsConnected(participantID) {
		return
	}
	callID, ok := r.byParty[participantID]
	if !ok {
		return
	}
	c := r.calls[callID]
	c.Status = StateEnded
	r.finish(c)
	r.out.SendToParticipant(c.other(participantID), event.New(event.CallEnded, *c))
	r.log.Info("call dropped on disconnect", zap.String("call_id", callID), zap.String("participant", participantID))
}

// CallOf returns the non-terminal call of a participant.
func (r *Relay) CallOf(participantID string) (Data, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	callID, ok := r.byParty[participantID]
	if !ok {
		return Data{}, false
	}
	return *r.calls[callID], true
}

func (r *Relay) lookup(callID string) (*Data, error) {
	c, ok := r.calls[callID]
	if !ok {
		return nil, ErrCallNotFound
	}
	return c, nil
}

// finish discards a terminal call and releases both parties.
func (r *Relay) finish(c *Data) {
	delete(r.calls, c.CallID)
	delete(r.byParty, c.Caller.ID)
	delete(r.byParty, c.Receiver.ID)
	r.presence.LeaveCall(c.Caller.ID)
	r.presence.LeaveCall(c.Receiver.ID)
}
