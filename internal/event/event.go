// Package event defines the wire format of the realtime channel: every frame
// is a JSON object {"event": <name>, "data": <payload>}.
package event

import (
	"encoding/json"
	"fmt"
)

const (
	JoinRoom  = "joinRoom"
	LeaveRoom = "leaveRoom"
	Message   = "message"

	UserStatus   = "user:status"
	PresenceList = "presence:list"

	SessionSchedule  = "session:schedule"
	SessionScheduled = "session:scheduled"
	SessionError     = "session:error"
	SessionUpdate    = "session:update"
	SessionUpdated   = "session:updated"

	SlotsGet     = "slots:get"
	SlotsList    = "slots:list"
	SlotsUpdated = "slots:updated"

	CallInitiate = "call:initiate"
	CallIncoming = "call:incoming"
	CallAccept   = "call:accept"
	CallAccepted = "call:accepted"
	CallReject   = "call:reject"
	CallRejected = "call:rejected"
	CallEnd      = "call:end"
	CallEnded    = "call:ended"

	FileShare  = "file:share"
	FileShared = "file:shared"

	NotificationNew     = "notification:new"
	NotificationRead    = "notification:read"
	NotificationReadAll = "notification:readAll"

	Error = "error"
)

// Event is an outbound frame before encoding.
type Event struct {
	Name string
	Data any
}

func New(name string, data any) Event {
	return Event{Name: name, Data: data}
}

// Encode renders the frame once so fan-out can share the bytes.
func (e Event) Encode() ([]byte, error) {
	b, err := json.Marshal(struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}{e.Name, e.Data})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.Name, err)
	}
	return b, nil
}

// Envelope is an inbound frame whose payload has not been decoded yet.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ErrorPayload is sent with the generic "error" event.
type ErrorPayload struct {
	Event string `json:"event,omitempty"`
	Error string `json:"error"`
}

type SessionErrorPayload struct {
	SessionID string `json:"sessionId"`
	Error     string `json:"error"`
}
