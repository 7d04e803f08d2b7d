package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrMalformed = errors.New("malformed payload")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// RoomRequest is the payload of joinRoom and leaveRoom. Clients send either a
// bare room id string or {"roomId": "..."}.
type RoomRequest struct {
	RoomID string `json:"roomId"`
}

func (r *RoomRequest) UnmarshalJSON(b []byte) error {
	var id string
	if err := json.Unmarshal(b, &id); err == nil {
		r.RoomID = id
		return nil
	}
	type plain RoomRequest
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*r = RoomRequest(p)
	return nil
}

func (r RoomRequest) Validate() error {
	if strings.TrimSpace(r.RoomID) == "" {
		return malformed("roomId is required")
	}
	return nil
}

type Attachment struct {
	ID   string `json:"id"`
	Type string `json:"type"` // image, document
	URL  string `json:"url"`
	Name string `json:"name"`
	Size int64  `json:"size,omitempty"`
}

type ChatMessage struct {
	ID          string       `json:"id"`
	From        string       `json:"from"`
	To          string       `json:"to"`
	Message     string       `json:"message"`
	Timestamp   time.Time    `json:"timestamp"`
	Room        string       `json:"room,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

func (m ChatMessage) Validate() error {
	if m.Message == "" && len(m.Attachments) == 0 {
		return malformed("message or attachments required")
	}
	if m.Room == "" && m.To == "" {
		return malformed("room or to is required")
	}
	for _, a := range m.Attachments {
		if a.Type != "image" && a.Type != "document" {
			return malformed("attachment %q has unknown type %q", a.ID, a.Type)
		}
	}
	return nil
}

type StatusUpdate struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

func (s StatusUpdate) Validate() error {
	switch s.Status {
	case "online", "offline", "busy":
		return nil
	}
	return malformed("unknown status %q", s.Status)
}

type SessionStatusUpdate struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

func (s SessionStatusUpdate) Validate() error {
	if s.SessionID == "" {
		return malformed("sessionId is required")
	}
	if s.Status == "" {
		return malformed("status is required")
	}
	return nil
}

type SlotsRequest struct {
	DoctorID string `json:"doctorId"`
}

func (r *SlotsRequest) UnmarshalJSON(b []byte) error {
	var id string
	if err := json.Unmarshal(b, &id); err == nil {
		r.DoctorID = id
		return nil
	}
	type plain SlotsRequest
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*r = SlotsRequest(p)
	return nil
}

func (r SlotsRequest) Validate() error {
	if r.DoctorID == "" {
		return malformed("doctorId is required")
	}
	return nil
}

// CallRef names a call by id for accept, reject and end.
type CallRef struct {
	CallID string `json:"callId"`
}

func (c CallRef) Validate() error {
	if c.CallID == "" {
		return malformed("callId is required")
	}
	return nil
}

type FileInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

type FileSharePayload struct {
	FileID    string    `json:"fileId"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	FromName  string    `json:"fromName"`
	File      FileInfo  `json:"file"`
	Timestamp time.Time `json:"timestamp"`
}

func (f FileSharePayload) Validate() error {
	if f.To == "" {
		return malformed("to is required")
	}
	if f.File.Name == "" || f.File.URL == "" {
		return malformed("file name and url are required")
	}
	if f.File.Size < 0 {
		return malformed("file size must not be negative")
	}
	return nil
}

type NotificationRef struct {
	ID string `json:"id"`
}

func (n NotificationRef) Validate() error {
	if n.ID == "" {
		return malformed("id is required")
	}
	return nil
}
