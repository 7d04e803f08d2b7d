package scheduler

import (
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	return s == StatusScheduled || s == StatusCompleted || s == StatusCancelled
}

type Type string

const (
	TypeVideo Type = "video"
	TypeChat  Type = "chat"
)

func (t Type) Valid() bool {
	return t == TypeVideo || t == TypeChat
}

// DefaultDuration is used when a schedule request carries no duration.
const DefaultDuration = 30

var ErrInvalidSession = errors.New("invalid session")

// Session is a booked appointment between a doctor and a patient.
// Sessions are never deleted; cancelled ones stay as records.
type Session struct {
	ID          string    `json:"id"`
	DoctorID    string    `json:"doctorId"`
	PatientID   string    `json:"patientId"`
	DoctorName  string    `json:"doctorName"`
	PatientName string    `json:"patientName"`
	ScheduledAt time.Time `json:"scheduledAt"`
	Duration    int       `json:"duration"` // minutes
	Status      Status    `json:"status"`
	Type        Type      `json:"type"`
	Notes       string    `json:"notes,omitempty"`
}

func (s Session) Start() time.Time { return s.ScheduledAt }

func (s Session) End() time.Time {
	return s.ScheduledAt.Add(time.Duration(s.Duration) * time.Minute)
}

// Blocking reports whether the session occupies its doctor's calendar.
func (s Session) Blocking() bool { return s.Status != StatusCancelled }

func (s Session) Validate() error {
	switch {
	case s.DoctorID == "":
		return fmt.Errorf("%w: doctorId is required", ErrInvalidSession)
	case s.PatientID == "":
		return fmt.Errorf("%w: patientId is required", ErrInvalidSession)
	case s.ScheduledAt.IsZero():
		return fmt.Errorf("%w: scheduledAt is required", ErrInvalidSession)
	case s.Duration <= 0:
		return fmt.Errorf("%w: duration must be positive", ErrInvalidSession)
	case !s.Type.Valid():
		return fmt.Errorf("%w: unknown type %q", ErrInvalidSession, s.Type)
	case !s.Status.Valid():
		return fmt.Errorf("%w: unknown status %q", ErrInvalidSession, s.Status)
	}
	return nil
}

// Overlaps is the closed-open interval rule: [a0,a1) and [b0,b1) overlap iff
// a0 < b1 and b0 < a1. Intervals sharing only a boundary do not overlap.
func Overlaps(a0, a1, b0, b1 time.Time) bool {
	return a0.Before(b1) && b0.Before(a1)
}

// Slot is a candidate bookable window derived from the slot rule and the
// doctor's sessions. It is never stored.
type Slot struct {
	DoctorID  string    `json:"doctorId"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Duration  int       `json:"duration"`
	Available bool      `json:"available"`
}

// SlotsUpdate is published to the lobby after every session mutation.
type SlotsUpdate struct {
	DoctorID string `json:"doctorId"`
	Slots    []Slot `json:"slots"`
}
