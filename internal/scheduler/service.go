package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-realtime/internal/event"
	"github.com/hackgods/telehealth-realtime/internal/participant"
	"github.com/hackgods/telehealth-realtime/internal/room"
)

var ErrSchedulingConflict = errors.New("time slot already booked")

type Publisher interface {
	Publish(room string, ev event.Event) int
}

// Notifier receives a human-readable note for a participant's inbox.
type Notifier interface {
	Notify(participantID, title, message string)
}

type Service struct {
	store  Store
	locker Locker
	pub    Publisher
	dir    participant.Directory
	rule   SlotRule
	log    *zap.Logger
	notify Notifier
	now    func() time.Time
}

func NewService(store Store, locker Locker, pub Publisher, dir participant.Directory, rule SlotRule, log *zap.Logger) *Service {
	return &Service{
		store:  store,
		locker: locker,
		pub:    pub,
		dir:    dir,
		rule:   rule,
		log:    log,
		now:    time.Now,
	}
}

func (s *Service) SetNotifier(n Notifier) {
	s.notify = n
}

// Schedule admits a session if it does not overlap any other non-cancelled
// session of the same doctor. Resubmitting an existing id reschedules that
// session; only its own doctor and patient may do so, and only while it is
// scheduled. A session never conflicts with itself.
func (s *Service) Schedule(ctx context.Context, in Session) (*Session, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.Duration == 0 {
		in.Duration = DefaultDuration
	}
	if in.Type == "" {
		in.Type = TypeVideo
	}
	in.Status = StatusScheduled
	in.ScheduledAt = in.ScheduledAt.UTC()

	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := s.resolveNames(ctx, &in); err != nil {
		return nil, err
	}

	err := s.locker.WithDoctorLock(ctx, in.DoctorID, func(lockCtx context.Context) error {
		existing, err := s.store.Get(lockCtx, in.ID)
		if err != nil && !errors.Is(err, ErrSessionNotFound) {
			return fmt.Errorf("load session: %w", err)
		}
		if existing != nil {
			if existing.DoctorID != in.DoctorID || existing.PatientID != in.PatientID {
				return fmt.Errorf("%w: session %s belongs to other participants", ErrInvalidSession, in.ID)
			}
			if existing.Status != StatusScheduled {
				return fmt.Errorf("%w: session %s is %s, change it with a status update", ErrInvalidSession, in.ID, existing.Status)
			}
		}

		sessions, err := s.store.ListByDoctor(lockCtx, in.DoctorID)
		if err != nil {
			return fmt.Errorf("list doctor sessions: %w", err)
		}
		if other := conflicting(in, sessions); other != nil {
			return fmt.Errorf("%w: overlaps session %s", ErrSchedulingConflict, other.ID)
		}

		if err := s.store.Save(lockCtx, in); err != nil {
			return fmt.Errorf("save session: %w", err)
		}

		s.publishSession(event.SessionScheduled, in)
		s.publishSlots(in.DoctorID, replace(sessions, in))
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("session scheduled",
		zap.String("session_id", in.ID),
		zap.String("doctor_id", in.DoctorID),
		zap.String("patient_id", in.PatientID),
		zap.Time("scheduled_at", in.ScheduledAt),
	)
	s.notifyBoth(in, "Session scheduled",
		fmt.Sprintf("%s with %s on %s", in.Type, in.DoctorName, in.ScheduledAt.Format(time.RFC1123)))

	return &in, nil
}

// UpdateStatus moves a session to status. Moving a cancelled session back to
// a blocking status re-runs the conflict check.
func (s *Service) UpdateStatus(ctx context.Context, id string, status Status) (*Session, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidSession, status)
	}

	current, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var updated Session
	err = s.locker.WithDoctorLock(ctx, current.DoctorID, func(lockCtx context.Context) error {
		sess, err := s.store.Get(lockCtx, id)
		if err != nil {
			return err
		}

		sessions, err := s.store.ListByDoctor(lockCtx, sess.DoctorID)
		if err != nil {
			return fmt.Errorf("list doctor sessions: %w", err)
		}

		prev := sess.Status
		sess.Status = status
		if prev != status {
			if prev == StatusCancelled && sess.Blocking() {
				if other := conflicting(*sess, sessions); other != nil {
					return fmt.Errorf("%w: overlaps session %s", ErrSchedulingConflict, other.ID)
				}
			}
			if err := s.store.Save(lockCtx, *sess); err != nil {
				return fmt.Errorf("save session: %w", err)
			}
		}

		updated = *sess
		s.publishSession(event.SessionUpdated, updated)
		s.publishSlots(updated.DoctorID, replace(sessions, updated))
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("session status updated",
		zap.String("session_id", updated.ID),
		zap.String("status", string(updated.Status)),
	)
	s.notifyBoth(updated, "Session "+string(updated.Status),
		fmt.Sprintf("Session on %s is now %s", updated.ScheduledAt.Format(time.RFC1123), updated.Status))

	return &updated, nil
}

// AvailableSlots recomputes the doctor's slots from the store.
func (s *Service) AvailableSlots(ctx context.Context, doctorID string, asOf time.Time) ([]Slot, error) {
	sessions, err := s.store.ListByDoctor(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list doctor sessions: %w", err)
	}
	return s.rule.Generate(doctorID, asOf, sessions), nil
}

func (s *Service) List(ctx context.Context) ([]Session, error) {
	sessions, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

func (s *Service) ListByDoctor(ctx context.Context, doctorID string) ([]Session, error) {
	sessions, err := s.store.ListByDoctor(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list doctor sessions: %w", err)
	}
	return sessions, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) resolveNames(ctx context.Context, in *Session) error {
	if s.dir == nil {
		return nil
	}
	doctor, err := s.dir.Lookup(ctx, in.DoctorID)
	if err != nil {
		return err
	}
	if doctor.Role != participant.RoleDoctor {
		return fmt.Errorf("%w: %s is not a doctor", ErrInvalidSession, in.DoctorID)
	}
	patient, err := s.dir.Lookup(ctx, in.PatientID)
	if err != nil {
		return err
	}
	if patient.Role != participant.RolePatient {
		return fmt.Errorf("%w: %s is not a patient", ErrInvalidSession, in.PatientID)
	}
	if in.DoctorName == "" {
		in.DoctorName = doctor.Name
	}
	if in.PatientName == "" {
		in.PatientName = patient.Name
	}
	return nil
}

func (s *Service) publishSession(name string, sess Session) {
	ev := event.New(name, sess)
	s.pub.Publish(room.UserRoom(sess.DoctorID), ev)
	if sess.PatientID != sess.DoctorID {
		s.pub.Publish(room.UserRoom(sess.PatientID), ev)
	}
}

func (s *Service) publishSlots(doctorID string, sessions []Session) {
	slots := s.rule.Generate(doctorID, s.now(), sessions)
	s.pub.Publish(room.Lobby, event.New(event.SlotsUpdated, SlotsUpdate{DoctorID: doctorID, Slots: slots}))
}

func (s *Service) notifyBoth(sess Session, title, message string) {
	if s.notify == nil {
		return
	}
	s.notify.Notify(sess.DoctorID, title, message)
	s.notify.Notify(sess.PatientID, title, message)
}

// conflicting returns the first blocking session of the same doctor that
// overlaps candidate, ignoring candidate's own id.
func conflicting(candidate Session, sessions []Session) *Session {
	for i := range sessions {
		other := sessions[i]
		if other.ID == candidate.ID || other.DoctorID != candidate.DoctorID || !other.Blocking() {
			continue
		}
		if Overlaps(candidate.Start(), candidate.End(), other.Start(), other.End()) {
			return &other
		}
	}
	return nil
}

func replace(sessions []Session, s Session) []Session {
	out := make([]Session, 0, len(sessions)+1)
	for _, existing := range sessions {
		if existing.ID != s.ID {
			out = append(out, existing)
		}
	}
	return append(out, s)
}
