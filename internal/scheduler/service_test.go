package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/telehealth-realtime/internal/event"
	"github.com/hackgods/telehealth-realtime/internal/participant"
	"github.com/hackgods/telehealth-realtime/internal/room"
)

type published struct {
	room string
	ev   event.Event
}

type fakePublisher struct {
	mu  sync.Mutex
	out []published
}

func (f *fakePublisher) Publish(r string, ev event.Event) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, published{room: r, ev: ev})
	return 1
}

func (f *fakePublisher) named(name string) []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []published
	for _, p := range f.out {
		if p.ev.Name == name {
			res = append(res, p)
		}
	}
	return res
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes map[string]int
}

func (f *fakeNotifier) Notify(participantID, _, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes[participantID]++
}

var testNow = time.Date(2025, 1, 9, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, *fakePublisher) {
	t.Helper()
	dir, err := participant.NewDemoDirectory()
	if err != nil {
		t.Fatalf("demo directory: %v", err)
	}
	pub := &fakePublisher{}
	svc := NewService(NewMemoryStore(), NewKeyedLocker(), pub, dir, DefaultSlotRule(), zap.NewNop())
	svc.now = func() time.Time { return testNow }
	return svc, pub
}

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func booking(id, start string, minutes int) Session {
	return Session{
		ID:          id,
		DoctorID:    "d1",
		PatientID:   "p1",
		ScheduledAt: at(start),
		Duration:    minutes,
		Type:        TypeVideo,
	}
}

func TestScheduleOverlapScenarios(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		session Session
		wantErr error
	}{
		{"A first booking", booking("A", "2025-01-10T09:00:00Z", 30), nil},
		{"B overlaps A", booking("B", "2025-01-10T09:15:00Z", 30), ErrSchedulingConflict},
		{"C back to back", booking("C", "2025-01-10T09:30:00Z", 30), nil},
		{"D contains A and C", booking("D", "2025-01-10T08:45:00Z", 90), ErrSchedulingConflict},
		{"E ends at A start", booking("E", "2025-01-10T08:30:00Z", 30), nil},
	}

	for _, tc := range cases {
		_, err := svc.Schedule(ctx, tc.session)
		if tc.wantErr == nil && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.wantErr, err)
		}
	}

	if _, err := svc.Get(ctx, "B"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("rejected session must not be stored, got %v", err)
	}
	all, _ := svc.List(ctx)
	if len(all) != 3 {
		t.Fatalf("expected 3 stored sessions, got %d", len(all))
	}
}

func TestScheduleOtherDoctorDoesNotConflict(t *testing.T) {
	svc, _ := newService(t)
	dir := svc.dir.(*participant.MemoryDirectory)
	if err := dir.Add(participant.Participant{ID: "d2", Username: "doctor2", Name: "Dr. Who", Role: participant.RoleDoctor}, "password"); err != nil {
		t.Fatalf("add doctor: %v", err)
	}

	if _, err := svc.Schedule(context.Background(), booking("A", "2025-01-10T09:00:00Z", 30)); err != nil {
		t.Fatalf("schedule A: %v", err)
	}
	other := booking("B", "2025-01-10T09:00:00Z", 30)
	other.DoctorID = "d2"
	if _, err := svc.Schedule(context.Background(), other); err != nil {
		t.Fatalf("expected independent doctor to accept, got %v", err)
	}
}

func TestScheduleDefaultsAndNames(t *testing.T) {
	svc, _ := newService(t)
	s, err := svc.Schedule(context.Background(), Session{
		DoctorID:    "d1",
		PatientID:   "p2",
		ScheduledAt: at("2025-01-10T10:00:00+02:00"),
		Status:      StatusCancelled,
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if s.ID == "" || s.Duration != DefaultDuration || s.Type != TypeVideo || s.Status != StatusScheduled {
		t.Fatalf("expected defaults applied, got %+v", s)
	}
	if s.DoctorName != "Dr. Jane Wilson" || s.PatientName != "Alice Smith" {
		t.Fatalf("expected names from directory, got %q %q", s.DoctorName, s.PatientName)
	}
	if s.ScheduledAt.Location() != time.UTC || s.ScheduledAt.Hour() != 8 {
		t.Fatalf("expected UTC normalisation, got %v", s.ScheduledAt)
	}
}

func TestScheduleRejectsInvalidInput(t *testing.T) {
	svc, _ := newService(t)

	cases := []struct {
		name    string
		mutate  func(*Session)
		wantErr error
	}{
		{"negative duration", func(s *Session) { s.Duration = -5 }, ErrInvalidSession},
		{"unknown type", func(s *Session) { s.Type = "phone" }, ErrInvalidSession},
		{"missing doctor", func(s *Session) { s.DoctorID = "" }, ErrInvalidSession},
		{"unknown doctor", func(s *Session) { s.DoctorID = "d9" }, participant.ErrInvalidParticipant},
		{"patient as doctor", func(s *Session) { s.DoctorID = "p2" }, ErrInvalidSession},
		{"doctor as patient", func(s *Session) { s.PatientID = "d1" }, ErrInvalidSession},
	}

	for _, tc := range cases {
		s := booking("X", "2025-01-10T09:00:00Z", 30)
		tc.mutate(&s)
		if _, err := svc.Schedule(context.Background(), s); !errors.Is(err, tc.wantErr) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.wantErr, err)
		}
	}
}

func TestResubmitDoesNotConflictWithItself(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.Schedule(ctx, booking("A", "2025-01-10T09:00:00Z", 30)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	moved, err := svc.Schedule(ctx, booking("A", "2025-01-10T09:10:00Z", 30))
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if !moved.ScheduledAt.Equal(at("2025-01-10T09:10:00Z")) {
		t.Fatalf("expected moved session, got %v", moved.ScheduledAt)
	}
	all, _ := svc.List(ctx)
	if len(all) != 1 {
		t.Fatalf("expected a single session, got %d", len(all))
	}
}

func TestResubmitCannotTakeOverAnotherBooking(t *testing.T) {
	svc, pub := newService(t)
	ctx := context.Background()
	dir := svc.dir.(*participant.MemoryDirectory)
	if err := dir.Add(participant.Participant{ID: "d2", Username: "doctor2", Name: "Dr. Who", Role: participant.RoleDoctor}, "password"); err != nil {
		t.Fatalf("add doctor: %v", err)
	}

	if _, err := svc.Schedule(ctx, booking("A", "2025-01-10T09:00:00Z", 30)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	published := len(pub.named(event.SessionScheduled))

	cases := []struct {
		name   string
		mutate func(*Session)
	}{
		{"other patient", func(s *Session) { s.PatientID = "p2"; s.ScheduledAt = at("2025-01-10T14:00:00Z") }},
		{"other doctor", func(s *Session) { s.DoctorID = "d2" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := booking("A", "2025-01-10T09:00:00Z", 30)
			tc.mutate(&in)
			if _, err := svc.Schedule(ctx, in); !errors.Is(err, ErrInvalidSession) {
				t.Fatalf("expected ErrInvalidSession, got %v", err)
			}
		})
	}

	a, err := svc.Get(ctx, "A")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if a.PatientID != "p1" || !a.ScheduledAt.Equal(at("2025-01-10T09:00:00Z")) {
		t.Fatalf("stored session was rewritten: %+v", a)
	}
	if got := len(pub.named(event.SessionScheduled)); got != published {
		t.Fatalf("rejected resubmits published %d extra events", got-published)
	}
}

func TestResubmitCannotReviveCancelledSession(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.Schedule(ctx, booking("A", "2025-01-10T09:00:00Z", 30)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, "A", StatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := svc.Schedule(ctx, booking("A", "2025-01-10T11:00:00Z", 30)); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
	a, _ := svc.Get(ctx, "A")
	if a.Status != StatusCancelled {
		t.Fatalf("expected session to stay cancelled, got %s", a.Status)
	}
}

func TestCancelFreesSlotAndRescheduleRevalidates(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.Schedule(ctx, booking("A", "2025-01-10T09:00:00Z", 30)); err != nil {
		t.Fatalf("schedule A: %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, "A", StatusCancelled); err != nil {
		t.Fatalf("cancel A: %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, "A", StatusCancelled); err != nil {
		t.Fatalf("cancel is idempotent: %v", err)
	}
	if _, err := svc.Schedule(ctx, booking("B", "2025-01-10T09:15:00Z", 30)); err != nil {
		t.Fatalf("expected cancelled slot to be free, got %v", err)
	}

	if _, err := svc.UpdateStatus(ctx, "A", StatusScheduled); !errors.Is(err, ErrSchedulingConflict) {
		t.Fatalf("expected conflict on un-cancel, got %v", err)
	}
	a, _ := svc.Get(ctx, "A")
	if a.Status != StatusCancelled {
		t.Fatalf("failed un-cancel must not change the store, got %s", a.Status)
	}

	if _, err := svc.UpdateStatus(ctx, "B", StatusCompleted); err != nil {
		t.Fatalf("complete B: %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, "missing", StatusCompleted); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, "B", "archived"); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
}

func TestSchedulePublishesToParticipantsAndLobby(t *testing.T) {
	svc, pub := newService(t)
	notes := &fakeNotifier{notes: map[string]int{}}
	svc.SetNotifier(notes)
	ctx := context.Background()

	if _, err := svc.Schedule(ctx, booking("A", "2025-01-10T09:00:00Z", 30)); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	scheduled := pub.named(event.SessionScheduled)
	if len(scheduled) != 2 || scheduled[0].room != room.UserRoom("d1") || scheduled[1].room != room.UserRoom("p1") {
		t.Fatalf("unexpected session:scheduled fan-out %+v", scheduled)
	}

	updates := pub.named(event.SlotsUpdated)
	if len(updates) != 1 || updates[0].room != room.Lobby {
		t.Fatalf("expected one slots:updated on the lobby, got %+v", updates)
	}
	data := updates[0].ev.Data.(SlotsUpdate)
	for _, slot := range data.Slots {
		if slot.Start.Equal(at("2025-01-10T09:00:00Z")) && slot.Available {
			t.Fatalf("booked slot published as available")
		}
	}

	if _, err := svc.Schedule(ctx, booking("B", "2025-01-10T09:15:00Z", 30)); err == nil {
		t.Fatalf("expected conflict")
	}
	if len(pub.named(event.SessionScheduled)) != 2 || len(pub.named(event.SlotsUpdated)) != 1 {
		t.Fatalf("conflict must not broadcast anything")
	}

	if _, err := svc.UpdateStatus(ctx, "A", StatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := len(pub.named(event.SessionUpdated)); got != 2 {
		t.Fatalf("expected session:updated to both participants, got %d", got)
	}
	if notes.notes["d1"] != 2 || notes.notes["p1"] != 2 {
		t.Fatalf("expected two notifications each, got %v", notes.notes)
	}
}

func TestConcurrentScheduleNeverDoubleBooks(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	base := at("2025-01-10T09:00:00Z")

	var wg sync.WaitGroup
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := Session{
				ID:          fmt.Sprintf("s%d", i),
				DoctorID:    "d1",
				PatientID:   "p1",
				ScheduledAt: base.Add(time.Duration(i%24*5) * time.Minute),
				Duration:    30,
				Type:        TypeChat,
			}
			_, _ = svc.Schedule(ctx, s)
		}(i)
	}
	wg.Wait()

	all, _ := svc.ListByDoctor(ctx, "d1")
	if len(all) == 0 {
		t.Fatalf("expected at least one accepted session")
	}
	for i := range all {
		for j := i + 1; j < len(all); j++ {
			a, b := all[i], all[j]
			if Overlaps(a.Start(), a.End(), b.Start(), b.End()) {
				t.Fatalf("double booking: %s %v and %s %v", a.ID, a.ScheduledAt, b.ID, b.ScheduledAt)
			}
		}
	}
}

func TestAvailableSlotsMatchSessions(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	for _, s := range []Session{
		booking("A", "2025-01-10T09:00:00Z", 30),
		booking("B", "2025-01-10T10:10:00Z", 45),
		booking("C", "2025-01-11T16:45:00Z", 30),
	} {
		if _, err := svc.Schedule(ctx, s); err != nil {
			t.Fatalf("schedule %s: %v", s.ID, err)
		}
	}
	if _, err := svc.UpdateStatus(ctx, "C", StatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	slots, err := svc.AvailableSlots(ctx, "d1", testNow)
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	sessions, _ := svc.ListByDoctor(ctx, "d1")

	for _, slot := range slots {
		if !slot.Start.After(testNow) {
			t.Fatalf("slot %v does not start after asOf", slot.Start)
		}
		busy := false
		for _, s := range sessions {
			if s.Blocking() && Overlaps(slot.Start, slot.End, s.Start(), s.End()) {
				busy = true
			}
		}
		if slot.Available == busy {
			t.Fatalf("slot %v availability %v disagrees with sessions", slot.Start, slot.Available)
		}
	}

	want := map[string]bool{
		"2025-01-10T09:00:00Z": false,
		"2025-01-10T09:30:00Z": true,
		"2025-01-10T10:00:00Z": false,
		"2025-01-10T10:30:00Z": false,
		"2025-01-10T11:00:00Z": true,
		"2025-01-11T16:30:00Z": true,
	}
	for _, slot := range slots {
		if exp, ok := want[slot.Start.Format(time.RFC3339)]; ok && slot.Available != exp {
			t.Fatalf("slot %v: expected available=%v", slot.Start, exp)
		}
	}
}

func TestKeyedLockerReleasesKeys(t *testing.T) {
	l := NewKeyedLocker()
	err := l.WithDoctorLock(context.Background(), "d1", func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if len(l.locks) != 0 {
		t.Fatalf("expected lock table to be empty, got %d", len(l.locks))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.WithDoctorLock(ctx, "d1", func(context.Context) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
