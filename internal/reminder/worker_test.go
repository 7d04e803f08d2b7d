package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/telehealth-realtime/internal/scheduler"
)

type staticSource struct {
	sessions []scheduler.Session
	err      error
}

func (s staticSource) List(context.Context) ([]scheduler.Session, error) {
	return s.sessions, s.err
}

type inbox map[string]int

func (i inbox) Notify(id, _, _ string) { i[id]++ }

func TestDueOffset(t *testing.T) {
	cases := []struct {
		minutes int
		want    int
		ok      bool
	}{
		{90, 0, false},
		{61, 0, false},
		{60, 60, true},
		{45, 60, true},
		{31, 60, true},
		{30, 30, true},
		{16, 30, true},
		{15, 15, true},
		{1, 15, true},
		{0, 0, false},
		{-5, 0, false},
	}
	for _, tc := range cases {
		got, ok := dueOffset(tc.minutes)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("dueOffset(%d) = %d,%v want %d,%v", tc.minutes, got, ok, tc.want, tc.ok)
		}
	}
}

func TestRunOnceFiresEachOffsetOnce(t *testing.T) {
	start := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	src := staticSource{sessions: []scheduler.Session{
		{ID: "A", DoctorID: "d1", PatientID: "p1", ScheduledAt: start, Duration: 30, Status: scheduler.StatusScheduled},
		{ID: "B", DoctorID: "d1", PatientID: "p2", ScheduledAt: start, Duration: 30, Status: scheduler.StatusCancelled},
	}}
	notes := inbox{}
	w := NewWorker(src, notes, zap.NewNop())

	steps := []struct {
		at   time.Time
		want int
	}{
		{start.Add(-2 * time.Hour), 0},
		{start.Add(-60 * time.Minute), 1},
		{start.Add(-59 * time.Minute), 0},
		{start.Add(-30 * time.Minute), 1},
		{start.Add(-20 * time.Minute), 0},
		{start.Add(-10 * time.Minute), 1},
		{start.Add(-5 * time.Minute), 0},
		{start.Add(time.Minute), 0},
	}
	for i, st := range steps {
		w.now = func() time.Time { return st.at }
		n, err := w.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if n != st.want {
			t.Fatalf("step %d: expected %d reminders, got %d", i, st.want, n)
		}
	}

	if notes["p1"] != 3 || notes["d1"] != 3 || notes["p2"] != 0 {
		t.Fatalf("unexpected notifications %v", notes)
	}
	if len(w.sent) != 0 {
		t.Fatalf("expected sent keys pruned after the session started, got %d", len(w.sent))
	}
}

func TestRunOnceSourceError(t *testing.T) {
	w := NewWorker(staticSource{err: errors.New("boom")}, inbox{}, zap.NewNop())
	if _, err := w.RunOnce(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}
