package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/telehealth-realtime/internal/scheduler"
)

// Offsets are the minutes before a session at which reminders go out.
var Offsets = []int{60, 30, 15}

type Source interface {
	List(ctx context.Context) ([]scheduler.Session, error)
}

type Notifier interface {
	Notify(participantID, title, message string)
}

type sentKey struct {
	sessionID string
	offset    int
}

// Worker reminds both parties of upcoming sessions. Each (session, offset)
// pair fires once; a missed tick is caught up by the tightest offset that
// still applies.
type Worker struct {
	src    Source
	notify Notifier
	log    *zap.Logger
	now    func() time.Time

	mu   sync.Mutex
	sent map[sentKey]time.Time
}

func NewWorker(src Source, notify Notifier, log *zap.Logger) *Worker {
	return &Worker{
		src:    src,
		notify: notify,
		log:    log,
		now:    time.Now,
		sent:   make(map[sentKey]time.Time),
	}
}

// Run calls RunOnce at start and on every tick until ctx is done.
func (w *Worker) Run(ctx context.Context, interval time.Duration) {
	w.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("reminder worker stopped")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *Worker) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	n, err := w.RunOnce(runCtx)
	if err != nil {
		w.log.Error("reminder run failed", zap.Error(err))
		return
	}
	if n > 0 {
		w.log.Info("reminders sent", zap.Int("count", n))
	}
}

// RunOnce sends the reminders due now and returns how many sessions were
// reminded.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	sessions, err := w.src.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	now := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	for k, start := range w.sent {
		if !start.After(now) {
			delete(w.sent, k)
		}
	}

	count := 0
	for _, s := range sessions {
		if s.Status != scheduler.StatusScheduled {
			continue
		}
		minutes := int(s.ScheduledAt.Sub(now) / time.Minute)
		offset, ok := dueOffset(minutes)
		if !ok {
			continue
		}
		key := sentKey{sessionID: s.ID, offset: offset}
		if _, done := w.sent[key]; done {
			continue
		}
		w.sent[key] = s.ScheduledAt

		title := "Appointment Reminder"
		w.notify.Notify(s.PatientID, title, fmt.Sprintf("Your session with %s starts in %d minutes", s.DoctorName, minutes))
		w.notify.Notify(s.DoctorID, title, fmt.Sprintf("Your session with %s starts in %d minutes", s.PatientName, minutes))
		count++
	}
	return count, nil
}

// dueOffset returns the offset whose window contains minutes: at most the
// offset and more than the next smaller one.
func dueOffset(minutes int) (int, bool) {
	for i, o := range Offsets {
		lower := 0
		if i+1 < len(Offsets) {
			lower = Offsets[i+1]
		}
		if minutes <= o && minutes > lower {
			return o, true
		}
	}
	return 0, false
}
