package scheduler

import (
	"context"
	"sync"
)

// Locker serializes the check-then-admit of one doctor's sessions.
type Locker interface {
	WithDoctorLock(ctx context.Context, doctorID string, fn func(ctx context.Context) error) error
}

// KeyedLocker is the in-process Locker: one mutex per doctor.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedMutex
}

type keyedMutex struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[string]*keyedMutex)}
}

func (l *KeyedLocker) WithDoctorLock(ctx context.Context, doctorID string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	km, ok := l.locks[doctorID]
	if !ok {
		km = &keyedMutex{}
		l.locks[doctorID] = km
	}
	km.refs++
	l.mu.Unlock()

	km.mu.Lock()
	defer func() {
		km.mu.Unlock()
		l.mu.Lock()
		km.refs--
		if km.refs == 0 {
			delete(l.locks, doctorID)
		}
		l.mu.Unlock()
	}()

	return fn(ctx)
}
