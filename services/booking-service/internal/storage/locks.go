package storage

import "sync"

// doctorLocks hands out one mutex per doctor id and drops it once nobody holds or waits for it.
type doctorLocks struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newDoctorLocks() *doctorLocks {
	return &doctorLocks{locks: make(map[string]*refMutex)}
}

func (l *doctorLocks) lock(doctorID string) func() {
	l.mu.Lock()
	m, ok := l.locks[doctorID]
	if !ok {
		m = &refMutex{}
		l.locks[doctorID] = m
	}
	m.refs++
	l.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		l.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(l.locks, doctorID)
		}
		l.mu.Unlock()
	}
}
