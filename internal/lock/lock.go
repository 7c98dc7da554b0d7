// Package lock implements the four-mode lock manager from spec §4.6: WeakRead, Write,
// Compaction and Exclusive over a single logical resource (the audit trail instance).
//
// No library in the retrieval pack models this compatibility matrix — it is specific to this
// spec — so the manager is hand-rolled on sync.Mutex plus a channel-broadcast condition
// variable, the same primitive the teacher's internal/raftengine/engine.go uses for its own
// ad hoc coordination (msgbus subscriptions, sync.WaitGroup draining).
package lock

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Mode is one of the four lock modes defined by spec §4.6.
type Mode int

const (
	// WeakRead allows unlimited concurrent readers; it only excludes Exclusive (structural
	// reorganization: detach, snapshot install).
	WeakRead Mode = iota
	// Write serializes appenders against each other and against Exclusive.
	Write
	// Compaction serializes background snapshot builders/detaches against each other and
	// against Exclusive.
	Compaction
	// Exclusive is Write and Compaction held together; used for snapshot install and tail
	// rewrites.
	Exclusive
)

func (m Mode) String() string {
	switch m {
	case WeakRead:
		return "WeakRead"
	case Write:
		return "Write"
	case Compaction:
		return "Compaction"
	case Exclusive:
		return "Exclusive"
	default:
		return "unknown"
	}
}

// ErrInvalidUpgrade is returned by Token.Upgrade when the token is not currently held in Write
// mode.
var ErrInvalidUpgrade = errors.New("lock: upgrade requires a held Write token")

// Manager arbitrates the four lock modes. The zero value is not usable; use New.
type Manager struct {
	mu sync.Mutex

	readers        int
	writeHeld      bool
	compactionHeld bool
	exclusiveHeld  bool

	waitWrite      int
	waitCompaction int
	waitExclusive  int

	gen chan struct{}
}

// New constructs an unlocked Manager.
func New() *Manager {
	return &Manager{gen: make(chan struct{})}
}

// Token represents a held lock; release it exactly once via Release.
type Token struct {
	m    *Manager
	mode Mode
}

// Mode reports the mode the token currently holds (Upgrade may change this from Write to
// Exclusive).
func (t *Token) Mode() Mode { return t.mode }

// Acquire blocks until mode is compatible with the currently held locks, or ctx is canceled.
// A canceled acquisition leaves no side effect: no lock state changes, no token is returned.
func (m *Manager) Acquire(ctx context.Context, mode Mode) (*Token, error) {
	for {
		m.mu.Lock()
		if m.tryAcquireLocked(mode) {
			m.mu.Unlock()
			return &Token{m: m, mode: mode}, nil
		}
		m.registerWaiterLocked(mode)
		ch := m.gen
		m.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			m.mu.Lock()
			m.unregisterWaiterLocked(mode)
			m.mu.Unlock()
			return nil, ctx.Err()
		}

		m.mu.Lock()
		m.unregisterWaiterLocked(mode)
		m.mu.Unlock()
	}
}

// Upgrade moves a held Write token to Exclusive in place (spec §4.7 step 3: tail rewrites
// upgrade Write to Exclusive). It requires the token currently hold Write. On cancellation the
// token is left holding Write, unchanged.
func (t *Token) Upgrade(ctx context.Context) error {
	if t.mode != Write {
		return ErrInvalidUpgrade
	}
	m := t.m
	for {
		m.mu.Lock()
		if !m.compactionHeld && !m.exclusiveHeld && m.readers == 0 {
			m.compactionHeld = true
			m.exclusiveHeld = true
			t.mode = Exclusive
			m.mu.Unlock()
			return nil
		}
		m.registerWaiterLocked(Exclusive)
		ch := m.gen
		m.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			m.mu.Lock()
			m.unregisterWaiterLocked(Exclusive)
			m.mu.Unlock()
			return ctx.Err()
		}

		m.mu.Lock()
		m.unregisterWaiterLocked(Exclusive)
		m.mu.Unlock()
	}
}

// Release releases the token's currently held mode.
func (t *Token) Release() {
	m := t.m
	m.mu.Lock()
	switch t.mode {
	case WeakRead:
		m.readers--
	case Write:
		m.writeHeld = false
	case Compaction:
		m.compactionHeld = false
	case Exclusive:
		m.writeHeld = false
		m.compactionHeld = false
		m.exclusiveHeld = false
	}
	m.wakeLocked()
	m.mu.Unlock()
}

func (m *Manager) tryAcquireLocked(mode Mode) bool {
	switch mode {
	case WeakRead:
		if m.exclusiveHeld {
			return false
		}
		// Fairness: writers and compaction get priority over new WeakRead readers, so a
		// starved background compactor can eventually reach Compaction/Exclusive.
		if m.waitWrite > 0 || m.waitCompaction > 0 || m.waitExclusive > 0 {
			return false
		}
		m.readers++
		return true
	case Write:
		if m.writeHeld || m.exclusiveHeld {
			return false
		}
		m.writeHeld = true
		return true
	case Compaction:
		if m.compactionHeld || m.exclusiveHeld {
			return false
		}
		m.compactionHeld = true
		return true
	case Exclusive:
		if m.readers > 0 || m.writeHeld || m.compactionHeld || m.exclusiveHeld {
			return false
		}
		m.writeHeld = true
		m.compactionHeld = true
		m.exclusiveHeld = true
		return true
	default:
		return false
	}
}

func (m *Manager) registerWaiterLocked(mode Mode) {
	switch mode {
	case Write:
		m.waitWrite++
	case Compaction:
		m.waitCompaction++
	case Exclusive:
		m.waitExclusive++
	}
}

func (m *Manager) unregisterWaiterLocked(mode Mode) {
	switch mode {
	case Write:
		m.waitWrite--
	case Compaction:
		m.waitCompaction--
	case Exclusive:
		m.waitExclusive--
	}
}

// wakeLocked broadcasts to every current waiter by closing and replacing the generation
// channel. Must be called with m.mu held.
func (m *Manager) wakeLocked() {
	close(m.gen)
	m.gen = make(chan struct{})
}

// Stats reports a point-in-time snapshot of lock occupancy, useful for diagnostics.
type Stats struct {
	Readers           int
	WriteHeld         bool
	CompactionHeld    bool
	ExclusiveHeld     bool
	WaitingWrite      int
	WaitingCompaction int
	WaitingExclusive  int
}

// Stats returns the current occupancy of the manager.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Readers:           m.readers,
		WriteHeld:         m.writeHeld,
		CompactionHeld:    m.compactionHeld,
		ExclusiveHeld:     m.exclusiveHeld,
		WaitingWrite:      m.waitWrite,
		WaitingCompaction: m.waitCompaction,
		WaitingExclusive:  m.waitExclusive,
	}
}
