// Package ledger tracks daily session counts and the set of active sessions.
// One Ledger instance lives for the process lifetime and is passed to each
// relay at construction.
package ledger

import (
	"sync"
	"time"
)

// ReasonDailyLimit is returned by CanStart when today's quota is exhausted.
const ReasonDailyLimit = "daily limit reached"

// Policy is the static admission policy, resolved at startup and immutable
// for the process lifetime.
type Policy struct {
	MaxSessionsPerDay  int
	MaxSessionDuration time.Duration
}

// Status is a read-only snapshot of today's usage.
type Status struct {
	Used      int       `json:"sessions_used"`
	Remaining int       `json:"sessions_remaining"`
	ResetsAt  time.Time `json:"resets_at"`
}

// Ledger is the in-memory admission gate. Counts do not survive a process
// restart; the daily counter resets implicitly when the date key changes.
type Ledger struct {
	policy Policy
	now    func() time.Time

	mu     sync.Mutex
	counts map[string]int       // date key -> sessions started
	active map[string]time.Time // session id -> start time
}

// New builds a Ledger for the given policy.
func New(policy Policy) *Ledger {
	return NewWithClock(policy, time.Now)
}

// NewWithClock is New with an injectable clock.
func NewWithClock(policy Policy, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		policy: policy,
		now:    now,
		counts: make(map[string]int),
		active: make(map[string]time.Time),
	}
}

// Policy returns the immutable admission policy.
func (l *Ledger) Policy() Policy { return l.policy }

// CanStart reports whether a new session may be admitted today.
func (l *Ledger) CanStart() (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.canStartLocked()
}

// Start unconditionally records the session as active and consumes one quota
// slot for today. Callers must have observed CanStart()==true; Admit does both
// under one lock hold.
func (l *Ledger) Start(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.startLocked(id)
}

// Admit performs the check-then-start as one critical section so concurrent
// connections cannot over-admit past the daily limit.
func (l *Ledger) Admit(id string) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ok, reason := l.canStartLocked()
	if !ok {
		return false, reason
	}
	l.startLocked(id)
	return true, ""
}

// End releases the session from the active set. It is idempotent: ending an
// unknown or already-ended id is a no-op. The daily counter is never
// decremented; a started session keeps its quota slot for the day.
func (l *Ledger) End(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.active, id)
}

// Active reports whether the session id is currently in the active set.
func (l *Ledger) Active(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.active[id]
	return ok
}

// Status returns today's usage and the next reset time (local midnight).
func (l *Ledger) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	used := l.counts[dateKey(now)]
	remaining := l.policy.MaxSessionsPerDay - used
	if remaining < 0 {
		remaining = 0
	}
	year, month, day := now.Date()
	resetsAt := time.Date(year, month, day, 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	return Status{Used: used, Remaining: remaining, ResetsAt: resetsAt}
}

func (l *Ledger) canStartLocked() (bool, string) {
	if l.counts[dateKey(l.now())] >= l.policy.MaxSessionsPerDay {
		return false, ReasonDailyLimit
	}
	return true, ""
}

func (l *Ledger) startLocked(id string) {
	now := l.now()
	l.active[id] = now
	l.counts[dateKey(now)]++
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
