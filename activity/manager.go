// Package activity implements the vocal-activity highlighter.
//
// The highlighter turns a streaming per-tick map of participant
// activity levels into transient "is speaking now" state. Each
// incoming sample marks the participant highlighted and arms a decay
// timer; the highlight clears automatically after a quiet period
// unless a newer sample supersedes the timer first.
//
// The highlighter is independent of presence and channel state: a
// participant may be highlighted without being a tracked presence
// entry. Callers cross-reference as needed.
package activity

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultHighlightDuration is the quiet period after which a
// highlight decays when no newer activity sample arrives.
const DefaultHighlightDuration = 1000 * time.Millisecond

// TimeProvider abstracts the clock and timer creation so tests can
// run deterministically.
type TimeProvider interface {
	// Now returns the current time.
	Now() time.Time
	// AfterFunc arms a timer that runs f after d elapses.
	AfterFunc(d time.Duration, f func()) *time.Timer
}

// RealTimeProvider implements TimeProvider with the system clock.
type RealTimeProvider struct{}

// Now returns the current system time.
func (RealTimeProvider) Now() time.Time { return time.Now() }

// AfterFunc arms a standard library timer.
func (RealTimeProvider) AfterFunc(d time.Duration, f func()) *time.Timer {
	return time.AfterFunc(d, f)
}

// Entry is a snapshot of one participant's activity state.
type Entry struct {
	Level       float64
	LastActive  time.Time
	Highlighted bool
}

// record is the internal mutable activity state for one participant.
// gen identifies the batch that armed the current decay timer; a decay
// firing with a stale generation has been superseded and must not
// clear the highlight.
type record struct {
	level       float64
	lastActive  time.Time
	highlighted bool
	gen         uint64
}

// Manager tracks per-participant activity levels and self-expiring
// highlight state.
//
// Every sample unconditionally cancels the participant's pending decay
// timer before arming a replacement, and the decay callback verifies
// it is still the registered timer before clearing the highlight. A
// sample arriving a moment before the old timer fires therefore never
// has its highlight cleared by the stale expiration.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*record
	timers  map[string]*time.Timer

	highlightDuration time.Duration
	timeProvider      TimeProvider
}

// NewManager creates a highlighter with the default decay duration.
func NewManager() *Manager {
	return NewManagerWithOptions(DefaultHighlightDuration, nil)
}

// NewManagerWithOptions creates a highlighter with a custom decay
// duration and time provider. A nil provider selects the system clock;
// a non-positive duration selects the default.
func NewManagerWithOptions(highlightDuration time.Duration, tp TimeProvider) *Manager {
	if highlightDuration <= 0 {
		highlightDuration = DefaultHighlightDuration
	}
	if tp == nil {
		tp = RealTimeProvider{}
	}
	return &Manager{
		entries:           make(map[string]*record),
		timers:            make(map[string]*time.Timer),
		highlightDuration: highlightDuration,
		timeProvider:      tp,
	}
}

// ProcessBatch ingests one tick of the activity feed: a mapping of
// participant name to numeric signal level. Every named participant is
// highlighted and its decay timer rearmed.
func (m *Manager) ProcessBatch(levels map[string]float64) {
	if len(levels) == 0 {
		return
	}

	now := m.timeProvider.Now()

	m.mu.Lock()
	for name, level := range levels {
		r, ok := m.entries[name]
		if !ok {
			r = &record{}
			m.entries[name] = r
		}
		r.level = level
		r.lastActive = now
		r.highlighted = true
		r.gen++

		// Cancel-before-reschedule: a pending decay timer must never
		// outlive the sample that supersedes it.
		if old, ok := m.timers[name]; ok {
			old.Stop()
		}
		gen := r.gen
		m.timers[name] = m.timeProvider.AfterFunc(m.highlightDuration, func() {
			m.expire(name, gen)
		})
	}
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "ProcessBatch",
		"players":  len(levels),
	}).Debug("Activity batch processed")
}

// expire clears the highlight armed by generation gen. A stale
// generation means a newer batch already replaced the timer, so the
// expiration is discarded unchanged.
func (m *Manager) expire(name string, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.entries[name]
	if !ok || r.gen != gen {
		return
	}
	delete(m.timers, name)
	r.highlighted = false
}

// IsPlayerHighlighted reports whether the participant is currently
// highlighted as speaking.
func (m *Manager) IsPlayerHighlighted(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.entries[name]
	return ok && r.highlighted
}

// PlayerActivityLevel returns the participant's most recent signal
// level, or zero when no activity has been recorded.
func (m *Manager) PlayerActivityLevel(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.entries[name]; ok {
		return r.level
	}
	return 0
}

// PlayerLastActive returns the time of the participant's most recent
// activity sample and whether any sample has been recorded.
func (m *Manager) PlayerLastActive(name string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.entries[name]; ok {
		return r.lastActive, true
	}
	return time.Time{}, false
}

// ActiveSpeakers returns the names of all currently highlighted
// participants, sorted for stable presentation.
func (m *Manager) ActiveSpeakers() []string {
	m.mu.Lock()
	var names []string
	for name, r := range m.entries {
		if r.highlighted {
			names = append(names, name)
		}
	}
	m.mu.Unlock()

	sort.Strings(names)
	return names
}

// Get returns a snapshot of the participant's activity state.
func (m *Manager) Get(name string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.entries[name]
	if !ok {
		return Entry{}, false
	}
	return Entry{Level: r.level, LastActive: r.lastActive, Highlighted: r.highlighted}, true
}

// ClearPlayerActivity cancels any pending decay timer and removes the
// participant's activity state immediately.
func (m *Manager) ClearPlayerActivity(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if timer, ok := m.timers[name]; ok {
		timer.Stop()
		delete(m.timers, name)
	}
	delete(m.entries, name)
}

// ClearAllActivity cancels every pending decay timer and removes all
// activity state. Used on teardown and disconnect.
func (m *Manager) ClearAllActivity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, timer := range m.timers {
		timer.Stop()
		delete(m.timers, name)
	}
	m.entries = make(map[string]*record)

	logrus.WithFields(logrus.Fields{
		"function": "ClearAllActivity",
	}).Debug("All activity state cleared")
}
