package activity

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTimeProvider records armed decay callbacks so tests can fire
// them manually, including stale ones, to exercise the supersede race.
type fakeTimeProvider struct {
	mu        sync.Mutex
	now       time.Time
	scheduled []func()
}

func newFakeTimeProvider() *fakeTimeProvider {
	return &fakeTimeProvider{now: time.Unix(1700000000, 0)}
}

func (f *fakeTimeProvider) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeTimeProvider) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *fakeTimeProvider) AfterFunc(d time.Duration, fn func()) *time.Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, fn)
	// The returned timer never fires on its own; tests drive decay
	// through the recorded callbacks.
	return time.NewTimer(time.Hour)
}

// fire runs the i-th armed callback.
func (f *fakeTimeProvider) fire(i int) {
	f.mu.Lock()
	fn := f.scheduled[i]
	f.mu.Unlock()
	fn()
}

func (f *fakeTimeProvider) armedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.scheduled)
}

func TestProcessBatchHighlightsParticipant(t *testing.T) {
	tp := newFakeTimeProvider()
	m := NewManagerWithOptions(time.Second, tp)

	m.ProcessBatch(map[string]float64{"Alice": 0.8})

	assert.True(t, m.IsPlayerHighlighted("Alice"))
	assert.Equal(t, 0.8, m.PlayerActivityLevel("Alice"))

	last, ok := m.PlayerLastActive("Alice")
	require.True(t, ok)
	assert.Equal(t, tp.Now(), last)
}

func TestDecayClearsHighlightOnce(t *testing.T) {
	tp := newFakeTimeProvider()
	m := NewManagerWithOptions(time.Second, tp)

	m.ProcessBatch(map[string]float64{"Alice": 0.8})
	require.Equal(t, 1, tp.armedCount())

	tp.fire(0)

	assert.False(t, m.IsPlayerHighlighted("Alice"))
	// The entry itself survives decay; only the highlight clears.
	entry, ok := m.Get("Alice")
	require.True(t, ok)
	assert.Equal(t, 0.8, entry.Level)
}

// A newer batch supersedes the pending timer: the stale expiration
// must not clear the fresh highlight.
func TestNewerBatchSupersedesPendingDecay(t *testing.T) {
	tp := newFakeTimeProvider()
	m := NewManagerWithOptions(time.Second, tp)

	m.ProcessBatch(map[string]float64{"Alice": 0.8})
	tp.advance(999 * time.Millisecond)
	m.ProcessBatch(map[string]float64{"Alice": 0.6})
	require.Equal(t, 2, tp.armedCount())

	// The first timer fires late, after its replacement was armed.
	tp.fire(0)
	assert.True(t, m.IsPlayerHighlighted("Alice"),
		"stale decay must not clear a refreshed highlight")

	tp.fire(1)
	assert.False(t, m.IsPlayerHighlighted("Alice"))
}

func TestDecayAfterClearIsNoOp(t *testing.T) {
	tp := newFakeTimeProvider()
	m := NewManagerWithOptions(time.Second, tp)

	m.ProcessBatch(map[string]float64{"Alice": 0.8})
	m.ClearPlayerActivity("Alice")

	tp.fire(0)

	_, ok := m.Get("Alice")
	assert.False(t, ok)
	assert.False(t, m.IsPlayerHighlighted("Alice"))
}

func TestProcessBatchHandlesMultipleParticipants(t *testing.T) {
	tp := newFakeTimeProvider()
	m := NewManagerWithOptions(time.Second, tp)

	m.ProcessBatch(map[string]float64{"Cara": 0.4, "Alice": 0.9, "Bob": 0.2})

	assert.Equal(t, []string{"Alice", "Bob", "Cara"}, m.ActiveSpeakers())
}

func TestClearAllActivityCancelsEverything(t *testing.T) {
	tp := newFakeTimeProvider()
	m := NewManagerWithOptions(time.Second, tp)

	m.ProcessBatch(map[string]float64{"Alice": 0.8, "Bob": 0.3})
	m.ClearAllActivity()

	assert.Empty(t, m.ActiveSpeakers())
	assert.Equal(t, 0.0, m.PlayerActivityLevel("Alice"))
	_, ok := m.PlayerLastActive("Bob")
	assert.False(t, ok)

	// Cancelled timers firing late must not resurrect anything.
	tp.fire(0)
	tp.fire(1)
	assert.Empty(t, m.ActiveSpeakers())
}

func TestQueriesOnUnknownParticipant(t *testing.T) {
	m := NewManager()

	assert.False(t, m.IsPlayerHighlighted("Ghost"))
	assert.Equal(t, 0.0, m.PlayerActivityLevel("Ghost"))
	_, ok := m.PlayerLastActive("Ghost")
	assert.False(t, ok)
}

// End-to-end against the real clock with a short decay window.
func TestDecayWithRealTimers(t *testing.T) {
	m := NewManagerWithOptions(30*time.Millisecond, nil)

	m.ProcessBatch(map[string]float64{"Alice": 0.8})
	assert.True(t, m.IsPlayerHighlighted("Alice"))

	deadline := time.Now().Add(2 * time.Second)
	for m.IsPlayerHighlighted("Alice") {
		if time.Now().After(deadline) {
			t.Fatal("highlight never decayed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
