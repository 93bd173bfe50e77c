package player

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// entry is the internal mutable state behind a Player snapshot.
type entry struct {
	settings Settings
	sources  map[Source]struct{}
}

// Manager is the presence registry: the reference-counted table of
// currently-audible participants.
//
// A participant exists in the registry if and only if its source set
// is non-empty. RemoveSource is the sole deletion path; removing the
// last source deletes the participant, so an entry audible through two
// sources survives the removal of either one alone.
//
// The registry is the source of truth for audio mixing regardless of
// persistence outcomes: storage or engine failures during settings
// propagation are logged and never roll back in-memory state.
type Manager struct {
	mu      sync.RWMutex
	players map[string]*entry
	gateway SettingsGateway

	onChange func()
}

// NewManager creates a presence registry backed by the given settings
// gateway. The gateway may be nil, in which case participants always
// start from default settings and propagation is skipped.
func NewManager(gateway SettingsGateway) *Manager {
	return &Manager{
		players: make(map[string]*entry),
		gateway: gateway,
	}
}

// OnChange registers a callback invoked after every registry mutation.
// The callback runs outside the registry lock; it should read fresh
// snapshots via the query methods.
func (m *Manager) OnChange(callback func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = callback
}

// AddSource inserts source into the participant's source set, creating
// the participant if it does not exist yet. New participants are
// seeded from seed when provided, otherwise from persisted settings,
// falling back to defaults on any load failure. Adding an
// already-present source is an idempotent no-op.
//
// AddSource never fails for well-formed input; it returns false only
// on an unexpected internal error.
func (m *Manager) AddSource(name string, source Source, seed *Settings) bool {
	if name == "" {
		logrus.WithFields(logrus.Fields{
			"function": "AddSource",
			"source":   source.String(),
		}).Error("Rejecting empty participant name")
		return false
	}

	// Resolve initial settings before taking the lock: the gateway
	// load may touch durable storage.
	var initial Settings
	m.mu.RLock()
	_, exists := m.players[name]
	m.mu.RUnlock()
	if !exists {
		initial = m.loadInitialSettings(name, seed)
	}

	m.mu.Lock()
	p, ok := m.players[name]
	created := false
	if !ok {
		p = &entry{
			settings: initial,
			sources:  make(map[Source]struct{}),
		}
		m.players[name] = p
		created = true
	}
	if _, dup := p.sources[source]; dup {
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "AddSource",
			"player":   name,
			"source":   source.String(),
		}).Debug("Source already present, nothing to do")
		return true
	}
	p.sources[source] = struct{}{}
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "AddSource",
		"player":   name,
		"source":   source.String(),
		"created":  created,
	}).Info("Source added to participant")

	if created {
		// A new participant changes the merged settings map.
		m.propagateSettings()
	}
	m.notifyChange()
	return true
}

// RemoveSource removes source from the participant's source set and
// deletes the participant when the set becomes empty. Removing a
// source the participant does not hold, or naming an unknown
// participant, is a no-op. It reports whether the registry changed.
func (m *Manager) RemoveSource(name string, source Source) bool {
	m.mu.Lock()
	p, ok := m.players[name]
	if !ok {
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "RemoveSource",
			"player":   name,
			"source":   source.String(),
		}).Debug("Participant not present, nothing to do")
		return false
	}
	if _, held := p.sources[source]; !held {
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "RemoveSource",
			"player":   name,
			"source":   source.String(),
		}).Debug("Source not held by participant, nothing to do")
		return false
	}
	delete(p.sources, source)
	deleted := len(p.sources) == 0
	if deleted {
		delete(m.players, name)
	}
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "RemoveSource",
		"player":   name,
		"source":   source.String(),
		"deleted":  deleted,
	}).Info("Source removed from participant")

	m.notifyChange()
	return true
}

// UpdateSettings merges patch into the participant's settings and
// triggers asynchronous propagation to the store and the audio engine.
// Updating an unknown participant is a no-op logged as a warning.
func (m *Manager) UpdateSettings(name string, patch SettingsPatch) bool {
	m.mu.Lock()
	p, ok := m.players[name]
	if !ok {
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "UpdateSettings",
			"player":   name,
		}).Warn("Ignoring settings update for unknown participant")
		return false
	}
	if patch.Gain != nil {
		p.settings.Gain = *patch.Gain
	}
	if patch.Muted != nil {
		p.settings.Muted = *patch.Muted
	}
	updated := p.settings
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "UpdateSettings",
		"player":   name,
		"gain":     updated.Gain,
		"muted":    updated.Muted,
	}).Info("Participant settings updated")

	m.propagateSettings()
	m.notifyChange()
	return true
}

// Has reports whether the participant is currently present.
func (m *Manager) Has(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.players[name]
	return ok
}

// Get returns a snapshot of the participant, if present.
func (m *Manager) Get(name string) (Player, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.players[name]
	if !ok {
		return Player{}, false
	}
	return snapshot(name, p), true
}

// GetAll returns snapshots of every present participant, sorted by
// name for stable presentation.
func (m *Manager) GetAll() []Player {
	m.mu.RLock()
	out := make([]Player, 0, len(m.players))
	for name, p := range m.players {
		out = append(out, snapshot(name, p))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of present participants.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.players)
}

// HasSource reports whether the participant currently holds source.
func (m *Manager) HasSource(name string, source Source) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.players[name]
	if !ok {
		return false
	}
	_, held := p.sources[source]
	return held
}

// Sources returns the participant's current source tags. The slice is
// empty for unknown participants.
func (m *Manager) Sources(name string) []Source {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.players[name]
	if !ok {
		return nil
	}
	return sourceList(p)
}

// loadInitialSettings resolves the settings for a participant about to
// be created. Gateway failures fall back to defaults and are logged,
// never surfaced.
func (m *Manager) loadInitialSettings(name string, seed *Settings) Settings {
	if seed != nil {
		return *seed
	}
	if m.gateway == nil {
		return DefaultSettings()
	}
	loaded, err := m.gateway.Load(name)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "loadInitialSettings",
			"player":   name,
			"error":    err.Error(),
		}).Error("Failed to load persisted settings, using defaults")
		return DefaultSettings()
	}
	return loaded
}

// propagateSettings pushes the full settings map to the gateway in the
// background. Failures are logged; in-memory state stays authoritative.
func (m *Manager) propagateSettings() {
	if m.gateway == nil {
		return
	}

	m.mu.RLock()
	all := make(map[string]Settings, len(m.players))
	for name, p := range m.players {
		all[name] = p.settings
	}
	m.mu.RUnlock()

	go func() {
		if err := m.gateway.Publish(all); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "propagateSettings",
				"players":  len(all),
				"error":    err.Error(),
			}).Error("Settings propagation failed")
		}
	}()
}

func (m *Manager) notifyChange() {
	m.mu.RLock()
	callback := m.onChange
	m.mu.RUnlock()
	if callback != nil {
		callback()
	}
}

func snapshot(name string, p *entry) Player {
	return Player{
		Name:     name,
		Settings: p.settings,
		Sources:  sourceList(p),
	}
}

func sourceList(p *entry) []Source {
	sources := make([]Source, 0, len(p.sources))
	for s := range p.sources {
		sources = append(sources, s)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })
	return sources
}
