// Package channel implements the channel registry and membership
// protocol: an eventually-consistent local mirror of the backend's
// channel list, the local user's movement between channels, and the
// translation of membership changes into Group-source updates in the
// presence registry.
package channel

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/voicelink/player"
	"github.com/opd-ai/voicelink/transport"
)

// Backend is the minimal backend surface the registry needs.
// Implemented by transport.Client; faked in tests.
type Backend interface {
	ListChannels() ([]transport.Channel, error)
	GetChannel(id string) (transport.Channel, error)
	CreateChannel(name string) (string, error)
	DeleteChannel(id string) error
	MembershipEvent(id string, action transport.MembershipAction) error
	SubscribeChannelEvents(callback func(transport.ChannelEvent))
	UnsubscribeChannelEvents()
}

// PresenceRegistry is the presence surface the registry drives.
// Implemented by player.Manager; faked in tests.
type PresenceRegistry interface {
	AddSource(name string, source player.Source, seed *player.Settings) bool
	RemoveSource(name string, source player.Source) bool
}

// Manager mirrors server-side channel existence and membership and
// orchestrates the local user's movement between channels.
//
// The mirror is eventually consistent: recognized events patch it
// incrementally, ambiguous errors (stale channel references) trigger a
// full refetch, and local optimistic updates are never rolled back —
// the remote event stream simply overwrites.
//
// Backend failures populate a single error slot readable via
// LastError; they never propagate past the component boundary.
type Manager struct {
	backend  Backend
	presence PresenceRegistry
	selfName string

	mu        sync.Mutex
	channels  []transport.Channel
	currentID string
	listening bool
	loading   bool
	lastErr   error

	onChange func()
}

// NewManager creates a channel registry for the local user selfName.
func NewManager(backend Backend, presence PresenceRegistry, selfName string) *Manager {
	return &Manager{
		backend:  backend,
		presence: presence,
		selfName: selfName,
	}
}

// OnChange registers a callback invoked after every mirror mutation.
// It runs outside the registry lock.
func (m *Manager) OnChange(callback func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = callback
}

// Channels returns a snapshot of the mirrored channel list.
func (m *Manager) Channels() []transport.Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]transport.Channel, len(m.channels))
	for i, ch := range m.channels {
		out[i] = copyChannel(ch)
	}
	return out
}

// Channel returns a snapshot of one mirrored channel.
func (m *Manager) Channel(id string) (transport.Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.indexOf(id); i >= 0 {
		return copyChannel(m.channels[i]), true
	}
	return transport.Channel{}, false
}

// CurrentChannelID returns the id of the channel the local user is a
// member of, or the empty string.
func (m *Manager) CurrentChannelID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentID
}

// Listening reports whether the registry is subscribed to the
// backend's channel-event feed.
func (m *Manager) Listening() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listening
}

// Loading reports whether a fetch is in flight.
func (m *Manager) Loading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loading
}

// LastError returns the most recent backend failure, or nil.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// ClearError clears the error slot.
func (m *Manager) ClearError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErr = nil
}

// FetchChannels refreshes the full channel mirror from the backend.
// On failure the prior mirror is left untouched.
func (m *Manager) FetchChannels() bool {
	m.setLoading(true)
	list, err := m.backend.ListChannels()
	m.setLoading(false)
	if err != nil {
		m.recordError("FetchChannels", err)
		return false
	}

	m.mu.Lock()
	m.channels = list
	m.lastErr = nil
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "FetchChannels",
		"channels": len(list),
	}).Info("Channel mirror refreshed")

	m.notifyChange()
	return true
}

// FetchChannel refreshes a single channel and merges it into the
// mirror. On failure the mirror is left untouched.
func (m *Manager) FetchChannel(id string) bool {
	ch, err := m.backend.GetChannel(id)
	if err != nil {
		m.recordError("FetchChannel", err)
		return false
	}

	m.mu.Lock()
	if i := m.indexOf(id); i >= 0 {
		m.channels[i] = ch
	} else {
		m.channels = append(m.channels, ch)
	}
	m.lastErr = nil
	m.mu.Unlock()

	m.notifyChange()
	return true
}

// CreateChannel requests creation of a new channel and refreshes the
// mirror. Returns the server-assigned id, or ok=false on failure.
func (m *Manager) CreateChannel(name string) (string, bool) {
	id, err := m.backend.CreateChannel(name)
	if err != nil {
		m.recordError("CreateChannel", err)
		return "", false
	}

	logrus.WithFields(logrus.Fields{
		"function":   "CreateChannel",
		"channel_id": id,
		"name":       name,
	}).Info("Channel created")

	m.FetchChannels()
	return id, true
}

// DeleteChannel requests deletion and removes the channel from the
// mirror immediately on success. When the deleted channel was the
// local user's, the other members lose their Group source through the
// same cleanup routine the remote delete event uses; the later event
// echo then finds nothing left to strip and converges as a no-op.
func (m *Manager) DeleteChannel(id string) bool {
	if err := m.backend.DeleteChannel(id); err != nil {
		m.recordError("DeleteChannel", err)
		return false
	}

	m.mu.Lock()
	var roster []string
	if i := m.indexOf(id); i >= 0 {
		roster = append(roster, m.channels[i].Players...)
		m.channels = append(m.channels[:i], m.channels[i+1:]...)
	}
	wasCurrent := m.currentID == id
	if wasCurrent {
		m.currentID = ""
	}
	m.lastErr = nil
	m.mu.Unlock()

	if wasCurrent {
		m.stripGroupSources(roster, m.selfName)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "DeleteChannel",
		"channel_id": id,
	}).Info("Channel deleted")

	m.notifyChange()
	return true
}

// JoinChannel moves the local user into the channel. If the user is
// already in a different channel, the movement protocol first strips
// the Group source from that channel's other members and leaves it, so
// membership-derived sources never linger across the move. Joining the
// channel the user is already in succeeds immediately.
func (m *Manager) JoinChannel(id string, currentUserName string) bool {
	m.mu.Lock()
	current := m.currentID
	m.mu.Unlock()

	if current == id {
		logrus.WithFields(logrus.Fields{
			"function":   "JoinChannel",
			"channel_id": id,
		}).Debug("Already a member, join is a no-op")
		return true
	}

	if current != "" {
		if !m.departChannel(current, currentUserName) {
			return false
		}
	}

	if err := m.backend.MembershipEvent(id, transport.MembershipJoin); err != nil {
		m.recordError("JoinChannel", err)
		if errors.Is(err, transport.ErrChannelNotFound) {
			// The target vanished underneath us: resynchronize.
			m.FetchChannels()
		}
		return false
	}

	// Optimistic local update; the event stream overwrites later if
	// it disagrees.
	m.mu.Lock()
	missing := m.indexOf(id) < 0
	m.mu.Unlock()
	if missing {
		// Joined a channel the mirror has not seen yet.
		m.FetchChannel(id)
	}

	m.mu.Lock()
	m.currentID = id
	var existing []string
	if i := m.indexOf(id); i >= 0 {
		if !m.channels[i].HasPlayer(currentUserName) {
			m.channels[i].Players = append(m.channels[i].Players, currentUserName)
		}
		existing = append(existing, m.channels[i].Players...)
	}
	m.lastErr = nil
	m.mu.Unlock()

	m.addGroupSources(existing, currentUserName)

	logrus.WithFields(logrus.Fields{
		"function":   "JoinChannel",
		"channel_id": id,
		"members":    len(existing),
	}).Info("Joined channel")

	m.notifyChange()
	return true
}

// LeaveChannel sends the leave request and updates the local mirror.
// Group sources of the other members are not stripped here; the
// remote leave event owns that cleanup so self-initiated and
// server-notified leaves converge on one code path.
func (m *Manager) LeaveChannel(id string, currentUserName string) bool {
	if err := m.backend.MembershipEvent(id, transport.MembershipLeave); err != nil {
		m.recordError("LeaveChannel", err)
		return false
	}

	m.mu.Lock()
	if m.currentID == id {
		m.currentID = ""
	}
	if i := m.indexOf(id); i >= 0 {
		m.channels[i].Players = removeName(m.channels[i].Players, currentUserName)
	}
	m.lastErr = nil
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":   "LeaveChannel",
		"channel_id": id,
	}).Info("Left channel")

	m.notifyChange()
	return true
}

// departChannel is the leave half of the movement protocol: capture
// the old channel's roster, strip the Group source from every other
// member, then leave.
func (m *Manager) departChannel(id string, currentUserName string) bool {
	m.mu.Lock()
	var roster []string
	if i := m.indexOf(id); i >= 0 {
		roster = append(roster, m.channels[i].Players...)
	}
	m.mu.Unlock()

	m.stripGroupSources(roster, currentUserName)
	return m.LeaveChannel(id, currentUserName)
}

// StartListening subscribes to the backend's channel-event feed.
// Idempotent: re-subscribing while already listening is a no-op.
func (m *Manager) StartListening() {
	m.mu.Lock()
	if m.listening {
		m.mu.Unlock()
		return
	}
	m.listening = true
	m.mu.Unlock()

	m.backend.SubscribeChannelEvents(m.HandleChannelEvent)

	logrus.WithFields(logrus.Fields{
		"function": "StartListening",
	}).Info("Listening for channel events")
}

// StopListening unsubscribes from the channel-event feed. Safe to call
// when not listening.
func (m *Manager) StopListening() {
	m.mu.Lock()
	if !m.listening {
		m.mu.Unlock()
		return
	}
	m.listening = false
	m.mu.Unlock()

	m.backend.UnsubscribeChannelEvents()

	logrus.WithFields(logrus.Fields{
		"function": "StopListening",
	}).Info("Stopped listening for channel events")
}

// HandleChannelEvent applies one backend channel event to the mirror
// and the presence registry. Events are processed in arrival order,
// one at a time.
func (m *Manager) HandleChannelEvent(ev transport.ChannelEvent) {
	switch ev.Kind {
	case transport.ChannelEventCreate:
		m.FetchChannel(ev.ChannelID)
	case transport.ChannelEventDelete:
		m.handleDeleteEvent(ev)
	case transport.ChannelEventJoin:
		m.handleJoinEvent(ev)
	case transport.ChannelEventLeave:
		m.handleLeaveEvent(ev)
	default:
		logrus.WithFields(logrus.Fields{
			"function":   "HandleChannelEvent",
			"kind":       string(ev.Kind),
			"channel_id": ev.ChannelID,
		}).Error("Ignoring unknown channel event kind")
	}
}

// handleDeleteEvent removes the channel from the mirror, stripping the
// Group source from every member except the local user first.
func (m *Manager) handleDeleteEvent(ev transport.ChannelEvent) {
	m.mu.Lock()
	var roster []string
	if i := m.indexOf(ev.ChannelID); i >= 0 {
		roster = append(roster, m.channels[i].Players...)
		m.channels = append(m.channels[:i], m.channels[i+1:]...)
	}
	if m.currentID == ev.ChannelID {
		m.currentID = ""
	}
	m.mu.Unlock()

	m.stripGroupSources(roster, m.selfName)

	logrus.WithFields(logrus.Fields{
		"function":   "handleDeleteEvent",
		"channel_id": ev.ChannelID,
		"members":    len(roster),
	}).Info("Channel removed by backend")

	m.notifyChange()
}

// handleJoinEvent appends the joiner to the roster and, when the local
// user shares the channel, adds the joiner's Group source.
func (m *Manager) handleJoinEvent(ev transport.ChannelEvent) {
	m.mu.Lock()
	selfIsMember := false
	if i := m.indexOf(ev.ChannelID); i >= 0 {
		if !m.channels[i].HasPlayer(ev.PlayerName) {
			m.channels[i].Players = append(m.channels[i].Players, ev.PlayerName)
		}
		selfIsMember = m.channels[i].HasPlayer(m.selfName)
	}
	m.mu.Unlock()

	if selfIsMember && ev.PlayerName != m.selfName {
		m.addGroupSources([]string{ev.PlayerName}, m.selfName)
	}

	m.notifyChange()
}

// handleLeaveEvent removes the leaver from the roster. A leave by the
// local user strips the Group source from every other captured member
// and clears the current-channel pointer; this runs even when an
// optimistic local leave already dropped the user from the mirror, so
// self-initiated and server-notified leaves converge. Anyone else's
// leave strips just the leaver, and only when the local user shares
// the channel.
func (m *Manager) handleLeaveEvent(ev transport.ChannelEvent) {
	// Capture membership before mutating the roster.
	m.mu.Lock()
	selfWasMember := false
	var prevRoster []string
	if i := m.indexOf(ev.ChannelID); i >= 0 {
		prevRoster = append(prevRoster, m.channels[i].Players...)
		selfWasMember = m.channels[i].HasPlayer(m.selfName)
		m.channels[i].Players = removeName(m.channels[i].Players, ev.PlayerName)
	}
	selfLeft := ev.PlayerName == m.selfName
	if selfLeft && m.currentID == ev.ChannelID {
		m.currentID = ""
	}
	m.mu.Unlock()

	if selfLeft {
		m.stripGroupSources(prevRoster, m.selfName)
	} else if selfWasMember {
		m.stripGroupSources([]string{ev.PlayerName}, m.selfName)
	}

	m.notifyChange()
}

// addGroupSources adds the Group source for every listed member except
// the local user, seeding each new presence entry from persisted
// settings.
func (m *Manager) addGroupSources(members []string, except string) {
	for _, name := range members {
		if name == except {
			continue
		}
		m.presence.AddSource(name, player.SourceGroup, nil)
	}
}

// stripGroupSources removes the Group source from every listed member
// except the local user. This is the single cleanup routine shared by
// the movement protocol, the remote delete event, and the remote leave
// event.
func (m *Manager) stripGroupSources(members []string, except string) {
	for _, name := range members {
		if name == except {
			continue
		}
		m.presence.RemoveSource(name, player.SourceGroup)
	}
}

func (m *Manager) recordError(function string, err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": function,
		"error":    err.Error(),
	}).Error("Backend call failed")
}

func (m *Manager) setLoading(v bool) {
	m.mu.Lock()
	m.loading = v
	m.mu.Unlock()
}

func (m *Manager) notifyChange() {
	m.mu.Lock()
	callback := m.onChange
	m.mu.Unlock()
	if callback != nil {
		callback()
	}
}

// indexOf returns the mirror index of id, or -1. Caller holds m.mu.
func (m *Manager) indexOf(id string) int {
	for i := range m.channels {
		if m.channels[i].ID == id {
			return i
		}
	}
	return -1
}

func copyChannel(ch transport.Channel) transport.Channel {
	out := ch
	out.Players = append([]string(nil), ch.Players...)
	return out
}

func removeName(names []string, name string) []string {
	out := names[:0]
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}
