package voicelink

import (
	"sync"

	"github.com/opd-ai/voicelink/transport"
)

// fakeBackend implements Backend in memory for client wiring tests.
type fakeBackend struct {
	mu       sync.Mutex
	channels map[string]transport.Channel
	nextID   string

	onChannel  func(transport.ChannelEvent)
	onPresence func(transport.PresenceEvent)
	onActivity func(transport.ActivityEvent)

	pushed []pushedMetadata
	closed int
}

type pushedMetadata struct {
	deviceTag string
	payload   []byte
}

func newFakeBackend(channels ...transport.Channel) *fakeBackend {
	b := &fakeBackend{channels: make(map[string]transport.Channel)}
	for _, ch := range channels {
		b.channels[ch.ID] = ch
	}
	return b
}

func (b *fakeBackend) ListChannels() ([]transport.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]transport.Channel, 0, len(b.channels))
	for _, ch := range b.channels {
		cp := ch
		cp.Players = append([]string{}, ch.Players...)
		out = append(out, cp)
	}
	return out, nil
}

func (b *fakeBackend) GetChannel(id string) (transport.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.channels[id]
	if !ok {
		return transport.Channel{}, transport.ErrChannelNotFound
	}
	cp := ch
	cp.Players = append([]string{}, ch.Players...)
	return cp, nil
}

func (b *fakeBackend) CreateChannel(name string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	if id == "" {
		id = "generated-id"
	}
	b.channels[id] = transport.Channel{ID: id, Name: name}
	return id, nil
}

func (b *fakeBackend) DeleteChannel(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.channels, id)
	return nil
}

func (b *fakeBackend) MembershipEvent(id string, action transport.MembershipAction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.channels[id]; !ok {
		return transport.ErrChannelNotFound
	}
	return nil
}

func (b *fakeBackend) SubscribeChannelEvents(callback func(transport.ChannelEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChannel = callback
}

func (b *fakeBackend) UnsubscribeChannelEvents() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChannel = nil
}

func (b *fakeBackend) OnPresenceEvent(callback func(transport.PresenceEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onPresence = callback
}

func (b *fakeBackend) OnActivity(callback func(transport.ActivityEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onActivity = callback
}

func (b *fakeBackend) PushMetadata(deviceTag string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pushed = append(b.pushed, pushedMetadata{deviceTag: deviceTag, payload: payload})
	return nil
}

func (b *fakeBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed++
	return nil
}

// emitPresence delivers a presence event through the registered
// callback, as the read loop would.
func (b *fakeBackend) emitPresence(ev transport.PresenceEvent) {
	b.mu.Lock()
	cb := b.onPresence
	b.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

func (b *fakeBackend) emitActivity(ev transport.ActivityEvent) {
	b.mu.Lock()
	cb := b.onActivity
	b.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

func (b *fakeBackend) emitChannelEvent(ev transport.ChannelEvent) {
	b.mu.Lock()
	cb := b.onChannel
	b.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

func (b *fakeBackend) closeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *fakeBackend) presenceAttached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.onPresence != nil
}
