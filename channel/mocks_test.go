package channel

import (
	"errors"
	"sync"

	"github.com/opd-ai/voicelink/transport"
)

var errMockBackend = errors.New("mock backend failure")

// membershipCall records a single MembershipEvent invocation.
type membershipCall struct {
	channelID string
	action    transport.MembershipAction
}

// mockBackend is a test backend with an in-memory channel table and
// per-operation failure injection.
type mockBackend struct {
	mu       sync.Mutex
	channels map[string]transport.Channel
	nextID   string

	listErr       error
	getErr        error
	createErr     error
	deleteErr     error
	membershipErr error

	listCalls   int
	memberships []membershipCall
	subscribed  func(transport.ChannelEvent)
	subscribes  int
}

func newMockBackend(channels ...transport.Channel) *mockBackend {
	b := &mockBackend{channels: make(map[string]transport.Channel)}
	for _, ch := range channels {
		b.channels[ch.ID] = ch
	}
	return b
}

func (b *mockBackend) ListChannels() ([]transport.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listCalls++
	if b.listErr != nil {
		return nil, b.listErr
	}
	out := make([]transport.Channel, 0, len(b.channels))
	for _, ch := range b.channels {
		out = append(out, copyChannel(ch))
	}
	return out, nil
}

func (b *mockBackend) GetChannel(id string) (transport.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.getErr != nil {
		return transport.Channel{}, b.getErr
	}
	ch, ok := b.channels[id]
	if !ok {
		return transport.Channel{}, transport.ErrChannelNotFound
	}
	return copyChannel(ch), nil
}

func (b *mockBackend) CreateChannel(name string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.createErr != nil {
		return "", b.createErr
	}
	id := b.nextID
	if id == "" {
		id = "generated-id"
	}
	b.channels[id] = transport.Channel{ID: id, Name: name}
	return id, nil
}

func (b *mockBackend) DeleteChannel(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.deleteErr != nil {
		return b.deleteErr
	}
	delete(b.channels, id)
	return nil
}

func (b *mockBackend) MembershipEvent(id string, action transport.MembershipAction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.memberships = append(b.memberships, membershipCall{channelID: id, action: action})
	if b.membershipErr != nil {
		return b.membershipErr
	}
	if _, ok := b.channels[id]; !ok {
		return transport.ErrChannelNotFound
	}
	return nil
}

func (b *mockBackend) SubscribeChannelEvents(callback func(transport.ChannelEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribed = callback
	b.subscribes++
}

func (b *mockBackend) UnsubscribeChannelEvents() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribed = nil
}

func (b *mockBackend) membershipCalls() []membershipCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]membershipCall{}, b.memberships...)
}

func (b *mockBackend) listCallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listCalls
}
