package player

import (
	"errors"
	"sync"
)

// mockGateway is a test settings gateway that records Publish calls.
type mockGateway struct {
	mu        sync.Mutex
	stored    map[string]Settings
	published []map[string]Settings
	loadErr    error
	publishErr error

	// publishDone is closed-signalled via channel sends so tests can
	// wait for the asynchronous propagation goroutine.
	publishDone chan struct{}
}

func newMockGateway() *mockGateway {
	return &mockGateway{
		stored:      make(map[string]Settings),
		publishDone: make(chan struct{}, 16),
	}
}

func (g *mockGateway) Load(name string) (Settings, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.loadErr != nil {
		return Settings{}, g.loadErr
	}
	if s, ok := g.stored[name]; ok {
		return s, nil
	}
	return DefaultSettings(), nil
}

func (g *mockGateway) Publish(all map[string]Settings) error {
	g.mu.Lock()
	copied := make(map[string]Settings, len(all))
	for name, s := range all {
		copied[name] = s
		g.stored[name] = s
	}
	g.published = append(g.published, copied)
	err := g.publishErr
	g.mu.Unlock()

	g.publishDone <- struct{}{}
	if err != nil {
		return err
	}
	return nil
}

func (g *mockGateway) publishCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.published)
}

func (g *mockGateway) lastPublished() map[string]Settings {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.published) == 0 {
		return nil
	}
	return g.published[len(g.published)-1]
}

var errMockStorage = errors.New("mock storage failure")
