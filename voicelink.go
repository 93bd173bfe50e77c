// Package voicelink implements the client-side presence and
// group-membership synchronization engine for a real-time voice
// application.
//
// The engine tracks which remote participants are currently audible to
// the local user, through which sources they became audible, which
// channels exist and who belongs to each, and which participants are
// momentarily speaking. It reconciles this local view against the
// backend's asynchronous event feeds and keeps per-participant mixing
// settings consistent with the durable store and the remote audio
// engine.
//
// Example:
//
//	opts := voicelink.DefaultOptions()
//	opts.BackendURL = "wss://voice.example.com/ws"
//	opts.SelfName = "Alice"
//
//	client, err := voicelink.New(opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Kill()
//
//	client.OnPresenceChanged(func() {
//	    for _, p := range client.Players().GetAll() {
//	        fmt.Println(p.Name, p.Sources)
//	    }
//	})
//
//	client.Start()
//	client.JoinChannel("lobby")
package voicelink

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/voicelink/activity"
	"github.com/opd-ai/voicelink/channel"
	"github.com/opd-ai/voicelink/player"
	"github.com/opd-ai/voicelink/settings"
	"github.com/opd-ai/voicelink/transport"
)

// Backend is the full backend surface the client wires together: the
// channel registry operations plus the three event feeds and the
// audio-engine metadata push. Implemented by transport.Client.
type Backend interface {
	channel.Backend
	settings.AudioEngine

	OnPresenceEvent(callback func(transport.PresenceEvent))
	OnActivity(callback func(transport.ActivityEvent))
	Close() error
}

// Client composes the presence registry, the activity highlighter, the
// channel registry, and the settings store gateway over one backend
// connection, and owns their wiring to the event feeds.
type Client struct {
	opts    *Options
	backend Backend
	store   *settings.Store

	players  *player.Manager
	activity *activity.Manager
	channels *channel.Manager

	mu      sync.Mutex
	started bool
	killed  bool
}

// New connects to the backend in opts and assembles a client around
// the connection.
func New(opts *Options) (*Client, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.BackendURL == "" {
		return nil, fmt.Errorf("backend URL cannot be empty")
	}

	backend, err := transport.DialWithTimeout(opts.BackendURL, opts.RequestTimeout)
	if err != nil {
		return nil, err
	}
	client, err := NewWithBackend(opts, backend)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return client, nil
}

// NewWithBackend assembles a client around an existing backend
// connection. Used directly by tests and embedders that manage their
// own transport.
func NewWithBackend(opts *Options, backend Backend) (*Client, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}

	store, err := settings.OpenStore(opts.DataDir)
	if err != nil {
		return nil, err
	}

	gateway := settings.NewGateway(store, backend, opts.DeviceTag)
	players := player.NewManager(gateway)
	highlighter := activity.NewManagerWithOptions(opts.HighlightDuration, nil)
	channels := channel.NewManager(backend, players, opts.SelfName)

	logrus.WithFields(logrus.Fields{
		"function": "NewWithBackend",
		"self":     opts.SelfName,
		"data_dir": opts.DataDir,
	}).Info("voicelink client assembled")

	return &Client{
		opts:     opts,
		backend:  backend,
		store:    store,
		players:  players,
		activity: highlighter,
		channels: channels,
	}, nil
}

// Start attaches the event feeds and performs the initial channel
// fetch. Idempotent.
func (c *Client) Start() {
	c.mu.Lock()
	if c.started || c.killed {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	c.backend.OnPresenceEvent(c.handlePresenceEvent)
	c.backend.OnActivity(c.handleActivityEvent)
	c.channels.StartListening()
	c.channels.FetchChannels()

	logrus.WithFields(logrus.Fields{
		"function": "Start",
		"self":     c.opts.SelfName,
	}).Info("voicelink client started")
}

// Kill tears the client down: detaches the feeds, cancels pending
// highlight timers, and closes the store and the backend connection.
// Idempotent.
func (c *Client) Kill() {
	c.mu.Lock()
	if c.killed {
		c.mu.Unlock()
		return
	}
	c.killed = true
	c.mu.Unlock()

	c.channels.StopListening()
	c.backend.OnPresenceEvent(nil)
	c.backend.OnActivity(nil)
	c.activity.ClearAllActivity()

	if err := c.backend.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Kill",
			"error":    err.Error(),
		}).Error("Failed to close backend connection")
	}
	if err := c.store.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Kill",
			"error":    err.Error(),
		}).Error("Failed to close settings store")
	}

	logrus.WithFields(logrus.Fields{
		"function": "Kill",
	}).Info("voicelink client shut down")
}

// Self returns the local user's display name.
func (c *Client) Self() string {
	return c.opts.SelfName
}

// Players returns the presence registry.
func (c *Client) Players() *player.Manager {
	return c.players
}

// Activity returns the activity highlighter.
func (c *Client) Activity() *activity.Manager {
	return c.activity
}

// Channels returns the channel registry.
func (c *Client) Channels() *channel.Manager {
	return c.channels
}

// JoinChannel moves the local user into the channel.
func (c *Client) JoinChannel(id string) bool {
	return c.channels.JoinChannel(id, c.opts.SelfName)
}

// LeaveChannel removes the local user from the channel.
func (c *Client) LeaveChannel(id string) bool {
	return c.channels.LeaveChannel(id, c.opts.SelfName)
}

// SetPlayerGain updates a participant's gain multiplier.
func (c *Client) SetPlayerGain(name string, gain float64) bool {
	return c.players.UpdateSettings(name, player.SettingsPatch{Gain: &gain})
}

// SetPlayerMuted updates a participant's mute flag.
func (c *Client) SetPlayerMuted(name string, muted bool) bool {
	return c.players.UpdateSettings(name, player.SettingsPatch{Muted: &muted})
}

// OnPresenceChanged registers a callback fired after every presence
// registry mutation.
func (c *Client) OnPresenceChanged(callback func()) {
	c.players.OnChange(callback)
}

// OnChannelsChanged registers a callback fired after every channel
// mirror mutation.
func (c *Client) OnChannelsChanged(callback func()) {
	c.channels.OnChange(callback)
}

// handlePresenceEvent translates the proximity feed into Proximity
// source updates. Events about the local user are ignored.
func (c *Client) handlePresenceEvent(ev transport.PresenceEvent) {
	if ev.PlayerName == "" || ev.PlayerName == c.opts.SelfName {
		return
	}

	switch ev.Status {
	case transport.PresenceJoined:
		c.players.AddSource(ev.PlayerName, player.SourceProximity, nil)
	case transport.PresenceDisconnected:
		c.players.RemoveSource(ev.PlayerName, player.SourceProximity)
		// A disconnected participant cannot still be speaking.
		c.activity.ClearPlayerActivity(ev.PlayerName)
	default:
		logrus.WithFields(logrus.Fields{
			"function": "handlePresenceEvent",
			"player":   ev.PlayerName,
			"status":   string(ev.Status),
		}).Error("Ignoring unknown presence status")
	}
}

func (c *Client) handleActivityEvent(ev transport.ActivityEvent) {
	c.activity.ProcessBatch(ev)
}
