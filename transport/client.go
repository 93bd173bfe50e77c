package transport

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// DefaultRequestTimeout bounds how long a request waits for the
// backend's response frame.
const DefaultRequestTimeout = 10 * time.Second

// frame is the single JSON message shape exchanged with the backend.
// The Type field selects which of the optional groups is populated.
type frame struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Op   string `json:"op,omitempty"`

	// Request parameters.
	ChannelID string `json:"channel_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Action    string `json:"action,omitempty"`

	// Response payload.
	OK       bool      `json:"ok,omitempty"`
	Error    string    `json:"error,omitempty"`
	Code     string    `json:"code,omitempty"`
	Channels []Channel `json:"channels,omitempty"`
	Channel  *Channel  `json:"channel,omitempty"`

	// Server-push events.
	Event    *ChannelEvent  `json:"event,omitempty"`
	Presence *PresenceEvent `json:"presence,omitempty"`
	Activity ActivityEvent  `json:"activity,omitempty"`

	// Audio-engine metadata push.
	DeviceTag string          `json:"device_tag,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Frame type tags.
const (
	frameRequest       = "request"
	frameResponse      = "response"
	frameChannelEvent  = "channel_event"
	framePresenceEvent = "presence_event"
	frameActivity      = "activity"
	frameMetadata      = "metadata"
)

// Response code for stale channel references.
const codeNotFound = "not_found"

// Client is the WebSocket backend client. One connection carries both
// the request/response operations and the three server-push feeds;
// responses are correlated to requests through a per-request ID.
//
// Event callbacks are invoked from the read loop, one frame at a time,
// in arrival order.
type Client struct {
	conn    *websocket.Conn
	timeout time.Duration

	writeMu sync.Mutex // serializes writes to conn

	mu      sync.Mutex
	pending map[string]chan frame
	closed  bool

	onChannelEvent  func(ChannelEvent)
	onPresenceEvent func(PresenceEvent)
	onActivity      func(ActivityEvent)
}

// Dial connects to the backend at the given WebSocket URL and starts
// the read loop.
func Dial(url string) (*Client, error) {
	return DialWithTimeout(url, DefaultRequestTimeout)
}

// DialWithTimeout connects with a custom request timeout.
func DialWithTimeout(url string, timeout time.Duration) (*Client, error) {
	logrus.WithFields(logrus.Fields{
		"function": "Dial",
		"url":      url,
	}).Info("Connecting to voice backend")

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial backend: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	c := &Client{
		conn:    conn,
		timeout: timeout,
		pending: make(map[string]chan frame),
	}
	go c.readLoop()
	return c, nil
}

// OnChannelEvent registers the channel-feed callback. A nil callback
// unsubscribes. Registering while already subscribed replaces the
// callback.
func (c *Client) OnChannelEvent(callback func(ChannelEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChannelEvent = callback
}

// OnPresenceEvent registers the proximity-presence feed callback.
func (c *Client) OnPresenceEvent(callback func(PresenceEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPresenceEvent = callback
}

// OnActivity registers the activity feed callback.
func (c *Client) OnActivity(callback func(ActivityEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onActivity = callback
}

// SubscribeChannelEvents is the subscription half of the channel-feed
// contract consumed by the channel registry.
func (c *Client) SubscribeChannelEvents(callback func(ChannelEvent)) {
	c.OnChannelEvent(callback)
}

// UnsubscribeChannelEvents detaches the channel-feed callback. Safe to
// call when not subscribed.
func (c *Client) UnsubscribeChannelEvents() {
	c.OnChannelEvent(nil)
}

// ListChannels fetches the full channel list.
func (c *Client) ListChannels() ([]Channel, error) {
	resp, err := c.call(frame{Op: "list_channels"})
	if err != nil {
		return nil, err
	}
	return resp.Channels, nil
}

// GetChannel fetches a single channel by id. Returns
// ErrChannelNotFound when the backend no longer knows the channel.
func (c *Client) GetChannel(id string) (Channel, error) {
	resp, err := c.call(frame{Op: "get_channel", ChannelID: id})
	if err != nil {
		return Channel{}, err
	}
	if resp.Channel == nil {
		return Channel{}, fmt.Errorf("get_channel %q: empty response", id)
	}
	return *resp.Channel, nil
}

// CreateChannel asks the backend to create a channel and returns the
// server-assigned id.
func (c *Client) CreateChannel(name string) (string, error) {
	resp, err := c.call(frame{Op: "create_channel", Name: name})
	if err != nil {
		return "", err
	}
	return resp.ChannelID, nil
}

// DeleteChannel asks the backend to delete a channel.
func (c *Client) DeleteChannel(id string) error {
	_, err := c.call(frame{Op: "delete_channel", ChannelID: id})
	return err
}

// MembershipEvent sends a join or leave request for the local user.
func (c *Client) MembershipEvent(id string, action MembershipAction) error {
	_, err := c.call(frame{Op: "membership", ChannelID: id, Action: string(action)})
	return err
}

// PushMetadata forwards a serialized settings map to the remote audio
// engine as stream metadata for the given device. Fire-and-forget at
// the protocol level: no response frame is expected.
func (c *Client) PushMetadata(deviceTag string, payload []byte) error {
	return c.write(frame{
		Type:      frameMetadata,
		DeviceTag: deviceTag,
		Payload:   json.RawMessage(payload),
	})
}

// Close shuts the connection down and fails all pending requests with
// ErrClosed. Close is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Close",
	}).Info("Closing backend connection")
	return c.conn.Close()
}

// call sends one request frame and waits for its correlated response.
func (c *Client) call(req frame) (frame, error) {
	req.Type = frameRequest
	req.ID = uuid.NewString()

	ch := make(chan frame, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return frame{}, ErrClosed
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	if err := c.write(req); err != nil {
		c.dropPending(req.ID)
		return frame{}, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return frame{}, ErrClosed
		}
		if !resp.OK {
			if resp.Code == codeNotFound {
				return frame{}, fmt.Errorf("%s: %w", req.Op, ErrChannelNotFound)
			}
			return frame{}, fmt.Errorf("%s: backend error: %s", req.Op, resp.Error)
		}
		return resp, nil
	case <-time.After(c.timeout):
		c.dropPending(req.ID)
		return frame{}, fmt.Errorf("%s: %w", req.Op, ErrTimeout)
	}
}

func (c *Client) dropPending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) write(f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("write %s frame: %w", f.Type, err)
	}
	return nil
}

// readLoop consumes frames until the connection dies, correlating
// responses and dispatching push events in arrival order.
func (c *Client) readLoop() {
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			c.mu.Lock()
			alreadyClosed := c.closed
			c.mu.Unlock()
			if !alreadyClosed {
				logrus.WithFields(logrus.Fields{
					"function": "readLoop",
					"error":    err.Error(),
				}).Error("Backend connection lost")
				c.Close()
			}
			return
		}
		c.dispatch(f)
	}
}

func (c *Client) dispatch(f frame) {
	switch f.Type {
	case frameResponse:
		c.mu.Lock()
		ch, ok := c.pending[f.ID]
		if ok {
			delete(c.pending, f.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- f
		}
	case frameChannelEvent:
		c.mu.Lock()
		callback := c.onChannelEvent
		c.mu.Unlock()
		if callback != nil && f.Event != nil {
			callback(*f.Event)
		}
	case framePresenceEvent:
		c.mu.Lock()
		callback := c.onPresenceEvent
		c.mu.Unlock()
		if callback != nil && f.Presence != nil {
			callback(*f.Presence)
		}
	case frameActivity:
		c.mu.Lock()
		callback := c.onActivity
		c.mu.Unlock()
		if callback != nil && f.Activity != nil {
			callback(f.Activity)
		}
	default:
		logrus.WithFields(logrus.Fields{
			"function":   "dispatch",
			"frame_type": f.Type,
		}).Warn("Ignoring unknown frame type")
	}
}
