// Package transport implements the wire contract between voicelink
// and the voice backend: the channel/presence/activity event feeds and
// the request/response operations, carried as JSON frames over a
// single WebSocket connection.
package transport

// Channel is a server-managed group room.
type Channel struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Creator string   `json:"creator"`
	Players []string `json:"players"`
}

// HasPlayer reports whether name is in the channel roster.
func (c *Channel) HasPlayer(name string) bool {
	for _, p := range c.Players {
		if p == name {
			return true
		}
	}
	return false
}

// ChannelEventKind tags a channel lifecycle event.
type ChannelEventKind string

const (
	ChannelEventCreate ChannelEventKind = "create"
	ChannelEventDelete ChannelEventKind = "delete"
	ChannelEventJoin   ChannelEventKind = "join"
	ChannelEventLeave  ChannelEventKind = "leave"
)

// ChannelEvent is one record from the backend's channel feed. Unknown
// kinds are preserved verbatim so the consumer can log them.
type ChannelEvent struct {
	Kind        ChannelEventKind `json:"kind"`
	ChannelID   string           `json:"channel_id"`
	ChannelName string           `json:"channel_name,omitempty"`
	Creator     string           `json:"creator,omitempty"`
	PlayerName  string           `json:"player_name,omitempty"`
}

// PresenceStatus tags a proximity-presence event.
type PresenceStatus string

const (
	PresenceJoined       PresenceStatus = "joined"
	PresenceDisconnected PresenceStatus = "disconnected"
)

// PresenceEvent is one record from the proximity-presence feed.
type PresenceEvent struct {
	PlayerName string         `json:"player_name"`
	Status     PresenceStatus `json:"status"`
}

// ActivityEvent is one tick of the activity feed: participant name to
// signal level.
type ActivityEvent map[string]float64

// MembershipAction selects the direction of a membership request.
type MembershipAction string

const (
	MembershipJoin  MembershipAction = "Join"
	MembershipLeave MembershipAction = "Leave"
)
