// Package player implements the presence registry for voicelink.
//
// The registry is the canonical table of remote participants that are
// currently mixed into the local audio stream. A participant can become
// audible through more than one source at a time (physical proximity
// and shared channel membership), so each entry carries a set of source
// tags and the entry lives exactly as long as that set is non-empty.
//
// Example:
//
//	m := player.NewManager(gateway)
//	m.AddSource("Alice", player.SourceProximity, nil)
//	m.AddSource("Alice", player.SourceGroup, nil)
//	m.RemoveSource("Alice", player.SourceProximity)
//	// Alice is still present: the Group source keeps her alive.
package player

import "fmt"

// Source identifies why a participant is currently audible.
type Source uint8

const (
	// SourceProximity means the participant is audible through
	// physical or in-game proximity.
	SourceProximity Source = iota
	// SourceGroup means the participant shares a channel with the
	// local user.
	SourceGroup
)

// String returns a human-readable name for the source tag.
func (s Source) String() string {
	switch s {
	case SourceProximity:
		return "proximity"
	case SourceGroup:
		return "group"
	default:
		return fmt.Sprintf("source(%d)", uint8(s))
	}
}

// Settings holds the per-participant audio mixing parameters.
type Settings struct {
	// Gain is a non-negative volume multiplier applied to the
	// participant's stream.
	Gain float64 `json:"gain"`
	// Muted suppresses the participant's stream entirely.
	Muted bool `json:"muted"`
}

// DefaultSettings returns the settings applied to a participant with
// no persisted configuration.
func DefaultSettings() Settings {
	return Settings{Gain: 1.0, Muted: false}
}

// SettingsPatch describes a partial settings update. Nil fields are
// left unchanged by the merge.
type SettingsPatch struct {
	Gain  *float64
	Muted *bool
}

// Player is a snapshot of a single presence entry. Snapshots are
// detached from the registry; mutating one has no effect on it.
type Player struct {
	Name     string
	Settings Settings
	Sources  []Source
}

// HasSource reports whether the snapshot carries the given source tag.
func (p *Player) HasSource(source Source) bool {
	for _, s := range p.Sources {
		if s == source {
			return true
		}
	}
	return false
}

// SettingsGateway persists participant settings and forwards the
// merged map to the remote audio engine. Implemented by
// settings.Gateway; faked in tests.
type SettingsGateway interface {
	// Load returns the persisted settings for a participant, or the
	// defaults when nothing is stored.
	Load(name string) (Settings, error)

	// Publish persists the full settings map and forwards its
	// serialized form to the remote audio engine.
	Publish(all map[string]Settings) error
}
