package settings

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/voicelink/player"
)

// AudioEngine is the opaque remote-procedure boundary to the native
// audio engine. Implemented by transport.Client.
type AudioEngine interface {
	// PushMetadata forwards a serialized settings map as stream
	// metadata for the given output device.
	PushMetadata(deviceTag string, payload []byte) error
}

// Gateway combines the durable store with the audio-engine metadata
// push. It implements player.SettingsGateway.
type Gateway struct {
	store     *Store
	engine    AudioEngine
	deviceTag string
}

// NewGateway creates a gateway over the given store and engine. The
// engine may be nil, in which case Publish only persists.
func NewGateway(store *Store, engine AudioEngine, deviceTag string) *Gateway {
	return &Gateway{store: store, engine: engine, deviceTag: deviceTag}
}

// Load returns the persisted settings for a participant, or the
// defaults when nothing is stored.
func (g *Gateway) Load(name string) (player.Settings, error) {
	st, found, err := g.store.Load(name)
	if err != nil {
		return player.DefaultSettings(), err
	}
	if !found {
		return player.DefaultSettings(), nil
	}
	return st, nil
}

// Publish persists the full settings map and then forwards its
// JSON-serialized form to the audio engine. A store failure does not
// suppress the engine push; errors from both steps are joined.
func (g *Gateway) Publish(all map[string]player.Settings) error {
	var errs []error

	if err := g.store.SaveAll(all); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Publish",
			"players":  len(all),
			"error":    err.Error(),
		}).Error("Failed to persist settings map")
		errs = append(errs, err)
	}

	if g.engine != nil {
		payload, err := json.Marshal(all)
		if err != nil {
			errs = append(errs, fmt.Errorf("serialize settings map: %w", err))
		} else if err := g.engine.PushMetadata(g.deviceTag, payload); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "Publish",
				"device_tag": g.deviceTag,
				"error":      err.Error(),
			}).Error("Failed to push settings metadata to audio engine")
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
