package voicelink

import (
	"errors"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/opd-ai/voicelink/activity"
	"github.com/opd-ai/voicelink/transport"
)

// Options configures a voicelink Client.
type Options struct {
	// BackendURL is the WebSocket endpoint of the voice backend.
	BackendURL string `env:"VOICELINK_BACKEND_URL"`

	// DataDir holds the local settings database.
	DataDir string `env:"VOICELINK_DATA_DIR"`

	// DeviceTag identifies the output device targeted by settings
	// metadata pushes to the audio engine.
	DeviceTag string `env:"VOICELINK_DEVICE_TAG"`

	// SelfName is the local user's display name. Required.
	SelfName string `env:"VOICELINK_SELF_NAME"`

	// HighlightDuration is the quiet period before a speaking
	// highlight decays.
	HighlightDuration time.Duration `env:"VOICELINK_HIGHLIGHT_DURATION"`

	// RequestTimeout bounds backend request/response round trips.
	RequestTimeout time.Duration `env:"VOICELINK_REQUEST_TIMEOUT"`
}

// DefaultOptions returns the default configuration.
func DefaultOptions() *Options {
	return &Options{
		DataDir:           "voicelink-data",
		DeviceTag:         "default",
		HighlightDuration: activity.DefaultHighlightDuration,
		RequestTimeout:    transport.DefaultRequestTimeout,
	}
}

// LoadOptionsFromEnv returns the defaults overlaid with VOICELINK_*
// environment variables.
func LoadOptionsFromEnv() (*Options, error) {
	opts := DefaultOptions()
	if err := env.Parse(opts); err != nil {
		return nil, err
	}
	return opts, nil
}

// validate checks the fields every constructor needs.
func (o *Options) validate() error {
	if o == nil {
		return errors.New("options cannot be nil")
	}
	if o.SelfName == "" {
		return errors.New("self name cannot be empty")
	}
	return nil
}
