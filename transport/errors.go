package transport

import "errors"

var (
	// ErrChannelNotFound indicates the backend no longer knows the
	// referenced channel. Consumers treat this as a stale local
	// mirror and resynchronize.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrClosed indicates the client connection was closed while the
	// operation was in flight.
	ErrClosed = errors.New("transport closed")

	// ErrTimeout indicates the backend did not answer a request
	// within the configured window.
	ErrTimeout = errors.New("request timed out")
)
