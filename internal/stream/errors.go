package stream

import "errors"

// Sentinel errors for stream failures. Use errors.Is() to check for these.
var (
	// ErrProvider indicates the model call failed or produced malformed output.
	ErrProvider = errors.New("provider error")

	// ErrTimeout indicates the stream exceeded its maximum duration.
	ErrTimeout = errors.New("stream timeout")

	// ErrCancelled indicates the caller cancelled the stream.
	ErrCancelled = errors.New("stream cancelled")

	// ErrStreamClosed is returned when an event arrives after the terminal event.
	ErrStreamClosed = errors.New("stream already terminated")
)
