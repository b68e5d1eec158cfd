package eventstream

import "errors"

var (
	// ErrPublish indicates the event could not be written to the stream.
	ErrPublish = errors.New("event publish failed")

	// ErrClosed indicates the publisher was already closed.
	ErrClosed = errors.New("publisher closed")
)
