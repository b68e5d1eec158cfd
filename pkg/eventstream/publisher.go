package eventstream

import "context"

// Publisher writes events to a stream. Publishing is best-effort from the
// caller's point of view: callers log failures and carry on, the write
// path never blocks on the stream.
type Publisher interface {
	// Publish writes one event.
	Publish(ctx context.Context, e Event) error

	// Close flushes and releases the underlying transport.
	Close() error
}
