// Package nop provides a no-op event publisher for deployments without a
// configured stream.
package nop

import (
	"context"

	"github.com/engramhq/engram/pkg/eventstream"
)

// Publisher discards all events.
type Publisher struct{}

// NewPublisher creates a publisher that discards everything.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// Publish discards the event.
func (p *Publisher) Publish(_ context.Context, _ eventstream.Event) error {
	return nil
}

// Close is a no-op.
func (p *Publisher) Close() error {
	return nil
}

// Ensure Publisher implements eventstream.Publisher
var _ eventstream.Publisher = (*Publisher)(nil)
