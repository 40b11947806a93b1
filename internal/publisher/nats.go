// Package publisher delivers parse lifecycle events to NATS and to the
// API cache.
package publisher

import (
	"context"
	"fmt"

	"github.com/blockedby/tgparser/internal/parser"
)

// SubjectPrefix prefixes every parse event subject.
const SubjectPrefix = "parse."

// NATSClient interface to allow mocking
type NATSClient interface {
	Publish(ctx context.Context, subject string, data any) error
}

// NATSPublisher implements parser.EventPublisher over JetStream.
type NATSPublisher struct {
	js NATSClient
}

// NewNATSPublisher creates a new publisher
func NewNATSPublisher(client NATSClient) *NATSPublisher {
	return &NATSPublisher{js: client}
}

// Subject returns the subject an event with status is published on.
func Subject(status parser.EventStatus) string {
	return SubjectPrefix + string(status)
}

// PublishParseEvent publishes ev on parse.<status>.
func (p *NATSPublisher) PublishParseEvent(ctx context.Context, ev parser.ParseEvent) error {
	if err := p.js.Publish(ctx, Subject(ev.Status), ev); err != nil {
		return fmt.Errorf("publish parse event: %w", err)
	}
	return nil
}
