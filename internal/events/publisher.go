package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// Publisher provides typed methods for publishing quota events to JetStream.
// A nil Publisher is valid and drops every event, so callers stay wired the
// same way whether or not NATS is configured.
type Publisher struct {
	js jetstream.JetStream
}

// NewPublisher creates a new Publisher.
func NewPublisher(js jetstream.JetStream) *Publisher {
	return &Publisher{js: js}
}

// PublishViolation publishes a quota violation event.
func (p *Publisher) PublishViolation(ctx context.Context, event ViolationEvent) error {
	return p.publish(ctx, SubjectViolation, event)
}

// PublishTierChange publishes a tier change event.
func (p *Publisher) PublishTierChange(ctx context.Context, event TierChangeEvent) error {
	return p.publish(ctx, SubjectTierChange, event)
}

func (p *Publisher) publish(ctx context.Context, subject string, data any) error {
	if p == nil {
		return nil
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling event for %s: %w", subject, err)
	}
	if _, err := p.js.Publish(ctx, subject, payload); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}
