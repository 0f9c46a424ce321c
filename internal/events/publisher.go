package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/fitvox/metering/internal/quota"
)

// Publisher forwards quota lifecycle events to JetStream. It implements
// quota.EventSink; delivery failures are logged and never surfaced to the
// operation that produced the event.
type Publisher struct {
	js jetstream.JetStream
}

// NewPublisher creates a new Publisher.
func NewPublisher(js jetstream.JetStream) *Publisher {
	return &Publisher{js: js}
}

// Publish emits a quota event on metering.events.{kind}.
func (p *Publisher) Publish(ctx context.Context, evt quota.Event) {
	subject := fmt.Sprintf("%s.%s", SubjectQuotaEventPrefix, evt.Kind)
	if err := p.publish(ctx, subject, evt); err != nil {
		slog.Error("publishing quota event", "error", err, "kind", evt.Kind, "user_id", evt.UserID)
	}
}

func (p *Publisher) publish(ctx context.Context, subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling event for %s: %w", subject, err)
	}
	_, err = p.js.Publish(ctx, subject, payload)
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}
