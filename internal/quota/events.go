package quota

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event kinds published by the engine for the billing/ops dashboards.
const (
	EventVoiceLimitReached = "voice_limit_reached"
	EventTextLimitReached  = "text_limit_reached"
	EventRechargeApplied   = "recharge_applied"
)

// Event is a quota lifecycle notification.
type Event struct {
	UserID       uuid.UUID    `json:"user_id"`
	Kind         string       `json:"kind"`
	RechargeType RechargeType `json:"recharge_type,omitempty"`
	Requested    int64        `json:"requested,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`
}

// EventSink receives engine events. Implementations must not block the
// calling operation on delivery problems; publishing is best-effort.
type EventSink interface {
	Publish(ctx context.Context, evt Event)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Publish(context.Context, Event) {}
