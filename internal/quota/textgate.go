package quota

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/fitvox/metering/internal/metrics"
)

// DefaultTextDailyLimit is the fixed daily text-message allowance.
const DefaultTextDailyLimit = 600

// TextGate is the single-pool daily counter for text messages. It shares
// the voice engine's date-rollover rule and the same version-checked write
// discipline: check and increment happen against one snapshot, so two
// sessions cannot both take the last message of the day.
type TextGate struct {
	store      Store
	clock      clockwork.Clock
	events     EventSink
	limit      int64
	maxRetries int
}

// NewTextGate creates a text usage gate with the given daily limit.
func NewTextGate(store Store, clock clockwork.Clock, events EventSink, limit int64, maxRetries int) *TextGate {
	if events == nil {
		events = NopSink{}
	}
	if limit <= 0 {
		limit = DefaultTextDailyLimit
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &TextGate{store: store, clock: clock, events: events, limit: limit, maxRetries: maxRetries}
}

// CheckTextUsage returns today's effective count without mutating anything.
func (g *TextGate) CheckTextUsage(ctx context.Context, userID uuid.UUID) (*TextUsage, error) {
	now := g.clock.Now().UTC()

	state, err := g.store.GetState(ctx, userID)
	if err != nil {
		return nil, err
	}

	count := int64(0)
	if sameDay(state.LastMessageDate, now) {
		count = state.TextCountToday
	}
	remaining := g.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return &TextUsage{
		CanSend:    count < g.limit,
		CountToday: count,
		Limit:      g.limit,
		Remaining:  remaining,
	}, nil
}

// IncrementMessageCount atomically checks today's count against the limit
// and records one more message. Returns ErrLimitReached at the cap with no
// state change.
func (g *TextGate) IncrementMessageCount(ctx context.Context, userID uuid.UUID) error {
	for attempt := 0; attempt < g.maxRetries; attempt++ {
		err := g.incrementOnce(ctx, userID)
		if errors.Is(err, ErrVersionConflict) {
			metrics.QuotaConflictsTotal.Inc()
			continue
		}
		if errors.Is(err, ErrLimitReached) {
			metrics.TextIncrementTotal.WithLabelValues("denied").Inc()
			g.events.Publish(ctx, Event{
				UserID:    userID,
				Kind:      EventTextLimitReached,
				Timestamp: g.clock.Now().UTC(),
			})
			return err
		}
		if err == nil {
			metrics.TextIncrementTotal.WithLabelValues("allowed").Inc()
		}
		return err
	}
	metrics.TextIncrementTotal.WithLabelValues("conflict").Inc()
	return ErrRetryExhausted
}

func (g *TextGate) incrementOnce(ctx context.Context, userID uuid.UUID) error {
	now := g.clock.Now().UTC()

	state, err := g.store.GetState(ctx, userID)
	if err != nil {
		return err
	}

	next := *state
	next.normalize(now)
	if next.TextCountToday >= g.limit {
		return ErrLimitReached
	}
	next.TextCountToday++
	next.LastMessageDate = dayOf(now)

	return g.store.UpdateState(ctx, &next, state.Version)
}
