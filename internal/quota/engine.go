package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/fitvox/metering/internal/metrics"
)

// DefaultMaxRetries bounds the optimistic-concurrency retry loop on every
// mutating operation.
const DefaultMaxRetries = 5

// Engine decides and records voice consumption. All mutations go through a
// version-checked write with bounded retry, so concurrent sessions of the
// same user cannot spend the same seconds twice.
type Engine struct {
	store      Store
	clock      clockwork.Clock
	events     EventSink
	maxRetries int
}

// NewEngine creates a voice consumption engine.
func NewEngine(store Store, clock clockwork.Clock, events EventSink, maxRetries int) *Engine {
	if events == nil {
		events = NopSink{}
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Engine{store: store, clock: clock, events: events, maxRetries: maxRetries}
}

// CheckVoiceUsage returns the user's effective voice pools without mutating
// anything.
func (e *Engine) CheckVoiceUsage(ctx context.Context, userID uuid.UUID) (*VoiceUsage, error) {
	now := e.clock.Now().UTC()

	state, err := e.store.GetState(ctx, userID)
	if err != nil {
		return nil, err
	}
	recharges, err := e.store.ListActiveRecharges(ctx, userID, RechargeTurbo, RechargeUnlimitedPass)
	if err != nil {
		return nil, fmt.Errorf("listing active recharges: %w", err)
	}

	res := Resolve(state, recharges, now)
	return &VoiceUsage{
		CanUse:           res.Unlimited || res.TotalRemaining > 0,
		RemainingDaily:   res.RemainingDaily,
		RemainingBoost:   res.RemainingBoost,
		RemainingReserve: res.RemainingReserve,
		TotalRemaining:   res.TotalRemaining,
		IsUnlimited:      res.Unlimited,
		UnlimitedUntil:   res.UnlimitedUntil,
	}, nil
}

// ConsumeVoiceSeconds spends the requested seconds across the pools in the
// fixed daily → boost → reserve order. The write is all-or-nothing: if the
// pools cannot cover the full request, nothing is spent and ErrLimitReached
// is returned. An active unlimited pass bypasses the accounting entirely.
func (e *Engine) ConsumeVoiceSeconds(ctx context.Context, userID uuid.UUID, seconds int64) error {
	if seconds < 0 {
		return ErrInvalidAmount
	}
	if seconds == 0 {
		return nil
	}

	for attempt := 0; attempt < e.maxRetries; attempt++ {
		err := e.consumeOnce(ctx, userID, seconds)
		if errors.Is(err, ErrVersionConflict) {
			metrics.QuotaConflictsTotal.Inc()
			slog.Debug("voice consume: version conflict, retrying",
				"user_id", userID, "attempt", attempt+1)
			continue
		}
		if errors.Is(err, ErrLimitReached) {
			metrics.VoiceConsumeTotal.WithLabelValues("denied").Inc()
			e.events.Publish(ctx, Event{
				UserID:    userID,
				Kind:      EventVoiceLimitReached,
				Requested: seconds,
				Timestamp: e.clock.Now().UTC(),
			})
			return err
		}
		if err == nil {
			metrics.VoiceConsumeTotal.WithLabelValues("allowed").Inc()
		}
		return err
	}
	metrics.VoiceConsumeTotal.WithLabelValues("conflict").Inc()
	return ErrRetryExhausted
}

func (e *Engine) consumeOnce(ctx context.Context, userID uuid.UUID, seconds int64) error {
	now := e.clock.Now().UTC()

	state, err := e.store.GetState(ctx, userID)
	if err != nil {
		return err
	}
	recharges, err := e.store.ListActiveRecharges(ctx, userID, RechargeTurbo, RechargeUnlimitedPass)
	if err != nil {
		return fmt.Errorf("listing active recharges: %w", err)
	}

	res := Resolve(state, recharges, now)
	if res.Unlimited {
		return nil
	}

	remaining := seconds
	fromDaily := min64(remaining, res.RemainingDaily)
	remaining -= fromDaily
	fromBoost := min64(remaining, res.RemainingBoost)
	remaining -= fromBoost
	fromReserve := min64(remaining, res.RemainingReserve)
	remaining -= fromReserve
	if remaining > 0 {
		return ErrLimitReached
	}

	next := *state
	next.normalize(now)
	next.UsedTodaySeconds += fromDaily
	next.LastUsageDate = dayOf(now)
	// The stored boost balance absorbs as much of fromBoost as it holds;
	// the rest came from un-merged ledger grants and clamps to zero here.
	next.BoostSeconds -= min64(fromBoost, next.BoostSeconds)
	if next.BoostSeconds == 0 {
		next.BoostExpiresAt = nil
	}
	next.ReserveSeconds -= fromReserve

	if err := e.store.UpdateState(ctx, &next, state.Version); err != nil {
		return err
	}

	slog.Debug("voice seconds consumed",
		"user_id", userID,
		"requested", seconds,
		"from_daily", fromDaily,
		"from_boost", fromBoost,
		"from_reserve", fromReserve,
	)
	return nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
