package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/fitvox/metering/internal/metrics"
)

// Grants holds the per-type recharge amounts and windows.
type Grants struct {
	TurboMinutes int64         // boost minutes granted per turbo recharge
	TurboWindow  time.Duration // fresh boost window from the application moment
	BankMinutes  int64         // reserve minutes granted per bank recharge
	PassDuration time.Duration // unlimited pass validity
}

// DefaultGrants are the production recharge packages.
func DefaultGrants() Grants {
	return Grants{
		TurboMinutes: 20,
		TurboWindow:  24 * time.Hour,
		BankMinutes:  100,
		PassDuration: 30 * 24 * time.Hour,
	}
}

// Applier merges payment-confirmed recharges into the quota row and drives
// the ledger lifecycle. State write and ledger transition commit in one
// store transaction; a half-applied recharge is never visible.
type Applier struct {
	store      Store
	clock      clockwork.Clock
	events     EventSink
	grants     Grants
	maxRetries int
}

// NewApplier creates a recharge applier.
func NewApplier(store Store, clock clockwork.Clock, events EventSink, grants Grants, maxRetries int) *Applier {
	if events == nil {
		events = NopSink{}
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Applier{store: store, clock: clock, events: events, grants: grants, maxRetries: maxRetries}
}

// ApplyRecharge applies the most recently purchased pending recharge of the
// given type. Returns ErrRechargeNotFound when none is pending and
// ErrAlreadyApplied when a concurrent caller got there first.
func (a *Applier) ApplyRecharge(ctx context.Context, userID uuid.UUID, typ RechargeType) error {
	if !typ.Valid() {
		return fmt.Errorf("unknown recharge type %q", typ)
	}

	rec, err := a.store.LatestPendingRecharge(ctx, userID, typ)
	if err != nil {
		return err
	}
	return a.apply(ctx, userID, rec)
}

// ProcessPendingRecharges applies every pending recharge for the user in
// ascending creation order. Individual failures are logged and skipped so a
// transient problem with one recharge never blocks the rest; only a failure
// to list the ledger is returned.
func (a *Applier) ProcessPendingRecharges(ctx context.Context, userID uuid.UUID) error {
	pending, err := a.store.ListPendingRecharges(ctx, userID)
	if err != nil {
		return fmt.Errorf("listing pending recharges: %w", err)
	}

	for i := range pending {
		rec := pending[i]
		if err := a.apply(ctx, userID, &rec); err != nil {
			if errors.Is(err, ErrAlreadyApplied) {
				continue
			}
			slog.Warn("recharge batch: skipping failed recharge",
				"user_id", userID,
				"recharge_id", rec.ID,
				"type", rec.Type,
				"error", err,
			)
		}
	}
	return nil
}

func (a *Applier) apply(ctx context.Context, userID uuid.UUID, rec *Recharge) error {
	var err error
	for attempt := 0; attempt < a.maxRetries; attempt++ {
		err = a.applyOnce(ctx, userID, rec)
		if errors.Is(err, ErrVersionConflict) {
			metrics.QuotaConflictsTotal.Inc()
			continue
		}
		if err == nil {
			metrics.RechargesAppliedTotal.WithLabelValues(string(rec.Type)).Inc()
			a.events.Publish(ctx, Event{
				UserID:       userID,
				Kind:         EventRechargeApplied,
				RechargeType: rec.Type,
				Timestamp:    a.clock.Now().UTC(),
			})
		}
		return err
	}
	return ErrRetryExhausted
}

func (a *Applier) applyOnce(ctx context.Context, userID uuid.UUID, rec *Recharge) error {
	now := a.clock.Now().UTC()

	state, err := a.store.GetState(ctx, userID)
	if err != nil {
		return err
	}

	next := *state
	next.normalize(now)

	var transitions []RechargeTransition

	switch rec.Type {
	case RechargeTurbo:
		// An expired boost does not carry over: normalize already zeroed it.
		// A still-live balance does, but the window always restarts from the
		// application moment rather than extending the old expiry.
		expiry := now.Add(a.grants.TurboWindow)
		next.BoostSeconds += a.grantMinutes(rec, a.grants.TurboMinutes) * 60
		next.BoostExpiresAt = &expiry
		transitions = append(transitions, RechargeTransition{
			ID:          rec.ID,
			FromStatus:  RechargePending,
			Status:      RechargeActive,
			ActivatedAt: &now,
			ExpiresAt:   &expiry,
			Required:    true,
		})

	case RechargeBank:
		next.ReserveSeconds += a.grantMinutes(rec, a.grants.BankMinutes) * 60
		transitions = append(transitions, RechargeTransition{
			ID:          rec.ID,
			FromStatus:  RechargePending,
			Status:      RechargeActive,
			ActivatedAt: &now,
			Required:    true,
		})

	case RechargeUnlimitedPass:
		expiry := now.Add(a.grants.PassDuration)
		transitions = append(transitions, RechargeTransition{
			ID:          rec.ID,
			FromStatus:  RechargePending,
			Status:      RechargeActive,
			ActivatedAt: &now,
			ExpiresAt:   &expiry,
			Required:    true,
		})

		// At most one effective pass: supersede every other active one.
		active, err := a.store.ListActiveRecharges(ctx, userID, RechargeUnlimitedPass)
		if err != nil {
			return fmt.Errorf("listing active passes: %w", err)
		}
		for _, other := range active {
			if other.ID == rec.ID {
				continue
			}
			transitions = append(transitions, RechargeTransition{
				ID:         other.ID,
				FromStatus: RechargeActive,
				Status:     RechargeExpired,
			})
		}

	default:
		return fmt.Errorf("unknown recharge type %q", rec.Type)
	}

	if err := a.store.CommitRecharge(ctx, &next, state.Version, transitions); err != nil {
		return err
	}

	slog.Info("recharge applied",
		"user_id", userID,
		"recharge_id", rec.ID,
		"type", rec.Type,
	)
	return nil
}

// grantMinutes prefers the quantity recorded on the ledger entry and falls
// back to the configured package size for legacy rows without one.
func (a *Applier) grantMinutes(rec *Recharge, fallback int64) int64 {
	if rec.Quantity > 0 {
		return rec.Quantity
	}
	return fallback
}
