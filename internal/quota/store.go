package quota

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RechargeTransition is one ledger status change to commit alongside a
// quota-state write. The change only applies while the entry is still in
// FromStatus; Required controls whether a miss aborts the whole commit
// (ErrAlreadyApplied) or is skipped, as with supersession of a pass that
// already expired on its own.
type RechargeTransition struct {
	ID          uuid.UUID
	FromStatus  RechargeStatus
	Status      RechargeStatus
	ActivatedAt *time.Time
	ExpiresAt   *time.Time
	Required    bool
}

// Store is the persistence boundary for quota state and the recharge ledger.
//
// Writes are conditional on the state row's version: implementations must
// return ErrVersionConflict when the expected version no longer matches, and
// must apply each call atomically — a CommitRecharge that updates the state
// row but not the ledger (or vice versa) is a correctness violation.
type Store interface {
	// GetState returns the user's quota row or ErrNotFound.
	GetState(ctx context.Context, userID uuid.UUID) (*State, error)

	// UpdateState writes the full quota row if the stored version equals
	// expectedVersion, bumping the version. Returns ErrVersionConflict on a
	// lost race and ErrNotFound if the row vanished.
	UpdateState(ctx context.Context, state *State, expectedVersion int64) error

	// ListActiveRecharges returns the user's active ledger entries,
	// optionally filtered by type, newest first.
	ListActiveRecharges(ctx context.Context, userID uuid.UUID, types ...RechargeType) ([]Recharge, error)

	// ListPendingRecharges returns pending entries in ascending creation
	// order, for batch application.
	ListPendingRecharges(ctx context.Context, userID uuid.UUID) ([]Recharge, error)

	// LatestPendingRecharge returns the most recently created pending entry
	// of the given type, or ErrRechargeNotFound.
	LatestPendingRecharge(ctx context.Context, userID uuid.UUID, typ RechargeType) (*Recharge, error)

	// CommitRecharge atomically writes the quota row (version-checked, as
	// UpdateState) and applies the ledger transitions in one transaction.
	// A required transition whose FromStatus no longer matches fails the
	// whole commit with ErrAlreadyApplied.
	CommitRecharge(ctx context.Context, state *State, expectedVersion int64, transitions []RechargeTransition) error

	// ExpireStale flips active entries whose expiry has passed to expired
	// and returns how many rows changed.
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}
