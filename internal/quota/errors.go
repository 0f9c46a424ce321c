package quota

import "errors"

var (
	// ErrNotFound means the user's quota row is missing. Provisioning owns
	// row creation; the engine never materializes defaults silently.
	ErrNotFound = errors.New("quota state not found")

	// ErrRechargeNotFound means no pending recharge of the requested type
	// exists for the user.
	ErrRechargeNotFound = errors.New("no pending recharge found")

	// ErrAlreadyApplied means a concurrent caller transitioned the recharge
	// out of pending first.
	ErrAlreadyApplied = errors.New("recharge already applied")

	// ErrLimitReached is the normal denial outcome: the requested amount
	// exceeds everything left across the applicable pools.
	ErrLimitReached = errors.New("usage limit reached")

	// ErrInvalidAmount rejects non-positive consumption requests before the
	// store is touched.
	ErrInvalidAmount = errors.New("requested amount must be positive")

	// ErrVersionConflict is returned by the store when a conditional update
	// lost the race against a concurrent writer.
	ErrVersionConflict = errors.New("quota state version conflict")

	// ErrRetryExhausted means too many consecutive version conflicts; the
	// caller should treat it as a transient failure and try again.
	ErrRetryExhausted = errors.New("too many concurrent quota updates")
)
