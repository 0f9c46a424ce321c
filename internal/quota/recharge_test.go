package quota

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApplier(store Store, at time.Time) *Applier {
	return NewApplier(store, clockwork.NewFakeClockAt(at), nil, DefaultGrants(), 0)
}

func seedPending(store *memStore, userID uuid.UUID, typ RechargeType, qty int64, createdAt time.Time) uuid.UUID {
	id := uuid.New()
	store.putRecharge(Recharge{
		ID:        id,
		UserID:    userID,
		Type:      typ,
		Quantity:  qty,
		Status:    RechargePending,
		CreatedAt: createdAt,
	})
	return id
}

func TestApply_TurboFreshWindow(t *testing.T) {
	store := newMemStore()
	userID := seedState(store, nil)
	recID := seedPending(store, userID, RechargeTurbo, 20, resolveNow.Add(-time.Minute))
	applier := newTestApplier(store, resolveNow)

	require.NoError(t, applier.ApplyRecharge(context.Background(), userID, RechargeTurbo))

	st := store.getState(userID)
	assert.Equal(t, int64(20*60), st.BoostSeconds)
	require.NotNil(t, st.BoostExpiresAt)
	assert.Equal(t, resolveNow.Add(24*time.Hour), *st.BoostExpiresAt)

	rec := store.getRecharge(recID)
	assert.Equal(t, RechargeActive, rec.Status)
	require.NotNil(t, rec.ActivatedAt)
	assert.Equal(t, resolveNow, *rec.ActivatedAt)
	require.NotNil(t, rec.ExpiresAt)
	assert.Equal(t, resolveNow.Add(24*time.Hour), *rec.ExpiresAt)
}

func TestApply_TurboLiveWindowStacksBalanceResetsWindow(t *testing.T) {
	store := newMemStore()
	userID := seedState(store, func(st *State) {
		st.BoostSeconds = 300
		live := resolveNow.Add(2 * time.Hour)
		st.BoostExpiresAt = &live
	})
	seedPending(store, userID, RechargeTurbo, 20, resolveNow)
	applier := newTestApplier(store, resolveNow)

	require.NoError(t, applier.ApplyRecharge(context.Background(), userID, RechargeTurbo))

	st := store.getState(userID)
	assert.Equal(t, int64(300+1200), st.BoostSeconds, "live balance carries over")
	assert.Equal(t, resolveNow.Add(24*time.Hour), *st.BoostExpiresAt,
		"window restarts from the application moment, not extended from the old expiry")
}

func TestApply_TurboExpiredBalanceDoesNotCarryOver(t *testing.T) {
	store := newMemStore()
	userID := seedState(store, func(st *State) {
		st.BoostSeconds = 900
		gone := resolveNow.Add(-time.Minute)
		st.BoostExpiresAt = &gone
	})
	seedPending(store, userID, RechargeTurbo, 20, resolveNow)
	applier := newTestApplier(store, resolveNow)

	require.NoError(t, applier.ApplyRecharge(context.Background(), userID, RechargeTurbo))

	assert.Equal(t, int64(1200), store.getState(userID).BoostSeconds)
}

func TestApply_Bank(t *testing.T) {
	store := newMemStore()
	userID := seedState(store, func(st *State) {
		st.ReserveSeconds = 60
	})
	recID := seedPending(store, userID, RechargeBank, 100, resolveNow)
	applier := newTestApplier(store, resolveNow)

	require.NoError(t, applier.ApplyRecharge(context.Background(), userID, RechargeBank))

	st := store.getState(userID)
	assert.Equal(t, int64(60+100*60), st.ReserveSeconds)

	rec := store.getRecharge(recID)
	assert.Equal(t, RechargeActive, rec.Status)
	assert.Nil(t, rec.ExpiresAt, "reserve never expires")
}

func TestApply_UnlimitedPassSupersedesOlder(t *testing.T) {
	store := newMemStore()
	userID := seedState(store, nil)

	oldExpiry := resolveNow.Add(10 * 24 * time.Hour)
	oldID := uuid.New()
	store.putRecharge(Recharge{
		ID:        oldID,
		UserID:    userID,
		Type:      RechargeUnlimitedPass,
		Status:    RechargeActive,
		ExpiresAt: &oldExpiry,
		CreatedAt: resolveNow.Add(-20 * 24 * time.Hour),
	})
	newID := seedPending(store, userID, RechargeUnlimitedPass, 0, resolveNow)
	applier := newTestApplier(store, resolveNow)

	require.NoError(t, applier.ApplyRecharge(context.Background(), userID, RechargeUnlimitedPass))

	assert.Equal(t, RechargeExpired, store.getRecharge(oldID).Status)

	rec := store.getRecharge(newID)
	assert.Equal(t, RechargeActive, rec.Status)
	assert.Equal(t, resolveNow.Add(30*24*time.Hour), *rec.ExpiresAt)

	active, err := store.ListActiveRecharges(context.Background(), userID, RechargeUnlimitedPass)
	require.NoError(t, err)
	assert.Len(t, active, 1, "at most one effective pass")
}

func TestApply_PicksMostRecentPending(t *testing.T) {
	store := newMemStore()
	userID := seedState(store, nil)
	olderID := seedPending(store, userID, RechargeBank, 100, resolveNow.Add(-time.Hour))
	newerID := seedPending(store, userID, RechargeBank, 100, resolveNow.Add(-time.Minute))
	applier := newTestApplier(store, resolveNow)

	require.NoError(t, applier.ApplyRecharge(context.Background(), userID, RechargeBank))

	assert.Equal(t, RechargeActive, store.getRecharge(newerID).Status)
	assert.Equal(t, RechargePending, store.getRecharge(olderID).Status)
}

func TestApply_NoPending(t *testing.T) {
	store := newMemStore()
	userID := seedState(store, nil)
	applier := newTestApplier(store, resolveNow)

	err := applier.ApplyRecharge(context.Background(), userID, RechargeTurbo)
	assert.ErrorIs(t, err, ErrRechargeNotFound)
}

func TestApply_UnknownType(t *testing.T) {
	applier := newTestApplier(newMemStore(), resolveNow)

	err := applier.ApplyRecharge(context.Background(), uuid.New(), RechargeType("mystery"))
	assert.Error(t, err)
}

func TestApply_RaceLoserGetsAlreadyApplied(t *testing.T) {
	store := newMemStore()
	userID := seedState(store, nil)
	recID := seedPending(store, userID, RechargeBank, 100, resolveNow)
	applier := newTestApplier(store, resolveNow)

	require.NoError(t, applier.ApplyRecharge(context.Background(), userID, RechargeBank))

	// Re-apply the same ledger entry, as a concurrent loser would.
	rec := store.getRecharge(recID)
	err := applier.apply(context.Background(), userID, &rec)
	assert.ErrorIs(t, err, ErrAlreadyApplied)

	assert.Equal(t, int64(100*60), store.getState(userID).ReserveSeconds,
		"grant applied exactly once")
}

func TestApply_NormalizesStaleDailyCounter(t *testing.T) {
	store := newMemStore()
	userID := seedState(store, func(st *State) {
		st.UsedTodaySeconds = 900
		st.LastUsageDate = dayOf(resolveNow.AddDate(0, 0, -2))
	})
	seedPending(store, userID, RechargeBank, 100, resolveNow)
	applier := newTestApplier(store, resolveNow)

	require.NoError(t, applier.ApplyRecharge(context.Background(), userID, RechargeBank))

	st := store.getState(userID)
	assert.Equal(t, int64(0), st.UsedTodaySeconds, "stale counter persisted as reset")
	assert.Equal(t, dayOf(resolveNow), st.LastUsageDate)
}

func TestProcessPending_AppliesInOrderAndSkipsFailures(t *testing.T) {
	store := newMemStore()
	userID := seedState(store, nil)
	seedPending(store, userID, RechargeBank, 100, resolveNow.Add(-3*time.Hour))
	seedPending(store, userID, RechargeTurbo, 20, resolveNow.Add(-2*time.Hour))
	seedPending(store, userID, RechargeBank, 100, resolveNow.Add(-time.Hour))

	// First commit fails transiently; the batch must still apply the rest.
	store.failNextUpdate = errStoreDown
	applier := newTestApplier(store, resolveNow)

	require.NoError(t, applier.ProcessPendingRecharges(context.Background(), userID))

	pending, err := store.ListPendingRecharges(context.Background(), userID)
	require.NoError(t, err)
	assert.Len(t, pending, 1, "only the transiently failed recharge is left")

	st := store.getState(userID)
	assert.Equal(t, int64(100*60), st.ReserveSeconds, "second bank blocked only by its own failure")
	assert.Equal(t, int64(20*60), st.BoostSeconds)
}

func TestProcessPending_EmptyLedger(t *testing.T) {
	store := newMemStore()
	userID := seedState(store, nil)
	applier := newTestApplier(store, resolveNow)

	require.NoError(t, applier.ProcessPendingRecharges(context.Background(), userID))
}
