package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGate(store Store, at time.Time, limit int64) *TextGate {
	return NewTextGate(store, clockwork.NewFakeClockAt(at), nil, limit, 0)
}

func TestTextGate_IncrementAndCheck(t *testing.T) {
	store := newMemStore()
	userID := seedState(store, nil)
	gate := newTestGate(store, resolveNow, 5)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, gate.IncrementMessageCount(ctx, userID))
	}

	usage, err := gate.CheckTextUsage(ctx, userID)
	require.NoError(t, err)
	assert.True(t, usage.CanSend)
	assert.Equal(t, int64(3), usage.CountToday)
	assert.Equal(t, int64(5), usage.Limit)
	assert.Equal(t, int64(2), usage.Remaining)
}

func TestTextGate_DeniesAtLimit(t *testing.T) {
	store := newMemStore()
	userID := seedState(store, func(st *State) {
		st.TextCountToday = 5
	})
	gate := newTestGate(store, resolveNow, 5)

	err := gate.IncrementMessageCount(context.Background(), userID)
	require.ErrorIs(t, err, ErrLimitReached)
	assert.Equal(t, int64(5), store.getState(userID).TextCountToday, "denial writes nothing")

	usage, err := gate.CheckTextUsage(context.Background(), userID)
	require.NoError(t, err)
	assert.False(t, usage.CanSend)
	assert.Equal(t, int64(0), usage.Remaining)
}

func TestTextGate_DateRollover(t *testing.T) {
	store := newMemStore()
	userID := seedState(store, func(st *State) {
		st.TextCountToday = 5
		st.LastMessageDate = dayOf(resolveNow.AddDate(0, 0, -1))
	})
	gate := newTestGate(store, resolveNow, 5)

	usage, err := gate.CheckTextUsage(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, usage.CanSend, "yesterday's count resets on read")
	assert.Equal(t, int64(0), usage.CountToday)

	require.NoError(t, gate.IncrementMessageCount(context.Background(), userID))

	st := store.getState(userID)
	assert.Equal(t, int64(1), st.TextCountToday)
	assert.Equal(t, dayOf(resolveNow), st.LastMessageDate)
}

func TestTextGate_UnknownUser(t *testing.T) {
	gate := newTestGate(newMemStore(), resolveNow, 5)

	_, err := gate.CheckTextUsage(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

// The last message of the day must go to exactly one of the racing
// sessions; a read-then-write without the version check would let both in.
func TestTextGate_ConcurrentLastSlot(t *testing.T) {
	const sessions = 6

	store := newMemStore()
	userID := seedState(store, func(st *State) {
		st.TextCountToday = 4
	})
	gate := NewTextGate(store, clockwork.NewFakeClockAt(resolveNow), nil, 5, 100)

	var wg sync.WaitGroup
	errs := make(chan error, sessions)
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- gate.IncrementMessageCount(context.Background(), userID)
		}()
	}
	wg.Wait()
	close(errs)

	granted := 0
	for err := range errs {
		if err == nil {
			granted++
		} else {
			require.ErrorIs(t, err, ErrLimitReached)
		}
	}
	assert.Equal(t, 1, granted)
	assert.Equal(t, int64(5), store.getState(userID).TextCountToday)
}
