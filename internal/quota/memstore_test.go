package quota

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory Store with the same compare-and-set semantics as
// the PostgreSQL implementation, used to drive the engine in tests,
// including simulated write interleavings.
type memStore struct {
	mu        sync.Mutex
	states    map[uuid.UUID]*State
	recharges map[uuid.UUID]*Recharge

	failNextUpdate error // injected once into the next state write
}

func newMemStore() *memStore {
	return &memStore{
		states:    make(map[uuid.UUID]*State),
		recharges: make(map[uuid.UUID]*Recharge),
	}
}

func (m *memStore) putState(st State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st.Version == 0 {
		st.Version = 1
	}
	m.states[st.UserID] = &st
}

func (m *memStore) getState(userID uuid.UUID) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.states[userID]
}

func (m *memStore) putRecharge(rec Recharge) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := rec
	m.recharges[rec.ID] = &cp
}

func (m *memStore) getRecharge(id uuid.UUID) Recharge {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.recharges[id]
}

func (m *memStore) GetState(_ context.Context, userID uuid.UUID) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (m *memStore) UpdateState(_ context.Context, state *State, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateStateLocked(state, expectedVersion)
}

func (m *memStore) updateStateLocked(state *State, expectedVersion int64) error {
	if m.failNextUpdate != nil {
		err := m.failNextUpdate
		m.failNextUpdate = nil
		return err
	}
	cur, ok := m.states[state.UserID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		return ErrVersionConflict
	}
	cp := *state
	cp.Version = expectedVersion + 1
	m.states[state.UserID] = &cp
	return nil
}

func (m *memStore) ListActiveRecharges(_ context.Context, userID uuid.UUID, types ...RechargeType) ([]Recharge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Recharge
	for _, rec := range m.recharges {
		if rec.UserID != userID || rec.Status != RechargeActive {
			continue
		}
		if len(types) > 0 && !containsType(types, rec.Type) {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) ListPendingRecharges(_ context.Context, userID uuid.UUID) ([]Recharge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Recharge
	for _, rec := range m.recharges {
		if rec.UserID == userID && rec.Status == RechargePending {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) LatestPendingRecharge(_ context.Context, userID uuid.UUID, typ RechargeType) (*Recharge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *Recharge
	for _, rec := range m.recharges {
		if rec.UserID != userID || rec.Status != RechargePending || rec.Type != typ {
			continue
		}
		if latest == nil || rec.CreatedAt.After(latest.CreatedAt) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, ErrRechargeNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *memStore) CommitRecharge(_ context.Context, state *State, expectedVersion int64, transitions []RechargeTransition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Validate everything before mutating so the commit stays atomic.
	for _, tr := range transitions {
		rec, ok := m.recharges[tr.ID]
		if (!ok || rec.Status != tr.FromStatus) && tr.Required {
			return ErrAlreadyApplied
		}
	}
	if err := m.updateStateLocked(state, expectedVersion); err != nil {
		return err
	}
	for _, tr := range transitions {
		rec, ok := m.recharges[tr.ID]
		if !ok || rec.Status != tr.FromStatus {
			continue
		}
		rec.Status = tr.Status
		if tr.ActivatedAt != nil {
			at := *tr.ActivatedAt
			rec.ActivatedAt = &at
		}
		if tr.ExpiresAt != nil {
			at := *tr.ExpiresAt
			rec.ExpiresAt = &at
		}
	}
	return nil
}

func (m *memStore) ExpireStale(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, rec := range m.recharges {
		if rec.Status == RechargeActive && rec.ExpiresAt != nil && !rec.ExpiresAt.After(now) {
			rec.Status = RechargeExpired
			n++
		}
	}
	return n, nil
}

func containsType(types []RechargeType, t RechargeType) bool {
	for _, want := range types {
		if want == t {
			return true
		}
	}
	return false
}

var errStoreDown = errors.New("store unavailable")
