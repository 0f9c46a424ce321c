package quota

import "time"

// sameDay reports whether a and b fall on the same UTC calendar day.
func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// dayOf truncates t to midnight UTC, the canonical form for the stored
// last-usage dates.
func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// effectiveUsedToday applies the read-time daily rollover: a stored counter
// from a previous calendar day counts as zero.
func effectiveUsedToday(state *State, now time.Time) int64 {
	if sameDay(state.LastUsageDate, now) {
		return state.UsedTodaySeconds
	}
	return 0
}

// effectiveBoost applies the expiry rule: the stored boost balance is void
// once the window is gone, whatever the number says.
func effectiveBoost(state *State, now time.Time) int64 {
	if state.BoostExpiresAt != nil && state.BoostExpiresAt.After(now) {
		return state.BoostSeconds
	}
	return 0
}

// Resolve computes the effective remaining amount in each pool from raw
// stored state and the active ledger entries. Pure; never writes.
//
// Boost counts the stored balance (if the window is live) plus any active
// turbo ledger entries the applier has not merged yet (ActivatedAt nil,
// expiry in the future) — those grants must be usable even before a merge
// run happens. An active unlimited pass makes the numeric pools moot.
func Resolve(state *State, activeRecharges []Recharge, now time.Time) ResolvedPools {
	var res ResolvedPools

	res.RemainingDaily = state.DailyLimitSeconds - effectiveUsedToday(state, now)
	if res.RemainingDaily < 0 {
		res.RemainingDaily = 0
	}

	res.RemainingBoost = effectiveBoost(state, now)
	for _, r := range activeRecharges {
		if r.Type != RechargeTurbo || r.Status != RechargeActive {
			continue
		}
		if r.ActivatedAt != nil {
			continue // already merged into the stored balance
		}
		if r.ExpiresAt == nil || !r.ExpiresAt.After(now) {
			continue
		}
		res.RemainingBoost += r.Quantity * 60
	}

	res.RemainingReserve = state.ReserveSeconds

	for _, r := range activeRecharges {
		if r.Type != RechargeUnlimitedPass || r.Status != RechargeActive {
			continue
		}
		if r.ExpiresAt == nil || !r.ExpiresAt.After(now) {
			continue
		}
		res.Unlimited = true
		if res.UnlimitedUntil == nil || r.ExpiresAt.After(*res.UnlimitedUntil) {
			until := *r.ExpiresAt
			res.UnlimitedUntil = &until
		}
	}

	if res.Unlimited {
		res.TotalRemaining = TotalUnbounded
	} else {
		res.TotalRemaining = res.RemainingDaily + res.RemainingBoost + res.RemainingReserve
	}
	return res
}
