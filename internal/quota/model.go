package quota

import (
	"time"

	"github.com/google/uuid"
)

// RechargeType identifies a purchasable grant.
type RechargeType string

const (
	RechargeTurbo         RechargeType = "turbo"          // 24h time-boxed boost minutes
	RechargeBank          RechargeType = "bank"           // non-expiring reserve minutes
	RechargeUnlimitedPass RechargeType = "unlimited_pass" // 30-day unlimited voice
)

// Valid reports whether t is a known recharge type.
func (t RechargeType) Valid() bool {
	switch t {
	case RechargeTurbo, RechargeBank, RechargeUnlimitedPass:
		return true
	}
	return false
}

// RechargeStatus is the lifecycle state of a ledger entry.
type RechargeStatus string

const (
	RechargePending RechargeStatus = "pending"
	RechargeActive  RechargeStatus = "active"
	RechargeUsed    RechargeStatus = "used"
	RechargeExpired RechargeStatus = "expired"
)

// State matches the voice_quotas table schema. One row per user, created by
// the provisioning service; this engine never creates or deletes rows.
//
// UsedTodaySeconds is only meaningful relative to LastUsageDate: when the
// stored date is not "today", the effective used value is zero and the row
// is normalized on the next write. The same applies to TextCountToday and
// LastMessageDate. BoostSeconds is void whenever BoostExpiresAt is nil or
// in the past, regardless of the stored number.
type State struct {
	UserID            uuid.UUID  `json:"user_id"`
	DailyLimitSeconds int64      `json:"daily_limit_seconds"`
	UsedTodaySeconds  int64      `json:"used_today_seconds"`
	LastUsageDate     time.Time  `json:"last_usage_date"`
	ReserveSeconds    int64      `json:"reserve_seconds"`
	BoostSeconds      int64      `json:"boost_seconds"`
	BoostExpiresAt    *time.Time `json:"boost_expires_at,omitempty"`
	TextCountToday    int64      `json:"text_count_today"`
	LastMessageDate   time.Time  `json:"last_message_date"`
	Version           int64      `json:"version"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Recharge matches the recharges table schema. Rows are created in pending
// status by the payment service once a purchase is confirmed; this engine
// transitions them to active/used/expired but never inserts or deletes.
//
// Quantity is minutes for turbo and bank, zero for unlimited passes.
// ActivatedAt records when the applier merged the grant into the quota row;
// an active turbo row with a nil ActivatedAt was activated out-of-band and
// has not been merged yet.
type Recharge struct {
	ID          uuid.UUID      `json:"id"`
	UserID      uuid.UUID      `json:"user_id"`
	Type        RechargeType   `json:"type"`
	Quantity    int64          `json:"quantity"`
	Status      RechargeStatus `json:"status"`
	ActivatedAt *time.Time     `json:"activated_at,omitempty"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// normalize folds the read-time virtual resets into the stored fields so a
// write never persists a stale counter: day rollovers zero the daily and
// text counters, and an elapsed boost window zeroes the balance and clears
// the expiry. Every write path calls this before mutating, which keeps the
// stored row from diverging from the resolved view across a date boundary.
func (s *State) normalize(now time.Time) {
	if !sameDay(s.LastUsageDate, now) {
		s.UsedTodaySeconds = 0
		s.LastUsageDate = dayOf(now)
	}
	if !sameDay(s.LastMessageDate, now) {
		s.TextCountToday = 0
		s.LastMessageDate = dayOf(now)
	}
	if s.BoostExpiresAt != nil && !s.BoostExpiresAt.After(now) {
		s.BoostSeconds = 0
		s.BoostExpiresAt = nil
	}
}

// TotalUnbounded is the TotalRemaining sentinel when an unlimited pass is
// active and the numeric pools are not consulted.
const TotalUnbounded int64 = -1

// ResolvedPools is the effective view of a user's pools at a point in time,
// after applying the date rollover and boost expiry rules.
type ResolvedPools struct {
	RemainingDaily   int64
	RemainingBoost   int64
	RemainingReserve int64
	Unlimited        bool
	UnlimitedUntil   *time.Time
	TotalRemaining   int64
}

// VoiceUsage is the API view of a user's voice quota.
type VoiceUsage struct {
	CanUse           bool       `json:"can_use"`
	RemainingDaily   int64      `json:"remaining_daily_seconds"`
	RemainingBoost   int64      `json:"remaining_boost_seconds"`
	RemainingReserve int64      `json:"remaining_reserve_seconds"`
	TotalRemaining   int64      `json:"total_remaining_seconds"`
	IsUnlimited      bool       `json:"is_unlimited"`
	UnlimitedUntil   *time.Time `json:"unlimited_until,omitempty"`
}

// TextUsage is the API view of a user's daily text-message counter.
type TextUsage struct {
	CanSend    bool  `json:"can_send"`
	CountToday int64 `json:"count_today"`
	Limit      int64 `json:"limit"`
	Remaining  int64 `json:"remaining"`
}
