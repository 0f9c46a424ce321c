package events

import (
	"time"

	"github.com/google/uuid"
)

// FetchTimeout is the default timeout for batch fetching messages from consumers.
const FetchTimeout = 2 * time.Second

// Stream names.
const (
	StreamQuotaEvents = "METERING_EVENTS"
	StreamPayments    = "METERING_PAYMENTS"
)

// Subject constants.
const (
	SubjectQuotaEventPrefix  = "metering.events" // metering.events.{kind}
	SubjectRechargeConfirmed = "payments.recharge.confirmed"
)

// RechargeConfirmed is published by the payment service once a recharge
// purchase settles. The ledger row already exists in pending state; this
// event triggers its application.
type RechargeConfirmed struct {
	PaymentID   string    `json:"payment_id"`
	UserID      uuid.UUID `json:"user_id"`
	Type        string    `json:"type"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}
