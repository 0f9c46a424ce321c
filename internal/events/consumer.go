package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/fitvox/metering/internal/quota"
)

// PaymentsConsumer applies pending recharges when the payment service
// confirms a purchase.
type PaymentsConsumer struct {
	client  *Client
	applier *quota.Applier
}

// NewPaymentsConsumer creates a new PaymentsConsumer.
func NewPaymentsConsumer(client *Client, applier *quota.Applier) *PaymentsConsumer {
	return &PaymentsConsumer{client: client, applier: applier}
}

// Start begins the consumer loop. It returns when ctx is cancelled.
func (pc *PaymentsConsumer) Start(ctx context.Context) error {
	consumer, err := pc.client.EnsureConsumer(ctx, StreamPayments, "metering-payments", SubjectRechargeConfirmed)
	if err != nil {
		return err
	}

	slog.Info("payments consumer started", "consumer", "metering-payments")

	for {
		msgs, err := consumer.Fetch(10, jetstream.FetchMaxWait(FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("fetching payment confirmations", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			pc.processMessage(ctx, msg)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (pc *PaymentsConsumer) processMessage(ctx context.Context, msg jetstream.Msg) {
	var confirmed RechargeConfirmed
	if err := json.Unmarshal(msg.Data(), &confirmed); err != nil {
		slog.Error("unmarshaling payment confirmation", "error", err)
		_ = msg.Nak()
		return
	}

	slog.Debug("payment confirmed, applying pending recharges",
		"payment_id", confirmed.PaymentID,
		"user_id", confirmed.UserID,
		"type", confirmed.Type,
	)

	err := pc.applier.ProcessPendingRecharges(ctx, confirmed.UserID)
	switch {
	case err == nil:
		_ = msg.Ack()
	case errors.Is(err, quota.ErrNotFound), errors.Is(err, quota.ErrAlreadyApplied):
		// Nothing left to apply for this user; redelivery won't change that.
		slog.Warn("payment confirmation had no applicable recharge",
			"payment_id", confirmed.PaymentID,
			"user_id", confirmed.UserID,
			"error", err,
		)
		_ = msg.Ack()
	default:
		slog.Error("applying confirmed recharges", "error", err, "user_id", confirmed.UserID)
		_ = msg.Nak()
	}
}
