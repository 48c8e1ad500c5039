/**
 * @description
 * This file defines the event payloads published to RabbitMQ by the
 * reconciliation core. All of them are fire-and-forget: a failed publish is
 * logged and never propagated to the webhook sender or the poller.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentAlert is emitted for security rejections and integration anomalies.
// Rejections must never silently disappear; they may be fraud attempts or
// integration bugs.
type PaymentAlert struct {
	CorrelationID uuid.UUID `json:"correlation_id"`
	Severity      string    `json:"severity"` // "warning" or "critical"
	Reason        string    `json:"reason"`
	Gateway       Gateway   `json:"gateway"`
	MemberID      string    `json:"member_id,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// PaymentConfirmed is emitted after a payment event has been recorded and
// applied. Notification consumers (email, SMS, WhatsApp relays) fan out from it.
type PaymentConfirmed struct {
	CorrelationID uuid.UUID `json:"correlation_id"`
	MemberID      string    `json:"member_id"`
	Email         string    `json:"email,omitempty"`
	Gateway       Gateway   `json:"gateway"`
	Reference     string    `json:"reference"`
	AmountCents   int64     `json:"amount_cents"`
	Timestamp     time.Time `json:"timestamp"`
}
