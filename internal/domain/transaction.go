/**
 * @description
 * This file defines the transaction ledger and audit trail models.
 *
 * A Transaction is the append-once record of a gateway payment event. Its
 * identity is (gateway, payment_id), unique within each gateway's own id space;
 * the database enforces that a second arrival with the same key is a no-op.
 * Rows are immutable once written.
 *
 * An AuditRecord mirrors each transaction for compliance visibility. It is a
 * write-only sink: nothing in the reconciliation logic reads it back.
 */
package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TransactionStatus is the normalized status of a gateway payment event.
type TransactionStatus string

const (
	StatusPending TransactionStatus = "pending"
	StatusSuccess TransactionStatus = "success"
	StatusFailed  TransactionStatus = "failed"
)

// Transaction represents a single gateway payment event in the ledger.
// Amounts are stored in cents (ZAR).
type Transaction struct {
	Gateway     Gateway           `json:"gateway"`
	PaymentID   string            `json:"payment_id"`
	AmountCents int64             `json:"amount_cents"`
	Status      TransactionStatus `json:"status"`
	MemberID    string            `json:"member_id,omitempty"` // empty when the owner could not be resolved
	Email       string            `json:"email,omitempty"`
	Reference   string            `json:"reference,omitempty"`
	RawPayload  []byte            `json:"raw_payload,omitempty"`
	RecordedAt  time.Time         `json:"recorded_at"`
}

// AuditRecord is the append-only compliance mirror of a transaction.
type AuditRecord struct {
	ID          uuid.UUID `json:"id"`
	MemberID    string    `json:"member_id,omitempty"`
	Gateway     Gateway   `json:"gateway"`
	Reference   string    `json:"reference"`
	AmountCents int64     `json:"amount_cents"`
	Status      string    `json:"status"`
	Type        string    `json:"type"` // e.g. "signup_payment", "subscription"
	RecordedAt  time.Time `json:"recorded_at"`
}

// ParseAmountCents converts a gateway decimal amount string ("149.00") into cents.
func ParseAmountCents(amount string) (int64, error) {
	s := strings.TrimSpace(amount)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	whole, frac, _ := strings.Cut(s, ".")
	cents, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	cents *= 100
	if frac != "" {
		if len(frac) > 2 {
			frac = frac[:2]
		}
		for len(frac) < 2 {
			frac += "0"
		}
		f, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid amount %q: %w", amount, err)
		}
		if cents < 0 {
			cents -= f
		} else {
			cents += f
		}
	}
	return cents, nil
}
