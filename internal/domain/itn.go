/**
 * @description
 * This file models the PayFast ITN (Instant Transaction Notification) payload.
 * ITNs arrive as URL-encoded form bodies; this keeps the parsed fields as a
 * flat map so signature recomputation can iterate every posted field, and adds
 * typed accessors for the fields the pipeline cares about.
 */
package domain

import (
	"fmt"
	"net/url"
	"strings"
)

// ITN field names as posted by PayFast.
const (
	ITNFieldPaymentID     = "pf_payment_id"
	ITNFieldPaymentStatus = "payment_status"
	ITNFieldAmountGross   = "amount_gross"
	ITNFieldMerchantRef   = "m_payment_id"
	ITNFieldEmail         = "email_address"
	ITNFieldSignature     = "signature"

	// Custom passthrough fields configured on the payment button.
	ITNFieldCustomMemberID = "custom_str1"
	ITNFieldCustomEmail    = "custom_str3"
)

// ITN is a parsed PayFast notification. Values keeps every posted field so the
// signature base string can be rebuilt exactly.
type ITN struct {
	Values map[string]string
}

// ParseITN decodes a raw URL-encoded ITN body. An empty or unparsable body is
// a malformed payload.
func ParseITN(rawBody string) (*ITN, error) {
	if strings.TrimSpace(rawBody) == "" {
		return nil, fmt.Errorf("empty request body")
	}
	parsed, err := url.ParseQuery(rawBody)
	if err != nil {
		return nil, fmt.Errorf("unparsable form body: %w", err)
	}
	values := make(map[string]string, len(parsed))
	for k := range parsed {
		values[k] = parsed.Get(k)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("empty request body")
	}
	return &ITN{Values: values}, nil
}

// PaymentID returns PayFast's own id for the payment.
func (n *ITN) PaymentID() string { return n.Values[ITNFieldPaymentID] }

// Signature returns the signature field supplied by PayFast.
func (n *ITN) Signature() string { return n.Values[ITNFieldSignature] }

// MemberID resolves the owning member from the merchant reference, falling
// back to the custom passthrough field. Returns "" when neither is present.
func (n *ITN) MemberID() string {
	if id := n.Values[ITNFieldMerchantRef]; id != "" {
		return id
	}
	return n.Values[ITNFieldCustomMemberID]
}

// Email resolves the payer email, falling back to the custom passthrough field.
func (n *ITN) Email() string {
	if email := n.Values[ITNFieldEmail]; email != "" {
		return email
	}
	return n.Values[ITNFieldCustomEmail]
}

// Status maps PayFast's payment_status to the normalized ledger status.
func (n *ITN) Status() TransactionStatus {
	switch strings.ToUpper(n.Values[ITNFieldPaymentStatus]) {
	case "COMPLETE":
		return StatusSuccess
	case "FAILED", "CANCELLED":
		return StatusFailed
	default:
		return StatusPending
	}
}

// AmountCents parses the gross amount field.
func (n *ITN) AmountCents() (int64, error) {
	return ParseAmountCents(n.Values[ITNFieldAmountGross])
}
