/**
 * @description
 * This file defines the core domain models for member payment state.
 * A MemberProfile is the authoritative per-member record of signup payment and
 * subscription status. It is created lazily on first contact and mutated only
 * through the store's write path.
 */
package domain

import "time"

// Gateway identifies the payment provider a transaction or profile state came from.
type Gateway string

const (
	GatewayPayFast  Gateway = "payfast"
	GatewayPaystack Gateway = "paystack"
	GatewayNone     Gateway = "none"
)

// MemberProfile represents a member's payment and subscription state in the database.
// Exactly one row exists per member id; subscription_active implies sign_up_paid.
type MemberProfile struct {
	MemberID             string     `json:"member_id"`
	Email                string     `json:"email"`
	FullName             string     `json:"full_name"`
	SignUpPaid           bool       `json:"sign_up_paid"`
	SubscriptionActive   bool       `json:"subscription_active"`
	MembershipTier       string     `json:"membership_tier,omitempty"` // empty means no tier recorded
	LastPaymentDate      *time.Time `json:"last_payment_date,omitempty"`
	LastPaymentReference string     `json:"last_payment_reference,omitempty"`
	PaymentGateway       Gateway    `json:"payment_gateway"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// PaymentState is the DTO returned to status pages by the state detector.
type PaymentState struct {
	SignUpPaid         bool   `json:"sign_up_paid"`
	SubscriptionActive bool   `json:"subscription_active"`
	PlanName           string `json:"plan_name,omitempty"`
}
