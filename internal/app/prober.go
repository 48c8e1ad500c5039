/**
 * @description
 * Live gateway probe implementation backed by the Paystack API. PayFast has no
 * comparable query surface, so its coverage comes from the ledger check the
 * detector performs before probing.
 */
package app

import (
	"context"
	"fmt"

	"github.com/emergitag/payment-service/pkg/paystack"
)

// ProbeClient is the slice of the Paystack API the prober depends on.
type ProbeClient interface {
	FindCustomerByEmail(ctx context.Context, email string) (*paystack.CustomerRecord, error)
	ListCustomerTransactions(ctx context.Context, customerID int64, page int) ([]paystack.TransactionRecord, bool, error)
}

// PaystackProber implements GatewayProber against the Paystack API.
type PaystackProber struct {
	client ProbeClient
}

// NewPaystackProber creates a live-lookup prober.
func NewPaystackProber(client ProbeClient) *PaystackProber {
	return &PaystackProber{client: client}
}

// DetectSignupPayment reports whether the member has any successful Paystack
// charge, matched by metadata member id or by customer email.
func (p *PaystackProber) DetectSignupPayment(ctx context.Context, memberID, email string) (bool, string, error) {
	if email == "" {
		return false, "", nil
	}
	customer, err := p.client.FindCustomerByEmail(ctx, email)
	if err != nil {
		return false, "", fmt.Errorf("customer lookup: %w", err)
	}
	if customer == nil {
		return false, "", nil
	}

	for page := 1; ; page++ {
		txs, more, err := p.client.ListCustomerTransactions(ctx, customer.ID, page)
		if err != nil {
			return false, "", fmt.Errorf("customer transactions: %w", err)
		}
		for _, tx := range txs {
			if tx.Status != "success" {
				continue
			}
			if tx.Metadata.MemberID != "" && tx.Metadata.MemberID != memberID {
				continue
			}
			return true, tx.Reference, nil
		}
		if !more {
			return false, "", nil
		}
	}
}

// DetectActiveSubscription reports whether the member has a currently billing
// subscription and which plan it is on.
func (p *PaystackProber) DetectActiveSubscription(ctx context.Context, memberID, email string) (bool, string, error) {
	if email == "" {
		return false, "", nil
	}
	customer, err := p.client.FindCustomerByEmail(ctx, email)
	if err != nil {
		return false, "", fmt.Errorf("customer lookup: %w", err)
	}
	if customer == nil {
		return false, "", nil
	}

	for _, sub := range customer.Subscriptions {
		if sub.Active() {
			return true, sub.Plan.Name, nil
		}
	}
	return false, "", nil
}
