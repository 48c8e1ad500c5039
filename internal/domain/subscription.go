/**
 * @description
 * This file defines the subscription snapshot produced by live gateway lookups.
 * Snapshots are not persisted as their own entity; the fields fold into the
 * MemberProfile when they diverge from the stored state.
 */
package domain

// BillingCycle is the cadence a subscription renews on.
type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleAnnual  BillingCycle = "annual"
)

// SubscriptionSnapshot is the gateway's current view of a member's subscription.
type SubscriptionSnapshot struct {
	PlanName     string       `json:"plan_name"`
	BillingCycle BillingCycle `json:"billing_cycle"`
	Active       bool         `json:"active"`
	Provider     Gateway      `json:"provider"`
}
