/**
 * @description
 * On-demand state detector for user-facing status pages. A member can land on
 * the status page seconds after paying, before the webhook or the poller has
 * caught up, so this path trades a live gateway lookup for immediate
 * consistency and self-heals the stored profile when it finds a payment or
 * subscription not yet reflected locally.
 *
 * Gateway failures here are never surfaced to the caller: the detector falls
 * back to the last-known stored state.
 */
package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/emergitag/payment-service/internal/domain"
	"github.com/emergitag/payment-service/internal/store"
)

// GatewayProber performs the live "has this member paid / subscribed" lookups.
type GatewayProber interface {
	DetectSignupPayment(ctx context.Context, memberID, email string) (found bool, reference string, err error)
	DetectActiveSubscription(ctx context.Context, memberID, email string) (found bool, planName string, err error)
}

// Detector resolves a member's true payment state right now.
type Detector struct {
	repo   store.Repository
	prober GatewayProber
	logger *slog.Logger
}

// NewDetector creates a state detector.
func NewDetector(repo store.Repository, prober GatewayProber, logger *slog.Logger) *Detector {
	return &Detector{repo: repo, prober: prober, logger: logger}
}

// Resolve returns the member's payment state, consulting the ledger and live
// gateway lookups when the stored profile looks incomplete, and repairing the
// profile on any positive finding.
func (d *Detector) Resolve(ctx context.Context, memberID, email string) (*domain.PaymentState, error) {
	profile, err := d.repo.GetOrCreateProfile(ctx, memberID, email, "")
	if err != nil {
		return nil, err
	}

	state := &domain.PaymentState{
		SignUpPaid:         profile.SignUpPaid,
		SubscriptionActive: profile.SubscriptionActive,
		PlanName:           profile.MembershipTier,
	}

	// Fast path: a paid, subscribed profile is steady state. No gateway calls.
	if profile.SignUpPaid && profile.SubscriptionActive {
		return state, nil
	}

	if email == "" {
		email = profile.Email
	}

	if !profile.SignUpPaid {
		d.resolveSignup(ctx, memberID, email, state)
	}
	if !profile.SubscriptionActive {
		d.resolveSubscription(ctx, memberID, email, state)
	}

	return state, nil
}

// resolveSignup checks the ledger first (covers events already ingested but
// not yet folded into the profile), then the live gateway.
func (d *Detector) resolveSignup(ctx context.Context, memberID, email string, state *domain.PaymentState) {
	tx, err := d.repo.LatestSuccessfulTransaction(ctx, memberID)
	if err == nil {
		if err := d.repo.ApplySignupPayment(ctx, memberID, tx.Gateway, tx.PaymentID, tx.RecordedAt); err != nil {
			d.logger.Error("signup self-heal from ledger failed", "member_id", memberID, "error", err)
			return
		}
		state.SignUpPaid = true
		return
	}
	if !errors.Is(err, store.ErrTransactionNotFound) {
		d.logger.Error("ledger lookup failed", "member_id", memberID, "error", err)
		return
	}

	found, reference, err := d.prober.DetectSignupPayment(ctx, memberID, email)
	if err != nil {
		// Transient gateway failure: fall back to stored state.
		d.logger.Warn("live signup detection failed, using stored state", "member_id", memberID, "error", err)
		return
	}
	if !found {
		return
	}

	if err := d.repo.ApplySignupPayment(ctx, memberID, domain.GatewayPaystack, reference, time.Now().UTC()); err != nil {
		d.logger.Error("signup self-heal failed", "member_id", memberID, "error", err)
		return
	}
	d.logger.Info("profile self-healed from live signup detection", "member_id", memberID, "reference", reference)
	state.SignUpPaid = true
}

func (d *Detector) resolveSubscription(ctx context.Context, memberID, email string, state *domain.PaymentState) {
	found, planName, err := d.prober.DetectActiveSubscription(ctx, memberID, email)
	if err != nil {
		d.logger.Warn("live subscription detection failed, using stored state", "member_id", memberID, "error", err)
		return
	}
	if !found {
		return
	}

	if _, err := d.repo.ApplySubscription(ctx, memberID, planName, true); err != nil {
		d.logger.Error("subscription self-heal failed", "member_id", memberID, "error", err)
		return
	}
	d.logger.Info("profile self-healed from live subscription detection", "member_id", memberID, "plan", planName)
	state.SubscriptionActive = true
	state.PlanName = planName
}
