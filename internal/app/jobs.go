/**
 * @description
 * Reconciliation poller jobs. The pull-based catch-up path for events the
 * webhook path missed, and the subscription lifecycle sync.
 *
 * Two cadences:
 * - CheckPayments (hourly): lists Paystack transactions changed since the
 *   job's watermark and runs them through the same ledger -> profile -> audit
 *   path as the webhook pipeline. Signature verification does not apply; the
 *   authenticated API call is the authenticity proof.
 * - RunDailySync (daily): full transaction re-scan from the epoch plus a
 *   subscription sweep. Harmless to overlap with the hourly job or the webhook
 *   path because every mutation is idempotent.
 *
 * On partial failure the watermark stops at the last confirmed-good item, so
 * the next run reprocesses from there; redelivery of already-applied events is
 * absorbed by the ledger's uniqueness constraint.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/emergitag/payment-service/internal/domain"
	"github.com/emergitag/payment-service/internal/store"
	"github.com/emergitag/payment-service/pkg/paystack"
	"github.com/emergitag/payment-service/pkg/rabbitmq"
)

const (
	jobPaystackPayments = "paystack_payments"
	jobPaystackDaily    = "paystack_daily_full"
)

// PaystackClient is the slice of the Paystack API the jobs pull from.
type PaystackClient interface {
	ListTransactions(ctx context.Context, from time.Time, page int) ([]paystack.TransactionRecord, bool, error)
	ListSubscriptions(ctx context.Context, page int) ([]paystack.SubscriptionRecord, bool, error)
}

// Jobs contains the logic for all scheduled reconciliation tasks.
type Jobs struct {
	repo     store.Repository
	client   PaystackClient
	producer rabbitmq.Publisher
	logger   *slog.Logger
}

// NewJobs creates a new Jobs runner.
func NewJobs(repo store.Repository, client PaystackClient, producer rabbitmq.Publisher, logger *slog.Logger) *Jobs {
	return &Jobs{
		repo:     repo,
		client:   client,
		producer: producer,
		logger:   logger,
	}
}

// CheckPayments is the hourly catch-up: pull transactions changed since the
// watermark and reconcile them into the ledger and profiles.
func (j *Jobs) CheckPayments() {
	j.logger.Info("starting payment catch-up job")
	ctx := context.Background()

	if err := j.syncPayments(ctx, jobPaystackPayments, false); err != nil {
		j.logger.Error("payment catch-up halted", "error", err)
		return
	}

	j.logger.Info("payment catch-up job finished")
}

// RunDailySync is the daily full sync: a complete transaction re-scan plus the
// subscription lifecycle sweep.
func (j *Jobs) RunDailySync() {
	j.logger.Info("starting daily full sync")
	ctx := context.Background()

	if err := j.syncPayments(ctx, jobPaystackDaily, true); err != nil {
		j.logger.Error("daily payment sync halted", "error", err)
	}
	if err := j.syncSubscriptions(ctx); err != nil {
		j.logger.Error("daily subscription sync halted", "error", err)
		return
	}

	j.logger.Info("daily full sync finished")
}

// syncPayments walks the paginated transaction list and applies each item.
// The watermark advances to the paid-at time of the last successfully applied
// item, and only past items that succeeded, so a mid-batch failure makes the
// next run resume from the last confirmed-good point.
func (j *Jobs) syncPayments(ctx context.Context, job string, fullScan bool) error {
	var from time.Time
	if !fullScan {
		wm, err := j.repo.GetSyncWatermark(ctx, job)
		if err != nil {
			return fmt.Errorf("loading watermark: %w", err)
		}
		from = wm
	}

	lastApplied := from
	applied := 0
	advance := func() {
		if lastApplied.After(from) {
			if err := j.repo.AdvanceSyncWatermark(ctx, job, lastApplied); err != nil {
				j.logger.Error("watermark advance failed", "job", job, "error", err)
			}
		}
	}

	for page := 1; ; page++ {
		records, more, err := j.client.ListTransactions(ctx, from, page)
		if err != nil {
			advance()
			return fmt.Errorf("listing transactions page %d: %w", page, err)
		}

		// Apply in gateway-time order so the watermark never skips an unapplied item.
		sort.Slice(records, func(a, b int) bool {
			return records[a].PaidAt.Before(records[b].PaidAt)
		})

		for _, rec := range records {
			if err := j.applyTransaction(ctx, rec); err != nil {
				advance()
				return fmt.Errorf("applying transaction %d: %w", rec.ID, err)
			}
			applied++
			if rec.PaidAt.After(lastApplied) {
				lastApplied = rec.PaidAt
			}
		}

		if !more {
			break
		}
	}

	advance()
	j.logger.Info("payment sync batch complete", "job", job, "applied", applied)
	return nil
}

// applyTransaction runs one pulled record through the same idempotent
// ledger -> profile -> audit path the webhook pipeline uses.
func (j *Jobs) applyTransaction(ctx context.Context, rec paystack.TransactionRecord) error {
	status := domain.StatusPending
	switch rec.Status {
	case "success":
		status = domain.StatusSuccess
	case "failed", "abandoned", "reversed":
		status = domain.StatusFailed
	}

	memberID := rec.Metadata.MemberID
	if memberID == "" && rec.Customer.Email != "" {
		profile, err := j.repo.FindProfileByEmail(ctx, rec.Customer.Email)
		if err == nil {
			memberID = profile.MemberID
		} else if !errors.Is(err, store.ErrProfileNotFound) {
			return err
		}
	}

	recordedAt := rec.PaidAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	tx := domain.Transaction{
		Gateway:     domain.GatewayPaystack,
		PaymentID:   strconv.FormatInt(rec.ID, 10),
		AmountCents: rec.Amount,
		Status:      status,
		MemberID:    memberID,
		Email:       rec.Customer.Email,
		Reference:   rec.Reference,
		RecordedAt:  recordedAt,
	}

	inserted, err := j.repo.RecordTransactionIfNew(ctx, tx)
	if err != nil {
		return err
	}
	if !inserted {
		return nil // already seen via webhook or a previous run
	}

	if memberID == "" {
		j.logger.Warn("pulled transaction has no resolvable member", "payment_id", tx.PaymentID, "email", tx.Email)
		j.alert(ctx, domain.PaymentAlert{
			CorrelationID: uuid.New(),
			Severity:      "warning",
			Reason:        "unresolved_owner",
			Gateway:       domain.GatewayPaystack,
			Detail:        fmt.Sprintf("pulled payment %s has no member reference", tx.PaymentID),
			Timestamp:     time.Now().UTC(),
		})
	} else if status == domain.StatusSuccess {
		if err := j.repo.ApplySignupPayment(ctx, memberID, domain.GatewayPaystack, tx.Reference, recordedAt); err != nil && !errors.Is(err, store.ErrProfileNotFound) {
			return err
		}
	}

	audit := domain.AuditRecord{
		ID:          uuid.New(),
		MemberID:    memberID,
		Gateway:     domain.GatewayPaystack,
		Reference:   tx.Reference,
		AmountCents: tx.AmountCents,
		Status:      string(status),
		Type:        "signup_payment",
		RecordedAt:  recordedAt,
	}
	if err := j.repo.InsertAuditRecord(ctx, audit); err != nil {
		j.logger.Error("audit insert failed", "payment_id", tx.PaymentID, "error", err)
	}

	return nil
}

// syncSubscriptions folds the gateway's subscription list into profiles. A
// customer can carry several records at once (churning and resubscribing
// leaves the cancelled record behind), and the list order is not specified, so
// records are first aggregated per customer: any active record makes the
// member active and supplies the plan. One write per customer, on divergence.
func (j *Jobs) syncSubscriptions(ctx context.Context) error {
	type subState struct {
		active bool
		plan   string
	}
	states := make(map[string]subState)

	for page := 1; ; page++ {
		subs, more, err := j.client.ListSubscriptions(ctx, page)
		if err != nil {
			return fmt.Errorf("listing subscriptions page %d: %w", page, err)
		}
		for _, sub := range subs {
			email := strings.ToLower(strings.TrimSpace(sub.Customer.Email))
			if email == "" {
				continue
			}
			st := states[email]
			if sub.Active() {
				st.active = true
				st.plan = sub.Plan.Name
			}
			states[email] = st
		}
		if !more {
			break
		}
	}

	updated := 0
	for email, st := range states {
		profile, err := j.repo.FindProfileByEmail(ctx, email)
		if errors.Is(err, store.ErrProfileNotFound) {
			j.logger.Warn("subscription for unknown member", "email", email, "plan", st.plan)
			continue
		}
		if err != nil {
			return err
		}

		changed, err := j.repo.ApplySubscription(ctx, profile.MemberID, st.plan, st.active)
		if err != nil {
			return err
		}
		if changed {
			updated++
			j.logger.Info("subscription state reconciled",
				"member_id", profile.MemberID, "plan", st.plan, "active", st.active)
		}
	}

	j.logger.Info("subscription sync complete", "updated", updated)
	return nil
}

func (j *Jobs) alert(ctx context.Context, alert domain.PaymentAlert) {
	if err := j.producer.Publish(ctx, rabbitmq.PaymentEventsExchange, rabbitmq.RoutingKeyAlert, alert); err != nil {
		j.logger.Error("alert publish failed", "reason", alert.Reason, "error", err)
	}
}
