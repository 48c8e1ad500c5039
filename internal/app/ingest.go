/**
 * @description
 * This file implements the webhook ingestion pipeline: the real-time push path
 * for PayFast ITNs. For each inbound event it runs
 * verify -> ledger -> profile -> audit -> notify.
 *
 * Error policy, in order:
 * - Malformed body: the only failure the sender sees (handled in the API layer).
 * - Verification rejection: answered 200, surfaced only on the alert channel.
 *   An error response would make PayFast retry indefinitely and storm alerts.
 * - Transient verification failure (validate endpoint unreachable): returned to
 *   the caller so the gateway retries; the event is not marked processed.
 * - Everything after the ledger insert is swallowed: once the row exists, a 5xx
 *   would trigger a redelivery that the dedupe turns into a no-op anyway, so
 *   logging and alerting are the recovery path, not gateway retry.
 *
 * @dependencies
 * - internal/domain, internal/store, internal/verify: Core collaborators.
 * - pkg/rabbitmq: Exchange and routing key names for the alert channel.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/emergitag/payment-service/internal/domain"
	"github.com/emergitag/payment-service/internal/store"
	"github.com/emergitag/payment-service/internal/verify"
	"github.com/emergitag/payment-service/pkg/rabbitmq"
)

// IngestOutcome describes how the pipeline disposed of an event. The webhook
// handler uses it only to pick a response body; every outcome except a
// transient verification failure is answered 2xx.
type IngestOutcome string

const (
	OutcomeProcessed IngestOutcome = "processed"
	OutcomeDuplicate IngestOutcome = "duplicate"
	OutcomeRejected  IngestOutcome = "rejected"
	OutcomeOrphaned  IngestOutcome = "orphaned"
)

// Verifier is the subset of the signature verifier the pipeline depends on.
type Verifier interface {
	Verify(ctx context.Context, params map[string]string, rawBody, sourceIP string) error
}

// Ingestor orchestrates the push-based ingestion path.
type Ingestor struct {
	repo     store.Repository
	verifier Verifier
	producer rabbitmq.Publisher
	logger   *slog.Logger
}

// NewIngestor creates the webhook ingestion pipeline.
func NewIngestor(repo store.Repository, verifier Verifier, producer rabbitmq.Publisher, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		repo:     repo,
		verifier: verifier,
		producer: producer,
		logger:   logger,
	}
}

// ProcessITN runs a parsed PayFast notification through the pipeline.
// The returned error is non-nil only for transient verification failures, in
// which case the event must not be considered processed.
func (i *Ingestor) ProcessITN(ctx context.Context, itn *domain.ITN, rawBody, sourceIP string) (IngestOutcome, error) {
	correlationID := uuid.New()

	if err := i.verifier.Verify(ctx, itn.Values, rawBody, sourceIP); err != nil {
		var rejection *verify.RejectionError
		if errors.As(err, &rejection) {
			i.logger.Warn("itn rejected",
				"reason", rejection.Reason, "detail", rejection.Detail,
				"source_ip", sourceIP, "correlation_id", correlationID)
			i.alert(ctx, domain.PaymentAlert{
				CorrelationID: correlationID,
				Severity:      "critical",
				Reason:        string(rejection.Reason),
				Gateway:       domain.GatewayPayFast,
				Detail:        rejection.Detail,
				Timestamp:     time.Now().UTC(),
			})
			return OutcomeRejected, nil
		}
		return "", fmt.Errorf("itn verification incomplete: %w", err)
	}

	amountCents, err := itn.AmountCents()
	if err != nil {
		// A verified notification with a garbled amount is an integration bug,
		// not an attack. Record what we can and alert.
		i.logger.Error("itn amount unparsable", "error", err, "correlation_id", correlationID)
		amountCents = 0
	}

	memberID := itn.MemberID()
	tx := domain.Transaction{
		Gateway:     domain.GatewayPayFast,
		PaymentID:   itn.PaymentID(),
		AmountCents: amountCents,
		Status:      itn.Status(),
		MemberID:    memberID,
		Email:       itn.Email(),
		Reference:   itn.Values[domain.ITNFieldMerchantRef],
		RawPayload:  []byte(rawBody),
		RecordedAt:  time.Now().UTC(),
	}

	inserted, err := i.repo.RecordTransactionIfNew(ctx, tx)
	if err != nil {
		// The ledger row is the idempotency gate. If we cannot write it we
		// still answer 2xx (PayFast redelivery would duplicate the alert storm
		// risk) and lean on the reconciliation poller to catch the event up.
		i.logger.Error("ledger insert failed", "payment_id", tx.PaymentID, "error", err, "correlation_id", correlationID)
		i.alert(ctx, domain.PaymentAlert{
			CorrelationID: correlationID,
			Severity:      "critical",
			Reason:        "ledger_write_failed",
			Gateway:       domain.GatewayPayFast,
			MemberID:      memberID,
			Detail:        err.Error(),
			Timestamp:     time.Now().UTC(),
		})
		return OutcomeProcessed, nil
	}
	if !inserted {
		i.logger.Info("duplicate itn ignored", "payment_id", tx.PaymentID)
		return OutcomeDuplicate, nil
	}

	outcome := OutcomeProcessed
	if memberID == "" {
		// Recorded for audit, not applied to any profile.
		i.logger.Warn("itn has no resolvable member", "payment_id", tx.PaymentID, "correlation_id", correlationID)
		i.alert(ctx, domain.PaymentAlert{
			CorrelationID: correlationID,
			Severity:      "warning",
			Reason:        "unresolved_owner",
			Gateway:       domain.GatewayPayFast,
			Detail:        fmt.Sprintf("payment %s has no member reference", tx.PaymentID),
			Timestamp:     time.Now().UTC(),
		})
		outcome = OutcomeOrphaned
	} else if tx.Status == domain.StatusSuccess {
		if err := i.repo.ApplySignupPayment(ctx, memberID, domain.GatewayPayFast, tx.PaymentID, tx.RecordedAt); err != nil {
			if errors.Is(err, store.ErrProfileNotFound) {
				i.logger.Warn("no profile for itn member", "member_id", memberID, "payment_id", tx.PaymentID)
				i.alert(ctx, domain.PaymentAlert{
					CorrelationID: correlationID,
					Severity:      "warning",
					Reason:        "unresolved_owner",
					Gateway:       domain.GatewayPayFast,
					MemberID:      memberID,
					Detail:        fmt.Sprintf("no profile found for member %s", memberID),
					Timestamp:     time.Now().UTC(),
				})
				outcome = OutcomeOrphaned
			} else {
				i.logger.Error("profile update failed", "member_id", memberID, "error", err, "correlation_id", correlationID)
			}
		}
	}

	// Audit mirror is best-effort and independent of the profile outcome.
	audit := domain.AuditRecord{
		ID:          correlationID,
		MemberID:    memberID,
		Gateway:     domain.GatewayPayFast,
		Reference:   tx.PaymentID,
		AmountCents: tx.AmountCents,
		Status:      string(tx.Status),
		Type:        "signup_payment",
		RecordedAt:  tx.RecordedAt,
	}
	if err := i.repo.InsertAuditRecord(ctx, audit); err != nil {
		i.logger.Error("audit insert failed", "payment_id", tx.PaymentID, "error", err)
	}

	if outcome == OutcomeProcessed && tx.Status == domain.StatusSuccess {
		i.confirm(ctx, domain.PaymentConfirmed{
			CorrelationID: correlationID,
			MemberID:      memberID,
			Email:         tx.Email,
			Gateway:       domain.GatewayPayFast,
			Reference:     tx.PaymentID,
			AmountCents:   tx.AmountCents,
			Timestamp:     tx.RecordedAt,
		})
	}

	i.logger.Info("itn processed", "payment_id", tx.PaymentID, "member_id", memberID, "status", tx.Status)
	return outcome, nil
}

func (i *Ingestor) alert(ctx context.Context, alert domain.PaymentAlert) {
	if err := i.producer.Publish(ctx, rabbitmq.PaymentEventsExchange, rabbitmq.RoutingKeyAlert, alert); err != nil {
		i.logger.Error("alert publish failed", "reason", alert.Reason, "error", err)
	}
}

func (i *Ingestor) confirm(ctx context.Context, event domain.PaymentConfirmed) {
	if err := i.producer.Publish(ctx, rabbitmq.PaymentEventsExchange, rabbitmq.RoutingKeyConfirmed, event); err != nil {
		i.logger.Error("confirmation publish failed", "member_id", event.MemberID, "error", err)
	}
}
