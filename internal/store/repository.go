/**
 * @description
 * This file defines the Repository interface for the payment reconciliation
 * core, abstracting the persistence layer. The Postgres implementation backs
 * production; an in-memory implementation backs tests.
 *
 * The repository is the single serialization point for member payment state.
 * All writers (webhook pipeline, reconciliation jobs, state detector) mutate
 * profiles only through these methods, and every mutation is idempotent so the
 * three paths can race benignly.
 */
package store

import (
	"context"
	"errors"
	"time"

	"github.com/emergitag/payment-service/internal/domain"
)

var (
	ErrProfileNotFound     = errors.New("member profile not found")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// Repository defines all persistence operations used by the reconciliation core.
type Repository interface {
	// GetOrCreateProfile returns the profile for memberID, creating a minimal
	// unpaid one if none exists. Safe under concurrent first-touch: creation is
	// an insert-on-conflict-do-nothing followed by a re-read.
	GetOrCreateProfile(ctx context.Context, memberID, email, fullName string) (*domain.MemberProfile, error)

	// GetProfile returns the profile for memberID or ErrProfileNotFound.
	GetProfile(ctx context.Context, memberID string) (*domain.MemberProfile, error)

	// FindProfileByEmail resolves a profile by email or returns ErrProfileNotFound.
	FindProfileByEmail(ctx context.Context, email string) (*domain.MemberProfile, error)

	// ApplySignupPayment marks the signup fee paid. The flag is monotonic: once
	// true it never reverts. Bookkeeping fields (last payment date, reference,
	// gateway) follow the payment with the latest timestamp regardless of
	// arrival order.
	ApplySignupPayment(ctx context.Context, memberID string, gateway domain.Gateway, reference string, paidAt time.Time) error

	// ApplySubscription folds a subscription snapshot into the profile. Writes
	// only on divergence and reports whether a write happened. When active is
	// false the stored tier is retained (last known tier).
	ApplySubscription(ctx context.Context, memberID, tier string, active bool) (bool, error)

	// RecordTransactionIfNew appends tx to the ledger if no row exists for
	// (gateway, payment_id) and reports whether the insert happened. This is
	// the system's idempotency boundary.
	RecordTransactionIfNew(ctx context.Context, tx domain.Transaction) (bool, error)

	// LatestSuccessfulTransaction returns the most recent successful ledger
	// entry for a member, or ErrTransactionNotFound.
	LatestSuccessfulTransaction(ctx context.Context, memberID string) (*domain.Transaction, error)

	// InsertAuditRecord appends a compliance mirror entry. Best-effort from the
	// caller's perspective; never read back by reconciliation logic.
	InsertAuditRecord(ctx context.Context, rec domain.AuditRecord) error

	// GetSyncWatermark returns the last successfully synced point for a poller
	// job, or the zero time when the job has never completed.
	GetSyncWatermark(ctx context.Context, job string) (time.Time, error)

	// AdvanceSyncWatermark moves a job's watermark forward. Moving backwards is
	// a no-op so overlapping runs cannot regress the cursor.
	AdvanceSyncWatermark(ctx context.Context, job string, to time.Time) error
}
