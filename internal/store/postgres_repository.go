/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. Uniqueness invariants (one profile per member, one ledger row per
 * (gateway, payment_id)) are enforced by database constraints with
 * ON CONFLICT DO NOTHING, never by application-level locking, so the webhook
 * path, the reconciliation jobs and the state detector can write concurrently
 * across horizontally scaled workers.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emergitag/payment-service/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const profileColumns = `member_id, email, full_name, sign_up_paid, subscription_active,
	COALESCE(membership_tier, ''), last_payment_date, COALESCE(last_payment_reference, ''),
	payment_gateway, created_at, updated_at`

func scanProfile(row pgx.Row) (*domain.MemberProfile, error) {
	var p domain.MemberProfile
	err := row.Scan(
		&p.MemberID,
		&p.Email,
		&p.FullName,
		&p.SignUpPaid,
		&p.SubscriptionActive,
		&p.MembershipTier,
		&p.LastPaymentDate,
		&p.LastPaymentReference,
		&p.PaymentGateway,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetOrCreateProfile returns the existing profile or creates a minimal unpaid one.
// The insert races benignly with concurrent first-touch: the unique constraint on
// member_id turns the loser's insert into a no-op and the re-read returns the winner's row.
func (r *PostgresRepository) GetOrCreateProfile(ctx context.Context, memberID, email, fullName string) (*domain.MemberProfile, error) {
	insert := `
		INSERT INTO member_profiles (member_id, email, full_name, sign_up_paid, subscription_active, payment_gateway)
		VALUES ($1, $2, $3, FALSE, FALSE, 'none')
		ON CONFLICT (member_id) DO NOTHING
	`
	if _, err := r.db.Exec(ctx, insert, memberID, email, fullName); err != nil {
		return nil, err
	}
	return r.GetProfile(ctx, memberID)
}

// GetProfile retrieves a profile by member id.
func (r *PostgresRepository) GetProfile(ctx context.Context, memberID string) (*domain.MemberProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM member_profiles WHERE member_id = $1`
	p, err := scanProfile(r.db.QueryRow(ctx, query, memberID))
	if err == pgx.ErrNoRows {
		return nil, ErrProfileNotFound
	}
	return p, err
}

// FindProfileByEmail retrieves a profile by email address.
func (r *PostgresRepository) FindProfileByEmail(ctx context.Context, email string) (*domain.MemberProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM member_profiles WHERE lower(email) = lower($1) LIMIT 1`
	p, err := scanProfile(r.db.QueryRow(ctx, query, email))
	if err == pgx.ErrNoRows {
		return nil, ErrProfileNotFound
	}
	return p, err
}

// ApplySignupPayment marks the signup fee paid and updates bookkeeping fields.
// sign_up_paid is monotonic; the bookkeeping fields only move forward in payment
// time, so applying two payments in reversed arrival order converges on the later one.
func (r *PostgresRepository) ApplySignupPayment(ctx context.Context, memberID string, gateway domain.Gateway, reference string, paidAt time.Time) error {
	query := `
		UPDATE member_profiles
		SET sign_up_paid = TRUE,
			payment_gateway = CASE WHEN last_payment_date IS NULL OR last_payment_date <= $4 THEN $2 ELSE payment_gateway END,
			last_payment_reference = CASE WHEN last_payment_date IS NULL OR last_payment_date <= $4 THEN $3 ELSE last_payment_reference END,
			last_payment_date = GREATEST(COALESCE(last_payment_date, $4), $4),
			updated_at = NOW()
		WHERE member_id = $1
	`
	tag, err := r.db.Exec(ctx, query, memberID, gateway, reference, paidAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// ApplySubscription updates subscription state only when it diverges from the
// stored snapshot. Deactivation keeps the last known tier for support visibility.
// Activating also raises sign_up_paid: an active subscription implies the signup
// fee was settled, and the check constraint enforces that implication.
func (r *PostgresRepository) ApplySubscription(ctx context.Context, memberID, tier string, active bool) (bool, error) {
	query := `
		UPDATE member_profiles
		SET subscription_active = $2,
			sign_up_paid = sign_up_paid OR $2,
			membership_tier = CASE WHEN $2 THEN $3 ELSE membership_tier END,
			updated_at = NOW()
		WHERE member_id = $1
		  AND (subscription_active IS DISTINCT FROM $2
			OR ($2 AND COALESCE(membership_tier, '') IS DISTINCT FROM $3))
	`
	tag, err := r.db.Exec(ctx, query, memberID, active, tier)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	// Nothing changed: either the snapshot already matches or the profile is missing.
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM member_profiles WHERE member_id = $1)`, memberID).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, ErrProfileNotFound
	}
	return false, nil
}

// RecordTransactionIfNew appends a ledger row unless (gateway, payment_id) already
// exists. The primary key turns a redelivered webhook into inserted=false with no
// further side effects, which is what gates every downstream profile mutation.
func (r *PostgresRepository) RecordTransactionIfNew(ctx context.Context, tx domain.Transaction) (bool, error) {
	query := `
		INSERT INTO transactions (gateway, payment_id, amount_cents, status, member_id, email, reference, raw_payload, recorded_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9)
		ON CONFLICT (gateway, payment_id) DO NOTHING
	`
	recordedAt := tx.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}
	tag, err := r.db.Exec(ctx, query,
		tx.Gateway, tx.PaymentID, tx.AmountCents, tx.Status, tx.MemberID, tx.Email, tx.Reference, tx.RawPayload, recordedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// LatestSuccessfulTransaction returns the newest successful ledger entry for a member.
func (r *PostgresRepository) LatestSuccessfulTransaction(ctx context.Context, memberID string) (*domain.Transaction, error) {
	query := `
		SELECT gateway, payment_id, amount_cents, status, COALESCE(member_id, ''), email, reference, recorded_at
		FROM transactions
		WHERE member_id = $1 AND status = 'success'
		ORDER BY recorded_at DESC
		LIMIT 1
	`
	var tx domain.Transaction
	err := r.db.QueryRow(ctx, query, memberID).Scan(
		&tx.Gateway, &tx.PaymentID, &tx.AmountCents, &tx.Status, &tx.MemberID, &tx.Email, &tx.Reference, &tx.RecordedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// InsertAuditRecord appends a compliance mirror row.
func (r *PostgresRepository) InsertAuditRecord(ctx context.Context, rec domain.AuditRecord) error {
	query := `
		INSERT INTO payment_audit_trail (id, member_id, gateway, reference, amount_cents, status, type, recorded_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8)
	`
	recordedAt := rec.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx, query,
		rec.ID, rec.MemberID, rec.Gateway, rec.Reference, rec.AmountCents, rec.Status, rec.Type, recordedAt)
	return err
}

// GetSyncWatermark returns the cursor for a poller job, zero time if never synced.
func (r *PostgresRepository) GetSyncWatermark(ctx context.Context, job string) (time.Time, error) {
	var ts time.Time
	err := r.db.QueryRow(ctx, `SELECT last_synced_at FROM sync_watermarks WHERE job = $1`, job).Scan(&ts)
	if err == pgx.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return ts, nil
}

// AdvanceSyncWatermark moves a job cursor forward. GREATEST keeps an overlapping
// slow run from dragging the cursor backwards.
func (r *PostgresRepository) AdvanceSyncWatermark(ctx context.Context, job string, to time.Time) error {
	query := `
		INSERT INTO sync_watermarks (job, last_synced_at)
		VALUES ($1, $2)
		ON CONFLICT (job) DO UPDATE
		SET last_synced_at = GREATEST(sync_watermarks.last_synced_at, EXCLUDED.last_synced_at)
	`
	_, err := r.db.Exec(ctx, query, job, to)
	return err
}
