/**
 * @description
 * In-memory implementation of the Repository interface. Used by unit tests and
 * local development without Postgres. Mirrors the semantics of the Postgres
 * implementation: uniqueness on member id and (gateway, payment_id), monotonic
 * signup flag, write-on-divergence subscription updates, forward-only watermarks.
 */
package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/emergitag/payment-service/internal/domain"
)

type ledgerKey struct {
	gateway   domain.Gateway
	paymentID string
}

// MemoryRepository is a mutex-guarded Repository for tests and local runs.
type MemoryRepository struct {
	mu         sync.Mutex
	profiles   map[string]*domain.MemberProfile
	ledger     map[ledgerKey]domain.Transaction
	audit      []domain.AuditRecord
	watermarks map[string]time.Time
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		profiles:   make(map[string]*domain.MemberProfile),
		ledger:     make(map[ledgerKey]domain.Transaction),
		watermarks: make(map[string]time.Time),
	}
}

func (m *MemoryRepository) GetOrCreateProfile(ctx context.Context, memberID, email, fullName string) (*domain.MemberProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.profiles[memberID]; ok {
		cp := *p
		return &cp, nil
	}
	now := time.Now().UTC()
	p := &domain.MemberProfile{
		MemberID:       memberID,
		Email:          email,
		FullName:       fullName,
		PaymentGateway: domain.GatewayNone,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.profiles[memberID] = p
	cp := *p
	return &cp, nil
}

func (m *MemoryRepository) GetProfile(ctx context.Context, memberID string) (*domain.MemberProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[memberID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryRepository) FindProfileByEmail(ctx context.Context, email string) (*domain.MemberProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.profiles {
		if strings.EqualFold(p.Email, email) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrProfileNotFound
}

func (m *MemoryRepository) ApplySignupPayment(ctx context.Context, memberID string, gateway domain.Gateway, reference string, paidAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[memberID]
	if !ok {
		return ErrProfileNotFound
	}
	p.SignUpPaid = true
	if p.LastPaymentDate == nil || !p.LastPaymentDate.After(paidAt) {
		p.PaymentGateway = gateway
		p.LastPaymentReference = reference
		t := paidAt
		p.LastPaymentDate = &t
	}
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryRepository) ApplySubscription(ctx context.Context, memberID, tier string, active bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[memberID]
	if !ok {
		return false, ErrProfileNotFound
	}
	diverged := p.SubscriptionActive != active || (active && p.MembershipTier != tier)
	if !diverged {
		return false, nil
	}
	p.SubscriptionActive = active
	if active {
		p.SignUpPaid = true
		p.MembershipTier = tier
	}
	p.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MemoryRepository) RecordTransactionIfNew(ctx context.Context, tx domain.Transaction) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ledgerKey{gateway: tx.Gateway, paymentID: tx.PaymentID}
	if _, ok := m.ledger[key]; ok {
		return false, nil
	}
	if tx.RecordedAt.IsZero() {
		tx.RecordedAt = time.Now().UTC()
	}
	m.ledger[key] = tx
	return true, nil
}

func (m *MemoryRepository) LatestSuccessfulTransaction(ctx context.Context, memberID string) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *domain.Transaction
	for key := range m.ledger {
		tx := m.ledger[key]
		if tx.MemberID != memberID || tx.Status != domain.StatusSuccess {
			continue
		}
		if latest == nil || tx.RecordedAt.After(latest.RecordedAt) {
			cp := tx
			latest = &cp
		}
	}
	if latest == nil {
		return nil, ErrTransactionNotFound
	}
	return latest, nil
}

func (m *MemoryRepository) InsertAuditRecord(ctx context.Context, rec domain.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	m.audit = append(m.audit, rec)
	return nil
}

func (m *MemoryRepository) GetSyncWatermark(ctx context.Context, job string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watermarks[job], nil
}

func (m *MemoryRepository) AdvanceSyncWatermark(ctx context.Context, job string, to time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if to.After(m.watermarks[job]) {
		m.watermarks[job] = to
	}
	return nil
}

// TransactionCount reports how many ledger rows exist. Test helper.
func (m *MemoryRepository) TransactionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ledger)
}

// AuditRecords returns a copy of the audit trail. Test helper.
func (m *MemoryRepository) AuditRecords() []domain.AuditRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.AuditRecord, len(m.audit))
	copy(out, m.audit)
	return out
}
