package app

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/emergitag/payment-service/internal/domain"
	"github.com/emergitag/payment-service/internal/store"
	"github.com/emergitag/payment-service/pkg/paystack"
)

type stubPaystack struct {
	txPages  [][]paystack.TransactionRecord
	subPages [][]paystack.SubscriptionRecord
	txErrOn  int // 1-based page that fails; 0 = never
	txCalls  int
	lastFrom time.Time
}

func (s *stubPaystack) ListTransactions(ctx context.Context, from time.Time, page int) ([]paystack.TransactionRecord, bool, error) {
	s.txCalls++
	s.lastFrom = from
	if s.txErrOn != 0 && page == s.txErrOn {
		return nil, false, errors.New("paystack unavailable")
	}
	if page > len(s.txPages) {
		return nil, false, nil
	}
	return s.txPages[page-1], page < len(s.txPages), nil
}

func (s *stubPaystack) ListSubscriptions(ctx context.Context, page int) ([]paystack.SubscriptionRecord, bool, error) {
	if page > len(s.subPages) {
		return nil, false, nil
	}
	return s.subPages[page-1], page < len(s.subPages), nil
}

func successTx(id int64, email, memberID string, paidAt time.Time) paystack.TransactionRecord {
	return paystack.TransactionRecord{
		ID:        id,
		Reference: "ref-" + strconv.FormatInt(id, 10),
		Status:    "success",
		Amount:    14900,
		PaidAt:    paidAt,
		Customer:  paystack.Customer{ID: id, Email: email},
		Metadata:  paystack.Metadata{MemberID: memberID},
	}
}

func TestCheckPayments_CatchesUpDroppedWebhook(t *testing.T) {
	repo := store.NewMemoryRepository()
	producer := &recordingPublisher{}
	ctx := context.Background()

	if _, err := repo.GetOrCreateProfile(ctx, "M1", "jane@example.com", ""); err != nil {
		t.Fatal(err)
	}

	paidAt := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	client := &stubPaystack{
		txPages: [][]paystack.TransactionRecord{
			{successTx(101, "jane@example.com", "M1", paidAt)},
		},
	}
	jobs := NewJobs(repo, client, producer, testLogger())

	jobs.CheckPayments()

	if repo.TransactionCount() != 1 {
		t.Fatalf("ledger rows = %d, want 1", repo.TransactionCount())
	}
	p, err := repo.GetProfile(ctx, "M1")
	if err != nil {
		t.Fatal(err)
	}
	if !p.SignUpPaid {
		t.Fatal("dropped webhook must be caught up into the profile")
	}
	if p.PaymentGateway != domain.GatewayPaystack {
		t.Fatalf("gateway = %q, want paystack", p.PaymentGateway)
	}
	if got := len(repo.AuditRecords()); got != 1 {
		t.Fatalf("audit records = %d, want 1", got)
	}

	wm, err := repo.GetSyncWatermark(ctx, jobPaystackPayments)
	if err != nil {
		t.Fatal(err)
	}
	if !wm.Equal(paidAt) {
		t.Fatalf("watermark = %v, want %v", wm, paidAt)
	}
}

func TestCheckPayments_SecondRunIsANoOp(t *testing.T) {
	repo := store.NewMemoryRepository()
	producer := &recordingPublisher{}
	ctx := context.Background()

	if _, err := repo.GetOrCreateProfile(ctx, "M1", "jane@example.com", ""); err != nil {
		t.Fatal(err)
	}
	paidAt := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	client := &stubPaystack{
		txPages: [][]paystack.TransactionRecord{
			{successTx(101, "jane@example.com", "M1", paidAt)},
		},
	}
	jobs := NewJobs(repo, client, producer, testLogger())

	jobs.CheckPayments()
	jobs.CheckPayments()

	if repo.TransactionCount() != 1 {
		t.Fatalf("ledger rows = %d after two runs, want 1", repo.TransactionCount())
	}
	if got := len(repo.AuditRecords()); got != 1 {
		t.Fatalf("audit records = %d after two runs, want 1", got)
	}
	// Second run must query from the advanced watermark.
	if !client.lastFrom.Equal(paidAt) {
		t.Fatalf("second run queried from %v, want %v", client.lastFrom, paidAt)
	}
}

func TestCheckPayments_ResolvesMemberByEmailFallback(t *testing.T) {
	repo := store.NewMemoryRepository()
	producer := &recordingPublisher{}
	ctx := context.Background()

	if _, err := repo.GetOrCreateProfile(ctx, "M2", "bob@example.com", ""); err != nil {
		t.Fatal(err)
	}
	client := &stubPaystack{
		txPages: [][]paystack.TransactionRecord{
			{successTx(202, "bob@example.com", "", time.Date(2026, 8, 29, 11, 0, 0, 0, time.UTC))},
		},
	}
	jobs := NewJobs(repo, client, producer, testLogger())

	jobs.CheckPayments()

	p, err := repo.GetProfile(ctx, "M2")
	if err != nil {
		t.Fatal(err)
	}
	if !p.SignUpPaid {
		t.Fatal("member must be resolved via email when metadata carries no id")
	}
	if producer.countByKey("payment.alert") != 0 {
		t.Fatal("resolved payment must not raise an unresolved-owner alert")
	}
}

func TestCheckPayments_UnresolvedOwnerAlertsButRecords(t *testing.T) {
	repo := store.NewMemoryRepository()
	producer := &recordingPublisher{}
	client := &stubPaystack{
		txPages: [][]paystack.TransactionRecord{
			{successTx(303, "stranger@example.com", "", time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC))},
		},
	}
	jobs := NewJobs(repo, client, producer, testLogger())

	jobs.CheckPayments()

	if repo.TransactionCount() != 1 {
		t.Fatal("unresolved payment must still be recorded")
	}
	if producer.countByKey("payment.alert") != 1 {
		t.Fatalf("alerts = %d, want 1", producer.countByKey("payment.alert"))
	}
}

func TestSyncPayments_WatermarkHaltsAtLastGoodItemOnPageError(t *testing.T) {
	repo := store.NewMemoryRepository()
	producer := &recordingPublisher{}
	ctx := context.Background()

	if _, err := repo.GetOrCreateProfile(ctx, "M1", "jane@example.com", ""); err != nil {
		t.Fatal(err)
	}

	t1 := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	client := &stubPaystack{
		txPages: [][]paystack.TransactionRecord{
			{
				successTx(401, "jane@example.com", "M1", t1),
				successTx(402, "jane@example.com", "M1", t2),
			},
			{}, // never reached
		},
		txErrOn: 2,
	}
	jobs := NewJobs(repo, client, producer, testLogger())

	jobs.CheckPayments()

	// Page one applied in full; the failure on page two must leave the
	// watermark at the last applied item so the next run resumes there.
	if repo.TransactionCount() != 2 {
		t.Fatalf("ledger rows = %d, want 2", repo.TransactionCount())
	}
	wm, err := repo.GetSyncWatermark(ctx, jobPaystackPayments)
	if err != nil {
		t.Fatal(err)
	}
	if !wm.Equal(t2) {
		t.Fatalf("watermark = %v, want %v", wm, t2)
	}
}

func TestRunDailySync_ReconcilesSubscriptionDivergence(t *testing.T) {
	repo := store.NewMemoryRepository()
	producer := &recordingPublisher{}
	ctx := context.Background()

	if _, err := repo.GetOrCreateProfile(ctx, "M1", "jane@example.com", ""); err != nil {
		t.Fatal(err)
	}

	client := &stubPaystack{
		subPages: [][]paystack.SubscriptionRecord{
			{
				{
					SubscriptionCode: "SUB_1",
					Status:           "active",
					Plan:             paystack.Plan{Name: "Gold", Interval: "monthly"},
					Customer:         paystack.Customer{ID: 1, Email: "jane@example.com"},
				},
			},
		},
	}
	jobs := NewJobs(repo, client, producer, testLogger())

	jobs.RunDailySync()

	p, err := repo.GetProfile(ctx, "M1")
	if err != nil {
		t.Fatal(err)
	}
	if !p.SubscriptionActive {
		t.Fatal("gateway-active subscription must activate the profile")
	}
	if p.MembershipTier != "Gold" {
		t.Fatalf("tier = %q, want Gold", p.MembershipTier)
	}

	// Converged state: a second sweep writes nothing new.
	before := p.UpdatedAt
	jobs.RunDailySync()
	p, _ = repo.GetProfile(ctx, "M1")
	if !p.UpdatedAt.Equal(before) {
		t.Fatal("identical gateway snapshot must not rewrite the profile")
	}
}

func TestRunDailySync_StaleCancelledRecordDoesNotDeactivate(t *testing.T) {
	active := paystack.SubscriptionRecord{
		SubscriptionCode: "SUB_NEW",
		Status:           "active",
		Plan:             paystack.Plan{Name: "Gold", Interval: "monthly"},
		Customer:         paystack.Customer{ID: 1, Email: "jane@example.com"},
	}
	cancelled := paystack.SubscriptionRecord{
		SubscriptionCode: "SUB_OLD",
		Status:           "cancelled",
		Plan:             paystack.Plan{Name: "Silver", Interval: "monthly"},
		Customer:         paystack.Customer{ID: 1, Email: "jane@example.com"},
	}

	// A churned-and-resubscribed customer carries both records; the gateway's
	// list order must not decide the outcome.
	orders := map[string][]paystack.SubscriptionRecord{
		"active first":   {active, cancelled},
		"cancelled last": {cancelled, active},
		"across pages":   nil, // records split over two pages, active on the later one
	}

	for name, records := range orders {
		t.Run(name, func(t *testing.T) {
			repo := store.NewMemoryRepository()
			ctx := context.Background()
			if _, err := repo.GetOrCreateProfile(ctx, "M1", "jane@example.com", ""); err != nil {
				t.Fatal(err)
			}

			client := &stubPaystack{}
			if records != nil {
				client.subPages = [][]paystack.SubscriptionRecord{records}
			} else {
				client.subPages = [][]paystack.SubscriptionRecord{{cancelled}, {active}}
			}
			jobs := NewJobs(repo, client, &recordingPublisher{}, testLogger())

			jobs.RunDailySync()

			p, err := repo.GetProfile(ctx, "M1")
			if err != nil {
				t.Fatal(err)
			}
			if !p.SubscriptionActive {
				t.Fatal("an active record must win over a stale cancelled one regardless of order")
			}
			if p.MembershipTier != "Gold" {
				t.Fatalf("tier = %q, want Gold from the active record", p.MembershipTier)
			}
		})
	}
}

func TestRunDailySync_UnknownSubscriberIsSkipped(t *testing.T) {
	repo := store.NewMemoryRepository()
	producer := &recordingPublisher{}
	client := &stubPaystack{
		subPages: [][]paystack.SubscriptionRecord{
			{
				{
					SubscriptionCode: "SUB_9",
					Status:           "active",
					Plan:             paystack.Plan{Name: "Gold"},
					Customer:         paystack.Customer{Email: "nobody@example.com"},
				},
			},
		},
	}
	jobs := NewJobs(repo, client, producer, testLogger())

	// Must complete without creating phantom profiles.
	jobs.RunDailySync()

	if _, err := repo.GetProfile(context.Background(), "nobody@example.com"); !errors.Is(err, store.ErrProfileNotFound) {
		t.Fatal("unknown subscriber must not create a profile")
	}
}

func TestApplyTransaction_StatusMapping(t *testing.T) {
	tests := []struct {
		gwStatus string
		want     domain.TransactionStatus
	}{
		{"success", domain.StatusSuccess},
		{"failed", domain.StatusFailed},
		{"abandoned", domain.StatusFailed},
		{"reversed", domain.StatusFailed},
		{"ongoing", domain.StatusPending},
	}

	for _, tt := range tests {
		repo := store.NewMemoryRepository()
		jobs := NewJobs(repo, &stubPaystack{}, &recordingPublisher{}, testLogger())
		ctx := context.Background()
		if _, err := repo.GetOrCreateProfile(ctx, "M1", "jane@example.com", ""); err != nil {
			t.Fatal(err)
		}

		rec := successTx(500, "jane@example.com", "M1", time.Now().UTC())
		rec.Status = tt.gwStatus
		if err := jobs.applyTransaction(ctx, rec); err != nil {
			t.Fatalf("status %q: %v", tt.gwStatus, err)
		}

		tx, err := repo.LatestSuccessfulTransaction(ctx, "M1")
		if tt.want == domain.StatusSuccess {
			if err != nil {
				t.Fatalf("status %q: expected a successful ledger row, got %v", tt.gwStatus, err)
			}
			if tx.Status != domain.StatusSuccess {
				t.Fatalf("status %q mapped to %q", tt.gwStatus, tx.Status)
			}
		} else if err == nil {
			t.Fatalf("status %q must not produce a successful ledger row", tt.gwStatus)
		}

		p, _ := repo.GetProfile(ctx, "M1")
		if p.SignUpPaid != (tt.want == domain.StatusSuccess) {
			t.Fatalf("status %q: sign_up_paid = %v", tt.gwStatus, p.SignUpPaid)
		}
	}
}
