package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"testing"

	"github.com/emergitag/payment-service/internal/domain"
	"github.com/emergitag/payment-service/internal/store"
	"github.com/emergitag/payment-service/internal/verify"
)

const (
	trustedIP  = "197.97.145.144"
	passphrase = "test-passphrase"
)

type publishedEvent struct {
	routingKey string
	body       interface{}
}

type recordingPublisher struct {
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, publishedEvent{routingKey: routingKey, body: body})
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) countByKey(key string) int {
	n := 0
	for _, e := range p.events {
		if e.routingKey == key {
			n++
		}
	}
	return n
}

type stubValidator struct {
	valid bool
	err   error
}

func (s *stubValidator) ValidateITN(ctx context.Context, rawBody string) (bool, error) {
	return s.valid, s.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestIngestor(repo store.Repository, producer *recordingPublisher, validator verify.Validator) *Ingestor {
	verifier := verify.NewVerifier([]string{trustedIP}, passphrase, validator, testLogger())
	return NewIngestor(repo, verifier, producer, testLogger())
}

// signedITN builds a verifiable ITN body and its parsed form.
func signedITN(t *testing.T, overrides map[string]string) (*domain.ITN, string) {
	t.Helper()
	params := map[string]string{
		"pf_payment_id":  "pf_123",
		"payment_status": "COMPLETE",
		"amount_gross":   "149.00",
		"m_payment_id":   "M1",
		"email_address":  "jane@example.com",
	}
	for k, v := range overrides {
		if v == "" {
			delete(params, k)
			continue
		}
		params[k] = v
	}
	params["signature"] = verify.Signature(params, passphrase)

	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	body := form.Encode()

	itn, err := domain.ParseITN(body)
	if err != nil {
		t.Fatalf("building test ITN: %v", err)
	}
	return itn, body
}

func TestProcessITN_ValidPaymentAppliesEverything(t *testing.T) {
	repo := store.NewMemoryRepository()
	producer := &recordingPublisher{}
	ingestor := newTestIngestor(repo, producer, &stubValidator{valid: true})
	ctx := context.Background()

	if _, err := repo.GetOrCreateProfile(ctx, "M1", "jane@example.com", "Jane Doe"); err != nil {
		t.Fatal(err)
	}

	itn, body := signedITN(t, nil)
	outcome, err := ingestor.ProcessITN(ctx, itn, body, trustedIP)
	if err != nil {
		t.Fatalf("ProcessITN returned error: %v", err)
	}
	if outcome != OutcomeProcessed {
		t.Fatalf("outcome = %q, want processed", outcome)
	}

	if repo.TransactionCount() != 1 {
		t.Fatalf("ledger rows = %d, want 1", repo.TransactionCount())
	}
	p, err := repo.GetProfile(ctx, "M1")
	if err != nil {
		t.Fatal(err)
	}
	if !p.SignUpPaid {
		t.Fatal("sign_up_paid must be true after a COMPLETE payment")
	}
	if p.PaymentGateway != domain.GatewayPayFast {
		t.Fatalf("gateway = %q, want payfast", p.PaymentGateway)
	}
	if p.LastPaymentReference != "pf_123" {
		t.Fatalf("reference = %q, want pf_123", p.LastPaymentReference)
	}
	if got := len(repo.AuditRecords()); got != 1 {
		t.Fatalf("audit records = %d, want 1", got)
	}
	if producer.countByKey("payment.confirmed") != 1 {
		t.Fatalf("confirmations = %d, want 1", producer.countByKey("payment.confirmed"))
	}
}

func TestProcessITN_RedeliveryIsANoOp(t *testing.T) {
	repo := store.NewMemoryRepository()
	producer := &recordingPublisher{}
	ingestor := newTestIngestor(repo, producer, &stubValidator{valid: true})
	ctx := context.Background()

	if _, err := repo.GetOrCreateProfile(ctx, "M1", "jane@example.com", ""); err != nil {
		t.Fatal(err)
	}

	itn, body := signedITN(t, nil)
	if _, err := ingestor.ProcessITN(ctx, itn, body, trustedIP); err != nil {
		t.Fatal(err)
	}
	wantProfile, _ := repo.GetProfile(ctx, "M1")

	for i := 0; i < 3; i++ {
		outcome, err := ingestor.ProcessITN(ctx, itn, body, trustedIP)
		if err != nil {
			t.Fatal(err)
		}
		if outcome != OutcomeDuplicate {
			t.Fatalf("redelivery %d outcome = %q, want duplicate", i, outcome)
		}
	}

	if repo.TransactionCount() != 1 {
		t.Fatalf("ledger rows = %d, want 1 after redeliveries", repo.TransactionCount())
	}
	if got := len(repo.AuditRecords()); got != 1 {
		t.Fatalf("audit records = %d, want 1 after redeliveries", got)
	}
	if producer.countByKey("payment.confirmed") != 1 {
		t.Fatal("redelivery must not emit a second confirmation")
	}
	gotProfile, _ := repo.GetProfile(ctx, "M1")
	if gotProfile.SignUpPaid != wantProfile.SignUpPaid ||
		gotProfile.LastPaymentReference != wantProfile.LastPaymentReference {
		t.Fatal("profile state changed on redelivery")
	}
}

func TestProcessITN_UntrustedSourceRecordsNothingAndAlerts(t *testing.T) {
	repo := store.NewMemoryRepository()
	producer := &recordingPublisher{}
	ingestor := newTestIngestor(repo, producer, &stubValidator{valid: true})

	itn, body := signedITN(t, nil)
	outcome, err := ingestor.ProcessITN(context.Background(), itn, body, "203.0.113.9")
	if err != nil {
		t.Fatalf("rejections must not error: %v", err)
	}
	if outcome != OutcomeRejected {
		t.Fatalf("outcome = %q, want rejected", outcome)
	}
	if repo.TransactionCount() != 0 {
		t.Fatal("rejected notification must not reach the ledger")
	}
	if producer.countByKey("payment.alert") != 1 {
		t.Fatalf("alerts = %d, want 1", producer.countByKey("payment.alert"))
	}
}

func TestProcessITN_InvalidSignatureIsRejected(t *testing.T) {
	repo := store.NewMemoryRepository()
	producer := &recordingPublisher{}
	ingestor := newTestIngestor(repo, producer, &stubValidator{valid: true})

	itn, body := signedITN(t, nil)
	itn.Values["amount_gross"] = "9999.00" // tamper after signing

	outcome, err := ingestor.ProcessITN(context.Background(), itn, body, trustedIP)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeRejected {
		t.Fatalf("outcome = %q, want rejected", outcome)
	}
	if repo.TransactionCount() != 0 {
		t.Fatal("tampered notification must not reach the ledger")
	}
}

func TestProcessITN_TransientValidationFailurePropagates(t *testing.T) {
	repo := store.NewMemoryRepository()
	producer := &recordingPublisher{}
	ingestor := newTestIngestor(repo, producer, &stubValidator{err: errors.New("timeout")})

	itn, body := signedITN(t, nil)
	_, err := ingestor.ProcessITN(context.Background(), itn, body, trustedIP)
	if err == nil {
		t.Fatal("transient verification failure must propagate so the gateway retries")
	}
	if repo.TransactionCount() != 0 {
		t.Fatal("event must not be marked processed on transient failure")
	}
	if producer.countByKey("payment.alert") != 0 {
		t.Fatal("transient failures are not security rejections")
	}
}

func TestProcessITN_UnresolvedOwnerStillRecorded(t *testing.T) {
	repo := store.NewMemoryRepository()
	producer := &recordingPublisher{}
	ingestor := newTestIngestor(repo, producer, &stubValidator{valid: true})

	itn, body := signedITN(t, map[string]string{"m_payment_id": "", "email_address": ""})
	outcome, err := ingestor.ProcessITN(context.Background(), itn, body, trustedIP)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeOrphaned {
		t.Fatalf("outcome = %q, want orphaned", outcome)
	}
	if repo.TransactionCount() != 1 {
		t.Fatal("orphaned transaction must still be recorded for audit")
	}
	if got := len(repo.AuditRecords()); got != 1 {
		t.Fatalf("audit records = %d, want 1", got)
	}
	if producer.countByKey("payment.alert") != 1 {
		t.Fatal("expected an unresolved-owner warning alert")
	}
	if producer.countByKey("payment.confirmed") != 0 {
		t.Fatal("orphaned payment must not emit a confirmation")
	}
}

func TestProcessITN_FailedPaymentDoesNotMarkPaid(t *testing.T) {
	repo := store.NewMemoryRepository()
	producer := &recordingPublisher{}
	ingestor := newTestIngestor(repo, producer, &stubValidator{valid: true})
	ctx := context.Background()

	if _, err := repo.GetOrCreateProfile(ctx, "M1", "jane@example.com", ""); err != nil {
		t.Fatal(err)
	}

	itn, body := signedITN(t, map[string]string{"payment_status": "FAILED"})
	if _, err := ingestor.ProcessITN(ctx, itn, body, trustedIP); err != nil {
		t.Fatal(err)
	}

	if repo.TransactionCount() != 1 {
		t.Fatal("failed payment must still be recorded in the ledger")
	}
	p, _ := repo.GetProfile(ctx, "M1")
	if p.SignUpPaid {
		t.Fatal("failed payment must not mark the signup fee paid")
	}
	if producer.countByKey("payment.confirmed") != 0 {
		t.Fatal("failed payment must not emit a confirmation")
	}
}

func TestProcessITN_MonotonicSignupFlag(t *testing.T) {
	repo := store.NewMemoryRepository()
	producer := &recordingPublisher{}
	ingestor := newTestIngestor(repo, producer, &stubValidator{valid: true})
	ctx := context.Background()

	if _, err := repo.GetOrCreateProfile(ctx, "M1", "jane@example.com", ""); err != nil {
		t.Fatal(err)
	}

	itn, body := signedITN(t, nil)
	if _, err := ingestor.ProcessITN(ctx, itn, body, trustedIP); err != nil {
		t.Fatal(err)
	}

	// A later failed payment and a tampered event must not unset the flag.
	failed, failedBody := signedITN(t, map[string]string{"pf_payment_id": "pf_124", "payment_status": "FAILED"})
	if _, err := ingestor.ProcessITN(ctx, failed, failedBody, trustedIP); err != nil {
		t.Fatal(err)
	}
	tampered, tamperedBody := signedITN(t, map[string]string{"pf_payment_id": "pf_125"})
	tampered.Values["amount_gross"] = "0.01"
	if _, err := ingestor.ProcessITN(ctx, tampered, tamperedBody, trustedIP); err != nil {
		t.Fatal(err)
	}

	p, _ := repo.GetProfile(ctx, "M1")
	if !p.SignUpPaid {
		t.Fatal("sign_up_paid must stay true regardless of subsequent events")
	}
}

func TestProcessITN_OutOfOrderArrivalsConvergeOnLatest(t *testing.T) {
	repo := store.NewMemoryRepository()
	producer := &recordingPublisher{}
	ingestor := newTestIngestor(repo, producer, &stubValidator{valid: true})
	ctx := context.Background()

	if _, err := repo.GetOrCreateProfile(ctx, "M1", "jane@example.com", ""); err != nil {
		t.Fatal(err)
	}

	// ITNs carry no gateway timestamp, so each event is stamped at arrival:
	// whichever arrives second holds the later recorded-at and must win the
	// bookkeeping fields, whatever its gateway-side payment id suggests.
	first, firstBody := signedITN(t, map[string]string{"pf_payment_id": "pf_200"})
	second, secondBody := signedITN(t, map[string]string{"pf_payment_id": "pf_100"})

	if _, err := ingestor.ProcessITN(ctx, first, firstBody, trustedIP); err != nil {
		t.Fatal(err)
	}
	if _, err := ingestor.ProcessITN(ctx, second, secondBody, trustedIP); err != nil {
		t.Fatal(err)
	}

	p, _ := repo.GetProfile(ctx, "M1")
	if !p.SignUpPaid {
		t.Fatal("sign_up_paid must be true")
	}
	if p.LastPaymentReference != "pf_100" {
		t.Fatalf("reference = %q, want pf_100 (the event with the later recorded-at)", p.LastPaymentReference)
	}
	latest, err := repo.LatestSuccessfulTransaction(ctx, "M1")
	if err != nil {
		t.Fatal(err)
	}
	if p.LastPaymentDate == nil || !p.LastPaymentDate.Equal(latest.RecordedAt) {
		t.Fatalf("last payment date = %v, want %v (latest ledger entry)", p.LastPaymentDate, latest.RecordedAt)
	}
}
