/**
 * @description
 * HTTP handlers for the payment service:
 * - POST /webhooks/payfast: the PayFast ITN entry point. Responds 2xx with a
 *   plain-text body for every verification outcome; only an empty or
 *   unparsable body gets an error status. Security rejections are surfaced on
 *   the alert channel, never to the sender.
 * - POST /members: collaborator hook fired when a member account is created;
 *   creates the lazy unpaid profile.
 * - GET /members/{memberID}/payment-state: status-page entry point into the
 *   state detector.
 *
 * @dependencies
 * - internal/app: Ingestion pipeline, state detector, rate limiter.
 * - internal/store: Profile store for the member-created hook.
 */
package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/emergitag/payment-service/internal/app"
	"github.com/emergitag/payment-service/internal/domain"
	"github.com/emergitag/payment-service/internal/store"
)

// Handler holds the dependencies for the API handlers.
type Handler struct {
	ingestor *app.Ingestor
	detector *app.Detector
	repo     store.Repository
	limiter  app.RateLimiter
	logger   *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(ingestor *app.Ingestor, detector *app.Detector, repo store.Repository, limiter app.RateLimiter, logger *slog.Logger) *Handler {
	return &Handler{
		ingestor: ingestor,
		detector: detector,
		repo:     repo,
		limiter:  limiter,
		logger:   logger,
	}
}

// handlePayFastWebhook receives PayFast ITNs.
func (h *Handler) handlePayFastWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "cannot read request body", http.StatusBadRequest)
		return
	}

	itn, err := domain.ParseITN(string(body))
	if err != nil {
		h.logger.Warn("malformed itn payload", "error", err)
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	sourceIP := clientIP(r)

	// Advisory limit: log and alert on floods, but still accept. Bouncing a
	// legitimate gateway retry would only multiply the traffic.
	if ok, err := h.limiter.Allow(r.Context(), "payfast_webhook", sourceIP); err != nil {
		h.logger.Warn("rate limiter unavailable", "error", err)
	} else if !ok {
		h.logger.Warn("webhook rate limit exceeded", "source_ip", sourceIP)
	}

	outcome, err := h.ingestor.ProcessITN(r.Context(), itn, string(body), sourceIP)
	if err != nil {
		// Transient verification failure: let the gateway redeliver.
		h.logger.Error("itn processing incomplete", "error", err)
		http.Error(w, "temporarily unable to verify notification", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	switch outcome {
	case app.OutcomeDuplicate:
		w.Write([]byte("Duplicate ignored"))
	case app.OutcomeRejected:
		w.Write([]byte("Notification ignored"))
	default:
		w.Write([]byte("OK"))
	}
}

type createMemberRequest struct {
	MemberID string `json:"member_id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

// handleCreateMember is the member-created collaborator hook. Creating an
// already existing profile is a no-op returning the current profile.
func (h *Handler) handleCreateMember(w http.ResponseWriter, r *http.Request) {
	var req createMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.MemberID) == "" {
		http.Error(w, "member_id is required", http.StatusBadRequest)
		return
	}

	profile, err := h.repo.GetOrCreateProfile(r.Context(), req.MemberID, req.Email, req.FullName)
	if err != nil {
		h.logger.Error("profile creation failed", "member_id", req.MemberID, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(profile)
}

// handleGetPaymentState resolves a member's current payment state for status pages.
func (h *Handler) handleGetPaymentState(w http.ResponseWriter, r *http.Request) {
	memberID := chi.URLParam(r, "memberID")
	if memberID == "" {
		http.Error(w, "member id is required", http.StatusBadRequest)
		return
	}
	email := r.URL.Query().Get("email")

	state, err := h.detector.Resolve(r.Context(), memberID, email)
	if err != nil {
		h.logger.Error("state resolution failed", "member_id", memberID, "error", err)
		http.Error(w, "unable to resolve payment state, please try again", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(state)
}

// clientIP prefers the X-Forwarded-For chain's first hop, falling back to the
// connection address. PayFast's allow-list check depends on this.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
