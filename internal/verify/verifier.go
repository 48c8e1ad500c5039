/**
 * @description
 * This file implements authenticity verification for inbound PayFast ITN
 * webhooks. Three independent gates run in order and any failure
 * short-circuits:
 *
 * 1. Source IP must be in PayFast's published allow-list.
 * 2. The MD5 parameter signature must match: every field except `signature`,
 *    keys sorted lexicographically, values URL-encoded (space as '+'), joined
 *    as key=value with '&', with `&passphrase=<secret>` appended when a shared
 *    passphrase is configured.
 * 3. A server-to-server re-validation call replays the exact raw body to
 *    PayFast's validate endpoint and must come back VALID. This catches
 *    spoofed traffic signed with a leaked passphrase that matches no
 *    gateway-side payment.
 *
 * A failed gate is a rejection, not an error: callers answer the gateway with
 * a 2xx and surface the rejection on the alert channel only. A validation call
 * that cannot complete (timeout, network) is a transient error instead, so the
 * gateway retries and the event is never silently dropped.
 *
 * @dependencies
 * - crypto/hmac, crypto/md5: Signature recomputation and constant-time compare.
 * - net/url: PayFast-compatible URL encoding of parameter values.
 */
package verify

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
)

// RejectReason classifies why an ITN failed verification.
type RejectReason string

const (
	ReasonUntrustedSource  RejectReason = "untrusted_source"
	ReasonInvalidSignature RejectReason = "invalid_signature"
	ReasonValidationFailed RejectReason = "validation_failed"
)

// RejectionError is returned when an ITN fails one of the verification gates.
// It is distinct from transport errors so callers can tell "reject and alert"
// apart from "retry later".
type RejectionError struct {
	Reason RejectReason
	Detail string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("itn rejected (%s): %s", e.Reason, e.Detail)
}

// Validator performs the server-to-server re-validation call against PayFast.
type Validator interface {
	ValidateITN(ctx context.Context, rawBody string) (bool, error)
}

// Verifier checks inbound ITN authenticity.
type Verifier struct {
	allowedIPs map[string]struct{}
	passphrase string
	validator  Validator
	logger     *slog.Logger
}

// NewVerifier creates a Verifier. An empty allow-list disables the IP gate,
// which is only intended for sandbox testing.
func NewVerifier(allowedIPs []string, passphrase string, validator Validator, logger *slog.Logger) *Verifier {
	ips := make(map[string]struct{}, len(allowedIPs))
	for _, ip := range allowedIPs {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			ips[ip] = struct{}{}
		}
	}
	return &Verifier{
		allowedIPs: ips,
		passphrase: passphrase,
		validator:  validator,
		logger:     logger,
	}
}

// Verify runs all three gates against a parsed ITN. params must contain every
// posted field including the signature. Returns nil when the event is
// authentic, a *RejectionError when a gate fails, and any other error when the
// re-validation call could not complete.
func (v *Verifier) Verify(ctx context.Context, params map[string]string, rawBody, sourceIP string) error {
	if len(v.allowedIPs) > 0 {
		if _, ok := v.allowedIPs[sourceIP]; !ok {
			return &RejectionError{Reason: ReasonUntrustedSource, Detail: fmt.Sprintf("source ip %s not in allow-list", sourceIP)}
		}
	}

	supplied := strings.ToLower(strings.TrimSpace(params["signature"]))
	if supplied == "" {
		return &RejectionError{Reason: ReasonInvalidSignature, Detail: "missing signature field"}
	}
	expected := Signature(params, v.passphrase)
	if !hmac.Equal([]byte(expected), []byte(supplied)) {
		return &RejectionError{Reason: ReasonInvalidSignature, Detail: "signature mismatch"}
	}

	valid, err := v.validator.ValidateITN(ctx, rawBody)
	if err != nil {
		return fmt.Errorf("itn re-validation call failed: %w", err)
	}
	if !valid {
		return &RejectionError{Reason: ReasonValidationFailed, Detail: "gateway did not confirm the notification"}
	}

	v.logger.Debug("itn verified", "source_ip", sourceIP)
	return nil
}

// Signature computes the hex MD5 parameter signature for an ITN field set.
// The signature field itself is excluded from the base string.
func Signature(params map[string]string, passphrase string) string {
	base := SignatureBase(params, passphrase)
	sum := md5.Sum([]byte(base))
	return hex.EncodeToString(sum[:])
}

// SignatureBase builds the canonical string the MD5 signature is computed over.
func SignatureBase(params map[string]string, passphrase string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	if passphrase != "" {
		b.WriteString("&passphrase=")
		b.WriteString(url.QueryEscape(passphrase))
	}
	return b.String()
}
