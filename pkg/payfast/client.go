/**
 * @description
 * This package provides a minimal client for PayFast's server-to-server ITN
 * validation endpoint. The raw ITN body is replayed verbatim and PayFast
 * answers with a plain-text body containing the literal token VALID when the
 * notification matches a real payment on their side.
 *
 * @dependencies
 * - context, io, net/http, strings, time: Standard Go libraries.
 */
package payfast

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultValidateURL is PayFast's live validation endpoint.
const DefaultValidateURL = "https://www.payfast.co.za/eng/query/validate"

// Client calls PayFast's ITN validation endpoint.
type Client struct {
	ValidateURL string
	HTTPClient  *http.Client
}

// NewClient creates a new PayFast validation client. Pass "" to use the live endpoint.
func NewClient(validateURL string) *Client {
	if validateURL == "" {
		validateURL = DefaultValidateURL
	}
	return &Client{
		ValidateURL: validateURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ValidateITN replays the raw ITN body to PayFast and reports whether the
// gateway confirmed it. Transport failures are returned as errors so callers
// can treat them as transient rather than as a rejection.
func (c *Client) ValidateITN(ctx context.Context, rawBody string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ValidateURL, strings.NewReader(rawBody))
	if err != nil {
		return false, fmt.Errorf("building validation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "EmergiTag/1.0")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("validation request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return false, fmt.Errorf("reading validation response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("validation endpoint returned status %d", resp.StatusCode)
	}

	// PayFast answers VALID or INVALID; a substring check would accept both.
	return strings.TrimSpace(string(body)) == "VALID", nil
}
