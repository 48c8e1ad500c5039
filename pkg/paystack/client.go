/**
 * @description
 * This package provides a client for the Paystack REST API. It covers the
 * endpoints the reconciliation core pulls from: transaction listing (paginated,
 * filterable by a "changed since" timestamp), subscription listing, and
 * customer lookup by email (which embeds the customer's subscriptions).
 * Authenticity of pulled data comes from the authenticated call itself, so no
 * signature verification applies on this path.
 *
 * @dependencies
 * - context, encoding/json, fmt, net/http, net/url, time: Standard Go libraries.
 */
package paystack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DefaultBaseURL is Paystack's live API host.
const DefaultBaseURL = "https://api.paystack.co"

// ErrNotFound is returned when Paystack has no record for the requested resource.
var ErrNotFound = errors.New("paystack resource not found")

const defaultPageSize = 50

// Client is an authenticated Paystack API client.
type Client struct {
	BaseURL    string
	SecretKey  string
	HTTPClient *http.Client
}

// NewClient creates a new Paystack API client. Pass "" for baseURL to use the live host.
func NewClient(baseURL, secretKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL:   baseURL,
		SecretKey: secretKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// TransactionRecord is a single entry from GET /transaction.
type TransactionRecord struct {
	ID        int64     `json:"id"`
	Reference string    `json:"reference"`
	Status    string    `json:"status"` // "success", "failed", "abandoned", ...
	Amount    int64     `json:"amount"` // minor units
	PaidAt    time.Time `json:"paid_at"`
	Customer  Customer  `json:"customer"`
	Metadata  Metadata  `json:"metadata"`
}

// Customer is the customer object embedded in transactions and subscriptions.
type Customer struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

// Metadata carries the passthrough fields set at checkout time.
type Metadata struct {
	MemberID string `json:"member_id"`
}

// UnmarshalJSON tolerates Paystack returning metadata as "" or null for
// transactions created without any metadata.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	if string(data) == "null" || string(data) == `""` {
		return nil
	}
	type alias Metadata
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return nil // malformed metadata is treated as absent
	}
	*m = Metadata(a)
	return nil
}

// Plan describes the plan attached to a subscription.
type Plan struct {
	Name     string `json:"name"`
	Interval string `json:"interval"` // "monthly", "annually", ...
}

// SubscriptionRecord is a single entry from GET /subscription or a customer lookup.
type SubscriptionRecord struct {
	SubscriptionCode string   `json:"subscription_code"`
	Status           string   `json:"status"` // "active", "cancelled", "non-renewing", ...
	Plan             Plan     `json:"plan"`
	Customer         Customer `json:"customer"`
}

// Active reports whether the subscription is currently billing.
func (s SubscriptionRecord) Active() bool {
	return s.Status == "active" || s.Status == "non-renewing"
}

// CustomerRecord is the response of GET /customer/{email}.
type CustomerRecord struct {
	ID            int64                `json:"id"`
	Email         string               `json:"email"`
	Subscriptions []SubscriptionRecord `json:"subscriptions"`
}

type apiEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Meta    struct {
		Page      int `json:"page"`
		PageCount int `json:"pageCount"`
	} `json:"meta"`
}

func (c *Client) get(ctx context.Context, path string, query url.Values) (*apiEnvelope, error) {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("paystack request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading paystack response: %w", err)
	}

	var env apiEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decoding paystack response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK || !env.Status {
		return nil, fmt.Errorf("paystack api error (status %d): %s", resp.StatusCode, env.Message)
	}
	return &env, nil
}

// ListTransactions returns one page of transactions updated at or after `from`.
// A zero `from` lists from the beginning. The bool result reports whether more
// pages remain.
func (c *Client) ListTransactions(ctx context.Context, from time.Time, page int) ([]TransactionRecord, bool, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("perPage", strconv.Itoa(defaultPageSize))
	if !from.IsZero() {
		q.Set("from", from.UTC().Format(time.RFC3339))
	}
	env, err := c.get(ctx, "/transaction", q)
	if err != nil {
		return nil, false, err
	}
	var txs []TransactionRecord
	if err := json.Unmarshal(env.Data, &txs); err != nil {
		return nil, false, fmt.Errorf("decoding transaction list: %w", err)
	}
	return txs, env.Meta.Page < env.Meta.PageCount, nil
}

// ListSubscriptions returns one page of subscriptions and whether more pages remain.
func (c *Client) ListSubscriptions(ctx context.Context, page int) ([]SubscriptionRecord, bool, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("perPage", strconv.Itoa(defaultPageSize))
	env, err := c.get(ctx, "/subscription", q)
	if err != nil {
		return nil, false, err
	}
	var subs []SubscriptionRecord
	if err := json.Unmarshal(env.Data, &subs); err != nil {
		return nil, false, fmt.Errorf("decoding subscription list: %w", err)
	}
	return subs, env.Meta.Page < env.Meta.PageCount, nil
}

// FindCustomerByEmail fetches a customer with embedded subscriptions, or nil
// when Paystack has no customer for the address.
func (c *Client) FindCustomerByEmail(ctx context.Context, email string) (*CustomerRecord, error) {
	env, err := c.get(ctx, "/customer/"+url.PathEscape(email), nil)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cust CustomerRecord
	if err := json.Unmarshal(env.Data, &cust); err != nil {
		return nil, fmt.Errorf("decoding customer: %w", err)
	}
	if cust.ID == 0 {
		return nil, nil
	}
	return &cust, nil
}

// ListCustomerTransactions returns one page of a single customer's transactions.
func (c *Client) ListCustomerTransactions(ctx context.Context, customerID int64, page int) ([]TransactionRecord, bool, error) {
	q := url.Values{}
	q.Set("customer", strconv.FormatInt(customerID, 10))
	q.Set("page", strconv.Itoa(page))
	q.Set("perPage", strconv.Itoa(defaultPageSize))
	env, err := c.get(ctx, "/transaction", q)
	if err != nil {
		return nil, false, err
	}
	var txs []TransactionRecord
	if err := json.Unmarshal(env.Data, &txs); err != nil {
		return nil, false, fmt.Errorf("decoding transaction list: %w", err)
	}
	return txs, env.Meta.Page < env.Meta.PageCount, nil
}
