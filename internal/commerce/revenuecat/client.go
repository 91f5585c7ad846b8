// Package revenuecat implements the commerce feed on top of the RevenueCat REST API.
package revenuecat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/commerce/stream"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/entitlement"
)

const reasonSandboxInProduction = "sandbox purchase in production"

// APIError is a non-2xx answer from RevenueCat.
type APIError struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("revenuecat: status %d: %s", e.Status, e.Message)
}

// Temporary reports whether the failure is on RevenueCat's side.
func (e *APIError) Temporary() bool { return e.Status >= 500 }

type Options struct {
	BaseURL string
	APIKey  string
	Sandbox bool
	Timeout time.Duration
	Now     func() time.Time
}

type Client struct {
	baseURL    string
	apiKey     string
	sandbox    bool
	httpClient *http.Client
	now        func() time.Time
	catalog    *entitlement.Catalog
	updates    stream.Source
}

func NewClient(opts Options, catalog *entitlement.Catalog, updates stream.Source) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Client{
		baseURL:    opts.BaseURL,
		apiKey:     opts.APIKey,
		sandbox:    opts.Sandbox,
		httpClient: &http.Client{Timeout: timeout},
		now:        now,
		catalog:    catalog,
		updates:    updates,
	}
}

type subscriberResponse struct {
	Subscriber subscriber `json:"subscriber"`
}

type subscriber struct {
	OriginalAppUserID string                      `json:"original_app_user_id"`
	Subscriptions     map[string]subscription     `json:"subscriptions"`
	NonSubscriptions  map[string][]nonSubPurchase `json:"non_subscriptions"`
}

type subscription struct {
	PurchaseDate       time.Time  `json:"purchase_date"`
	ExpiresDate        *time.Time `json:"expires_date"`
	RefundedAt         *time.Time `json:"refunded_at"`
	IsSandbox          bool       `json:"is_sandbox"`
	StoreTransactionID string     `json:"store_transaction_id"`
}

type nonSubPurchase struct {
	ID                 string    `json:"id"`
	PurchaseDate       time.Time `json:"purchase_date"`
	IsSandbox          bool      `json:"is_sandbox"`
	StoreTransactionID string    `json:"store_transaction_id"`
}

func (s subscription) live(now time.Time) bool {
	if s.RefundedAt != nil {
		return false
	}
	return s.ExpiresDate == nil || s.ExpiresDate.After(now)
}

func (c *Client) Catalog(_ context.Context, ids []string) ([]entitlement.CatalogEntry, error) {
	return c.catalog.Entries(ids), nil
}

func (c *Client) TransactionUpdates(ctx context.Context) (<-chan entitlement.Update, error) {
	ch, err := c.updates.Subscribe(ctx)
	if err != nil {
		return nil, fmt.Errorf("revenuecat: transaction updates: %w", err)
	}
	return ch, nil
}

// ActiveEntitlements lists live subscriptions and every non-subscription purchase.
func (c *Client) ActiveEntitlements(ctx context.Context, userID string) ([]entitlement.Outcome, error) {
	sub, err := c.subscriber(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := c.now()

	var outcomes []entitlement.Outcome
	for productID, s := range sub.Subscriptions {
		if !s.live(now) {
			continue
		}
		outcomes = append(outcomes, c.outcome(s.IsSandbox, subscriptionTx(productID, s)))
	}
	for productID, purchases := range sub.NonSubscriptions {
		for _, p := range purchases {
			outcomes = append(outcomes, c.outcome(p.IsSandbox, nonSubTx(productID, p)))
		}
	}
	return outcomes, nil
}

func (c *Client) SubscriptionStatus(ctx context.Context, userID, productID string) (entitlement.SubscriptionStatus, error) {
	sub, err := c.subscriber(ctx, userID)
	if err != nil {
		return entitlement.SubscriptionStatus{}, err
	}

	s, ok := sub.Subscriptions[productID]
	if !ok || s.ExpiresDate == nil || (s.IsSandbox && !c.sandbox) {
		return entitlement.SubscriptionStatus{}, nil
	}
	return entitlement.SubscriptionStatus{
		Active: s.live(c.now()),
		Expiry: *s.ExpiresDate,
	}, nil
}

type receiptRequest struct {
	AppUserID  string `json:"app_user_id"`
	FetchToken string `json:"fetch_token"`
	ProductID  string `json:"product_id"`
}

// Purchase posts the StoreKit receipt for req. Client-side cancelled and pending
// results are returned as is.
func (c *Client) Purchase(ctx context.Context, req entitlement.PurchaseRequest) (entitlement.Outcome, error) {
	switch req.Result {
	case entitlement.PurchaseCancelled:
		return entitlement.Cancelled(), nil
	case entitlement.PurchasePending:
		return entitlement.Pending("awaiting approval"), nil
	}

	body, err := json.Marshal(receiptRequest{
		AppUserID:  req.UserID,
		FetchToken: req.FetchToken,
		ProductID:  req.ProductID,
	})
	if err != nil {
		return entitlement.Outcome{}, fmt.Errorf("revenuecat: encode receipt: %w", err)
	}

	var resp subscriberResponse
	err = c.do(ctx, http.MethodPost, "/v1/receipts", bytes.NewReader(body), &resp)
	var apiErr *APIError
	if errors.As(err, &apiErr) && !apiErr.Temporary() {
		tx := entitlement.Transaction{ProductID: req.ProductID, PurchasedAt: c.now()}
		return entitlement.Unverified(tx, apiErr.Message), nil
	}
	if err != nil {
		return entitlement.Outcome{}, err
	}

	if s, ok := resp.Subscriber.Subscriptions[req.ProductID]; ok {
		return c.outcome(s.IsSandbox, subscriptionTx(req.ProductID, s)), nil
	}
	if purchases := resp.Subscriber.NonSubscriptions[req.ProductID]; len(purchases) > 0 {
		return c.outcome(purchases[len(purchases)-1].IsSandbox, nonSubTx(req.ProductID, purchases[len(purchases)-1])), nil
	}
	return entitlement.Pending("receipt accepted, transaction not settled"), nil
}

func (c *Client) outcome(isSandbox bool, tx entitlement.Transaction) entitlement.Outcome {
	if isSandbox && !c.sandbox {
		return entitlement.Unverified(tx, reasonSandboxInProduction)
	}
	return entitlement.Verified(tx)
}

func subscriptionTx(productID string, s subscription) entitlement.Transaction {
	return entitlement.Transaction{
		ID:          s.StoreTransactionID,
		ProductID:   productID,
		PurchasedAt: s.PurchaseDate,
		ExpiresAt:   s.ExpiresDate,
	}
}

func nonSubTx(productID string, p nonSubPurchase) entitlement.Transaction {
	id := p.StoreTransactionID
	if id == "" {
		id = p.ID
	}
	return entitlement.Transaction{ID: id, ProductID: productID, PurchasedAt: p.PurchaseDate}
}

func (c *Client) subscriber(ctx context.Context, userID string) (subscriber, error) {
	var resp subscriberResponse
	if err := c.do(ctx, http.MethodGet, "/v1/subscribers/"+url.PathEscape(userID), nil, &resp); err != nil {
		return subscriber{}, err
	}
	return resp.Subscriber, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("revenuecat: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Platform", "ios")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("revenuecat: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(apiErr)
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("revenuecat: decode %s response: %w", path, err)
	}
	return nil
}
