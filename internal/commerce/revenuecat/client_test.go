package revenuecat

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/commerce/stream"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/entitlement"
)

var testNow = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

const subscriberBody = `{
  "subscriber": {
    "original_app_user_id": "u1",
    "subscriptions": {
      "sub.monthly": {
        "purchase_date": "2024-05-01T00:00:00Z",
        "expires_date": "2025-01-01T00:00:00Z",
        "refunded_at": null,
        "is_sandbox": false,
        "store_transaction_id": "t-sub"
      },
      "sub.yearly": {
        "purchase_date": "2023-01-01T00:00:00Z",
        "expires_date": "2024-01-01T00:00:00Z",
        "is_sandbox": false,
        "store_transaction_id": "t-old"
      },
      "sub.refunded": {
        "purchase_date": "2024-05-01T00:00:00Z",
        "expires_date": "2025-01-01T00:00:00Z",
        "refunded_at": "2024-05-02T00:00:00Z",
        "store_transaction_id": "t-ref"
      }
    },
    "non_subscriptions": {
      "removeads": [
        {"id": "nr1", "purchase_date": "2024-02-01T00:00:00Z", "is_sandbox": false, "store_transaction_id": "t-ads"}
      ],
      "coins.100": [
        {"id": "c1", "purchase_date": "2024-03-01T00:00:00Z", "is_sandbox": true}
      ]
    }
  }
}`

func testCatalog(t *testing.T) *entitlement.Catalog {
	t.Helper()
	c, err := entitlement.NewCatalog(
		entitlement.CatalogEntry{ID: "sub.monthly", Kind: entitlement.KindAutoRenewable},
		entitlement.CatalogEntry{ID: "removeads", Kind: entitlement.KindNonConsumable},
		entitlement.CatalogEntry{ID: "coins.100", Kind: entitlement.KindConsumable},
	)
	require.NoError(t, err)
	return c
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Options{
		BaseURL: srv.URL,
		APIKey:  "sk_test",
		Now:     func() time.Time { return testNow },
	}, testCatalog(t), stream.NewMemory())
}

func subscriberHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.Equal(t, "/v1/subscribers/u1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, subscriberBody)
	}
}

func TestClient_ActiveEntitlements(t *testing.T) {
	c := newTestClient(t, subscriberHandler(t))

	outcomes, err := c.ActiveEntitlements(context.Background(), "u1")
	require.NoError(t, err)

	byProduct := make(map[string]entitlement.Outcome)
	for _, o := range outcomes {
		byProduct[o.Transaction.ProductID] = o
	}
	require.Len(t, byProduct, 3)

	assert.Equal(t, entitlement.OutcomeVerified, byProduct["sub.monthly"].Kind)
	assert.Equal(t, "t-sub", byProduct["sub.monthly"].Transaction.ID)
	assert.Equal(t, entitlement.OutcomeVerified, byProduct["removeads"].Kind)
	assert.Equal(t, entitlement.OutcomeUnverified, byProduct["coins.100"].Kind)
	assert.Equal(t, reasonSandboxInProduction, byProduct["coins.100"].Reason)
	assert.NotContains(t, byProduct, "sub.yearly")
	assert.NotContains(t, byProduct, "sub.refunded")
}

func TestClient_SubscriptionStatus(t *testing.T) {
	c := newTestClient(t, subscriberHandler(t))
	ctx := context.Background()

	tests := []struct {
		product string
		active  bool
	}{
		{product: "sub.monthly", active: true},
		{product: "sub.yearly", active: false},
		{product: "sub.refunded", active: false},
		{product: "sub.unknown", active: false},
	}
	for _, tt := range tests {
		t.Run(tt.product, func(t *testing.T) {
			status, err := c.SubscriptionStatus(ctx, "u1", tt.product)
			require.NoError(t, err)
			assert.Equal(t, tt.active, status.Active)
		})
	}

	status, err := c.SubscriptionStatus(ctx, "u1", "sub.monthly")
	require.NoError(t, err)
	assert.True(t, status.Expiry.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestClient_ServerErrorIsReturned(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, `{"code":7000,"message":"upstream down"}`)
	})

	_, err := c.ActiveEntitlements(context.Background(), "u1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.True(t, apiErr.Temporary())
	assert.Equal(t, "upstream down", apiErr.Message)
}

func TestClient_PurchaseShortCircuits(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	ctx := context.Background()

	o, err := c.Purchase(ctx, entitlement.PurchaseRequest{UserID: "u1", ProductID: "removeads", Result: entitlement.PurchaseCancelled})
	require.NoError(t, err)
	assert.Equal(t, entitlement.OutcomeCancelled, o.Kind)

	o, err = c.Purchase(ctx, entitlement.PurchaseRequest{UserID: "u1", ProductID: "removeads", Result: entitlement.PurchasePending})
	require.NoError(t, err)
	assert.Equal(t, entitlement.OutcomePending, o.Kind)
}

func TestClient_Purchase(t *testing.T) {
	tests := []struct {
		name     string
		product  string
		status   int
		body     string
		wantKind entitlement.OutcomeKind
		wantErr  bool
	}{
		{name: "verified subscription", product: "sub.monthly", status: http.StatusOK, body: subscriberBody, wantKind: entitlement.OutcomeVerified},
		{name: "verified non-subscription", product: "removeads", status: http.StatusOK, body: subscriberBody, wantKind: entitlement.OutcomeVerified},
		{name: "product not settled", product: "coins.500", status: http.StatusOK, body: subscriberBody, wantKind: entitlement.OutcomePending},
		{name: "rejected receipt", product: "removeads", status: http.StatusBadRequest, body: `{"code":7712,"message":"invalid receipt"}`, wantKind: entitlement.OutcomeUnverified},
		{name: "server error", product: "removeads", status: http.StatusInternalServerError, body: `{}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/v1/receipts", r.URL.Path)

				var req receiptRequest
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "u1", req.AppUserID)
				assert.Equal(t, "receipt-data", req.FetchToken)
				assert.Equal(t, tt.product, req.ProductID)

				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			o, err := c.Purchase(context.Background(), entitlement.PurchaseRequest{
				UserID:     "u1",
				ProductID:  tt.product,
				FetchToken: "receipt-data",
				Result:     entitlement.PurchaseSuccess,
			})
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, o.Kind)
		})
	}
}

func TestClient_Catalog(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	entries, err := c.Catalog(context.Background(), []string{"removeads", "missing"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "removeads", entries[0].ID)
}

func TestClient_TransactionUpdatesDelegatesToSource(t *testing.T) {
	mem := stream.NewMemory()
	c := NewClient(Options{BaseURL: "http://unused"}, testCatalog(t), mem)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, mem.Publish(ctx, entitlement.Update{ID: "e1", UserID: "u1"}))
	ch, err := c.TransactionUpdates(ctx)
	require.NoError(t, err)

	select {
	case u := <-ch:
		assert.Equal(t, "e1", u.ID)
	case <-time.After(time.Second):
		t.Fatal("no update delivered")
	}
}
