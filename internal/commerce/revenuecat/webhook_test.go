package revenuecat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/entitlement"
)

func purchaseEvent(eventType string) *dto.RevenueCatEvent {
	return &dto.RevenueCatEvent{
		Type:           eventType,
		ID:             "evt-1",
		AppUserID:      "u1",
		ProductID:      "sub.monthly",
		TransactionID:  "tx-1",
		PurchasedAtMs:  1714521600000,
		ExpirationAtMs: 1735689600000,
		Environment:    EnvironmentProduction,
	}
}

func TestEventToUpdate_Transactions(t *testing.T) {
	for _, typ := range []string{EventInitialPurchase, EventRenewal, EventNonRenewingPurchase, EventProductChange, EventUncancellation} {
		t.Run(typ, func(t *testing.T) {
			u, ok := EventToUpdate(purchaseEvent(typ), false)
			require.True(t, ok)

			assert.Equal(t, "evt-1", u.ID)
			assert.Equal(t, "u1", u.UserID)
			assert.False(t, u.Resync)
			assert.Equal(t, entitlement.OutcomeVerified, u.Outcome.Kind)
			require.NotNil(t, u.Outcome.Transaction)
			assert.Equal(t, "tx-1", u.Outcome.Transaction.ID)
			assert.Equal(t, "sub.monthly", u.Outcome.Transaction.ProductID)
			require.NotNil(t, u.Outcome.Transaction.ExpiresAt)
			assert.True(t, u.Outcome.Transaction.ExpiresAt.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
		})
	}
}

func TestEventToUpdate_Unverified(t *testing.T) {
	missingUser := purchaseEvent(EventInitialPurchase)
	missingUser.AppUserID = ""

	sandboxEvent := purchaseEvent(EventInitialPurchase)
	sandboxEvent.Environment = EnvironmentSandbox

	for name, ev := range map[string]*dto.RevenueCatEvent{"missing user": missingUser, "sandbox in production": sandboxEvent} {
		t.Run(name, func(t *testing.T) {
			u, ok := EventToUpdate(ev, false)
			require.True(t, ok)
			assert.Equal(t, entitlement.OutcomeUnverified, u.Outcome.Kind)
			assert.NotEmpty(t, u.Outcome.Reason)
		})
	}

	u, ok := EventToUpdate(sandboxEvent, true)
	require.True(t, ok)
	assert.Equal(t, entitlement.OutcomeVerified, u.Outcome.Kind)
}

func TestEventToUpdate_Resync(t *testing.T) {
	for _, typ := range []string{EventCancellation, EventExpiration, EventBillingIssue} {
		u, ok := EventToUpdate(purchaseEvent(typ), false)
		require.True(t, ok, typ)
		assert.True(t, u.Resync, typ)
		assert.Equal(t, "u1", u.UserID)
		assert.Nil(t, u.Outcome.Transaction)
	}

	ev := purchaseEvent(EventExpiration)
	ev.AppUserID = ""
	_, ok := EventToUpdate(ev, false)
	assert.False(t, ok)
}

func TestEventToUpdate_IgnoresOtherTypes(t *testing.T) {
	for _, typ := range []string{"TEST", "TRANSFER", "SUBSCRIBER_ALIAS", ""} {
		_, ok := EventToUpdate(purchaseEvent(typ), false)
		assert.False(t, ok, typ)
	}
}

func TestEventToUpdate_FallsBackToEventID(t *testing.T) {
	ev := purchaseEvent(EventNonRenewingPurchase)
	ev.TransactionID = ""
	ev.ExpirationAtMs = 0

	u, ok := EventToUpdate(ev, false)
	require.True(t, ok)
	assert.Equal(t, "evt-1", u.Outcome.Transaction.ID)
	assert.Nil(t, u.Outcome.Transaction.ExpiresAt)
}
